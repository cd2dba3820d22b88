package dto

import (
	"live-broadcast/constant"
)

// Envelope is the tagged message written to every real-time socket. Data holds exactly one of the
// payload types below, selected by Type; construct envelopes through the New* helpers.
type Envelope struct {
	Type constant.EnvelopeType `json:"type"`
	Data any                   `json:"data"`
}

type SnippetData struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Data        []byte `json:"data"`
}

type LiveChunkData struct {
	ChunkNumber int64  `json:"chunkNumber"`
	S3Key       string `json:"s3Key,omitempty"`
	Url         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type Comment struct {
	Id          string  `json:"id"`
	BroadcastId string  `json:"broadcastId"`
	UserId      string  `json:"userId"`
	Username    string  `json:"username"`
	Message     string  `json:"message"`
	Ts          float64 `json:"ts"`
}

type InitData struct {
	Comments    []Comment `json:"comments"`
	ViewerCount int       `json:"viewer_count"`
}

type ViewerCountData struct {
	BroadcastId string `json:"broadcastId"`
	Viewers     int    `json:"viewers"`
}

func NewSnippetEnvelope(d SnippetData) Envelope {
	return Envelope{Type: constant.EnvelopeSnippet, Data: d}
}

func NewLiveChunkEnvelope(d LiveChunkData) Envelope {
	return Envelope{Type: constant.EnvelopeLiveChunk, Data: d}
}

func NewErrorEnvelope(message string) Envelope {
	return Envelope{Type: constant.EnvelopeError, Data: ErrorData{Message: message}}
}

func NewInitEnvelope(comments []Comment, viewers int) Envelope {
	if comments == nil {
		comments = []Comment{}
	}
	return Envelope{Type: constant.EnvelopeInit, Data: InitData{Comments: comments, ViewerCount: viewers}}
}

func NewCommentEnvelope(c Comment) Envelope {
	return Envelope{Type: constant.EnvelopeComment, Data: c}
}

func NewViewerCountEnvelope(broadcastId string, viewers int) Envelope {
	return Envelope{Type: constant.EnvelopeViewerCount, Data: ViewerCountData{BroadcastId: broadcastId, Viewers: viewers}}
}

// ClientMessage is what a live-comments socket client may send.
type ClientMessage struct {
	Type     string `json:"type"`
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

const ClientMessagePostComment = "post_comment"
