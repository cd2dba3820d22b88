package dto

import (
	"github.com/google/uuid"
	"live-broadcast/entities"
)

type ClipCreatedMessage struct {
	ClipId   uuid.UUID `json:"clipId"`
	SourceId uuid.UUID `json:"sourceId"`
	Category string    `json:"category"`
	S3Key    string    `json:"s3Key"`
}

type EmbeddingBackfillMessage struct {
	ClipId uuid.UUID `json:"clipId"`
}

type PostCommentRequest struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type HeartbeatRequest struct {
	ViewerId string `json:"viewerId"`
}

type ViewerCountResponse struct {
	BroadcastId string `json:"broadcastId"`
	Viewers     int    `json:"viewers"`
}

type ChunkResponse struct {
	ChunkNumber int64  `json:"chunkNumber"`
	S3Key       string `json:"s3Key"`
	Url         string `json:"url"`
}

type ChunkListResponse struct {
	Chunks []ChunkResponse `json:"chunks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CommentListResponse struct {
	Comments []Comment `json:"comments"`
}

type CatalogResponse struct {
	Sources []*entities.TrackedSource `json:"sources"`
}
