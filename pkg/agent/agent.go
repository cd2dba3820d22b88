// Package agent talks to the external ingestion agent that turns a source URL into a stream of
// snippet and live-chunk events.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type EventKind string

const (
	EventSnippet   EventKind = "snippet"
	EventLiveChunk EventKind = "live_chunk"
	EventError     EventKind = "error"
)

type Event struct {
	Kind        EventKind `json:"type"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Sequence    int64     `json:"sequence,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Client streams agent events for one source. Stream returns nil when the agent finished the
// source, the first error returned by handle, or the agent/transport failure.
type Client interface {
	Stream(ctx context.Context, sourceURL string, isLive bool, handle func(Event) error) error
}

var ErrAgent = errors.New("ingestion agent error")

type httpClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, client *http.Client) Client {
	if client == nil {
		client = &http.Client{}
	}
	return &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    client,
	}
}

type ingestRequest struct {
	SourceURL string `json:"source_url"`
	IsLive    bool   `json:"is_live"`
}

func (c *httpClient) Stream(ctx context.Context, sourceURL string, isLive bool, handle func(Event) error) error {
	body, err := json.Marshal(ingestRequest{SourceURL: sourceURL, IsLive: isLive})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrAgent, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode agent event: %w", err)
		}

		switch ev.Kind {
		case EventError:
			return fmt.Errorf("%w: %s", ErrAgent, ev.Message)
		case EventSnippet, EventLiveChunk:
			if err := handle(ev); err != nil {
				return err
			}
		}
	}
}
