package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAgentServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceURL == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}))
}

func TestHTTPClient_Stream(t *testing.T) {
	srv := newAgentServer(t,
		`{"type":"snippet","title":"goal","description":"late winner","data":"aGVsbG8="}`,
		`{"type":"live_chunk","sequence":7,"data":"AQI="}`,
	)
	defer srv.Close()

	var got []Event
	err := NewHTTPClient(srv.URL, srv.Client()).Stream(context.Background(), "https://example.com/v", true, func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != EventSnippet || string(got[0].Data) != "hello" || got[0].Title != "goal" {
		t.Errorf("unexpected snippet: %+v", got[0])
	}
	if got[1].Kind != EventLiveChunk || got[1].Sequence != 7 || len(got[1].Data) != 2 {
		t.Errorf("unexpected chunk: %+v", got[1])
	}
}

func TestHTTPClient_Stream_agentError(t *testing.T) {
	srv := newAgentServer(t,
		`{"type":"snippet","data":"aGVsbG8="}`,
		`{"type":"error","message":"source offline"}`,
	)
	defer srv.Close()

	calls := 0
	err := NewHTTPClient(srv.URL, srv.Client()).Stream(context.Background(), "u", false, func(ev Event) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrAgent) {
		t.Fatalf("expected ErrAgent, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 handled event, got %d", calls)
	}
}

func TestHTTPClient_Stream_badStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, srv.Client()).Stream(context.Background(), "u", false, func(Event) error { return nil })
	if !errors.Is(err, ErrAgent) {
		t.Errorf("expected ErrAgent, got %v", err)
	}
}

func TestHTTPClient_Stream_handlerErrorStops(t *testing.T) {
	srv := newAgentServer(t, `{"type":"snippet"}`, `{"type":"snippet"}`)
	defer srv.Close()

	stop := errors.New("stop")
	calls := 0
	err := NewHTTPClient(srv.URL, srv.Client()).Stream(context.Background(), "u", false, func(Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected handler error after 1 call, got err=%v calls=%d", err, calls)
	}
}
