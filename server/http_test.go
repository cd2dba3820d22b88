package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"live-broadcast/broadcast"
	"live-broadcast/config"
	"live-broadcast/dto"
	"live-broadcast/entities"
	"live-broadcast/ledger"
	"live-broadcast/pkg/storage"
	"live-broadcast/repository"
	"live-broadcast/service"
	"live-broadcast/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	repo     repository.Repository
	ledger   *ledger.Ledger
	registry *stream.Registry
	starts   atomic.Int32
}

// newTestServer wires the router against in-memory collaborators. The ingester emits chunks 1..3
// and then idles until cancelled.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{repo: repository.NewMemoryRepo()}
	ts.ledger = ledger.New(ts.repo, storage.NewMemoryStore("http://objects"))

	ingester := stream.IngesterFunc(func(ctx context.Context, key stream.Key, emit func(dto.Envelope)) error {
		ts.starts.Add(1)
		emit(dto.NewSnippetEnvelope(dto.SnippetData{Title: "kickoff"}))
		for _, seq := range []int64{2, 1, 3} {
			emit(dto.NewLiveChunkEnvelope(dto.LiveChunkData{ChunkNumber: seq}))
		}
		<-ctx.Done()
		return nil
	})
	ts.registry = stream.NewRegistry(ctx, ingester, stream.Options{
		GracePeriod: 50 * time.Millisecond,
		ReplaySize:  10,
		BufferSize:  16,
	}, nil)

	router := NewRouter(ctx, Dependencies{
		Registry: ts.registry,
		Hub:      broadcast.NewHub(broadcast.Options{}, nil),
		Ledger:   ts.ledger,
		Catalog:  service.NewCatalogService(ts.repo),
		Live:     config.Live{MinStartChunks: 2, GapTimeout: time.Second},
	})
	ts.Server = httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Server.Close()
		ts.registry.Shutdown()
		cancel()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wireEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func chunkNumber(t *testing.T, env wireEnvelope) int64 {
	t.Helper()
	var data dto.LiveChunkData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	return data.ChunkNumber
}

func TestLiveVideo_clientsShareOneIngestion(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t, "/ws/live-video?video_url=https://example.com/x&is_live=true")

	var firstSeen []string
	for i := 0; i < 4; i++ {
		firstSeen = append(firstSeen, string(readEnvelope(t, first).Data))
	}

	second := ts.dial(t, "/ws/live-video?video_url=https://example.com/x&is_live=true")
	for i := 0; i < 4; i++ {
		if got := string(readEnvelope(t, second).Data); got != firstSeen[i] {
			t.Fatalf("envelope %d differs: %s vs %s", i, got, firstSeen[i])
		}
	}

	if n := ts.starts.Load(); n != 1 {
		t.Fatalf("expected one ingestion task, got %d", n)
	}
	refs, ok := ts.registry.Refs(stream.Key{SourceURL: "https://example.com/x", IsLive: true})
	if !ok || refs != 2 {
		t.Errorf("expected 2 refs, got %d (present=%v)", refs, ok)
	}
}

func TestLiveVideo_orderedRestoresSequence(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/live-video?video_url=https://example.com/y&is_live=true&ordered=true")

	if env := readEnvelope(t, conn); env.Type != "snippet" {
		t.Fatalf("expected snippet first, got %s", env.Type)
	}
	for want := int64(1); want <= 3; want++ {
		env := readEnvelope(t, conn)
		if env.Type != "live_commentary_chunk" {
			t.Fatalf("expected chunk, got %s", env.Type)
		}
		if got := chunkNumber(t, env); got != want {
			t.Fatalf("expected chunk %d, got %d", want, got)
		}
	}
}

func TestLiveVideo_releasesOnDisconnect(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/live-video?video_url=https://example.com/z&is_live=false")
	readEnvelope(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.registry.Teardowns() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("producer was not torn down after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ts.registry.Active() != 0 {
		t.Errorf("expected no active producers, got %d", ts.registry.Active())
	}
}

func TestLiveVideo_missingParams(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/live-video?video_url=")

	if env := readEnvelope(t, conn); env.Type != "error" {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if ts.starts.Load() != 0 {
		t.Error("no ingestion may start for a rejected socket")
	}
}

func TestLiveComments_initThenPushes(t *testing.T) {
	ts := newTestServer(t)
	postJSON(t, ts.URL+"/live/b1/comments", dto.PostCommentRequest{UserId: "u1", Username: "ann", Message: "before"}, http.StatusCreated)

	conn := ts.dial(t, "/ws/live-comments/b1")
	env := readEnvelope(t, conn)
	if env.Type != "init" {
		t.Fatalf("expected init, got %s", env.Type)
	}
	var snap dto.InitData
	_ = json.Unmarshal(env.Data, &snap)
	if len(snap.Comments) != 1 || snap.Comments[0].Message != "before" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := conn.WriteJSON(dto.ClientMessage{Type: dto.ClientMessagePostComment, UserId: "u2", Username: "bo", Message: "from socket"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env = readEnvelope(t, conn)
	var c dto.Comment
	_ = json.Unmarshal(env.Data, &c)
	if env.Type != "comment" || c.Message != "from socket" {
		t.Fatalf("expected pushed comment, got %s %+v", env.Type, c)
	}

	postJSON(t, ts.URL+"/live/b1/viewers/heartbeat", dto.HeartbeatRequest{ViewerId: "v1"}, http.StatusOK)
	env = readEnvelope(t, conn)
	var vc dto.ViewerCountData
	_ = json.Unmarshal(env.Data, &vc)
	if env.Type != "viewer_count" || vc.Viewers != 1 || vc.BroadcastId != "b1" {
		t.Fatalf("expected viewer count push, got %s %+v", env.Type, vc)
	}
}

func postJSON(t *testing.T, url string, body any, wantStatus int) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != wantStatus {
		t.Fatalf("post %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	return resp
}

func get(t *testing.T, ts *testServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(rec, req)
	return rec
}

func TestListChunks(t *testing.T) {
	ts := newTestServer(t)
	for _, seq := range []int64{3, 4, 6, 7, 8, 9} {
		if err := ts.ledger.Upsert(context.Background(), "https://example.com/s", seq, ledger.ChunkKey("https://example.com/s", seq)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	rec := get(t, ts, "/live/chunks?stream_url=https://example.com/s&after_chunk=5&limit=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dto.ChunkListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Chunks) != 3 || resp.Chunks[0].ChunkNumber != 6 || resp.Chunks[2].ChunkNumber != 8 {
		t.Fatalf("expected [6 7 8], got %+v", resp.Chunks)
	}

	if rec := get(t, ts, "/live/chunks"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without stream_url, got %d", rec.Code)
	}
	if rec := get(t, ts, "/live/chunks?stream_url=x&after_chunk=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad after_chunk, got %d", rec.Code)
	}
}

func TestComments_validationAndListing(t *testing.T) {
	ts := newTestServer(t)
	postJSON(t, ts.URL+"/live/b2/comments", dto.PostCommentRequest{Message: ""}, http.StatusBadRequest)
	postJSON(t, ts.URL+"/live/b2/viewers/heartbeat", dto.HeartbeatRequest{}, http.StatusBadRequest)
	for _, m := range []string{"one", "two", "three"} {
		postJSON(t, ts.URL+"/live/b2/comments", dto.PostCommentRequest{UserId: "u", Username: "u", Message: m}, http.StatusCreated)
	}

	rec := get(t, ts, "/live/b2/comments?limit=2")
	var list dto.CommentListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Comments) != 2 || list.Comments[0].Message != "two" {
		t.Fatalf("expected last two comments, got %+v", list.Comments)
	}

	rec = get(t, ts, "/live/unknown/viewers")
	var vc dto.ViewerCountResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &vc)
	if rec.Code != http.StatusOK || vc.Viewers != 0 {
		t.Errorf("expected 0 viewers for unknown broadcast, got %d %+v", rec.Code, vc)
	}
}

func TestCatalogAndRecommendations(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, _ = ts.repo.UpsertQueuedSource(ctx, &entities.TrackedSource{ID: uuid.New(), ExternalID: "a", SourceURL: "u/a", Category: "football"})
	_, _ = ts.repo.UpsertQueuedSource(ctx, &entities.TrackedSource{ID: uuid.New(), ExternalID: "b", SourceURL: "u/b", Category: "tennis"})

	rec := get(t, ts, "/catalog?category=football")
	var cat dto.CatalogResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &cat)
	if rec.Code != http.StatusOK || len(cat.Sources) != 1 || cat.Sources[0].ExternalID != "a" {
		t.Fatalf("unexpected catalog %d %+v", rec.Code, cat.Sources)
	}
	if rec := get(t, ts, "/catalog?status=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}

	target := &entities.Clip{ID: uuid.New(), Embedding: []float64{1, 0}}
	other := &entities.Clip{ID: uuid.New(), Embedding: []float64{1, 1}}
	_ = ts.repo.CreateClip(ctx, target)
	_ = ts.repo.CreateClip(ctx, other)

	rec = get(t, ts, "/clips/"+target.ID.String()+"/recommendations?limit=5")
	var recs struct {
		Recommendations []service.ScoredClip `json:"recommendations"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &recs)
	if rec.Code != http.StatusOK || len(recs.Recommendations) != 1 || recs.Recommendations[0].Clip.ID != other.ID {
		t.Fatalf("unexpected recommendations %d %s", rec.Code, rec.Body.String())
	}

	if rec := get(t, ts, "/clips/"+uuid.NewString()+"/recommendations"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := get(t, ts, "/clips/not-a-uuid/recommendations"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if rec := get(t, ts, "/health"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
