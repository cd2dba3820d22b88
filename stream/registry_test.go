package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-broadcast/constant"
	"live-broadcast/dto"
)

const testGrace = 40 * time.Millisecond

type blockingIngester struct {
	starts    atomic.Int32
	cancelled atomic.Int32
	emit      []dto.Envelope
}

func (b *blockingIngester) Ingest(ctx context.Context, key Key, emit func(dto.Envelope)) error {
	b.starts.Add(1)
	for _, env := range b.emit {
		emit(env)
	}
	<-ctx.Done()
	b.cancelled.Add(1)
	return ctx.Err()
}

func newTestRegistry(t *testing.T, ing Ingester) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRegistry(ctx, ing, Options{GracePeriod: testGrace, ReplaySize: 3, BufferSize: 8}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextEnvelope(t *testing.T, h *Handle) dto.Envelope {
	t.Helper()
	select {
	case env := <-h.Events():
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return dto.Envelope{}
}

func TestRegistry_racingAcquireStartsOneTask(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "https://example.com/live", IsLive: true}

	var wg sync.WaitGroup
	handles := make([]*Handle, 50)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = r.Acquire(key)
		}(i)
	}
	wg.Wait()

	waitFor(t, "ingestion start", func() bool { return ing.starts.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := ing.starts.Load(); n != 1 {
		t.Fatalf("expected exactly 1 ingestion task, got %d", n)
	}
	if refs, ok := r.Refs(key); !ok || refs != 50 {
		t.Errorf("expected 50 refs, got %d (ok=%v)", refs, ok)
	}
}

func TestRegistry_acquireAcquireReleaseStaysActive(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u", IsLive: true}

	h1 := r.Acquire(key)
	r.Acquire(key)
	r.Release(h1)

	time.Sleep(3 * testGrace)
	refs, ok := r.Refs(key)
	if !ok || refs != 1 {
		t.Fatalf("expected producer alive with 1 ref, got %d (ok=%v)", refs, ok)
	}
	if r.Teardowns() != 0 || ing.cancelled.Load() != 0 {
		t.Errorf("producer must not be torn down while referenced")
	}
}

func TestRegistry_releaseTearsDownOnceAfterGrace(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u", IsLive: false}

	h := r.Acquire(key)
	r.Release(h)
	r.Release(h)

	if _, ok := r.Refs(key); !ok {
		t.Fatal("producer must survive the grace window")
	}
	waitFor(t, "teardown", func() bool { return r.Teardowns() == 1 })
	waitFor(t, "ingestion cancel", func() bool { return ing.cancelled.Load() == 1 })

	time.Sleep(2 * testGrace)
	if r.Teardowns() != 1 {
		t.Errorf("expected exactly one teardown, got %d", r.Teardowns())
	}
	if _, ok := r.Refs(key); ok {
		t.Error("expected registry entry removed")
	}
	if r.Active() != 0 {
		t.Errorf("expected 0 active producers, got %d", r.Active())
	}
	select {
	case <-h.Done():
	default:
		t.Error("released handle must be done")
	}
}

func TestRegistry_acquireDuringGraceCancelsTeardown(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u", IsLive: true}

	r.Release(r.Acquire(key))
	time.Sleep(testGrace / 2)
	h := r.Acquire(key)

	time.Sleep(3 * testGrace)
	if r.Teardowns() != 0 {
		t.Fatalf("teardown must be cancelled by acquire, got %d teardowns", r.Teardowns())
	}
	if n := ing.starts.Load(); n != 1 {
		t.Errorf("expected the original task to keep running, got %d starts", n)
	}

	r.Release(h)
	waitFor(t, "teardown", func() bool { return r.Teardowns() == 1 })
}

func TestRegistry_reacquireAfterTeardownStartsNewTask(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u", IsLive: true}

	r.Release(r.Acquire(key))
	waitFor(t, "teardown", func() bool { return r.Teardowns() == 1 })

	r.Acquire(key)
	waitFor(t, "second start", func() bool { return ing.starts.Load() == 2 })
	if refs, _ := r.Refs(key); refs != 1 {
		t.Errorf("expected fresh producer with 1 ref, got %d", refs)
	}
}

func TestRegistry_lateJoinerSeesReplay(t *testing.T) {
	ing := &blockingIngester{emit: []dto.Envelope{chunkEnv(1), chunkEnv(2), chunkEnv(3), chunkEnv(4)}}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u", IsLive: true}

	first := r.Acquire(key)
	for want := int64(1); want <= 4; want++ {
		got := nextEnvelope(t, first).Data.(dto.LiveChunkData).ChunkNumber
		if got != want {
			t.Fatalf("first consumer: expected %d, got %d", want, got)
		}
	}

	second := r.Acquire(key)
	for want := int64(2); want <= 4; want++ {
		got := nextEnvelope(t, second).Data.(dto.LiveChunkData).ChunkNumber
		if got != want {
			t.Fatalf("late joiner: expected replayed %d, got %d", want, got)
		}
	}
	if n := ing.starts.Load(); n != 1 {
		t.Errorf("expected one shared task, got %d", n)
	}
}

func TestRegistry_ingestionErrorEmitsTerminalEnvelope(t *testing.T) {
	boom := errors.New("agent unreachable")
	r := newTestRegistry(t, IngesterFunc(func(ctx context.Context, key Key, emit func(dto.Envelope)) error {
		emit(chunkEnv(1))
		return boom
	}))
	key := Key{SourceURL: "u", IsLive: true}

	h := r.Acquire(key)
	if env := nextEnvelope(t, h); env.Type != constant.EnvelopeLiveChunk {
		t.Fatalf("expected chunk first, got %s", env.Type)
	}
	env := nextEnvelope(t, h)
	if env.Type != constant.EnvelopeError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	if _, ok := r.Refs(key); !ok {
		t.Error("failed producer must stay registered until released")
	}

	r.Release(h)
	waitFor(t, "teardown", func() bool { return r.Teardowns() == 1 })
}

func TestRegistry_ingestionPanicIsContained(t *testing.T) {
	r := newTestRegistry(t, IngesterFunc(func(ctx context.Context, key Key, emit func(dto.Envelope)) error {
		panic("decoder exploded")
	}))

	h := r.Acquire(Key{SourceURL: "u"})
	env := nextEnvelope(t, h)
	if env.Type != constant.EnvelopeError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
}

func TestRegistry_refsNeverNegative(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)
	key := Key{SourceURL: "u"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Acquire(key)
			r.Release(h)
			r.Release(h)
		}()
	}
	wg.Wait()

	if refs, ok := r.Refs(key); ok && refs < 0 {
		t.Fatalf("negative refcount %d", refs)
	}
	waitFor(t, "teardown", func() bool { return r.Active() == 0 })
}

func TestRegistry_Shutdown(t *testing.T) {
	ing := &blockingIngester{}
	r := newTestRegistry(t, ing)

	h := r.Acquire(Key{SourceURL: "a"})
	r.Acquire(Key{SourceURL: "b"})
	r.Shutdown()

	waitFor(t, "cancel", func() bool { return ing.cancelled.Load() == 2 })
	if r.Active() != 0 {
		t.Errorf("expected no active producers, got %d", r.Active())
	}
	r.Release(h)
	if refs, ok := r.Refs(Key{SourceURL: "a"}); ok {
		t.Errorf("expected entry removed, got refs %d", refs)
	}
}
