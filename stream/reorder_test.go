package stream

import (
	"testing"
	"time"

	"live-broadcast/dto"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func seqs(chunks []dto.LiveChunkData) []int64 {
	out := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.ChunkNumber)
	}
	return out
}

func assertSeqs(t *testing.T, got []dto.LiveChunkData, want ...int64) {
	t.Helper()
	g := seqs(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func newTestReorderer(clock *fakeClock) *Reorderer {
	return NewReorderer(2, 5*time.Second).WithClock(clock.now)
}

func chunk(seq int64) dto.LiveChunkData {
	return dto.LiveChunkData{ChunkNumber: seq}
}

func TestReorderer_waitsForMinimumRun(t *testing.T) {
	r := newTestReorderer(&fakeClock{t: time.Unix(0, 0)})

	assertSeqs(t, r.Push(chunk(1)))
	assertSeqs(t, r.Push(chunk(2)), 1, 2)
	assertSeqs(t, r.Push(chunk(3)), 3)
}

func TestReorderer_outOfOrderArrival(t *testing.T) {
	r := newTestReorderer(&fakeClock{t: time.Unix(0, 0)})

	assertSeqs(t, r.Push(chunk(2)))
	assertSeqs(t, r.Push(chunk(1)), 1, 2)
	assertSeqs(t, r.Push(chunk(4)))
	assertSeqs(t, r.Push(chunk(3)), 3, 4)
}

func TestReorderer_discardsDuplicates(t *testing.T) {
	r := newTestReorderer(&fakeClock{t: time.Unix(0, 0)})

	r.Push(chunk(1))
	r.Push(chunk(2))
	assertSeqs(t, r.Push(chunk(2)))
	assertSeqs(t, r.Push(chunk(1)))
	if r.Buffered() != 0 {
		t.Errorf("duplicates must not be buffered, got %d", r.Buffered())
	}
	if r.Next() != 3 {
		t.Errorf("expected next 3, got %d", r.Next())
	}
}

func TestReorderer_gapBlocksUntilFilled(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := newTestReorderer(clock)
	r.Push(chunk(1))
	r.Push(chunk(2))

	assertSeqs(t, r.Push(chunk(4)))
	assertSeqs(t, r.Push(chunk(5)))
	clock.advance(4 * time.Second)
	assertSeqs(t, r.Flush())
	assertSeqs(t, r.Push(chunk(3)), 3, 4, 5)
}

func TestReorderer_gapTimeoutSkipsAhead(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := newTestReorderer(clock)
	r.Push(chunk(1))
	r.Push(chunk(2))

	assertSeqs(t, r.Push(chunk(4)))
	assertSeqs(t, r.Push(chunk(6)))
	clock.advance(5 * time.Second)
	assertSeqs(t, r.Flush(), 4)

	// The timer restarts after progress; 5 is still missing.
	assertSeqs(t, r.Flush())
	clock.advance(5 * time.Second)
	assertSeqs(t, r.Flush(), 6)

	assertSeqs(t, r.Push(chunk(3)))
	assertSeqs(t, r.Push(chunk(5)))
	if r.Next() != 7 {
		t.Errorf("expected next 7, got %d", r.Next())
	}
}

func TestReorderer_timeoutForcesStart(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := newTestReorderer(clock)

	assertSeqs(t, r.Push(chunk(9)))
	clock.advance(5 * time.Second)
	assertSeqs(t, r.Flush(), 9)
	if !r.Started() {
		t.Error("expected playback started")
	}
}

func TestReorderer_Resume(t *testing.T) {
	r := newTestReorderer(&fakeClock{t: time.Unix(0, 0)})
	r.Resume(10)

	assertSeqs(t, r.Push(chunk(10)))
	assertSeqs(t, r.Push(chunk(12)))
	assertSeqs(t, r.Push(chunk(13)))
	assertSeqs(t, r.Push(chunk(11)), 11, 12, 13)
}
