package stream

import (
	"live-broadcast/dto"
	"time"
)

const (
	DefaultMinStartChunks = 2
	DefaultGapTimeout     = 5 * time.Second
)

// Reorderer restores per-source chunk order on the consuming side.
//
// Chunks are released strictly in sequence. Playback starts once minStart contiguous chunks are
// buffered. A chunk below the next expected sequence is a duplicate and is discarded. A missing
// sequence blocks release until it arrives or until gapTimeout has passed since the consumer last
// made progress; then the consumer skips to the lowest buffered sequence. The same timeout also
// forces a start when fewer than minStart contiguous chunks ever arrive.
type Reorderer struct {
	minStart   int
	gapTimeout time.Duration
	now        func() time.Time

	anchored     bool
	started      bool
	next         int64
	pending      map[int64]dto.LiveChunkData
	waitingSince time.Time
}

func NewReorderer(minStart int, gapTimeout time.Duration) *Reorderer {
	if minStart < 1 {
		minStart = DefaultMinStartChunks
	}
	if gapTimeout <= 0 {
		gapTimeout = DefaultGapTimeout
	}
	return &Reorderer{
		minStart:   minStart,
		gapTimeout: gapTimeout,
		now:        time.Now,
		pending:    make(map[int64]dto.LiveChunkData),
	}
}

// WithClock replaces the time source.
func (r *Reorderer) WithClock(now func() time.Time) *Reorderer {
	r.now = now
	return r
}

// Resume anchors playback right after lastPlayed.
func (r *Reorderer) Resume(lastPlayed int64) {
	r.anchored = true
	r.started = false
	r.next = lastPlayed + 1
	for seq := range r.pending {
		if seq < r.next {
			delete(r.pending, seq)
		}
	}
}

// Push buffers c and returns every chunk that became playable, in order.
func (r *Reorderer) Push(c dto.LiveChunkData) []dto.LiveChunkData {
	if (r.started || r.anchored) && c.ChunkNumber < r.next {
		return r.release()
	}
	if _, ok := r.pending[c.ChunkNumber]; !ok {
		r.pending[c.ChunkNumber] = c
	}
	if r.waitingSince.IsZero() {
		r.waitingSince = r.now()
	}
	return r.release()
}

// Flush applies the gap timeout without a new chunk.
func (r *Reorderer) Flush() []dto.LiveChunkData {
	return r.release()
}

// Next is the sequence the consumer waits for.
func (r *Reorderer) Next() int64 {
	return r.next
}

func (r *Reorderer) Started() bool {
	return r.started
}

func (r *Reorderer) Buffered() int {
	return len(r.pending)
}

func (r *Reorderer) release() []dto.LiveChunkData {
	if len(r.pending) == 0 {
		r.waitingSince = time.Time{}
		return nil
	}
	now := r.now()
	expired := !r.waitingSince.IsZero() && now.Sub(r.waitingSince) >= r.gapTimeout

	if !r.started {
		start := r.next
		if !r.anchored {
			start = r.lowest()
		}
		run := r.run(start)
		if run < r.minStart && !expired {
			return nil
		}
		if run == 0 {
			start = r.lowest()
		}
		r.started = true
		r.next = start
	}

	out := r.drain()
	if len(out) == 0 && expired {
		r.next = r.lowest()
		out = r.drain()
	}
	if len(out) > 0 {
		if len(r.pending) > 0 {
			r.waitingSince = now
		} else {
			r.waitingSince = time.Time{}
		}
	}
	return out
}

func (r *Reorderer) drain() []dto.LiveChunkData {
	var out []dto.LiveChunkData
	for {
		c, ok := r.pending[r.next]
		if !ok {
			return out
		}
		delete(r.pending, r.next)
		out = append(out, c)
		r.next++
	}
}

func (r *Reorderer) run(from int64) int {
	n := 0
	for {
		if _, ok := r.pending[from+int64(n)]; !ok {
			return n
		}
		n++
	}
}

func (r *Reorderer) lowest() int64 {
	first := true
	var low int64
	for seq := range r.pending {
		if first || seq < low {
			low = seq
			first = false
		}
	}
	return low
}
