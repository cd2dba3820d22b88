package broadcast

import "live-broadcast/dto"

const (
	DefaultCapacity     = 200
	DefaultSnapshotSize = 20
)

// ring is a fixed-capacity FIFO of comments. It evicts the oldest entry on overflow.
// Not safe for concurrent use; the owning room serialises access.
type ring struct {
	buf   []dto.Comment
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &ring{buf: make([]dto.Comment, capacity)}
}

func (r *ring) push(c dto.Comment) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = c
		r.size++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

// last returns up to n most recent comments with ts strictly greater than afterTs, oldest first.
// A non-positive n means no limit.
func (r *ring) last(n int, afterTs float64) []dto.Comment {
	out := make([]dto.Comment, 0, r.size)
	for i := 0; i < r.size; i++ {
		c := r.buf[(r.start+i)%len(r.buf)]
		if c.Ts > afterTs {
			out = append(out, c)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
