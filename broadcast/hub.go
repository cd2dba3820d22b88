package broadcast

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"live-broadcast/pkg/metrics"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrMissingBroadcast = errors.New("broadcast id is required")
	ErrEmptyComment     = errors.New("comment message is required")
	ErrMissingViewer    = errors.New("viewer id is required")
)

// Session is one real-time subscriber. Enqueue must not block; it reports false when the
// envelope was dropped.
type Session interface {
	Enqueue(env dto.Envelope) bool
}

type Options struct {
	Capacity     int
	SnapshotSize int
	PresenceTTL  time.Duration
}

type room struct {
	id string

	// mu serialises comment appends, presence updates and the init snapshot so every session
	// sees pushes in ring order.
	mu       sync.Mutex
	comments *ring
	presence *presence

	// sessions is copy-on-write; readers load without the lock.
	sessions atomic.Pointer[[]Session]
}

func (r *room) fanout(env dto.Envelope, m *metrics.Metrics) {
	list := r.sessions.Load()
	if list == nil {
		return
	}
	for _, s := range *list {
		if !s.Enqueue(env) {
			m.IncEnvelopesDropped()
		}
	}
}

func (r *room) add(s Session) {
	old := r.sessions.Load()
	var next []Session
	if old != nil {
		next = make([]Session, 0, len(*old)+1)
		next = append(next, *old...)
	}
	next = append(next, s)
	r.sessions.Store(&next)
}

func (r *room) remove(s Session) {
	old := r.sessions.Load()
	if old == nil {
		return
	}
	next := make([]Session, 0, len(*old))
	for _, cur := range *old {
		if cur != s {
			next = append(next, cur)
		}
	}
	r.sessions.Store(&next)
}

// Hub keeps chat and presence per broadcast id and the sessions attached to each.
// Unknown broadcast ids are created on first use.
type Hub struct {
	rooms    sync.Map // broadcast id -> *room
	sessions sync.Map // Session -> broadcast id
	opts     Options
	now      func() time.Time
	metrics  *metrics.Metrics
}

func NewHub(opts Options, m *metrics.Metrics) *Hub {
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.SnapshotSize < 1 {
		opts.SnapshotSize = DefaultSnapshotSize
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = DefaultPresenceTTL
	}
	return &Hub{opts: opts, now: time.Now, metrics: m}
}

// WithClock replaces the time source used for comment timestamps and presence.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.now = now
	return h
}

func (h *Hub) room(broadcastId string) *room {
	if r, ok := h.rooms.Load(broadcastId); ok {
		return r.(*room)
	}
	r, _ := h.rooms.LoadOrStore(broadcastId, &room{
		id:       broadcastId,
		comments: newRing(h.opts.Capacity),
		presence: newPresence(h.opts.PresenceTTL),
	})
	return r.(*room)
}

// lookup returns the room without creating it; read paths must not allocate rooms.
func (h *Hub) lookup(broadcastId string) (*room, bool) {
	r, ok := h.rooms.Load(broadcastId)
	if !ok {
		return nil, false
	}
	return r.(*room), true
}

// Register attaches s to broadcastId and enqueues the init snapshot before any incremental push.
// A session already attached elsewhere is moved.
func (h *Hub) Register(broadcastId string, s Session) error {
	broadcastId = strings.TrimSpace(broadcastId)
	if broadcastId == "" {
		return ErrMissingBroadcast
	}
	if prev, loaded := h.sessions.Swap(s, broadcastId); loaded {
		if prev.(string) == broadcastId {
			return nil
		}
		h.detach(prev.(string), s)
	}

	r := h.room(broadcastId)
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Enqueue(dto.NewInitEnvelope(
		r.comments.last(h.opts.SnapshotSize, 0),
		r.presence.count(h.now()),
	))
	r.add(s)
	h.metrics.AddWSSessions(1)
	return nil
}

// Unregister detaches s. Calling it more than once is a no-op.
func (h *Hub) Unregister(s Session) {
	id, loaded := h.sessions.LoadAndDelete(s)
	if !loaded {
		return
	}
	h.detach(id.(string), s)
}

func (h *Hub) detach(broadcastId string, s Session) {
	r := h.room(broadcastId)
	r.mu.Lock()
	r.remove(s)
	r.mu.Unlock()
	h.metrics.AddWSSessions(-1)
}

// Sessions reports how many sessions are attached to broadcastId.
func (h *Hub) Sessions(broadcastId string) int {
	v, ok := h.rooms.Load(broadcastId)
	if !ok {
		return 0
	}
	list := v.(*room).sessions.Load()
	if list == nil {
		return 0
	}
	return len(*list)
}

// PostComment appends to the ring and pushes the comment to every session of the broadcast.
// Delivery failures are absorbed per session.
func (h *Hub) PostComment(ctx context.Context, broadcastId string, req dto.PostCommentRequest) (dto.Comment, error) {
	broadcastId = strings.TrimSpace(broadcastId)
	if broadcastId == "" {
		return dto.Comment{}, ErrMissingBroadcast
	}
	if strings.TrimSpace(req.Message) == "" {
		return dto.Comment{}, ErrEmptyComment
	}

	r := h.room(broadcastId)
	r.mu.Lock()
	now := h.now()
	c := dto.Comment{
		Id:          uuid.NewString(),
		BroadcastId: broadcastId,
		UserId:      req.UserId,
		Username:    req.Username,
		Message:     req.Message,
		Ts:          float64(now.UnixNano()) / float64(time.Second),
	}
	r.comments.push(c)
	r.fanout(dto.NewCommentEnvelope(c), h.metrics)
	r.mu.Unlock()

	h.metrics.IncCommentsPosted()
	zerolog.Ctx(ctx).Debug().Str("broadcast_id", broadcastId).Str("comment_id", c.Id).Msg("comment posted")
	return c, nil
}

// Comments returns up to limit most recent comments newer than afterTs, oldest first.
func (h *Hub) Comments(broadcastId string, limit int, afterTs float64) []dto.Comment {
	r, ok := h.lookup(broadcastId)
	if !ok {
		return []dto.Comment{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.comments.last(limit, afterTs)
}

// Heartbeat marks viewerId as present, pushes the fresh count to sessions and returns it.
func (h *Hub) Heartbeat(broadcastId, viewerId string) (int, error) {
	broadcastId = strings.TrimSpace(broadcastId)
	if broadcastId == "" {
		return 0, ErrMissingBroadcast
	}
	if strings.TrimSpace(viewerId) == "" {
		return 0, ErrMissingViewer
	}

	r := h.room(broadcastId)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.presence.touch(viewerId, h.now())
	r.fanout(dto.NewViewerCountEnvelope(broadcastId, n), h.metrics)
	return n, nil
}

// ViewerCount prunes expired viewers and returns how many remain.
func (h *Hub) ViewerCount(broadcastId string) int {
	r, ok := h.lookup(broadcastId)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.count(h.now())
}
