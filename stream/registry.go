// Package stream owns the shared upstream ingestion tasks behind live-video sockets.
//
// One producer exists per Key. It is created by the first Acquire, reference counted by its
// handles, and torn down only after its count has stayed at zero for the grace period. Every
// producer runs at most one ingestion task, writing into a replaying fan-out Channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"live-broadcast/pkg/metrics"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultGracePeriod = 30 * time.Second
	DefaultReplaySize  = 10
	DefaultBufferSize  = 64
)

var ErrIngestion = errors.New("ingestion failed")

// Key identifies one upstream ingestion task.
type Key struct {
	SourceURL string
	IsLive    bool
}

// Ingester runs the upstream work for a key, emitting envelopes until done or ctx is cancelled.
type Ingester interface {
	Ingest(ctx context.Context, key Key, emit func(dto.Envelope)) error
}

type IngesterFunc func(ctx context.Context, key Key, emit func(dto.Envelope)) error

func (f IngesterFunc) Ingest(ctx context.Context, key Key, emit func(dto.Envelope)) error {
	return f(ctx, key, emit)
}

type Options struct {
	GracePeriod time.Duration
	ReplaySize  int
	BufferSize  int
}

type producer struct {
	key     Key
	channel *Channel
	refs    atomic.Int64

	mu      sync.Mutex
	pending *time.Timer
	gen     uint64
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type Registry struct {
	ctx       context.Context
	opts      Options
	ingester  Ingester
	metrics   *metrics.Metrics
	producers sync.Map
	active    atomic.Int64
	teardowns atomic.Int64
}

// NewRegistry builds a registry whose ingestion tasks live as long as ctx.
func NewRegistry(ctx context.Context, ingester Ingester, opts Options, m *metrics.Metrics) *Registry {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = DefaultReplaySize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Registry{
		ctx:      ctx,
		opts:     opts,
		ingester: ingester,
		metrics:  m,
	}
}

// Handle is one consumer's attachment to a producer. Release it exactly once; extra calls are no-ops.
type Handle struct {
	key      Key
	p        *producer
	sub      *Subscription
	released atomic.Bool
}

func (h *Handle) Key() Key {
	return h.key
}

func (h *Handle) Events() <-chan dto.Envelope {
	return h.sub.Events()
}

// Done is closed when the producer is torn down or the handle released.
func (h *Handle) Done() <-chan struct{} {
	return h.sub.Done()
}

func (r *Registry) newProducer(key Key) *producer {
	return &producer{
		key:     key,
		channel: NewChannel(r.opts.ReplaySize, r.opts.BufferSize, r.metrics.IncEnvelopesDropped),
		done:    make(chan struct{}),
	}
}

// Acquire attaches to the producer for key, creating it and starting its ingestion task when no
// live producer exists. A teardown pending for key is cancelled.
func (r *Registry) Acquire(key Key) *Handle {
	for {
		v, ok := r.producers.Load(key)
		if !ok {
			v, _ = r.producers.LoadOrStore(key, r.newProducer(key))
		}
		p := v.(*producer)

		p.mu.Lock()
		if p.closed {
			// Already removed from the map by teardown; retry against a fresh entry.
			p.mu.Unlock()
			continue
		}
		p.refs.Add(1)
		if p.pending != nil {
			p.pending.Stop()
			p.pending = nil
			p.gen++
		}
		sub := p.channel.Subscribe()
		if !p.started {
			p.started = true
			ctx, cancel := context.WithCancel(r.ctx)
			p.cancel = cancel
			r.active.Add(1)
			r.metrics.SetActiveProducers(int(r.active.Load()))
			go r.run(ctx, p)
		}
		p.mu.Unlock()

		return &Handle{key: key, p: p, sub: sub}
	}
}

// Release detaches h. When the producer's count reaches zero a teardown is scheduled after the
// grace period.
func (r *Registry) Release(h *Handle) {
	if h == nil || h.released.Swap(true) {
		return
	}
	p := h.p
	p.channel.Unsubscribe(h.sub)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.refs.Add(-1) > 0 {
		return
	}
	p.gen++
	gen := p.gen
	p.pending = time.AfterFunc(r.opts.GracePeriod, func() {
		r.teardown(p, gen)
	})
}

func (r *Registry) teardown(p *producer, gen uint64) {
	p.mu.Lock()
	if p.closed || p.gen != gen || p.refs.Load() != 0 {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	r.producers.CompareAndDelete(p.key, p)
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.channel.Close()
	r.active.Add(-1)
	r.teardowns.Add(1)
	r.metrics.SetActiveProducers(int(r.active.Load()))
	zerolog.Ctx(r.ctx).Info().Str("source_url", p.key.SourceURL).Bool("is_live", p.key.IsLive).Msg("stream producer torn down")
}

func (r *Registry) run(ctx context.Context, p *producer) {
	defer close(p.done)
	log := zerolog.Ctx(r.ctx).With().Str("source_url", p.key.SourceURL).Bool("is_live", p.key.IsLive).Logger()
	log.Info().Msg("ingestion task started")

	err := r.ingest(ctx, p)
	if ctx.Err() != nil {
		log.Info().Msg("ingestion task cancelled")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("ingestion task failed")
		p.channel.Publish(dto.NewErrorEnvelope(err.Error()))
		return
	}
	log.Info().Msg("ingestion task finished")
}

func (r *Registry) ingest(ctx context.Context, p *producer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrIngestion, rec)
		}
	}()
	if err := r.ingester.Ingest(ctx, p.key, p.channel.Publish); err != nil {
		return fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	return nil
}

// Refs reports the reference count of the live producer for key.
func (r *Registry) Refs(key Key) (int64, bool) {
	v, ok := r.producers.Load(key)
	if !ok {
		return 0, false
	}
	return v.(*producer).refs.Load(), true
}

// Active is the number of producers not yet torn down.
func (r *Registry) Active() int {
	return int(r.active.Load())
}

// Teardowns counts completed teardowns since the registry was built.
func (r *Registry) Teardowns() int64 {
	return r.teardowns.Load()
}

// Shutdown cancels every producer immediately, ignoring reference counts.
func (r *Registry) Shutdown() {
	r.producers.Range(func(k, v any) bool {
		p := v.(*producer)
		p.mu.Lock()
		if p.pending != nil {
			p.pending.Stop()
			p.pending = nil
		}
		p.refs.Store(0)
		p.gen++
		gen := p.gen
		p.mu.Unlock()
		r.teardown(p, gen)
		return true
	})
}
