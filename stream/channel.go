package stream

import (
	"live-broadcast/dto"
	"sync"
)

// Channel fans envelopes from one writer out to many subscribers. The last replaySize envelopes
// are replayed to every new subscriber. Publish never blocks: a full subscriber queue loses its
// oldest envelope.
type Channel struct {
	mu         sync.Mutex
	replay     []dto.Envelope
	replaySize int
	bufferSize int
	subs       map[*Subscription]struct{}
	closed     bool
	onDrop     func()
}

type Subscription struct {
	ch   chan dto.Envelope
	done chan struct{}
	once sync.Once
}

// Events delivers envelopes in publish order, minus any dropped under backpressure.
func (s *Subscription) Events() <-chan dto.Envelope {
	return s.ch
}

// Done is closed once the subscription is cancelled or its channel is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewChannel(replaySize, bufferSize int, onDrop func()) *Channel {
	if replaySize < 0 {
		replaySize = 0
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Channel{
		replaySize: replaySize,
		bufferSize: bufferSize,
		subs:       make(map[*Subscription]struct{}),
		onDrop:     onDrop,
	}
}

func (c *Channel) Publish(env dto.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.replaySize > 0 {
		c.replay = append(c.replay, env)
		if len(c.replay) > c.replaySize {
			c.replay = c.replay[len(c.replay)-c.replaySize:]
		}
	}
	for sub := range c.subs {
		c.deliver(sub, env)
	}
}

func (c *Channel) deliver(sub *Subscription, env dto.Envelope) {
	select {
	case sub.ch <- env:
		return
	default:
	}

	select {
	case <-sub.ch:
		c.dropped()
	default:
	}
	select {
	case sub.ch <- env:
	default:
		c.dropped()
	}
}

func (c *Channel) dropped() {
	if c.onDrop != nil {
		c.onDrop()
	}
}

// Subscribe registers a reader whose queue is pre-filled with the replay buffer.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{
		ch:   make(chan dto.Envelope, c.replaySize+c.bufferSize),
		done: make(chan struct{}),
	}
	if c.closed {
		sub.stop()
		return sub
	}
	for _, env := range c.replay {
		sub.ch <- env
	}
	c.subs[sub] = struct{}{}
	return sub
}

func (c *Channel) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
	sub.stop()
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		sub.stop()
	}
	c.subs = nil
	c.replay = nil
}

func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
