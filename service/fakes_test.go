package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"live-broadcast/pkg/agent"
	"live-broadcast/pkg/discovery"
)

type fakeDiscovery struct {
	mu      sync.Mutex
	items   map[string][]discovery.Item
	fail    map[string]bool
	panics  map[string]bool
	queries []string
}

func (f *fakeDiscovery) SearchLive(ctx context.Context, category string, limit int) ([]discovery.Item, error) {
	f.mu.Lock()
	f.queries = append(f.queries, category)
	f.mu.Unlock()
	if f.panics[category] {
		panic("discovery exploded")
	}
	if f.fail[category] {
		return nil, errors.New("discovery unavailable")
	}
	items := f.items[category]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeDiscovery) queried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeAgent struct {
	events []agent.Event
	err    error
}

func (f *fakeAgent) Stream(ctx context.Context, sourceURL string, isLive bool, handle func(agent.Event) error) error {
	for _, ev := range f.events {
		if err := handle(ev); err != nil {
			return err
		}
	}
	return f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.Contains(text, "fail") {
		return nil, errors.New("embedding service down")
	}
	return []float64{float64(len(text)), 1}, nil
}

type published struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.routingKey)
	}
	return out
}
