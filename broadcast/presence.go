package broadcast

import "time"

const DefaultPresenceTTL = 30 * time.Second

// presence maps viewer id to last heartbeat. Expired viewers are pruned on every read and write.
type presence struct {
	ttl      time.Duration
	lastSeen map[string]time.Time
}

func newPresence(ttl time.Duration) *presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &presence{ttl: ttl, lastSeen: make(map[string]time.Time)}
}

func (p *presence) touch(viewerId string, now time.Time) int {
	p.lastSeen[viewerId] = now
	return p.count(now)
}

func (p *presence) count(now time.Time) int {
	for id, seen := range p.lastSeen {
		if now.Sub(seen) > p.ttl {
			delete(p.lastSeen, id)
		}
	}
	return len(p.lastSeen)
}
