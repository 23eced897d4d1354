package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryGate is the in-process claim store. Expired claims are swept lazily
// on access, so memory stays bounded by the arrival rate times the TTL.
type MemoryGate struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time

	lastSweep time.Time
}

// NewMemoryGate builds a gate with the given retention window.
func NewMemoryGate(ttl time.Duration) *MemoryGate {
	return &MemoryGate{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (g *MemoryGate) Claim(_ context.Context, messageID string) (bool, error) {
	if isSentinel(messageID) {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	if expiry, ok := g.seen[messageID]; ok && now.Before(expiry) {
		return false, nil
	}
	g.seen[messageID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGate) Release(_ context.Context, messageID string) error {
	if isSentinel(messageID) {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, messageID)
	return nil
}

// sweepLocked drops expired claims, at most once per minute.
func (g *MemoryGate) sweepLocked(now time.Time) {
	if now.Sub(g.lastSweep) < time.Minute {
		return
	}
	g.lastSweep = now
	for id, expiry := range g.seen {
		if !now.Before(expiry) {
			delete(g.seen, id)
		}
	}
}
