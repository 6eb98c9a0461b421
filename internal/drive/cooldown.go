package drive

import (
	"sync"
	"time"
)

// CooldownGate rate-limits expensive full rescans per owner. Repeated
// manual refreshes inside the period are rejected so the store's query
// endpoint is not hammered.
type CooldownGate struct {
	period time.Duration
	clock  Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownGate creates a gate with the given period. clock may be nil.
func NewCooldownGate(period time.Duration, clock Clock) *CooldownGate {
	if clock == nil {
		clock = RealClock{}
	}
	return &CooldownGate{
		period: period,
		clock:  clock,
		last:   map[string]time.Time{},
	}
}

// Allow reports whether a sync for the owner may run now, and records the
// attempt when it may. A zero period always allows.
func (g *CooldownGate) Allow(ownerAddress string) bool {
	if g.period <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if last, ok := g.last[ownerAddress]; ok && now.Sub(last) < g.period {
		return false
	}
	g.last[ownerAddress] = now
	return true
}

// Reset clears the owner's cooldown so the next Allow succeeds. Used by
// forced syncs.
func (g *CooldownGate) Reset(ownerAddress string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, ownerAddress)
}
