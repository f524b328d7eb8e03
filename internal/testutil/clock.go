package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is a modidx.Clock that only moves when told to, so scan
// timestamps (first_seen_at, last_seen_at, op log created_at) are exact in
// tests. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 local time.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local))
}

// Now returns the current stub time.
func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Index tests advance between scans
// so each pass gets a distinct last_seen_at.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator is a modidx.IDGenerator handing out predictable run ids
// ("id-1", "id-2", ...) in draw order. The app draws one for its log
// stream, then one per requested scan.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

// NewStubIDGenerator starts the sequence at id-1.
func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

// New returns the next run id.
func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%d", g.next)
}
