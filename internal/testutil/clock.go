package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"datafs-go/internal/datafs"
)

// ReferenceTime is the instant test clocks start at: 2024-01-15 10:30:00 UTC.
// Timestamp version ids derived from it begin with "20240115-103000".
var ReferenceTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a datafs.Clock that only moves when told to. An optional
// step is added after every reading. Safe for concurrent use.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStubClock creates a StubClock set to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock stopped at ReferenceTime. Successive
// versions committed under it exercise the stalled-clock path of update.
func FixedClock() *StubClock {
	return NewStubClock(ReferenceTime)
}

// SteppingClock returns a StubClock starting at ReferenceTime that moves
// forward by step after each Now.
func SteppingClock(step time.Duration) *StubClock {
	c := NewStubClock(ReferenceTime)
	c.step = step
	return c
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock by d. A negative d steps it back.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StubIDGenerator returns sequential staging and operation ids: "id-1", "id-2", ...
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}

var (
	_ datafs.Clock       = (*StubClock)(nil)
	_ datafs.IDGenerator = (*StubIDGenerator)(nil)
)
