package clock

import (
	"sync"
	"time"
)

// Clock abstracts time lookups so window-based logic can be tested
// without sleeping or touching the system clock.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
