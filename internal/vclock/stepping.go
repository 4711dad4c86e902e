package vclock

import (
	"sync"
	"time"
)

// Stepping is a virtual clock where Sleep advances time by d and returns
// immediately. Concurrent sleepers are serialized by call order, so a
// single-goroutine run sees the same timeline every time.
type Stepping struct {
	mu  sync.Mutex
	now time.Time
}

// NewStepping returns a Stepping clock positioned at Epoch.
func NewStepping() *Stepping {
	return &Stepping{now: Epoch}
}

func (s *Stepping) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Stepping) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Advance moves the clock forward without a sleeper, e.g. to model idle time
// between scenario steps.
func (s *Stepping) Advance(d time.Duration) {
	s.Sleep(d)
}
