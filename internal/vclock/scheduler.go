package vclock

import (
	"sort"
	"sync"
	"time"
)

// Scheduler is a virtual clock that parks sleepers until Run advances time.
// Actual processing takes zero virtual time.
//
// Sleepers are woken in (deadline, registration) order and one at a time: the
// next sleeper is only released after the previous one's continuation (see
// SleepThen) has returned. A continuation must not call Sleep on the same
// Scheduler.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Duration
	seq    uint64
	parked []*sleeper
}

type sleeper struct {
	at   time.Duration
	seq  uint64
	wake chan struct{}
	done chan struct{}
}

// NewScheduler returns a Scheduler positioned at Epoch with nothing parked.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Epoch.Add(s.now)
}

func (s *Scheduler) Sleep(d time.Duration) {
	s.SleepThen(d, nil)
}

// SleepThen parks the caller until the clock reaches now+d, then runs fn on
// the caller's goroutine before the scheduler moves on. A non-positive d runs
// fn immediately.
func (s *Scheduler) SleepThen(d time.Duration, fn func()) {
	if d <= 0 {
		if fn != nil {
			fn()
		}
		return
	}
	sl := s.park(d)
	<-sl.wake
	defer close(sl.done)
	if fn != nil {
		fn()
	}
}

func (s *Scheduler) park(d time.Duration) *sleeper {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	sl := &sleeper{
		at:   s.now + d,
		seq:  s.seq,
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
	i := sort.Search(len(s.parked), func(i int) bool {
		p := s.parked[i]
		return p.at > sl.at || (p.at == sl.at && p.seq > sl.seq)
	})
	s.parked = append(s.parked, nil)
	copy(s.parked[i+1:], s.parked[i:])
	s.parked[i] = sl
	s.cond.Broadcast()
	return sl
}

// Run advances the clock by d, waking every sleeper due before the new time
// in order. It returns the number of sleepers woken.
func (s *Scheduler) Run(d time.Duration) int {
	s.mu.Lock()
	end := s.now + d
	s.mu.Unlock()

	woken := 0
	for {
		s.mu.Lock()
		if len(s.parked) == 0 || s.parked[0].at > end {
			if end > s.now {
				s.now = end
			}
			s.cond.Broadcast()
			s.mu.Unlock()
			return woken
		}
		sl := s.parked[0]
		s.parked = s.parked[1:]
		s.now = sl.at
		s.cond.Broadcast()
		s.mu.Unlock()

		close(sl.wake)
		<-sl.done
		woken++
	}
}

// Step advances the clock to the next deadline and wakes exactly that
// sleeper. It reports false when nothing is parked.
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	if len(s.parked) == 0 {
		s.mu.Unlock()
		return false
	}
	sl := s.parked[0]
	s.parked = s.parked[1:]
	s.now = sl.at
	s.cond.Broadcast()
	s.mu.Unlock()

	close(sl.wake)
	<-sl.done
	return true
}

// Sleepers returns the number of parked tasks.
func (s *Scheduler) Sleepers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// WaitForSleepers blocks until at least n tasks are parked.
func (s *Scheduler) WaitForSleepers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.parked) < n {
		s.cond.Wait()
	}
}

// NextDeadline returns the virtual time at which the first parked task is
// due, or false when nothing is parked.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parked) == 0 {
		return time.Time{}, false
	}
	return Epoch.Add(s.parked[0].at), true
}
