package actor

import (
	"sync"
	"time"
)

// Scheduler schedules a single callback after a delay and returns a cancel
// function. The production implementation wraps time.AfterFunc; tests use
// ManualScheduler to fire timers deterministically.
type Scheduler interface {
	Schedule(after time.Duration, fn func()) (cancel func())
}

// RealScheduler schedules callbacks with time.AfterFunc.
type RealScheduler struct{}

// Schedule implements Scheduler.
func (RealScheduler) Schedule(after time.Duration, fn func()) func() {
	t := time.AfterFunc(after, fn)
	return func() { t.Stop() }
}

// TimerSet manages named single-slot timers for a runtime.
//
// Starting a name that is already armed cancels and replaces the previous
// timer, so a given name can never stack. This is the mechanism behind
// debounced indicators (latest signal wins).
type TimerSet struct {
	mu        sync.Mutex
	scheduler Scheduler
	cancels   map[string]func()
}

// NewTimerSet returns a TimerSet backed by the given scheduler. A nil
// scheduler defaults to RealScheduler.
func NewTimerSet(scheduler Scheduler) *TimerSet {
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	return &TimerSet{
		scheduler: scheduler,
		cancels:   make(map[string]func()),
	}
}

// Start arms the named timer, replacing any previous timer with that name.
// fn runs exactly once unless the timer is canceled or restarted first.
func (s *TimerSet) Start(name string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.cancels[name]; prev != nil {
		prev()
	}
	s.cancels[name] = s.scheduler.Schedule(after, func() {
		s.mu.Lock()
		delete(s.cancels, name)
		s.mu.Unlock()
		fn()
	})
}

// Cancel disarms the named timer if it is armed.
func (s *TimerSet) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.cancels[name]; prev != nil {
		prev()
		delete(s.cancels, name)
	}
}

// CancelAll disarms every armed timer.
func (s *TimerSet) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.cancels {
		cancel()
		delete(s.cancels, name)
	}
}

// ManualScheduler is a deterministic Scheduler for tests. Scheduled
// callbacks only run when Fire or FireAll is called.
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]manualTimer
}

type manualTimer struct {
	after time.Duration
	fn    func()
}

// NewManualScheduler returns an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]manualTimer)}
}

// Schedule implements Scheduler.
func (m *ManualScheduler) Schedule(after time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.pending[id] = manualTimer{after: after, fn: fn}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}
}

// Pending reports the number of armed timers.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Fire runs and removes the oldest armed timer. Returns false when no timer
// is armed.
func (m *ManualScheduler) Fire() bool {
	m.mu.Lock()
	oldest := -1
	for id := range m.pending {
		if oldest == -1 || id < oldest {
			oldest = id
		}
	}
	if oldest == -1 {
		m.mu.Unlock()
		return false
	}
	t := m.pending[oldest]
	delete(m.pending, oldest)
	m.mu.Unlock()
	t.fn()
	return true
}

// FireAll runs every armed timer in scheduling order.
func (m *ManualScheduler) FireAll() {
	for m.Fire() {
	}
}
