// Package timeutil provides cancellable scheduled tasks with a real and a
// manually driven implementation.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Task is a handle to a scheduled callback.
type Task interface {
	// Stop cancels the task. It reports whether the task was still armed.
	// Once Stop returns the callback will not start.
	Stop() bool
}

// Scheduler runs callbacks after a delay or on a fixed period.
type Scheduler interface {
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Task

	// Every runs f every d until the returned task is stopped.
	Every(d time.Duration, f func()) Task
}

// RealScheduler schedules callbacks on the runtime timer heap. Callbacks run
// on their own goroutine.
type RealScheduler struct{}

// AfterFunc runs f once after d.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Task {
	t := &realTask{}
	t.timer = time.AfterFunc(d, func() {
		if t.claim() {
			f()
		}
	})
	return t
}

// Every runs f every d until stopped.
func (RealScheduler) Every(d time.Duration, f func()) Task {
	t := &realTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				if t.active() {
					f()
				}
			}
		}
	}()
	return t
}

type realTask struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

// claim marks the task as fired unless it was stopped first.
func (t *realTask) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.fired = true
	return true
}

func (t *realTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	t.timer.Stop()
	return wasActive
}

type realTicker struct {
	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	stopped bool
}

func (t *realTicker) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *realTicker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.ticker.Stop()
	close(t.done)
	return true
}

// ManualScheduler is a deterministic Scheduler for tests. Time only moves
// when Advance is called, and due callbacks run on the caller's goroutine.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

// NewManualScheduler returns a scheduler positioned at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

type manualTask struct {
	s        *ManualScheduler
	seq      int
	deadline time.Duration
	period   time.Duration // zero for one-shot tasks
	f        func()
	stopped  bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.s.remove(t)
	return true
}

// AfterFunc runs f once after d of manual time.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Task {
	return s.add(d, 0, f)
}

// Every runs f every d of manual time.
func (s *ManualScheduler) Every(d time.Duration, f func()) Task {
	if d <= 0 {
		d = time.Nanosecond
	}
	return s.add(d, d, f)
}

func (s *ManualScheduler) add(d, period time.Duration, f func()) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTask{s: s, seq: s.seq, deadline: s.now + d, period: period, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// remove drops t from the pending list. Caller holds s.mu.
func (s *ManualScheduler) remove(t *manualTask) {
	for i, p := range s.tasks {
		if p == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Now returns the elapsed manual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of armed tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Advance moves manual time forward by d, running every callback that falls
// due in deadline order. Callbacks may schedule or stop other tasks.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.deadline
		if next.period > 0 {
			next.deadline += next.period
		} else {
			next.stopped = true
			s.remove(next)
		}
		f := next.f
		s.mu.Unlock()

		f()
	}
}

// nextDue returns the earliest task due at or before target. Caller holds s.mu.
func (s *ManualScheduler) nextDue(target time.Duration) *manualTask {
	due := make([]*manualTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.stopped && t.deadline <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}
