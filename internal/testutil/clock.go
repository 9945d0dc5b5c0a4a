package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/canvassync/internal/schedule"
)

// FakeScheduler is a virtual-time schedule.Scheduler for tests.
//
// Time only moves when Advance is called. Due callbacks run synchronously
// inside Advance, in deadline order (ties broken by scheduling order), with
// the clock set to each task's deadline while it runs.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the internal lock held, so they may schedule or stop tasks.
type FakeScheduler struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	seq   int64
	tasks []*fakeTask
}

// PendingTask describes a task that has not fired yet.
type PendingTask struct {
	Delay time.Duration // delay requested at scheduling time
	Due   time.Time
}

type fakeTask struct {
	s     *FakeScheduler
	due   time.Time
	delay time.Duration
	seq   int64
	f     func()
	done  bool
}

// NewFakeScheduler creates a scheduler whose clock starts at start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{start: start, now: start}
}

// AfterFunc schedules f to run once the virtual clock reaches now+d.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) schedule.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &fakeTask{s: s, due: s.now.Add(d), delay: d, seq: s.seq, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Now returns the virtual time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Elapsed returns how far the clock has moved since construction.
func (s *FakeScheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now.Sub(s.start)
}

// Advance moves the clock forward by d, firing every task that falls due.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.due
		next.done = true
		s.removeLocked(next)
		s.mu.Unlock()

		next.f()
	}
}

// Pending returns the tasks that have not fired or been stopped, soonest first.
func (s *FakeScheduler) Pending() []PendingTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedLocked()
	out := make([]PendingTask, len(sorted))
	for i, t := range sorted {
		out[i] = PendingTask{Delay: t.delay, Due: t.due}
	}
	return out
}

func (s *FakeScheduler) nextDueLocked(target time.Time) *fakeTask {
	sorted := s.sortedLocked()
	if len(sorted) == 0 || sorted[0].due.After(target) {
		return nil
	}
	return sorted[0]
}

func (s *FakeScheduler) sortedLocked() []*fakeTask {
	sorted := make([]*fakeTask, len(s.tasks))
	copy(sorted, s.tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].due.Equal(sorted[j].due) {
			return sorted[i].due.Before(sorted[j].due)
		}
		return sorted[i].seq < sorted[j].seq
	})
	return sorted
}

func (s *FakeScheduler) removeLocked(t *fakeTask) {
	for i, candidate := range s.tasks {
		if candidate == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Stop cancels the task if it has not fired.
func (t *fakeTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.s.removeLocked(t)
	return true
}
