// Package schedule provides cancellable one-shot tasks.
//
// The engine's debounce timer and the transport's reconnect timer both go
// through a Scheduler so tests can drive them with a virtual clock
// (testutil.FakeScheduler) instead of sleeping.
package schedule

import "time"

// Task is a scheduled callback that has not necessarily fired yet.
type Task interface {
	// Stop cancels the task. Returns false if it already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay and reports the current time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
	Now() time.Time
}

// System is the wall-clock Scheduler backed by time.AfterFunc.
// Callbacks run on their own goroutine.
type System struct{}

// AfterFunc schedules f to run after d.
func (System) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// Now returns the current wall-clock time.
func (System) Now() time.Time {
	return time.Now()
}
