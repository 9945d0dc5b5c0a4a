package engine

import (
	"sync"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeCommand is a caller operation (mutation, query or control).
	EventTypeCommand EventType = iota + 1
	// EventTypeRemote is an inbound realtime envelope.
	EventTypeRemote
	// EventTypeDebounce is a debounce timer firing.
	EventTypeDebounce
	// EventTypeLoadDone carries the result of a load request.
	EventTypeLoadDone
	// EventTypeSaveDone carries the result of a save request.
	EventTypeSaveDone
)

func (t EventType) String() string {
	switch t {
	case EventTypeCommand:
		return "command"
	case EventTypeRemote:
		return "remote"
	case EventTypeDebounce:
		return "debounce"
	case EventTypeLoadDone:
		return "load_done"
	case EventTypeSaveDone:
		return "save_done"
	default:
		return "unknown"
	}
}

// Event is one reaction for the Run loop.
type Event struct {
	Type EventType

	Command  *command
	Envelope *protocol.Envelope

	// Generation identifies the debounce slot that scheduled the timer.
	// A stale generation means the timer was superseded.
	Generation uint64

	Load *loadResult
	Save *saveResult
}

type loadResult struct {
	snapshot canvas.Snapshot
	err      error
}

type saveResult struct {
	elements []canvas.Element
	err      error
	waiters  []chan result
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Unbounded: I/O completions and timer callbacks must never block on a
// busy loop.
//
// The signal channel lets Run wait on the queue and ctx in one select.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Release the slot's pointers for GC.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes waiters. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
