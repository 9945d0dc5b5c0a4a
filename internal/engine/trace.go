package engine

import "time"

// TraceKind names a coordinator decision.
type TraceKind string

const (
	TraceLoad          TraceKind = "load"
	TraceLoaded        TraceKind = "loaded"
	TraceLoadFailed    TraceKind = "load_failed"
	TraceParked        TraceKind = "parked"
	TraceMutation      TraceKind = "mutation"
	TraceRejected      TraceKind = "rejected"
	TraceDebounce      TraceKind = "debounce"
	TraceSave          TraceKind = "save"
	TraceSaved         TraceKind = "saved"
	TraceSaveFailed    TraceKind = "save_failed"
	TraceBroadcast     TraceKind = "broadcast"
	TraceRemoteApplied TraceKind = "remote_applied"
	TraceEchoDropped   TraceKind = "echo_dropped"
	TracePresence      TraceKind = "presence"
	TraceStopped       TraceKind = "stopped"
)

// TraceEvent records one decision for observers such as the scenario
// harness.
type TraceEvent struct {
	Seq  int64
	At   time.Time
	Kind TraceKind

	Op        string   // mutation op, broadcast route, or presence change
	ElementID string   // mutation target
	IDs       []string // element ids involved, in paint order
	Err       error
}

// Observer receives trace events on the Run goroutine.
type Observer func(TraceEvent)

func (e *Engine) trace(ev TraceEvent) {
	if e.observer == nil {
		return
	}
	ev.Seq = e.clock.Next()
	ev.At = e.sched.Now()
	e.observer(ev)
}
