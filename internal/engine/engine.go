package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/realtime"
	"github.com/roach88/canvassync/internal/schedule"
)

// DefaultDebounce is the quiet period before local edits are saved.
const DefaultDebounce = 2 * time.Second

// Persistence is the storage collaborator. Implemented by
// persistence.Client.
type Persistence interface {
	Load(ctx context.Context) (canvas.Snapshot, error)
	Save(ctx context.Context, elements []canvas.Element) error
	Broadcast(ctx context.Context, elements []canvas.Element) error
}

// Transport is the realtime channel. Implemented by realtime.Transport.
type Transport interface {
	Connect(token string, onMessage func(protocol.Envelope)) error
	Send(env protocol.Envelope)
	Disconnect()
	Status() realtime.Status
}

// Executor runs an I/O task. The task enqueues its own result event.
type Executor func(task func())

// Status is a snapshot of the session state for external consumers.
type Status struct {
	Loaded           bool
	Saving           bool
	PendingSave      bool
	LastSaved        time.Time
	// PartnerConnected is the last presence event from the hub. It is kept
	// while the local channel is down, so saves in that window still reach
	// the partner through the HTTP relay.
	PartnerConnected bool
	Partner          *canvas.Partner
	Transport        realtime.Status
	Elements         int
}

// Engine is the single-writer sync coordinator.
//
// Thread-safety model:
//   - public operations: safe from any goroutine; they enqueue and wait
//   - Run: must be called from exactly one goroutine, once
//   - every field below the queue is owned by the Run goroutine
type Engine struct {
	userID    string
	token     string
	persist   Persistence
	transport Transport // nil runs without realtime; broadcasts use HTTP
	sched     schedule.Scheduler
	exec      Executor
	debounce  time.Duration
	ids       canvas.IDGenerator

	observer  Observer
	onChange  func([]canvas.Element)
	onPresent func(connected bool, partner *canvas.Partner)

	queue *eventQueue
	clock *Clock
	ready chan struct{}
	done  chan struct{}
	once  sync.Once

	// Run-goroutine state.
	runCtx        context.Context
	store         *canvas.Store
	loaded        bool
	loading       bool
	loadWaiters   []chan result
	parked        []*command
	pendingRemote *protocol.Envelope

	debounceTask schedule.Task
	debounceGen  uint64

	saving      bool
	saveAgain   bool
	nextWaiters []chan result
	lastSaved   time.Time

	partnerPresent bool
	partner        *canvas.Partner
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDebounce sets the quiet period before a save.
func WithDebounce(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.debounce = d
	}
}

// WithScheduler replaces the wall-clock scheduler used for the debounce
// timer and timestamps.
func WithScheduler(s schedule.Scheduler) EngineOption {
	return func(e *Engine) {
		e.sched = s
	}
}

// WithIDGenerator sets the element id source.
func WithIDGenerator(g canvas.IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithIOExecutor replaces how load/save requests are run.
// The default runs each on its own goroutine. Tests pass a synchronous
// executor so results are queued before the issuing event finishes.
func WithIOExecutor(x Executor) EngineOption {
	return func(e *Engine) {
		e.exec = x
	}
}

// WithObserver registers a trace observer. It runs on the Run goroutine
// and must not call back into the Engine.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithChangeHandler registers a callback invoked with a copy of the
// elements after every store change. Runs on the Run goroutine.
func WithChangeHandler(fn func([]canvas.Element)) EngineOption {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// WithPresenceHandler registers a callback for partner presence changes.
// Runs on the Run goroutine.
func WithPresenceHandler(fn func(connected bool, partner *canvas.Partner)) EngineOption {
	return func(e *Engine) {
		e.onPresent = fn
	}
}

// New creates an Engine for userID. transport may be nil.
func New(userID, token string, persist Persistence, transport Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		userID:    userID,
		token:     token,
		persist:   persist,
		transport: transport,
		sched:     schedule.System{},
		exec:      func(task func()) { go task() },
		debounce:  DefaultDebounce,
		ids:       canvas.UUIDv7Generator{},
		queue:     newEventQueue(),
		clock:     NewClock(),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.store = canvas.NewStore(canvas.WithIDGenerator(e.ids))
	return e
}

// Ready is closed once the initial load has completed, successfully or not.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run starts the session and its event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing event is logged and the loop continues.
// Nothing a collaborator does ends the session.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.once.Do(func() { started = true })
	if !started {
		return fmt.Errorf("engine already running or finished")
	}
	defer close(e.done)

	e.runCtx = ctx
	slog.Info("sync session starting", "user_id", e.userID, "debounce", e.debounce)

	e.startLoad(nil)
	if e.transport != nil {
		if err := e.transport.Connect(e.token, e.onMessage); err != nil {
			slog.Error("realtime connect failed", "error", err)
		}
	}
	defer e.shutdown()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(event); err != nil {
				slog.Error("event processing failed", "event_type", event.Type.String(), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("sync session stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// A closed queue signals immediately.
			if e.queue.Len() == 0 && e.stopped() {
				slog.Info("sync session stopping: stopped")
				return nil
			}
		}
	}
}

// Stop ends the session. Events already queued are processed first.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

// onMessage is the transport callback. It runs on the transport's read
// goroutine and only hands the envelope to the loop.
func (e *Engine) onMessage(env protocol.Envelope) {
	if !e.queue.Enqueue(Event{Type: EventTypeRemote, Envelope: &env}) {
		slog.Debug("realtime message after session end dropped", "type", env.Type)
	}
}

// shutdown cancels the pending debounce without saving, disconnects the
// transport and fails every waiting caller.
func (e *Engine) shutdown() {
	if e.debounceTask != nil {
		e.debounceTask.Stop()
		e.debounceTask = nil
		slog.Warn("pending save discarded at session end", "elements", e.store.Len())
	}
	e.debounceGen++

	if e.transport != nil {
		e.transport.Disconnect()
	}

	e.queue.Close()
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		switch event.Type {
		case EventTypeCommand:
			event.Command.reply <- result{err: errStopped()}
		case EventTypeSaveDone:
			// The request finished; report its real outcome.
			r := result{}
			if event.Save.err != nil {
				r.err = newSaveError(event.Save.err)
			}
			replyAll(event.Save.waiters, r)
		}
	}
	for _, cmd := range e.parked {
		cmd.reply <- result{err: errStopped()}
	}
	e.parked = nil
	replyAll(e.loadWaiters, result{err: errStopped()})
	replyAll(e.nextWaiters, result{err: errStopped()})
	e.loadWaiters, e.nextWaiters = nil, nil
	e.markReady()

	e.trace(TraceEvent{Kind: TraceStopped, IDs: canvas.IDs(e.store.Elements())})
	slog.Info("sync session stopped", "user_id", e.userID)
}

// processEvent routes an event to its handler.
// Called only from the Run goroutine.
func (e *Engine) processEvent(event Event) error {
	switch event.Type {
	case EventTypeCommand:
		if event.Command == nil {
			return fmt.Errorf("command event missing command")
		}
		e.handleCommand(event.Command)
		return nil

	case EventTypeRemote:
		if event.Envelope == nil {
			return fmt.Errorf("remote event missing envelope")
		}
		e.handleRemote(*event.Envelope)
		return nil

	case EventTypeDebounce:
		e.handleDebounce(event.Generation)
		return nil

	case EventTypeLoadDone:
		if event.Load == nil {
			return fmt.Errorf("load event missing result")
		}
		e.handleLoadDone(event.Load)
		return nil

	case EventTypeSaveDone:
		if event.Save == nil {
			return fmt.Errorf("save event missing result")
		}
		e.handleSaveDone(event.Save)
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func replyAll(waiters []chan result, r result) {
	for _, w := range waiters {
		w <- r
	}
}
