package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/engine"
	"github.com/roach88/canvassync/internal/fakes"
	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/realtime"
	"github.com/roach88/canvassync/internal/testutil"
)

// Epoch is the virtual start time of every run.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// stepTimeout bounds how long one step may take in wall time.
const stepTimeout = 5 * time.Second

const harnessToken = "harness-token"

// Harness holds one run's session and its collaborators.
type Harness struct {
	scenario  *Scenario
	sched     *testutil.FakeScheduler
	persist   *fakes.FakePersistence
	transport *fakes.FakeTransport
	engine    *engine.Engine

	mu    sync.Mutex
	trace []engine.TraceEvent
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Start a session over fakes with a virtual clock
//  2. Wait for the initial load
//  3. Run each step at its offset, settling after every timer
//  4. Run out the final debounce window
//  5. Stop the session and evaluate assertions
//
// The returned error reports a harness failure (timeout, session crash);
// scenario failures are in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario:  scenario,
		sched:     testutil.NewFakeScheduler(Epoch),
		persist:   fakes.NewFakePersistence(elementsOf(scenario.Initial)...),
		transport: fakes.NewFakeTransport(scenario.online()),
	}
	if scenario.FailInitialLoad {
		h.persist.FailNextLoads(1)
	}
	h.engine = engine.New(scenario.userID(), harnessToken, h.persist, h.transport,
		engine.WithScheduler(h.sched),
		engine.WithIOExecutor(fakes.RunInline),
		engine.WithIDGenerator(testutil.NewSequentialIDs("el")),
		engine.WithDebounce(scenario.debounce()),
		engine.WithObserver(h.observe),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.engine.Run(ctx)

	result := NewResult(Epoch)
	if err := h.start(); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := h.advanceTo(step.at); err != nil {
			return nil, err
		}
		if err := h.execute(step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}
	if err := h.advanceTo(scenario.runUntil()); err != nil {
		return nil, err
	}

	final, err := h.callElements()
	if err != nil {
		return nil, err
	}

	cancel()
	select {
	case <-h.engine.Done():
	case <-time.After(stepTimeout):
		return nil, fmt.Errorf("session did not stop")
	}

	h.collect(result, final)
	evaluate(scenario.Assertions, result)
	return result, nil
}

func (h *Harness) observe(ev engine.TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, ev)
}

func (h *Harness) start() error {
	select {
	case <-h.engine.Ready():
	case <-time.After(stepTimeout):
		return fmt.Errorf("initial load did not complete")
	}
	return h.settle()
}

func (h *Harness) settle() error {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	if err := h.engine.Settle(ctx); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

// advanceTo moves the clock to offset one timer deadline at a time,
// settling the session after each.
func (h *Harness) advanceTo(offset time.Duration) error {
	target := Epoch.Add(offset)
	for {
		now := h.sched.Now()
		if !now.Before(target) {
			return nil
		}
		next := target
		if pending := h.sched.Pending(); len(pending) > 0 && pending[0].Due.Before(next) {
			next = pending[0].Due
		}
		h.sched.Advance(next.Sub(now))
		if err := h.settle(); err != nil {
			return err
		}
	}
}

func (h *Harness) execute(step Step, result *Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	var opErr error
	switch step.Op {
	case OpAdd:
		d := canvas.Draft{Kind: canvas.Kind(step.Kind)}
		if step.Content != nil {
			d.Content = *step.Content
		}
		if step.X != nil {
			d.X = *step.X
		}
		if step.Y != nil {
			d.Y = *step.Y
		}
		if step.Scale != nil {
			d.Scale = *step.Scale
		}
		_, opErr = h.engine.AddElement(ctx, d)

	case OpUpdate:
		opErr = h.engine.UpdateElement(ctx, step.ID, canvas.Patch{
			Content: step.Content,
			X:       step.X,
			Y:       step.Y,
			Scale:   step.Scale,
		})

	case OpRemove:
		opErr = h.engine.RemoveElement(ctx, step.ID)

	case OpClear:
		opErr = h.engine.Clear(ctx)

	case OpSaveNow:
		opErr = h.engine.SaveNow(ctx)

	case OpReload:
		_, opErr = h.engine.Reload(ctx)

	case OpRemote:
		h.deliver(protocol.CanvasUpdate(authorOf(step), elementsOf(step.Elements)))

	case OpPartnerConnected:
		author := authorOf(step)
		h.deliver(protocol.Envelope{
			Type:    protocol.TypePartnerConnected,
			UserID:  author,
			Partner: &canvas.Partner{ID: author},
		})

	case OpPartnerDisconnected:
		h.deliver(protocol.Envelope{Type: protocol.TypePartnerDisconnected, UserID: authorOf(step)})

	case OpSaveFails:
		h.persist.FailNextSaves(countOf(step))

	case OpLoadFails:
		h.persist.FailNextLoads(countOf(step))

	case OpOffline:
		h.transport.SetStatus(realtime.Status{State: realtime.StateReconnecting, Attempt: 1})

	case OpOnline:
		h.transport.SetStatus(realtime.Status{State: realtime.StateConnected})
	}

	if engine.IsStopped(opErr) || errors.Is(opErr, context.DeadlineExceeded) {
		return opErr
	}
	checkExpectedError(step, opErr, result)
	return h.settle()
}

func (h *Harness) deliver(env protocol.Envelope) {
	h.transport.Deliver(env)
}

func (h *Harness) callElements() ([]canvas.Element, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	return h.engine.Elements(ctx)
}

func (h *Harness) collect(result *Result, final []canvas.Element) {
	h.mu.Lock()
	result.Trace = append([]engine.TraceEvent(nil), h.trace...)
	h.mu.Unlock()

	result.FinalIDs = canvas.IDs(final)
	for _, saved := range h.persist.Saves() {
		result.Saves = append(result.Saves, canvas.IDs(saved))
	}
	result.SaveAttempts = h.persist.SaveAttempts()
	result.Loads = h.persist.Loads()
	result.RealtimeBroadcasts = len(h.transport.Sent())
	result.HTTPBroadcasts = len(h.persist.Broadcasts())
}

func checkExpectedError(step Step, err error, result *Result) {
	got := classify(err)
	if got == step.ExpectError {
		return
	}
	if step.ExpectError == "" {
		result.AddError(fmt.Sprintf("step %s at %s: unexpected error: %v", step.Op, step.At, err))
		return
	}
	result.AddError(fmt.Sprintf("step %s at %s: expected %s error, got %v", step.Op, step.At, step.ExpectError, err))
}

func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case canvas.IsNotFound(err):
		return ErrClassNotFound
	case errors.Is(err, canvas.ErrInvalidElement):
		return ErrClassInvalid
	case engine.IsSaveError(err):
		return ErrClassSaveFailed
	case engine.IsLoadError(err):
		return ErrClassLoadFailed
	default:
		return "other"
	}
}

func authorOf(step Step) string {
	if step.Author == "" {
		return defaultAuthor
	}
	return step.Author
}

func countOf(step Step) int {
	if step.Count == 0 {
		return 1
	}
	return step.Count
}
