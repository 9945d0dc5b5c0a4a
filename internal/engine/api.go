package engine

import (
	"context"
	"time"

	"github.com/roach88/canvassync/internal/canvas"
)

type opKind int

const (
	opAdd opKind = iota + 1
	opUpdate
	opRemove
	opClear
	opReload
	opSaveNow
	opElements
	opStatus
	opBarrier
)

func (o opKind) String() string {
	switch o {
	case opAdd:
		return "add"
	case opUpdate:
		return "update"
	case opRemove:
		return "remove"
	case opClear:
		return "clear"
	case opReload:
		return "reload"
	case opSaveNow:
		return "save_now"
	case opElements:
		return "elements"
	case opStatus:
		return "status"
	case opBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// command is a caller operation waiting for the Run loop.
type command struct {
	op    opKind
	draft canvas.Draft
	id    string
	patch canvas.Patch
	reply chan result // buffered; written exactly once
}

type result struct {
	id       string
	err      error
	elements []canvas.Element
	status   Status
	idle     bool
}

// settlePoll is how long Settle waits before re-checking a busy loop.
const settlePoll = time.Millisecond

// submit enqueues cmd and waits for its reply.
func (e *Engine) submit(ctx context.Context, cmd *command) (result, error) {
	cmd.reply = make(chan result, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeCommand, Command: cmd}) {
		return result{}, errStopped()
	}

	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-e.done:
		// shutdown replies to everything it drains.
		select {
		case r := <-cmd.reply:
			return r, r.err
		default:
			return result{}, errStopped()
		}
	}
}

// AddElement appends a new element and returns its id.
// Blocks until the initial load has completed.
func (e *Engine) AddElement(ctx context.Context, d canvas.Draft) (string, error) {
	r, err := e.submit(ctx, &command{op: opAdd, draft: d})
	if err != nil {
		return "", err
	}
	return r.id, nil
}

// UpdateElement merges p into the element with id.
// Returns canvas.ErrElementNotFound for an unknown id; nothing is saved.
func (e *Engine) UpdateElement(ctx context.Context, id string, p canvas.Patch) error {
	_, err := e.submit(ctx, &command{op: opUpdate, id: id, patch: p})
	return err
}

// RemoveElement deletes the element with id. Removing an absent id is a
// no-op and schedules nothing.
func (e *Engine) RemoveElement(ctx context.Context, id string) error {
	_, err := e.submit(ctx, &command{op: opRemove, id: id})
	return err
}

// Clear removes every element.
func (e *Engine) Clear(ctx context.Context) error {
	_, err := e.submit(ctx, &command{op: opClear})
	return err
}

// Elements returns a copy of the current elements in paint order.
func (e *Engine) Elements(ctx context.Context) ([]canvas.Element, error) {
	r, err := e.submit(ctx, &command{op: opElements})
	if err != nil {
		return nil, err
	}
	return r.elements, nil
}

// Status returns the current session state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	r, err := e.submit(ctx, &command{op: opStatus})
	if err != nil {
		return Status{}, err
	}
	return r.status, nil
}

// Reload fetches the stored canvas again and replaces the local elements
// with it. Unsaved local edits are lost.
func (e *Engine) Reload(ctx context.Context) ([]canvas.Element, error) {
	r, err := e.submit(ctx, &command{op: opReload})
	if err != nil {
		return nil, err
	}
	return r.elements, nil
}

// SaveNow cancels the pending debounce and saves immediately. It returns
// once a save reflecting the current elements has completed.
func (e *Engine) SaveNow(ctx context.Context) error {
	_, err := e.submit(ctx, &command{op: opSaveNow})
	return err
}

// Settle blocks until the loop has no queued events and no load or save
// in flight.
func (e *Engine) Settle(ctx context.Context) error {
	for {
		r, err := e.submit(ctx, &command{op: opBarrier})
		if err != nil {
			return err
		}
		if r.idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}
