package engine

import (
	"log/slog"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/realtime"
)

// handleCommand answers queries immediately and parks mutations until the
// initial load has installed the stored snapshot.
func (e *Engine) handleCommand(cmd *command) {
	switch cmd.op {
	case opElements:
		cmd.reply <- result{elements: e.store.Elements()}
		return
	case opStatus:
		cmd.reply <- result{status: e.status()}
		return
	case opBarrier:
		cmd.reply <- result{idle: e.queue.Len() == 0 && !e.saving && !e.loading}
		return
	}

	if !e.loaded {
		e.parked = append(e.parked, cmd)
		e.trace(TraceEvent{Kind: TraceParked, Op: cmd.op.String(), ElementID: cmd.id})
		slog.Debug("mutation parked until initial load completes", "op", cmd.op.String())
		return
	}
	e.apply(cmd)
}

// apply runs a mutation or control command against the loaded store.
func (e *Engine) apply(cmd *command) {
	switch cmd.op {
	case opAdd:
		id, err := e.store.Add(cmd.draft)
		if err != nil {
			e.reject(cmd, err)
			return
		}
		e.mutated(cmd.op, id)
		cmd.reply <- result{id: id}

	case opUpdate:
		if err := e.store.Update(cmd.id, cmd.patch); err != nil {
			e.reject(cmd, err)
			return
		}
		e.mutated(cmd.op, cmd.id)
		cmd.reply <- result{}

	case opRemove:
		if e.store.Remove(cmd.id) {
			e.mutated(cmd.op, cmd.id)
		} else {
			slog.Debug("remove of absent element ignored", "element_id", cmd.id)
		}
		cmd.reply <- result{}

	case opClear:
		if e.store.Len() > 0 {
			e.store.Clear()
			e.mutated(cmd.op, "")
		}
		cmd.reply <- result{}

	case opReload:
		e.startLoad(cmd.reply)

	case opSaveNow:
		e.cancelDebounce()
		e.requestSave(cmd.reply)

	default:
		slog.Error("unknown command", "op", int(cmd.op))
		cmd.reply <- result{}
	}
}

func (e *Engine) reject(cmd *command, err error) {
	slog.Debug("mutation rejected", "op", cmd.op.String(), "element_id", cmd.id, "error", err)
	e.trace(TraceEvent{Kind: TraceRejected, Op: cmd.op.String(), ElementID: cmd.id, Err: err})
	cmd.reply <- result{err: err}
}

// mutated records a local change and restarts the debounce timer.
func (e *Engine) mutated(op opKind, id string) {
	e.trace(TraceEvent{Kind: TraceMutation, Op: op.String(), ElementID: id, IDs: canvas.IDs(e.store.Elements())})
	e.notifyChange()
	e.scheduleSave()
}

// scheduleSave (re)starts the single-slot debounce timer.
func (e *Engine) scheduleSave() {
	e.cancelDebounce()
	gen := e.debounceGen
	e.debounceTask = e.sched.AfterFunc(e.debounce, func() {
		e.queue.Enqueue(Event{Type: EventTypeDebounce, Generation: gen})
	})
}

// cancelDebounce stops the pending timer. Bumping the generation also
// invalidates a firing that is already queued.
func (e *Engine) cancelDebounce() {
	if e.debounceTask != nil {
		e.debounceTask.Stop()
		e.debounceTask = nil
	}
	e.debounceGen++
}

func (e *Engine) handleDebounce(gen uint64) {
	if gen != e.debounceGen || e.debounceTask == nil {
		slog.Debug("stale debounce ignored", "generation", gen)
		return
	}
	e.debounceTask = nil
	e.trace(TraceEvent{Kind: TraceDebounce})
	e.requestSave(nil)
}

// requestSave starts a save, or marks one to follow the save in flight so
// at most one request is outstanding.
func (e *Engine) requestSave(waiter chan result) {
	if waiter != nil {
		e.nextWaiters = append(e.nextWaiters, waiter)
	}
	if e.saving {
		e.saveAgain = true
		return
	}
	e.beginSave()
}

func (e *Engine) beginSave() {
	elements := e.store.Elements()
	waiters := e.nextWaiters
	e.nextWaiters = nil
	e.saving = true
	e.saveAgain = false

	e.trace(TraceEvent{Kind: TraceSave, IDs: canvas.IDs(elements)})
	slog.Debug("saving canvas", "elements", len(elements))

	ctx := e.runCtx
	e.exec(func() {
		err := e.persist.Save(ctx, elements)
		res := &saveResult{elements: elements, err: err, waiters: waiters}
		if !e.queue.Enqueue(Event{Type: EventTypeSaveDone, Save: res}) {
			replyAll(waiters, result{err: errStopped()})
		}
	})
}

func (e *Engine) handleSaveDone(res *saveResult) {
	e.saving = false

	if res.err != nil {
		slog.Warn("canvas save failed", "error", res.err, "elements", len(res.elements))
		e.trace(TraceEvent{Kind: TraceSaveFailed, IDs: canvas.IDs(res.elements), Err: res.err})
		replyAll(res.waiters, result{err: newSaveError(res.err)})
	} else {
		e.lastSaved = e.sched.Now()
		slog.Info("canvas saved", "elements", len(res.elements))
		e.trace(TraceEvent{Kind: TraceSaved, IDs: canvas.IDs(res.elements)})
		if e.partnerPresent {
			e.broadcast(res.elements)
		}
		replyAll(res.waiters, result{})
	}

	if e.saveAgain {
		e.beginSave()
	}
}

// broadcast sends the saved snapshot to the partner, over the realtime
// channel when connected and through the HTTP relay otherwise. Failures
// are logged and never undo the save.
func (e *Engine) broadcast(elements []canvas.Element) {
	ids := canvas.IDs(elements)
	if e.transport != nil && e.transport.Status().State == realtime.StateConnected {
		e.transport.Send(protocol.CanvasUpdate(e.userID, elements))
		e.trace(TraceEvent{Kind: TraceBroadcast, Op: "realtime", IDs: ids})
		return
	}

	e.trace(TraceEvent{Kind: TraceBroadcast, Op: "http", IDs: ids})
	ctx := e.runCtx
	e.exec(func() {
		if err := e.persist.Broadcast(ctx, elements); err != nil {
			slog.Warn("canvas broadcast failed", "error", err)
		}
	})
}

// startLoad requests the stored snapshot. Concurrent requests share one
// load.
func (e *Engine) startLoad(waiter chan result) {
	if waiter != nil {
		e.loadWaiters = append(e.loadWaiters, waiter)
	}
	if e.loading {
		return
	}
	e.loading = true
	e.trace(TraceEvent{Kind: TraceLoad})

	ctx := e.runCtx
	e.exec(func() {
		snap, err := e.persist.Load(ctx)
		e.queue.Enqueue(Event{Type: EventTypeLoadDone, Load: &loadResult{snapshot: snap, err: err}})
	})
}

func (e *Engine) handleLoadDone(res *loadResult) {
	e.loading = false
	waiters := e.loadWaiters
	e.loadWaiters = nil

	if res.err != nil {
		slog.Error("canvas load failed", "error", res.err)
		e.trace(TraceEvent{Kind: TraceLoadFailed, Err: res.err})
		replyAll(waiters, result{err: newLoadError(res.err)})
	} else {
		if dropped := e.store.ReplaceAll(res.snapshot.Elements); dropped > 0 {
			slog.Warn("loaded snapshot contained unusable elements", "dropped", dropped)
		}
		if res.snapshot.Partner != nil {
			e.partner = res.snapshot.Partner
		}
		slog.Info("canvas loaded", "elements", e.store.Len())
		e.trace(TraceEvent{Kind: TraceLoaded, IDs: canvas.IDs(e.store.Elements())})
		e.notifyChange()
		replyAll(waiters, result{elements: e.store.Elements()})
	}

	if !e.loaded {
		e.finishInitialLoad()
	}
}

// finishInitialLoad opens the session to local edits. A remote snapshot
// received during the load is newer than the loaded one and is applied
// first; parked mutations follow in submission order.
func (e *Engine) finishInitialLoad() {
	e.loaded = true
	e.markReady()

	if env := e.pendingRemote; env != nil {
		e.pendingRemote = nil
		e.applyRemote(*env)
	}

	parked := e.parked
	e.parked = nil
	for _, cmd := range parked {
		e.apply(cmd)
	}
}

func (e *Engine) markReady() {
	select {
	case <-e.ready:
	default:
		close(e.ready)
	}
}

func (e *Engine) handleRemote(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCanvasUpdate:
		if env.UserID != "" && env.UserID == e.userID {
			slog.Debug("echo of own broadcast dropped", "elements", len(env.Elements))
			e.trace(TraceEvent{Kind: TraceEchoDropped, IDs: canvas.IDs(env.Elements)})
			return
		}
		if env.Elements == nil {
			slog.Warn("canvas_update without elements ignored", "author", env.UserID)
			return
		}
		if !e.loaded {
			e.pendingRemote = &env
			slog.Debug("remote snapshot held until initial load completes", "author", env.UserID)
			return
		}
		e.applyRemote(env)

	// Presence only changes on hub events. A local transport drop says
	// nothing about the partner's own connection.
	case protocol.TypePartnerConnected:
		e.partnerPresent = true
		if env.Partner != nil {
			e.partner = env.Partner
		}
		slog.Info("partner connected", "partner_id", partnerID(e.partner))
		e.trace(TraceEvent{Kind: TracePresence, Op: "connected"})
		if e.onPresent != nil {
			e.onPresent(true, e.partner)
		}

	case protocol.TypePartnerDisconnected:
		e.partnerPresent = false
		slog.Info("partner disconnected", "partner_id", partnerID(e.partner))
		e.trace(TraceEvent{Kind: TracePresence, Op: "disconnected"})
		if e.onPresent != nil {
			e.onPresent(false, e.partner)
		}

	default:
		slog.Warn("unknown realtime event ignored", "type", string(env.Type))
	}
}

// applyRemote replaces the store with the remote snapshot (last write
// wins). It does not schedule a save; a pending local debounce stays.
func (e *Engine) applyRemote(env protocol.Envelope) {
	if dropped := e.store.ReplaceAll(env.Elements); dropped > 0 {
		slog.Warn("remote snapshot contained unusable elements", "dropped", dropped, "author", env.UserID)
	}
	slog.Info("remote snapshot applied", "author", env.UserID, "elements", e.store.Len())
	e.trace(TraceEvent{Kind: TraceRemoteApplied, Op: env.UserID, IDs: canvas.IDs(e.store.Elements())})
	e.notifyChange()
}

func (e *Engine) notifyChange() {
	if e.onChange != nil {
		e.onChange(e.store.Elements())
	}
}

func (e *Engine) status() Status {
	st := Status{
		Loaded:           e.loaded,
		Saving:           e.saving,
		PendingSave:      e.debounceTask != nil,
		LastSaved:        e.lastSaved,
		PartnerConnected: e.partnerPresent,
		Elements:         e.store.Len(),
	}
	if e.partner != nil {
		p := *e.partner
		st.Partner = &p
	}
	if e.transport != nil {
		st.Transport = e.transport.Status()
	}
	return st
}

func partnerID(p *canvas.Partner) string {
	if p == nil {
		return ""
	}
	return p.ID
}
