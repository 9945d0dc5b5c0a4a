// Package fakes provides in-memory collaborators for the sync engine:
// storage, realtime channel and a synchronous I/O executor.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/realtime"
)

// Injected failures returned by the fakes.
var (
	ErrInjectedLoad = errors.New("injected load failure")
	ErrInjectedSave = errors.New("injected save failure")
)

// RunInline is a synchronous I/O executor: the task runs on the caller's
// goroutine, so its result event is queued before the caller continues.
func RunInline(task func()) {
	task()
}

// FakePersistence is an in-memory storage collaborator.
// Safe for concurrent use.
type FakePersistence struct {
	mu           sync.Mutex
	snapshot     canvas.Snapshot
	loads        int
	saveAttempts int
	saves        [][]canvas.Element
	broadcasts   [][]canvas.Element
	failLoads    int
	failSaves    int
	gate         chan struct{}
	saveGate     chan struct{}
}

// NewFakePersistence creates a store whose Load returns initial.
func NewFakePersistence(initial ...canvas.Element) *FakePersistence {
	return &FakePersistence{snapshot: canvas.Snapshot{Elements: canvas.CloneAll(initial)}}
}

// Gate makes Load block until the returned func is called.
func (f *FakePersistence) Gate() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// GateSaves makes Save block until the returned func is called. The
// attempt is counted before blocking.
func (f *FakePersistence) GateSaves() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.saveGate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetStored replaces what the next Load returns.
func (f *FakePersistence) SetStored(snap canvas.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap.Elements = canvas.CloneAll(snap.Elements)
	f.snapshot = snap
}

// FailNextLoads makes the next n loads fail.
func (f *FakePersistence) FailNextLoads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLoads = n
}

// FailNextSaves makes the next n saves fail.
func (f *FakePersistence) FailNextSaves(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves = n
}

func (f *FakePersistence) Load(ctx context.Context) (canvas.Snapshot, error) {
	f.mu.Lock()
	f.loads++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return canvas.Snapshot{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoads > 0 {
		f.failLoads--
		return canvas.Snapshot{}, ErrInjectedLoad
	}
	snap := f.snapshot
	snap.Elements = canvas.CloneAll(f.snapshot.Elements)
	if snap.Elements == nil {
		snap.Elements = []canvas.Element{}
	}
	return snap, nil
}

func (f *FakePersistence) Save(ctx context.Context, elements []canvas.Element) error {
	f.mu.Lock()
	f.saveAttempts++
	gate := f.saveGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves > 0 {
		f.failSaves--
		return ErrInjectedSave
	}
	f.saves = append(f.saves, canvas.CloneAll(elements))
	f.snapshot = canvas.Snapshot{Elements: canvas.CloneAll(elements)}
	return nil
}

func (f *FakePersistence) Broadcast(_ context.Context, elements []canvas.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, canvas.CloneAll(elements))
	return nil
}

// Loads returns how many loads were requested.
func (f *FakePersistence) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// SaveAttempts counts saves including failed ones.
func (f *FakePersistence) SaveAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveAttempts
}

// Saves returns the element lists of successful saves, oldest first.
func (f *FakePersistence) Saves() [][]canvas.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]canvas.Element(nil), f.saves...)
}

// Broadcasts returns the element lists sent through the HTTP relay.
func (f *FakePersistence) Broadcasts() [][]canvas.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]canvas.Element(nil), f.broadcasts...)
}

// FakeTransport is an in-memory realtime channel.
// Safe for concurrent use.
type FakeTransport struct {
	mu          sync.Mutex
	online      bool
	status      realtime.Status
	token       string
	onMessage   func(protocol.Envelope)
	sent        []protocol.Envelope
	connects    int
	disconnects int
}

// NewFakeTransport creates a transport that reaches Connected on Connect
// when online, and Reconnecting(1) otherwise.
func NewFakeTransport(online bool) *FakeTransport {
	return &FakeTransport{online: online}
}

func (f *FakeTransport) Connect(token string, onMessage func(protocol.Envelope)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.token = token
	f.onMessage = onMessage
	if f.online {
		f.status = realtime.Status{State: realtime.StateConnected}
	} else {
		f.status = realtime.Status{State: realtime.StateReconnecting, Attempt: 1}
	}
	return nil
}

func (f *FakeTransport) Send(env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.State != realtime.StateConnected {
		return
	}
	f.sent = append(f.sent, env)
}

func (f *FakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.status = realtime.Status{State: realtime.StateDisconnected}
}

func (f *FakeTransport) Status() realtime.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// SetStatus forces the connection state.
func (f *FakeTransport) SetStatus(s realtime.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

// Deliver hands env to the registered onMessage callback, as the read
// goroutine would. Returns false if Connect has not been called.
func (f *FakeTransport) Deliver(env protocol.Envelope) bool {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(env)
	return true
}

// Token returns the credential passed to Connect.
func (f *FakeTransport) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// Sent returns the envelopes written while Connected.
func (f *FakeTransport) Sent() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.sent...)
}

// Connects counts Connect calls.
func (f *FakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects counts Disconnect calls.
func (f *FakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}
