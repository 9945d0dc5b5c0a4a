package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/schedule"
)

// Defaults for the reconnect policy.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	sendBufferSize = 64
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of the connection state.
type Status struct {
	State State
	// Attempt is the reconnect attempt number while Reconnecting.
	Attempt int
	// Exhausted is set once every reconnect attempt has failed. The
	// transport stays Disconnected until Connect is called again.
	Exhausted bool
}

func (s Status) String() string {
	switch {
	case s.State == StateReconnecting:
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	case s.Exhausted:
		return "disconnected(exhausted)"
	default:
		return s.State.String()
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithBaseDelay sets the linear backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(t *Transport) {
		t.baseDelay = d
	}
}

// WithMaxAttempts caps the number of reconnect attempts.
func WithMaxAttempts(n int) Option {
	return func(t *Transport) {
		t.maxAttempts = n
	}
}

// WithScheduler replaces the wall-clock scheduler used for retry timers.
func WithScheduler(s schedule.Scheduler) Option {
	return func(t *Transport) {
		t.sched = s
	}
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

// WithStateHandler registers a callback invoked after every state change.
// It runs outside the transport lock and may call Status.
func WithStateHandler(fn func(Status)) Option {
	return func(t *Transport) {
		t.onState = fn
	}
}

// Transport is a reconnecting websocket channel carrying protocol envelopes.
//
// Thread-safety: all methods are safe for concurrent use.
type Transport struct {
	url         string
	dialer      Dialer
	sched       schedule.Scheduler
	baseDelay   time.Duration
	maxAttempts int
	onState     func(Status)

	mu        sync.Mutex
	status    Status
	token     string
	onMessage func(protocol.Envelope)
	link      *link
	policy    backoff.BackOff
	retry     schedule.Task
	ctx       context.Context
	cancel    context.CancelFunc

	// epoch changes on every Connect and Disconnect. Goroutines started
	// under an older epoch discard their results.
	epoch uint64
}

// link is one live connection. Its writer goroutine owns every write and
// closes the connection once done is closed.
type link struct {
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newLink(conn Conn) *link {
	return &link{conn: conn, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

// New creates a Transport for the websocket endpoint wsURL.
// The token is appended per connection by Connect.
func New(wsURL string, opts ...Option) *Transport {
	t := &Transport{
		url:         wsURL,
		dialer:      WebSocketDialer{},
		sched:       schedule.System{},
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.policy = newReconnectPolicy(t.baseDelay, t.maxAttempts)
	return t
}

// Connect opens the channel with the given credential. Inbound envelopes
// are delivered to onMessage on the read goroutine.
//
// Connect is a no-op while a connection is active or being established.
// Returns an error only for invalid arguments; connection failures are
// handled by the reconnect policy and surface through Status.
func (t *Transport) Connect(token string, onMessage func(protocol.Envelope)) error {
	if onMessage == nil {
		return errors.New("connect: onMessage is required")
	}

	t.mu.Lock()
	if t.status.State != StateDisconnected {
		state := t.status
		t.mu.Unlock()
		slog.Debug("realtime connect ignored, already active", "status", state.String())
		return nil
	}
	dialURL, err := withToken(t.url, token)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.epoch++
	epoch := t.epoch
	t.token = token
	t.onMessage = onMessage
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.policy.Reset()
	notify := t.transitionLocked(Status{State: StateConnecting})
	t.mu.Unlock()

	notify()
	go t.dial(epoch, dialURL)
	return nil
}

// Send queues env for the writer goroutine if Connected. Otherwise, or
// when the send buffer is full, the event is dropped. Send never blocks on
// the network. A write failure tears the connection down and starts
// reconnecting.
func (t *Transport) Send(env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		slog.Error("realtime send encode failed", "type", env.Type, "error", err)
		return
	}

	t.mu.Lock()
	l := t.link
	if t.status.State != StateConnected || l == nil {
		state := t.status
		t.mu.Unlock()
		slog.Debug("realtime send dropped, not connected", "type", env.Type, "status", state.String())
		return
	}
	select {
	case l.send <- data:
		t.mu.Unlock()
	default:
		t.mu.Unlock()
		slog.Warn("realtime send dropped, buffer full", "type", env.Type, "buffered", sendBufferSize)
	}
}

// Disconnect closes the channel and cancels any pending retry. It does not
// wait for the connection to close. Idempotent.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.epoch++
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.link != nil {
		t.link.stop()
		t.link = nil
	}
	notify := func() {}
	if t.status.State != StateDisconnected {
		notify = t.transitionLocked(Status{State: StateDisconnected})
	}
	t.mu.Unlock()

	notify()
}

// Status returns the current connection state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) dial(epoch uint64, dialURL string) {
	t.mu.Lock()
	ctx := t.ctx
	attempt := t.status.Attempt
	t.mu.Unlock()

	slog.Debug("realtime dialing", "url", t.url, "attempt", attempt)
	conn, err := t.dialer.Dial(ctx, dialURL)

	t.mu.Lock()
	if epoch != t.epoch {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		notify := t.failLocked(&TransportError{Op: "dial", Attempt: attempt, Err: err})
		t.mu.Unlock()
		notify()
		return
	}

	l := newLink(conn)
	t.link = l
	t.policy.Reset()
	handler := t.onMessage
	notify := t.transitionLocked(Status{State: StateConnected})
	t.mu.Unlock()

	slog.Info("realtime connected", "url", t.url)
	notify()
	go t.writeLoop(epoch, l)
	go t.readLoop(epoch, l, handler)
}

func (t *Transport) readLoop(epoch uint64, l *link, handler func(protocol.Envelope)) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			t.linkFailed(epoch, l, &TransportError{Op: "read", Err: err})
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("realtime message dropped", "error", err)
			continue
		}
		handler(env)
	}
}

// writeLoop drains l.send. Every write carries a deadline so a peer that
// stops reading fails the link instead of stalling it.
func (t *Transport) writeLoop(epoch uint64, l *link) {
	defer func() {
		_ = l.conn.SetWriteDeadline(time.Now().Add(closeWait))
		_ = l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = l.conn.Close()
	}()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.linkFailed(epoch, l, &TransportError{Op: "send", Err: err})
				return
			}
		}
	}
}

// linkFailed retires l and enters the reconnect state machine, unless l was
// already replaced or closed by Disconnect.
func (t *Transport) linkFailed(epoch uint64, l *link, cause error) {
	l.stop()

	t.mu.Lock()
	if epoch != t.epoch || t.link != l {
		t.mu.Unlock()
		return
	}
	t.link = nil
	notify := t.failLocked(cause)
	t.mu.Unlock()
	notify()
}

// failLocked advances the reconnect state machine after a failure.
// Caller holds t.mu; the returned func must be called after unlocking.
func (t *Transport) failLocked(cause error) func() {
	delay := t.policy.NextBackOff()
	if delay == backoff.Stop {
		slog.Error("realtime reconnect attempts exhausted",
			"max_attempts", t.maxAttempts, "error", cause)
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		return t.transitionLocked(Status{State: StateDisconnected, Exhausted: true})
	}

	attempt := t.status.Attempt + 1
	epoch := t.epoch
	slog.Warn("realtime connection failed, reconnect scheduled",
		"error", cause, "attempt", attempt, "delay", delay)
	t.retry = t.sched.AfterFunc(delay, func() {
		t.redial(epoch)
	})
	return t.transitionLocked(Status{State: StateReconnecting, Attempt: attempt})
}

func (t *Transport) redial(epoch uint64) {
	t.mu.Lock()
	if epoch != t.epoch || t.status.State != StateReconnecting {
		t.mu.Unlock()
		return
	}
	t.retry = nil
	dialURL, err := withToken(t.url, t.token)
	t.mu.Unlock()
	if err != nil {
		slog.Error("realtime redial url invalid", "error", err)
		return
	}
	go t.dial(epoch, dialURL)
}

func (t *Transport) transitionLocked(next Status) func() {
	prev := t.status
	t.status = next
	handler := t.onState
	return func() {
		slog.Debug("realtime state", "from", prev.String(), "to", next.String())
		if handler != nil {
			handler(next)
		}
	}
}
