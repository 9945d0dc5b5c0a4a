package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/store"
)

// MaxUploadBytes caps one image upload.
const MaxUploadBytes = 10 << 20

// Hub serves canvases to authenticated sessions.
type Hub struct {
	repo       store.Repository
	dir        *Directory
	relay      Relay
	uploadsDir string
	now        func() time.Time

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithRelay replaces the in-process relay.
func WithRelay(r Relay) Option {
	return func(h *Hub) {
		h.relay = r
	}
}

// WithUploadsDir sets where uploaded images are written. Uploads are
// rejected when unset.
func WithUploadsDir(dir string) Option {
	return func(h *Hub) {
		h.uploadsDir = dir
	}
}

// WithClock overrides the save timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// New creates a hub over repo for the given users.
func New(repo store.Repository, users []User, opts ...Option) (*Hub, error) {
	dir, err := NewDirectory(users)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		repo:  repo,
		dir:   dir,
		relay: NewLocalRelay(),
		now:   time.Now,
		rooms: make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Start subscribes to the relay. Call once before serving.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.relay.Subscribe(ctx, h.deliver); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	return nil
}

// Close disconnects every client and closes the relay.
func (h *Hub) Close() error {
	h.mu.Lock()
	for _, room := range h.rooms {
		for c := range room {
			c.conn.Close()
		}
	}
	h.mu.Unlock()
	return h.relay.Close()
}

// Handler returns the routed HTTP handler.
func (h *Hub) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.Methods(http.MethodGet).Path("/images/{name}").HandlerFunc(h.getImage)
	api.Methods(http.MethodGet).Path("/ws").HandlerFunc(h.serveWS)

	authed := api.NewRoute().Subrouter()
	authed.Use(h.requireAuth)
	authed.Methods(http.MethodGet).Path("/canvas").HandlerFunc(h.getCanvas)
	authed.Methods(http.MethodPost).Path("/canvas/save").HandlerFunc(h.saveCanvas)
	authed.Methods(http.MethodPost).Path("/canvas/broadcast").HandlerFunc(h.broadcastCanvas)
	authed.Methods(http.MethodGet).Path("/canvas/history").HandlerFunc(h.getHistory)
	authed.Methods(http.MethodPost).Path("/upload/image").HandlerFunc(h.uploadImage)
	return r
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "path", request.URL.Path, "duration", m.Duration, "status", m.Code)
	})
}

// publish sends env to every connection in room except those of except.
func (h *Hub) publish(ctx context.Context, room, except string, env protocol.Envelope) error {
	payload, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return h.relay.Publish(ctx, Message{Room: room, Except: except, Payload: payload})
}

// deliver is the relay callback. Slow clients whose buffer is full are
// disconnected.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[msg.Room] {
		if msg.Except != "" && c.user.UserID == msg.Except {
			continue
		}
		select {
		case c.send <- msg.Payload:
		default:
			slog.Warn("client send buffer full, disconnecting", "user_id", c.user.UserID, "room", msg.Room)
			h.removeLocked(c)
		}
	}
}

// join adds c to its room and returns the other users already present.
// first reports whether c is the user's only connection.
func (h *Hub) join(c *client) (present []User, first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[c.room()]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[c.room()] = room
	}
	first = true
	seen := make(map[string]bool)
	for other := range room {
		if other.user.UserID == c.user.UserID {
			first = false
			continue
		}
		if !seen[other.user.UserID] {
			seen[other.user.UserID] = true
			present = append(present, other.user)
		}
	}
	room[c] = struct{}{}
	slog.Info("client joined", "user_id", c.user.UserID, "room", c.room(), "clients", len(room))
	return present, first
}

// leave removes c and reports whether the user has no connections left.
func (h *Hub) leave(c *client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c)
	for other := range h.rooms[c.room()] {
		if other.user.UserID == c.user.UserID {
			return false
		}
	}
	return true
}

func (h *Hub) removeLocked(c *client) {
	room := h.rooms[c.room()]
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.room())
	}
	slog.Info("client left", "user_id", c.user.UserID, "room", c.room(), "clients", len(room))
}

// Connected returns how many websocket clients are in room.
func (h *Hub) Connected(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
