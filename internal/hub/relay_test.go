package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
	"github.com/roach88/canvassync/internal/store"
)

// redisAddr returns the Redis address for relay tests, skipping when
// CANVASSYNC_REDIS_ADDR is unset.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("CANVASSYNC_REDIS_ADDR")
	if addr == "" {
		t.Skip("CANVASSYNC_REDIS_ADDR not set")
	}
	return addr
}

// waitRoom returns the next message for room, skipping traffic from other
// rooms on the shared server.
func waitRoom(t *testing.T, ch <-chan Message, room string) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Room == room {
				return m
			}
		case <-deadline:
			t.Fatalf("no message for room %s", room)
		}
	}
}

func TestNewRedisRelay_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisRelay(ctx, "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not connect to redis")
}

func TestRedisRelay_PublishReachesEverySubscriber(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	var chans []chan Message
	for i := 0; i < 2; i++ {
		r, err := NewRedisRelay(ctx, addr)
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })

		ch := make(chan Message, 16)
		require.NoError(t, r.Subscribe(ctx, func(m Message) { ch <- m }))
		chans = append(chans, ch)
	}

	publisher, err := NewRedisRelay(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { publisher.Close() })

	room := "relay-" + uuid.NewString()
	payload := json.RawMessage(`{"type":"canvas_update","elements":[]}`)
	require.NoError(t, publisher.Publish(ctx, Message{Room: room, Except: "alice", Payload: payload}))

	for _, ch := range chans {
		m := waitRoom(t, ch, room)
		assert.Equal(t, "alice", m.Except)
		assert.JSONEq(t, string(payload), string(m.Payload))
	}
}

func TestHub_FanOutAcrossInstancesViaRedis(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	room := "c-" + uuid.NewString()
	users := []User{
		{Token: "tok-a", UserID: "alice", Name: "Alice", CanvasID: room},
		{Token: "tok-b", UserID: "bob", Name: "Bob", CanvasID: room},
	}

	repo, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	start := func() (*Hub, *httptest.Server) {
		relay, err := NewRedisRelay(ctx, addr)
		require.NoError(t, err)
		h, err := New(repo, users, WithRelay(relay))
		require.NoError(t, err)
		require.NoError(t, h.Start(ctx))
		srv := httptest.NewServer(h.Handler())
		t.Cleanup(func() {
			h.Close()
			srv.Close()
		})
		return h, srv
	}
	dial := func(srv *httptest.Server, token string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	// next skips envelopes of other types.
	next := func(conn *websocket.Conn, typ protocol.Type) protocol.Envelope {
		for {
			env := readEnvelope(t, conn)
			if env.Type == typ {
				return env
			}
		}
	}

	hubA, srvA := start()
	_, srvB := start()

	alice := dial(srvA, "tok-a")
	require.Eventually(t, func() bool { return hubA.Connected(room) == 1 }, 2*time.Second, 5*time.Millisecond)
	bob := dial(srvB, "tok-b")

	joined := next(alice, protocol.TypePartnerConnected)
	assert.Equal(t, "bob", joined.UserID)

	payload, err := protocol.Encode(protocol.CanvasUpdate("bob", []canvas.Element{stroke("s1")}))
	require.NoError(t, err)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, payload))

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := next(conn, protocol.TypeCanvasUpdate)
		assert.Equal(t, "bob", env.UserID)
		assert.Equal(t, []string{"s1"}, canvas.IDs(env.Elements))
	}
}
