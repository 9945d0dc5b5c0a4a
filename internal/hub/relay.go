package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload bound for a room.
type Message struct {
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"` // user id to skip
	Payload json.RawMessage `json:"payload"`
}

// Relay carries messages between hub instances.
type Relay interface {
	// Subscribe registers the delivery callback. It is called once,
	// before any Publish.
	Subscribe(ctx context.Context, deliver func(Message)) error
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LocalRelay delivers in-process, synchronously.
type LocalRelay struct {
	mu      sync.RWMutex
	deliver func(Message)
}

// NewLocalRelay creates a relay for a single hub instance.
func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

// Subscribe sets the delivery callback, replacing any earlier one.
func (r *LocalRelay) Subscribe(_ context.Context, deliver func(Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliver = deliver
	return nil
}

// Publish delivers msg on the caller's goroutine. It fails until
// Subscribe has been called.
func (r *LocalRelay) Publish(_ context.Context, msg Message) error {
	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()
	if deliver == nil {
		return fmt.Errorf("relay not subscribed")
	}
	deliver(msg)
	return nil
}

// Close is a no-op.
func (r *LocalRelay) Close() error { return nil }

// roomChannelPrefix namespaces per-room Redis channels.
const roomChannelPrefix = "canvassync:room:"

// RedisRelay fans messages out through Redis pub/sub, one channel per
// room. Every instance, the publisher included, receives each message
// from Redis.
type RedisRelay struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisRelay connects to addr and checks it is reachable.
func NewRedisRelay(ctx context.Context, addr string) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &RedisRelay{rdb: rdb, done: make(chan struct{})}, nil
}

// Subscribe listens on every room channel and hands each decoded message
// to deliver on a single goroutine, in arrival order. It returns once
// Redis has confirmed the subscription.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(Message)) error {
	pubsub := r.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe to rooms: %w", err)
	}
	r.pubsub = pubsub

	go func() {
		defer close(r.done)
		for msg := range pubsub.Channel() {
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				slog.Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
				continue
			}
			if m.Room == "" {
				m.Room = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			deliver(m)
		}
	}()
	return nil
}

// Publish sends msg to its room's channel. Delivery, including back to
// this instance, happens through the subscription.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, roomChannelPrefix+msg.Room, data).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", msg.Room, err)
	}
	return nil
}

// Close ends the subscription, waits for the delivery goroutine to finish
// and closes the client.
func (r *RedisRelay) Close() error {
	if r.pubsub != nil {
		r.pubsub.Close()
		<-r.done
	}
	return r.rdb.Close()
}
