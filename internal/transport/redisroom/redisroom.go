// Package redisroom is a transport over a Redis pub/sub channel per room.
//
// Every member publishes to and subscribes on the same channel, so a
// broadcast reaches the whole room and directed frames are filtered by the
// receiver. Presence is carried in-band: hello on start and on every
// heartbeat, bye on close. A member that misses MissedHeartbeats in a row
// is reported as gone.
package redisroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

const (
	// ChannelPrefix namespaces room channels.
	ChannelPrefix = "shoplist:room:"

	// DefaultHeartbeat is how often a member re-announces itself.
	DefaultHeartbeat = 10 * time.Second

	// MissedHeartbeats is how many heartbeats a peer may miss before it is
	// considered gone.
	MissedHeartbeats = 3
)

// Channel returns the pub/sub channel of roomID.
func Channel(roomID string) string {
	return ChannelPrefix + roomID
}

// Option configures a Transport.
type Option func(*Transport)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.heartbeat = d
		}
	}
}

// Transport is a room member on a Redis pub/sub channel.
//
// Thread-safety: all methods are safe for concurrent use. Handlers run on
// the receive goroutine.
type Transport struct {
	client    *redis.Client
	self      string
	channel   string
	heartbeat time.Duration
	peers     *transport.PeerSet

	mu       sync.Mutex
	handlers transport.Handlers
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	closed   bool
}

// New creates a member self of roomID. The client is owned by the caller.
func New(client *redis.Client, self, roomID string, opts ...Option) *Transport {
	t := &Transport{
		client:    client,
		self:      self,
		channel:   Channel(roomID),
		heartbeat: DefaultHeartbeat,
		peers:     transport.NewPeerSet(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to the Redis server at url ("redis://host:port/db").
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Self returns this member's id.
func (t *Transport) Self() string { return t.self }

// Peers returns the members currently heard from.
func (t *Transport) Peers() []string { return t.peers.List() }

// Subscribe installs the inbound handlers.
func (t *Transport) Subscribe(h transport.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Start subscribes to the room channel and announces this member.
// The receive loop stops when ctx is cancelled or Close is called.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return fmt.Errorf("start %s: already started", t.channel)
	}

	pubsub := t.client.Subscribe(ctx, t.channel)
	// Wait for the subscription to be confirmed so the hello below cannot
	// race our own subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		t.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.pubsub = pubsub
	t.cancel = cancel
	t.done = make(chan struct{})
	t.started = true
	t.mu.Unlock()

	go t.loop(loopCtx, pubsub.Channel())

	slog.Info("joined room", "channel", t.channel, "self", t.self)
	return t.publish(ctx, transport.NewPresenceMessage(transport.KindHello, t.self))
}

// Close announces departure and stops the receive loop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	wasStarted := t.started
	t.mu.Unlock()

	if wasStarted {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := t.publish(ctx, transport.NewPresenceMessage(transport.KindBye, t.self)); err != nil {
			slog.Debug("bye not delivered", "channel", t.channel, "error", err)
		}
		cancel()
	}

	t.mu.Lock()
	t.closed = true
	pubsub, stop, done := t.pubsub, t.cancel, t.done
	t.mu.Unlock()

	if !wasStarted {
		return nil
	}
	stop()
	err := pubsub.Close()
	<-done
	return err
}

// BroadcastOp publishes an op frame.
func (t *Transport) BroadcastOp(ctx context.Context, env ir.Envelope, to string) error {
	return t.publish(ctx, transport.NewOpMessage(t.self, to, env))
}

// BroadcastState publishes a snapshot frame.
func (t *Transport) BroadcastState(ctx context.Context, doc ir.Doc, to string) error {
	return t.publish(ctx, transport.NewStateMessage(t.self, to, doc))
}

func (t *Transport) publish(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	live := t.started && !t.closed
	t.mu.Unlock()
	if !live {
		return transport.ErrClosed
	}

	data, err := transport.Encode(msg)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

func (t *Transport) loop(ctx context.Context, ch <-chan *redis.Message) {
	defer close(t.done)

	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case m, ok := <-ch:
			if !ok {
				return
			}
			t.receive(ctx, []byte(m.Payload))

		case now := <-ticker.C:
			if err := t.publish(ctx, transport.NewPresenceMessage(transport.KindHello, t.self)); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("heartbeat failed", "channel", t.channel, "error", err)
			}
			cutoff := now.Add(-time.Duration(MissedHeartbeats) * t.heartbeat)
			for _, peer := range t.peers.Expire(cutoff) {
				slog.Info("peer expired", "channel", t.channel, "peer", peer)
				t.notifyLeave(peer)
			}
		}
	}
}

func (t *Transport) receive(ctx context.Context, data []byte) {
	msg, err := transport.Decode(data)
	if err != nil {
		slog.Debug("dropping undecodable frame", "channel", t.channel, "error", err)
		return
	}
	if msg.From == t.self {
		return
	}

	if msg.Kind == transport.KindBye {
		if t.peers.Remove(msg.From) {
			t.notifyLeave(msg.From)
		}
		return
	}

	// Any frame proves the sender is alive, even one addressed elsewhere.
	if t.peers.Touch(msg.From, time.Now()) {
		if msg.Kind == transport.KindHello && msg.To == "" {
			// Answer a newcomer directly so it learns about us now rather
			// than on our next heartbeat.
			reply := transport.NewPresenceMessage(transport.KindHello, t.self)
			reply.To = msg.From
			if err := t.publish(ctx, reply); err != nil {
				slog.Debug("hello reply failed", "channel", t.channel, "peer", msg.From, "error", err)
			}
		}
		t.notifyJoin(msg.From)
	}

	if !transport.Addressed(msg, t.self) {
		return
	}
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	transport.Dispatch(h, msg)
}

func (t *Transport) notifyJoin(peer string) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnPeerJoin != nil {
		h.OnPeerJoin(peer)
	}
}

func (t *Transport) notifyLeave(peer string) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnPeerLeave != nil {
		h.OnPeerLeave(peer)
	}
}
