// Package memory is an in-process transport hub.
//
// Every frame is round-tripped through the JSON wire encoding so receivers
// never share maps with the sender. Delivery is synchronous: a send returns
// after every recipient's handler has run. Replica handlers only enqueue, so
// this never re-enters the sender's document.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

// Filter decides whether a frame from one member reaches another.
// Returning false drops it.
type Filter func(from, to string, msg transport.Message) bool

// Hub connects the members of one room.
//
// Thread-safety: Hub is safe for concurrent use via internal mutex.
type Hub struct {
	mu        sync.Mutex
	members   map[string]*Transport
	filter    Filter
	duplicate bool
	sent      int
}

// NewHub creates an empty room.
func NewHub() *Hub {
	return &Hub{members: make(map[string]*Transport)}
}

// SetFilter installs a delivery filter (nil delivers everything).
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
}

// SetDuplicate makes the hub deliver every frame twice.
func (h *Hub) SetDuplicate(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.duplicate = on
}

// Sent returns the number of frames delivered so far.
func (h *Hub) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

// Members returns the ids of started members in sorted order.
func (h *Hub) Members() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.members))
	for id := range h.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Join creates a transport for id. It joins the room on Start.
func (h *Hub) Join(id string) *Transport {
	return &Transport{hub: h, id: id}
}

func (h *Hub) add(t *Transport) ([]*Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.members[t.id]; dup {
		return nil, fmt.Errorf("member %q already in room", t.id)
	}
	existing := h.sortedLocked()
	h.members[t.id] = t
	return existing, nil
}

func (h *Hub) remove(t *Transport) []*Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.members[t.id] != t {
		return nil
	}
	delete(h.members, t.id)
	return h.sortedLocked()
}

func (h *Hub) sortedLocked() []*Transport {
	out := make([]*Transport, 0, len(h.members))
	for _, m := range h.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// route returns the recipients of msg and how many copies each gets.
func (h *Hub) route(msg transport.Message) ([]*Transport, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	copies := 1
	if h.duplicate {
		copies = 2
	}
	var out []*Transport
	for _, m := range h.sortedLocked() {
		if !transport.Addressed(msg, m.id) {
			continue
		}
		if h.filter != nil && !h.filter(msg.From, m.id, msg) {
			continue
		}
		out = append(out, m)
	}
	h.sent += len(out) * copies
	return out, copies
}

// Transport is one member's handle on a Hub.
type Transport struct {
	hub *Hub
	id  string

	mu       sync.Mutex
	handlers transport.Handlers
	started  bool
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

// Self returns this member's id.
func (t *Transport) Self() string { return t.id }

// Subscribe registers inbound handlers.
func (t *Transport) Subscribe(h transport.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Start joins the room. Existing members and the newcomer each see a
// peer-join for the other.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	existing, err := t.hub.add(t)
	if err != nil {
		return err
	}
	for _, m := range existing {
		m.peerJoined(t.id)
		t.peerJoined(m.id)
	}
	return nil
}

// Close leaves the room. Remaining members see a peer-leave.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	for _, m := range t.hub.remove(t) {
		m.peerLeft(t.id)
	}
	return nil
}

// BroadcastOp sends an op frame.
func (t *Transport) BroadcastOp(ctx context.Context, env ir.Envelope, to string) error {
	return t.send(ctx, transport.NewOpMessage(t.id, to, env))
}

// BroadcastState sends a snapshot frame.
func (t *Transport) BroadcastState(ctx context.Context, doc ir.Doc, to string) error {
	return t.send(ctx, transport.NewStateMessage(t.id, to, doc))
}

func (t *Transport) send(ctx context.Context, msg transport.Message) error {
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
	recipients, copies := t.hub.route(msg)
	for _, m := range recipients {
		for i := 0; i < copies; i++ {
			m.deliver(data)
		}
	}
	return nil
}

func (t *Transport) deliver(data []byte) {
	msg, err := transport.Decode(data)
	if err != nil {
		return
	}
	transport.Dispatch(t.currentHandlers(), msg)
}

func (t *Transport) peerJoined(peer string) {
	if h := t.currentHandlers(); h.OnPeerJoin != nil {
		h.OnPeerJoin(peer)
	}
}

func (t *Transport) peerLeft(peer string) {
	if h := t.currentHandlers(); h.OnPeerLeave != nil {
		h.OnPeerLeave(peer)
	}
}

func (t *Transport) currentHandlers() transport.Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}
