package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

const (
	// DefaultGateInterval is how often the dedup gate forgets seen op ids.
	DefaultGateInterval = 2 * time.Minute

	// DefaultSnapshotInterval is how often Run rebroadcasts the full document.
	DefaultSnapshotInterval = 30 * time.Second
)

// Replica owns one device's copy of a list and its link to the room.
//
// Run is a single-writer loop: transport callbacks and Submit enqueue events,
// and Run processes them one at a time (apply or merge, persist, broadcast).
// The document itself is an immutable value swapped atomically after every
// accepted change, so Doc may be read from any goroutine.
//
// The Handle* methods process one input synchronously on the caller's
// goroutine. They are meant for one-shot commands and tests; do not call
// them while Run is active.
type Replica struct {
	session   ir.Session
	doc       atomic.Pointer[ir.Doc]
	saver     DocSaver
	transport transport.Transport
	gate      *Gate
	queue     *eventQueue
	peers     *transport.PeerSet
	clock     Clock
	ids       IDGenerator

	gateInterval     time.Duration
	snapshotInterval time.Duration
	relay            bool
	onChange         func(ir.Doc)
}

// ReplicaOption allows configuration of replica parameters.
type ReplicaOption func(*Replica)

// WithClock sets the clock used to stamp local actions.
// Default: a WallClock resumed from the document watermark.
func WithClock(c Clock) ReplicaOption {
	return func(r *Replica) { r.clock = c }
}

// WithIDGenerator sets the generator for op and item ids.
// Default: UUIDGenerator.
func WithIDGenerator(g IDGenerator) ReplicaOption {
	return func(r *Replica) { r.ids = g }
}

// WithGateInterval sets how often the dedup gate is cleared.
func WithGateInterval(d time.Duration) ReplicaOption {
	return func(r *Replica) { r.gateInterval = d }
}

// WithSnapshotInterval sets the periodic snapshot broadcast interval.
// Zero disables periodic snapshots.
func WithSnapshotInterval(d time.Duration) ReplicaOption {
	return func(r *Replica) { r.snapshotInterval = d }
}

// WithRelay re-broadcasts every newly admitted inbound op to the whole room,
// for meshes where not every peer is connected to every other.
func WithRelay(enabled bool) ReplicaOption {
	return func(r *Replica) { r.relay = enabled }
}

// WithOnChange registers a callback invoked with the new document after
// every accepted change. Called from whichever goroutine applied it.
func WithOnChange(fn func(ir.Doc)) ReplicaOption {
	return func(r *Replica) { r.onChange = fn }
}

// NewReplica creates a replica for session starting from doc.
//
// saver and tr may be nil (no persistence, no network). When tr is set the
// replica subscribes to it immediately, so start the transport afterwards.
func NewReplica(session ir.Session, doc ir.Doc, saver DocSaver, tr transport.Transport, opts ...ReplicaOption) *Replica {
	r := &Replica{
		session:          session,
		saver:            saver,
		transport:        tr,
		gate:             NewGate(),
		queue:            newEventQueue(),
		peers:            transport.NewPeerSet(),
		ids:              UUIDGenerator{},
		gateInterval:     DefaultGateInterval,
		snapshotInterval: DefaultSnapshotInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = NewWallClockAt(doc.UpdatedAt)
	}
	if r.gateInterval <= 0 {
		r.gateInterval = DefaultGateInterval
	}

	initial := doc.Clone()
	r.doc.Store(&initial)

	if tr != nil {
		tr.Subscribe(r.handlers())
	}
	return r
}

// Session returns the session this replica serves.
func (r *Replica) Session() ir.Session {
	return r.session
}

// Doc returns a copy of the current document.
func (r *Replica) Doc() ir.Doc {
	return r.doc.Load().Clone()
}

// Peers returns the currently connected peers in sorted order.
func (r *Replica) Peers() []string {
	return r.peers.List()
}

// Gate exposes the dedup gate.
func (r *Replica) Gate() *Gate {
	return r.gate
}

// Actions returns an action builder stamping ops for this replica's actor.
func (r *Replica) Actions() Actions {
	return NewActions(r.clock, r.ids, r.session.ActorID)
}

// Submit enqueues a local operation for the Run loop.
// Thread-safe. Returns false once the replica has stopped.
func (r *Replica) Submit(op ir.Op) bool {
	return r.queue.Enqueue(Event{Type: EventTypeLocalOp, Op: op})
}

// Enqueue submits an arbitrary event for the Run loop.
func (r *Replica) Enqueue(ev Event) bool {
	return r.queue.Enqueue(ev)
}

func (r *Replica) handlers() transport.Handlers {
	return transport.Handlers{
		OnOp: func(from string, env ir.Envelope) {
			r.queue.Enqueue(Event{Type: EventTypeInboundOp, Peer: from, Envelope: env})
		},
		OnState: func(from string, doc ir.Doc) {
			r.queue.Enqueue(Event{Type: EventTypeInboundState, Peer: from, Doc: &doc})
		},
		OnPeerJoin: func(peer string) {
			r.queue.Enqueue(Event{Type: EventTypePeerJoin, Peer: peer})
		},
		OnPeerLeave: func(peer string) {
			r.queue.Enqueue(Event{Type: EventTypePeerLeave, Peer: peer})
		},
	}
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// Must be called from exactly one goroutine. Errors from individual events
// are logged and processing continues: a discarded message or a failed send
// is repaired by the next snapshot exchange.
func (r *Replica) Run(ctx context.Context) error {
	slog.Info("replica starting",
		"list_id", r.session.ListID,
		"actor", r.session.ActorID,
		"relay", r.relay,
	)

	gateTicker := time.NewTicker(r.gateInterval)
	defer gateTicker.Stop()

	var snapshots <-chan time.Time
	if r.snapshotInterval > 0 {
		t := time.NewTicker(r.snapshotInterval)
		defer t.Stop()
		snapshots = t.C
	}

	for {
		if ev, ok := r.queue.TryDequeue(); ok {
			if err := r.processEvent(ctx, ev); err != nil {
				logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("replica stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			if r.queue.Closed() && r.queue.Len() == 0 {
				slog.Info("replica stopping: queue closed")
				return nil
			}

		case <-gateTicker.C:
			n := r.gate.Len()
			r.gate.Clear()
			slog.Debug("dedup gate cleared", "ids", n)

		case <-snapshots:
			_ = r.BroadcastSnapshot(ctx)
		}
	}
}

// Stop closes the event queue, which makes Run return once it drains.
func (r *Replica) Stop() {
	r.queue.Close()
}

func (r *Replica) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeLocalOp:
		if ev.Op == nil {
			return fmt.Errorf("local op event missing op")
		}
		_, err := r.HandleLocalOp(ctx, ev.Op)
		return err

	case EventTypeInboundOp:
		_, err := r.HandleInboundOp(ctx, ev.Peer, ev.Envelope)
		return err

	case EventTypeInboundState:
		if ev.Doc == nil {
			return fmt.Errorf("state event missing doc")
		}
		_, err := r.HandleInboundSnapshot(ctx, ev.Peer, *ev.Doc)
		return err

	case EventTypePeerJoin:
		r.HandlePeerJoin(ctx, ev.Peer)
		return nil

	case EventTypePeerLeave:
		r.HandlePeerLeave(ev.Peer)
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// HandleLocalOp applies an operation produced on this device, persists the
// result and broadcasts the op to the room.
//
// The op id is marked seen before sending so an echo is dropped. Only a
// persistence failure is returned; send failures are logged.
func (r *Replica) HandleLocalOp(ctx context.Context, op ir.Op) (ir.Doc, error) {
	meta := op.OpMeta()
	r.gate.MarkSeen(meta.OpID)

	prev := *r.doc.Load()
	next := ApplyOp(prev, op)
	err := r.commit(ctx, prev, next)

	slog.Debug("local op applied",
		"op_id", meta.OpID,
		"kind", op.Kind(),
		"ts", meta.TS,
	)

	r.sendOp(ctx, ir.EncodeOp(op))
	return next, err
}

// HandleInboundOp processes an op envelope received from peer from.
//
// Returns false when the op was a duplicate. Undecodable envelopes return a
// RuntimeError with ErrCodeBadMessage and leave the document untouched.
func (r *Replica) HandleInboundOp(ctx context.Context, from string, env ir.Envelope) (bool, error) {
	op, err := env.Decode()
	if err != nil {
		return false, NewBadMessageError(env.OpID, from, err)
	}

	if !r.gate.Admit(env.OpID) {
		slog.Debug("duplicate op dropped", "op_id", env.OpID, "from", from)
		return false, nil
	}

	prev := *r.doc.Load()
	next := ApplyOp(prev, op)
	if err := r.commit(ctx, prev, next); err != nil {
		return true, err
	}

	slog.Debug("inbound op applied",
		"op_id", env.OpID,
		"kind", env.Type,
		"from", from,
		"changed", !next.Equal(prev),
	)

	if r.relay {
		r.sendOp(ctx, env)
	}
	return true, nil
}

// HandleInboundSnapshot merges a full document received from peer from.
//
// Snapshots of another list are never merged and return a RuntimeError with
// ErrCodeForeignList. Returns whether the local document changed.
func (r *Replica) HandleInboundSnapshot(ctx context.Context, from string, doc ir.Doc) (bool, error) {
	prev := *r.doc.Load()
	if !SameList(doc, prev) {
		return false, NewForeignListError(prev.ListID, doc.ListID, from)
	}
	if err := doc.Validate(); err != nil {
		return false, NewBadMessageError("", from, err)
	}

	next := MergeDocs(doc, prev)
	changed := !next.Equal(prev)
	if err := r.commit(ctx, prev, next); err != nil {
		return changed, err
	}

	slog.Debug("snapshot merged",
		"from", from,
		"items", len(next.Items),
		"changed", changed,
	)
	return changed, nil
}

// HandlePeerJoin records peer and bootstraps it with a directed snapshot.
func (r *Replica) HandlePeerJoin(ctx context.Context, peer string) {
	if r.peers.Touch(peer, time.Now()) {
		slog.Info("peer joined", "peer", peer, "members", r.peers.Len()+1)
	}
	if r.transport == nil {
		return
	}
	if err := r.transport.BroadcastState(ctx, r.Doc(), peer); err != nil {
		slog.Warn("bootstrap snapshot failed", "peer", peer, "error", err)
	}
}

// HandlePeerLeave forgets peer.
func (r *Replica) HandlePeerLeave(peer string) {
	if r.peers.Remove(peer) {
		slog.Info("peer left", "peer", peer, "members", r.peers.Len()+1)
	}
}

// BroadcastSnapshot sends the full document to the whole room.
func (r *Replica) BroadcastSnapshot(ctx context.Context) error {
	if r.transport == nil {
		return nil
	}
	if err := r.transport.BroadcastState(ctx, r.Doc(), ""); err != nil {
		slog.Warn("snapshot broadcast failed", "error", err)
		return err
	}
	return nil
}

// commit publishes next when it differs from prev and persists it.
func (r *Replica) commit(ctx context.Context, prev, next ir.Doc) error {
	if next.Equal(prev) {
		return nil
	}
	r.doc.Store(&next)

	if o, ok := r.clock.(interface{ Observe(int64) }); ok {
		o.Observe(next.UpdatedAt)
	}
	if r.onChange != nil {
		r.onChange(next.Clone())
	}
	if r.saver == nil {
		return nil
	}
	if err := r.saver.SaveDoc(ctx, next); err != nil {
		return fmt.Errorf("save doc %s: %w", next.ListID, err)
	}
	return nil
}

func (r *Replica) sendOp(ctx context.Context, env ir.Envelope) {
	if r.transport == nil {
		return
	}
	if err := r.transport.BroadcastOp(ctx, env, ""); err != nil {
		slog.Warn("op broadcast failed", "op_id", env.OpID, "error", err)
	}
}

// logEventError logs a failed event. Protocol violations are expected on an
// open room and stay at debug level.
func logEventError(ev Event, err error) {
	attrs := []any{
		"event", ev.Type.String(),
		"peer", ev.Peer,
		"error", err,
	}
	if ev.Op != nil {
		attrs = append(attrs, "op_id", ev.Op.OpMeta().OpID)
	} else if ev.Envelope.OpID != "" {
		attrs = append(attrs, "op_id", ev.Envelope.OpID)
	}

	if IsForeignListError(err) || IsBadMessageError(err) {
		slog.Debug("event discarded", attrs...)
		return
	}
	slog.Error("event processing failed", attrs...)
}

// Drain processes every queued event on the caller's goroutine and returns
// how many were handled. Used to step a replica deterministically without
// Run; do not call it while Run is active.
func (r *Replica) Drain(ctx context.Context) int {
	n := 0
	for {
		ev, ok := r.queue.TryDequeue()
		if !ok {
			return n
		}
		if err := r.processEvent(ctx, ev); err != nil {
			logEventError(ev, err)
		}
		n++
	}
}
