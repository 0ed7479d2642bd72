// Package transport defines the broadcast collaborator a replica talks to.
//
// A Transport delivers operations and full snapshots to the other members of
// a room on a best-effort basis. Nothing here guarantees ordering or
// exactly-once delivery; the engine deduplicates and resolves conflicts on
// its own. Implementations live in subpackages:
//   - memory: in-process hub for tests and demos
//   - redisroom: Redis pub/sub channel per room
//   - wsmesh: websocket mesh with optional mDNS discovery
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/shoplist/internal/ir"
)

// Kind discriminates wire messages.
type Kind string

const (
	KindOp    Kind = "op"
	KindState Kind = "state"
	KindHello Kind = "hello"
	KindBye   Kind = "bye"
)

// Message is the JSON frame every transport exchanges.
// To is empty for room-wide messages and names one peer otherwise.
type Message struct {
	V    string       `json:"v"`
	Kind Kind         `json:"kind"`
	From string       `json:"from"`
	To   string       `json:"to,omitempty"`
	Op   *ir.Envelope `json:"op,omitempty"`
	Doc  *ir.Doc      `json:"doc,omitempty"`
}

// ErrClosed is returned by sends on a closed transport.
var ErrClosed = errors.New("transport closed")

// Handlers receives inbound traffic. Nil handlers are skipped.
//
// Handlers are invoked from transport goroutines; a replica forwards them
// into its event queue rather than touching its document directly.
type Handlers struct {
	OnOp        func(from string, env ir.Envelope)
	OnState     func(from string, doc ir.Doc)
	OnPeerJoin  func(peer string)
	OnPeerLeave func(peer string)
}

// Transport is the broadcast capability a replica needs.
//
// Sends are fire-and-forget: an error only reports that this attempt
// failed. An empty to broadcasts to every peer in the room.
type Transport interface {
	BroadcastOp(ctx context.Context, env ir.Envelope, to string) error
	BroadcastState(ctx context.Context, doc ir.Doc, to string) error
	Subscribe(h Handlers)
	Start(ctx context.Context) error
	Close() error
	Self() string
}

// NewOpMessage builds an op frame.
func NewOpMessage(from, to string, env ir.Envelope) Message {
	return Message{V: ir.WireVersion, Kind: KindOp, From: from, To: to, Op: &env}
}

// NewStateMessage builds a snapshot frame.
func NewStateMessage(from, to string, doc ir.Doc) Message {
	return Message{V: ir.WireVersion, Kind: KindState, From: from, To: to, Doc: &doc}
}

// NewPresenceMessage builds a hello or bye frame.
func NewPresenceMessage(kind Kind, from string) Message {
	return Message{V: ir.WireVersion, Kind: kind, From: from}
}

// Encode serializes a message.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	return data, nil
}

// Decode parses and sanity-checks a message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.From == "" {
		return Message{}, fmt.Errorf("decode message: missing sender")
	}
	switch msg.Kind {
	case KindOp:
		if msg.Op == nil {
			return Message{}, fmt.Errorf("decode message: op frame without op")
		}
	case KindState:
		if msg.Doc == nil {
			return Message{}, fmt.Errorf("decode message: state frame without doc")
		}
	case KindHello, KindBye:
	default:
		return Message{}, fmt.Errorf("decode message: unknown kind %q", msg.Kind)
	}
	return msg, nil
}

// Addressed reports whether msg should be delivered to self.
// Frames from self and frames directed at another peer are filtered out.
func Addressed(msg Message, self string) bool {
	if msg.From == self {
		return false
	}
	return msg.To == "" || msg.To == self
}

// Dispatch routes op and state frames to the matching handler.
// Presence frames are left to the transport, which owns membership.
func Dispatch(h Handlers, msg Message) {
	switch msg.Kind {
	case KindOp:
		if h.OnOp != nil && msg.Op != nil {
			h.OnOp(msg.From, *msg.Op)
		}
	case KindState:
		if h.OnState != nil && msg.Doc != nil {
			h.OnState(msg.From, *msg.Doc)
		}
	}
}
