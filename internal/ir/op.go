package ir

import (
	"errors"
	"fmt"
)

// Meta carries the fields common to every operation.
// OpID identifies the operation for deduplication; TS orders it.
type Meta struct {
	OpID string `json:"op_id"`
	TS   int64  `json:"ts"`
}

// Op is an intent to mutate a Doc.
//
// Op is a closed sum type: the only implementations are Upsert, Toggle,
// Remove and Rename. The unexported marker keeps other packages from adding
// variants, so a type switch over those four is exhaustive.
type Op interface {
	OpMeta() Meta
	Kind() OpKind
	isOp()
}

// OpKind is the wire discriminator of an operation.
type OpKind string

const (
	OpUpsert OpKind = "upsert"
	OpToggle OpKind = "toggle"
	OpRemove OpKind = "remove"
	OpRename OpKind = "rename"
)

// Upsert creates or fully replaces an item.
type Upsert struct {
	Meta
	Item Item
}

// Toggle flips the checked state of an existing item.
type Toggle struct {
	Meta
	ItemID  string
	Checked bool
	ActorID string
}

// Remove tombstones an item.
type Remove struct {
	Meta
	ItemID string
}

// Rename renames the list.
type Rename struct {
	Meta
	ListName string
}

func (o Upsert) OpMeta() Meta { return o.Meta }
func (o Toggle) OpMeta() Meta { return o.Meta }
func (o Remove) OpMeta() Meta { return o.Meta }
func (o Rename) OpMeta() Meta { return o.Meta }

func (Upsert) Kind() OpKind { return OpUpsert }
func (Toggle) Kind() OpKind { return OpToggle }
func (Remove) Kind() OpKind { return OpRemove }
func (Rename) Kind() OpKind { return OpRename }

func (Upsert) isOp() {}
func (Toggle) isOp() {}
func (Remove) isOp() {}
func (Rename) isOp() {}

// Envelope is the flat JSON wire form of an Op.
// Only the fields relevant to Type are populated.
type Envelope struct {
	Type     OpKind `json:"type"`
	OpID     string `json:"op_id"`
	TS       int64  `json:"ts"`
	Item     *Item  `json:"item,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Checked  bool   `json:"checked,omitempty"`
	ActorID  string `json:"actor_id,omitempty"`
	ListName string `json:"list_name,omitempty"`
}

// ErrInvalidEnvelope is returned when a wire envelope cannot be decoded
// into an operation.
var ErrInvalidEnvelope = errors.New("invalid op envelope")

// EncodeOp converts an operation to its wire envelope.
func EncodeOp(op Op) Envelope {
	m := op.OpMeta()
	env := Envelope{Type: op.Kind(), OpID: m.OpID, TS: m.TS}
	switch o := op.(type) {
	case Upsert:
		item := o.Item
		env.Item = &item
	case Toggle:
		env.ItemID = o.ItemID
		env.Checked = o.Checked
		env.ActorID = o.ActorID
	case Remove:
		env.ItemID = o.ItemID
	case Rename:
		env.ListName = o.ListName
	}
	return env
}

// Decode converts a wire envelope back into an operation.
// Returns ErrInvalidEnvelope (wrapped) for unknown types, missing ids and
// timestamps that are not positive.
func (e Envelope) Decode() (Op, error) {
	if e.OpID == "" {
		return nil, fmt.Errorf("%w: missing op_id", ErrInvalidEnvelope)
	}
	if e.TS <= 0 {
		return nil, fmt.Errorf("%w: op %s has ts %d", ErrInvalidEnvelope, e.OpID, e.TS)
	}
	meta := Meta{OpID: e.OpID, TS: e.TS}
	switch e.Type {
	case OpUpsert:
		if e.Item == nil || e.Item.ID == "" {
			return nil, fmt.Errorf("%w: upsert %s without item", ErrInvalidEnvelope, e.OpID)
		}
		if e.Item.UpdatedAt <= 0 {
			return nil, fmt.Errorf("%w: upsert %s has updated_at %d", ErrInvalidEnvelope, e.OpID, e.Item.UpdatedAt)
		}
		return Upsert{Meta: meta, Item: *e.Item}, nil
	case OpToggle:
		if e.ItemID == "" {
			return nil, fmt.Errorf("%w: toggle %s without item_id", ErrInvalidEnvelope, e.OpID)
		}
		return Toggle{Meta: meta, ItemID: e.ItemID, Checked: e.Checked, ActorID: e.ActorID}, nil
	case OpRemove:
		if e.ItemID == "" {
			return nil, fmt.Errorf("%w: remove %s without item_id", ErrInvalidEnvelope, e.OpID)
		}
		return Remove{Meta: meta, ItemID: e.ItemID}, nil
	case OpRename:
		return Rename{Meta: meta, ListName: e.ListName}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, e.Type)
	}
}
