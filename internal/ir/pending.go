package ir

import "fmt"

// PendingKind names a queued remote mutation.
type PendingKind string

const (
	PendingAdd    PendingKind = "add"
	PendingToggle PendingKind = "toggle"
	PendingEdit   PendingKind = "edit"
	PendingRemove PendingKind = "remove"
	PendingRename PendingKind = "rename"
)

// PendingOp is a mutation recorded while the remote backend was unreachable
// (or targeted an item the backend has not assigned an id to yet). The
// offline queue replays them in FIFO order once connectivity returns.
type PendingOp struct {
	Type    PendingKind `json:"type"`
	ItemID  string      `json:"item_id,omitempty"`
	Text    string      `json:"text,omitempty"`
	Checked bool        `json:"checked,omitempty"`
	Name    string      `json:"name,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (p PendingOp) Validate() error {
	switch p.Type {
	case PendingAdd:
		if p.Text == "" {
			return fmt.Errorf("pending add without text")
		}
	case PendingToggle, PendingRemove:
		if p.ItemID == "" {
			return fmt.Errorf("pending %s without item id", p.Type)
		}
	case PendingEdit:
		if p.ItemID == "" || p.Text == "" {
			return fmt.Errorf("pending edit needs item id and text")
		}
	case PendingRename:
		if p.Name == "" {
			return fmt.Errorf("pending rename without name")
		}
	default:
		return fmt.Errorf("unknown pending op type %q", p.Type)
	}
	return nil
}
