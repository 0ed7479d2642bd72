package ir

import (
	"fmt"
	"sort"
)

// Item is one entry of a shopping list.
// Identity is ID; the record is replaced wholesale by an upsert and only
// Checked/UpdatedAt/UpdatedBy change on a toggle.
type Item struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Checked   bool   `json:"checked"`
	UpdatedAt int64  `json:"updated_at"`
	UpdatedBy string `json:"updated_by"`
}

// Doc is the replicated shopping list document.
//
// UpdatedAt is a watermark (max timestamp folded in so far), used for display
// and coarse recency only. Conflict resolution uses per-item UpdatedAt,
// per-id tombstones and ListNameUpdatedAt.
type Doc struct {
	ListID            string           `json:"list_id"`
	ListName          string           `json:"list_name"`
	ListNameUpdatedAt int64            `json:"list_name_updated_at"`
	Items             map[string]Item  `json:"items"`
	Tombstones        map[string]int64 `json:"tombstones"`
	UpdatedAt         int64            `json:"updated_at"`
}

// NewDoc returns an empty document for listID with non-nil maps.
func NewDoc(listID string) Doc {
	return Doc{
		ListID:     listID,
		Items:      map[string]Item{},
		Tombstones: map[string]int64{},
	}
}

// Clone returns a deep copy of the document. Nil maps become empty maps.
func (d Doc) Clone() Doc {
	out := d
	out.Items = make(map[string]Item, len(d.Items))
	for id, item := range d.Items {
		out.Items[id] = item
	}
	out.Tombstones = make(map[string]int64, len(d.Tombstones))
	for id, ts := range d.Tombstones {
		out.Tombstones[id] = ts
	}
	return out
}

// Equal reports whether two documents hold the same content.
// Nil and empty maps compare equal.
func (d Doc) Equal(other Doc) bool {
	if d.ListID != other.ListID ||
		d.ListName != other.ListName ||
		d.ListNameUpdatedAt != other.ListNameUpdatedAt ||
		d.UpdatedAt != other.UpdatedAt {
		return false
	}
	if len(d.Items) != len(other.Items) || len(d.Tombstones) != len(other.Tombstones) {
		return false
	}
	for id, item := range d.Items {
		if o, ok := other.Items[id]; !ok || o != item {
			return false
		}
	}
	for id, ts := range d.Tombstones {
		if o, ok := other.Tombstones[id]; !ok || o != ts {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of a document:
//   - every item is keyed by its own id
//   - no live item has a tombstone >= its UpdatedAt
//
// Apply and merge never produce a document that fails Validate; stores use it
// to reject corrupted records.
func (d Doc) Validate() error {
	for key, item := range d.Items {
		if item.ID != key {
			return fmt.Errorf("item keyed %q has id %q", key, item.ID)
		}
		if ts, ok := d.Tombstones[key]; ok && ts >= item.UpdatedAt {
			return fmt.Errorf("item %q (updated_at=%d) is shadowed by tombstone %d", key, item.UpdatedAt, ts)
		}
	}
	return nil
}

// SortedItems returns the live items in display order: unchecked first,
// then most recently updated first, then by id for a stable order.
func (d Doc) SortedItems() []Item {
	items := make([]Item, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Checked != b.Checked {
			return !a.Checked
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		return a.ID < b.ID
	})
	return items
}

// Role is a replica's participation role in a list.
type Role string

const (
	// RoleOwner created the list.
	RoleOwner Role = "owner"
	// RoleMember joined the list with an invite code.
	RoleMember Role = "member"
)

// Session identifies this replica's participation in one list.
// Created on create/join, persisted, and destroyed on leave.
type Session struct {
	ActorID    string `json:"actor_id"`
	UserName   string `json:"user_name"`
	ListID     string `json:"list_id"`
	ListName   string `json:"list_name"`
	InviteCode string `json:"invite_code"`
	Role       Role   `json:"role"`
}

// Valid reports whether the session carries the fields a replica needs.
func (s Session) Valid() bool {
	return s.ActorID != "" && s.ListID != "" && s.InviteCode != ""
}
