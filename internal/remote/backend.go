// Package remote is the server-backed variant of shoplist.
//
// Instead of replicas exchanging ops, every device reads and writes one
// authoritative copy of the list in Postgres and watches it for changes.
// Client keeps the device usable while the server is unreachable: the last
// loaded list is cached through the engine's Persister, and mutations made
// offline are queued per list and replayed in order by Flush.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrOffline reports that the backend could not be reached.
	ErrOffline = errors.New("remote backend unreachable")

	// ErrAuth reports that no backend identity could be obtained.
	ErrAuth = errors.New("remote sign-in failed")

	// ErrListNotFound reports an unknown list id or invite code, or a list
	// the signed-in user is not a member of.
	ErrListNotFound = errors.New("list not found")

	// ErrItemNotFound reports an unknown item id.
	ErrItemNotFound = errors.New("item not found")

	// ErrInviteTaken reports an invite code collision on create.
	ErrInviteTaken = errors.New("invite code already in use")
)

// List is a list row.
type List struct {
	ID         string
	InviteCode string
	Name       string
	OwnerID    string
}

// Item is an item row.
type Item struct {
	ID        string
	ListID    string
	Text      string
	Checked   bool
	UpdatedAt time.Time
}

// Snapshot is everything a device shows for one list.
type Snapshot struct {
	List    List
	Items   []Item
	Members int
}

// Change announces that a list, its items or its members changed.
type Change struct {
	Table  string
	ListID string
}

// Backend is the server capability the client needs.
//
// SignInAnonymously creates an anonymous identity, or resumes userID when it
// is non-empty. Calls made before it return ErrAuth. Connectivity failures
// are reported as ErrOffline (wrapped).
type Backend interface {
	SignInAnonymously(ctx context.Context, userID string) (string, error)
	CreateList(ctx context.Context, inviteCode, name, displayName string) (List, error)
	JoinListByCode(ctx context.Context, inviteCode, displayName string) (List, error)
	LoadList(ctx context.Context, listID string) (Snapshot, error)
	InsertItem(ctx context.Context, listID, text string, checked bool) (Item, error)
	UpdateItemChecked(ctx context.Context, itemID string, checked bool) error
	UpdateItemText(ctx context.Context, itemID, text string) error
	DeleteItem(ctx context.Context, itemID string) error
	RenameList(ctx context.Context, listID, name string) error
	Subscribe(ctx context.Context, listID string) (<-chan Change, error)
}
