package remote

import (
	"context"
	"fmt"
)

// Unreachable is a Backend for when the server could not be reached at
// startup. Every call fails with ErrOffline, so a Client built on it works
// from its cache and queues every mutation.
type Unreachable struct {
	Err error
}

func (u Unreachable) fail() error {
	if u.Err == nil {
		return ErrOffline
	}
	return fmt.Errorf("%w: %v", ErrOffline, u.Err)
}

func (u Unreachable) SignInAnonymously(context.Context, string) (string, error) {
	return "", u.fail()
}

func (u Unreachable) CreateList(context.Context, string, string, string) (List, error) {
	return List{}, u.fail()
}

func (u Unreachable) JoinListByCode(context.Context, string, string) (List, error) {
	return List{}, u.fail()
}

func (u Unreachable) LoadList(context.Context, string) (Snapshot, error) {
	return Snapshot{}, u.fail()
}

func (u Unreachable) InsertItem(context.Context, string, string, bool) (Item, error) {
	return Item{}, u.fail()
}

func (u Unreachable) UpdateItemChecked(context.Context, string, bool) error { return u.fail() }

func (u Unreachable) UpdateItemText(context.Context, string, string) error { return u.fail() }

func (u Unreachable) DeleteItem(context.Context, string) error { return u.fail() }

func (u Unreachable) RenameList(context.Context, string, string) error { return u.fail() }

func (u Unreachable) Subscribe(context.Context, string) (<-chan Change, error) {
	return nil, u.fail()
}
