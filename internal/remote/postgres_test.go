package remote

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/engine"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		offline bool
	}{
		{"no rows", pgx.ErrNoRows, ErrListNotFound, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrInviteTaken, false},
		{"other server error", &pgconn.PgError{Code: "42P01"}, nil, false},
		{"canceled", context.Canceled, context.Canceled, false},
		{"network", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), ErrOffline, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("load list", tt.err)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.offline, errors.Is(err, ErrOffline))
		})
	}

	assert.NoError(t, classify("noop", nil))
}

func TestParseNotification(t *testing.T) {
	change, ok := parseNotification("shopping_items:3f2a")
	require.True(t, ok)
	assert.Equal(t, Change{Table: "shopping_items", ListID: "3f2a"}, change)

	for _, bad := range []string{"", "shopping_items", ":3f2a", "shopping_items:"} {
		_, ok := parseNotification(bad)
		assert.False(t, ok, bad)
	}
}

func openTestBackend(t *testing.T) *PostgresBackend {
	t.Helper()
	url := os.Getenv("SHOPLIST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHOPLIST_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestPostgres_TwoDevices(t *testing.T) {
	alice := openTestBackend(t)
	bob := openTestBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := alice.LoadList(ctx, "whatever")
	require.ErrorIs(t, err, ErrAuth)

	aliceID, err := alice.SignInAnonymously(ctx, "")
	require.NoError(t, err)
	_, err = bob.SignInAnonymously(ctx, "")
	require.NoError(t, err)

	code, err := engine.NewInviteCode()
	require.NoError(t, err)
	list, err := alice.CreateList(ctx, code, "Groceries", "Alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, list.OwnerID)

	_, err = alice.CreateList(ctx, code, "Again", "Alice")
	require.ErrorIs(t, err, ErrInviteTaken)

	_, err = bob.LoadList(ctx, list.ID)
	require.ErrorIs(t, err, ErrListNotFound, "non-members cannot read the list")

	joined, err := bob.JoinListByCode(ctx, code, "Bob")
	require.NoError(t, err)
	assert.Equal(t, list.ID, joined.ID)
	_, err = bob.JoinListByCode(ctx, code, "Bob")
	require.NoError(t, err, "joining twice is a no-op")

	changes, err := alice.Subscribe(ctx, list.ID)
	require.NoError(t, err)

	item, err := bob.InsertItem(ctx, list.ID, "milk", false)
	require.NoError(t, err)
	require.NoError(t, bob.UpdateItemChecked(ctx, item.ID, true))

	select {
	case change := <-changes:
		assert.Equal(t, list.ID, change.ListID)
	case <-ctx.Done():
		t.Fatal("no change notification")
	}

	snap, err := alice.LoadList(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Members)
	require.Len(t, snap.Items, 1)
	assert.True(t, snap.Items[0].Checked)

	require.NoError(t, alice.RenameList(ctx, list.ID, "Party"))
	require.NoError(t, alice.DeleteItem(ctx, item.ID))
	require.ErrorIs(t, bob.DeleteItem(ctx, item.ID), ErrItemNotFound)

	resumed, err := bob.SignInAnonymously(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, resumed)
}
