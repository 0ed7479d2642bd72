package remote

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

// NotifyChannel is the LISTEN channel the change triggers publish on.
const NotifyChannel = "shoplist_changes"

const pgUniqueViolation = "23505"

// PostgresBackend implements Backend on a Postgres database.
//
// Membership is enforced in every query: a user only sees and changes lists
// they created or joined.
type PostgresBackend struct {
	pool *pgxpool.Pool

	mu     sync.RWMutex
	userID string
}

// OpenPostgres connects to databaseURL and applies the embedded migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrOffline, err)
	}
	if err := ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBackend{pool: pool}, nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

// ApplyMigrations runs every embedded migration not yet recorded in
// schema_migrations, each in its own transaction, in file name order.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := strings.TrimPrefix(file, "migrations/")

		var migrated bool
		err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&migrated)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if migrated {
			continue
		}

		contents, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, string(contents)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

// classify maps driver errors onto the package sentinels. Errors that carry
// no server response are connectivity failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrListNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrInviteTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrOffline, err)
}

func (b *PostgresBackend) user() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.userID == "" {
		return "", ErrAuth
	}
	return b.userID, nil
}

// SignInAnonymously creates an anonymous user, or resumes userID.
func (b *PostgresBackend) SignInAnonymously(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		var exists bool
		err := b.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id::text = $1)`, userID).Scan(&exists)
		if err != nil {
			return "", classify("sign in", err)
		}
		if !exists {
			return "", fmt.Errorf("sign in %s: %w", userID, ErrAuth)
		}
	} else {
		userID = uuid.NewString()
		if _, err := b.pool.Exec(ctx, `INSERT INTO users (id) VALUES ($1)`, userID); err != nil {
			return "", classify("sign in", err)
		}
	}

	b.mu.Lock()
	b.userID = userID
	b.mu.Unlock()
	return userID, nil
}

// CreateList creates a list owned by the signed-in user and makes them its
// first member. A taken invite code returns ErrInviteTaken.
func (b *PostgresBackend) CreateList(ctx context.Context, inviteCode, name, displayName string) (List, error) {
	userID, err := b.user()
	if err != nil {
		return List{}, err
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return List{}, classify("create list", err)
	}
	defer tx.Rollback(ctx)

	list := List{InviteCode: inviteCode, Name: name, OwnerID: userID}
	err = tx.QueryRow(ctx, `
		INSERT INTO shopping_lists (invite_code, name, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, inviteCode, name, userID).Scan(&list.ID)
	if err != nil {
		return List{}, classify("create list", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO list_members (list_id, user_id, display_name) VALUES ($1, $2, NULLIF($3, ''))
	`, list.ID, userID, displayName); err != nil {
		return List{}, classify("create list", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return List{}, classify("create list", err)
	}
	return list, nil
}

// JoinListByCode adds the signed-in user to the list behind inviteCode.
// Joining twice is a no-op.
func (b *PostgresBackend) JoinListByCode(ctx context.Context, inviteCode, displayName string) (List, error) {
	userID, err := b.user()
	if err != nil {
		return List{}, err
	}

	var list List
	err = b.pool.QueryRow(ctx, `
		SELECT id::text, invite_code, name, owner_id::text
		FROM shopping_lists
		WHERE invite_code = $1
	`, inviteCode).Scan(&list.ID, &list.InviteCode, &list.Name, &list.OwnerID)
	if err != nil {
		return List{}, classify("join list", err)
	}

	if _, err := b.pool.Exec(ctx, `
		INSERT INTO list_members (list_id, user_id, display_name)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (list_id, user_id) DO NOTHING
	`, list.ID, userID, displayName); err != nil {
		return List{}, classify("join list", err)
	}
	return list, nil
}

// LoadList returns the list, its items newest first, and its member count.
func (b *PostgresBackend) LoadList(ctx context.Context, listID string) (Snapshot, error) {
	userID, err := b.user()
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	err = b.pool.QueryRow(ctx, `
		SELECT l.id::text, l.invite_code, l.name, l.owner_id::text,
		       (SELECT COUNT(*) FROM list_members m WHERE m.list_id = l.id)
		FROM shopping_lists l
		WHERE l.id::text = $1
		  AND EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = l.id AND m.user_id::text = $2)
	`, listID, userID).Scan(&snap.List.ID, &snap.List.InviteCode, &snap.List.Name, &snap.List.OwnerID, &snap.Members)
	if err != nil {
		return Snapshot{}, classify("load list", err)
	}

	rows, err := b.pool.Query(ctx, `
		SELECT id::text, list_id::text, text, checked, updated_at
		FROM shopping_items
		WHERE list_id::text = $1
		ORDER BY updated_at DESC
	`, listID)
	if err != nil {
		return Snapshot{}, classify("load items", err)
	}
	defer rows.Close()

	snap.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ListID, &it.Text, &it.Checked, &it.UpdatedAt); err != nil {
			return Snapshot{}, fmt.Errorf("scan item: %w", err)
		}
		snap.Items = append(snap.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, classify("load items", err)
	}
	return snap, nil
}

// InsertItem adds an item to a list the user belongs to.
func (b *PostgresBackend) InsertItem(ctx context.Context, listID, text string, checked bool) (Item, error) {
	userID, err := b.user()
	if err != nil {
		return Item{}, err
	}

	it := Item{ListID: listID, Text: text, Checked: checked}
	err = b.pool.QueryRow(ctx, `
		INSERT INTO shopping_items (list_id, text, checked)
		SELECT l.id, $2, $3
		FROM shopping_lists l
		WHERE l.id::text = $1
		  AND EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = l.id AND m.user_id::text = $4)
		RETURNING id::text, updated_at
	`, listID, text, checked, userID).Scan(&it.ID, &it.UpdatedAt)
	if err != nil {
		return Item{}, classify("insert item", err)
	}
	return it, nil
}

// execItem runs an item mutation guarded by membership. Zero affected rows
// means the item is unknown to this user.
func (b *PostgresBackend) execItem(ctx context.Context, op, set string, itemID string, arg any) error {
	userID, err := b.user()
	if err != nil {
		return err
	}

	var query string
	var args []any
	if set == "" {
		query = `
			DELETE FROM shopping_items i
			WHERE i.id::text = $1
			  AND EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = i.list_id AND m.user_id::text = $2)`
		args = []any{itemID, userID}
	} else {
		query = `
			UPDATE shopping_items i SET ` + set + ` = $3
			WHERE i.id::text = $1
			  AND EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = i.list_id AND m.user_id::text = $2)`
		args = []any{itemID, userID, arg}
	}

	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, itemID, ErrItemNotFound)
	}
	return nil
}

// UpdateItemChecked sets an item's checked state.
func (b *PostgresBackend) UpdateItemChecked(ctx context.Context, itemID string, checked bool) error {
	return b.execItem(ctx, "update item", "checked", itemID, checked)
}

// UpdateItemText replaces an item's text.
func (b *PostgresBackend) UpdateItemText(ctx context.Context, itemID, text string) error {
	return b.execItem(ctx, "update item", "text", itemID, text)
}

// DeleteItem deletes an item.
func (b *PostgresBackend) DeleteItem(ctx context.Context, itemID string) error {
	return b.execItem(ctx, "delete item", "", itemID, nil)
}

// RenameList renames a list the user belongs to.
func (b *PostgresBackend) RenameList(ctx context.Context, listID, name string) error {
	userID, err := b.user()
	if err != nil {
		return err
	}

	tag, err := b.pool.Exec(ctx, `
		UPDATE shopping_lists l SET name = $2
		WHERE l.id::text = $1
		  AND EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = l.id AND m.user_id::text = $3)
	`, listID, name, userID)
	if err != nil {
		return classify("rename list", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rename list %s: %w", listID, ErrListNotFound)
	}
	return nil
}

// Subscribe listens for changes to listID until ctx ends. The returned
// channel is closed when listening stops.
func (b *PostgresBackend) Subscribe(ctx context.Context, listID string) (<-chan Change, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("subscribe", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, classify("subscribe", err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("change listener stopped", "list_id", listID, "error", err)
				}
				return
			}
			change, ok := parseNotification(n.Payload)
			if !ok || change.ListID != listID {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// parseNotification parses a "<table>:<list_id>" payload.
func parseNotification(payload string) (Change, bool) {
	table, listID, ok := strings.Cut(payload, ":")
	if !ok || table == "" || listID == "" {
		return Change{}, false
	}
	return Change{Table: table, ListID: listID}, true
}
