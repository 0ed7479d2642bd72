package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// createAttempts bounds invite code retries on collision.
const createAttempts = 4

// Queue is the per-list offline queue. store.Store and boltstore.Store
// implement it.
type Queue interface {
	Enqueue(ctx context.Context, listID string, op ir.PendingOp) error
	Pending(ctx context.Context, listID string) ([]ir.PendingOp, error)
	DropPending(ctx context.Context, listID string, n int) error
}

// Store is the device-local state the client needs.
type Store interface {
	engine.Persister
	Queue
}

// View is what a device shows for its list.
// Stale is set when the backend could not be reached and Doc is the cache.
type View struct {
	Doc     ir.Doc
	Members int
	Stale   bool
}

// Label renders the member count.
func (v View) Label() string {
	return engine.MemberLabel(v.Members)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientClock sets the clock stamping locally applied changes.
func WithClientClock(c engine.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithClientIDs sets the generator for local ids.
func WithClientIDs(g engine.IDGenerator) ClientOption {
	return func(cl *Client) { cl.ids = g }
}

// WithInviteCodes sets the invite code source used by Create.
func WithInviteCodes(f func() (string, error)) ClientOption {
	return func(cl *Client) { cl.newCode = f }
}

// WithWatchBackoff sets the retry policy Watch uses to resubscribe after the
// change feed drops.
func WithWatchBackoff(f func() backoff.BackOff) ClientOption {
	return func(cl *Client) { cl.newBackoff = f }
}

// Client is the offline-first front of a Backend.
//
// Every mutation is applied to the cached document first so the device
// always shows its own writes. Mutations are queued instead of sent while
// offline or when they target an item the backend has not assigned an id
// to yet.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	backend Backend
	store   Store
	clock   engine.Clock
	ids     engine.IDGenerator
	newCode func() (string, error)
	online  atomic.Bool

	newBackoff func() backoff.BackOff

	mu      sync.Mutex
	session ir.Session
	joined  bool
	members int
}

// NewClient creates a client. It starts online.
func NewClient(backend Backend, store Store, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		store:   store,
		clock:   engine.NewWallClock(),
		ids:     engine.UUIDGenerator{},
		newCode: engine.NewInviteCode,
		members: 1,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	c.online.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnline records connectivity. Clients mark themselves offline when a
// backend call fails with ErrOffline.
func (c *Client) SetOnline(online bool) {
	if c.online.Swap(online) != online {
		slog.Info("connectivity changed", "online", online)
	}
}

// Online reports the last known connectivity.
func (c *Client) Online() bool {
	return c.online.Load()
}

// Session returns the current session.
func (c *Client) Session() (ir.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.joined
}

func (c *Client) setSession(s ir.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.joined = true
}

func (c *Client) current() (ir.Session, error) {
	s, ok := c.Session()
	if !ok {
		return ir.Session{}, ErrListNotFound
	}
	return s, nil
}

// Resume restores the persisted session and signs in as its user.
// Sign-in failures leave the client usable offline.
func (c *Client) Resume(ctx context.Context) (ir.Session, bool, error) {
	s, ok, err := c.store.LoadSession(ctx)
	if err != nil || !ok {
		return ir.Session{}, false, err
	}
	c.setSession(s)

	if _, err := c.backend.SignInAnonymously(ctx, s.ActorID); err != nil {
		c.noteFailure(err)
		slog.Warn("resume sign-in failed", "error", err)
	}
	return s, true, nil
}

func (c *Client) signIn(ctx context.Context, userID string) (string, error) {
	id, err := c.backend.SignInAnonymously(ctx, userID)
	if err != nil {
		c.noteFailure(err)
		if errors.Is(err, ErrOffline) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return id, nil
}

// noteFailure marks the client offline when err says so.
func (c *Client) noteFailure(err error) {
	if errors.Is(err, ErrOffline) {
		c.SetOnline(false)
	}
}

// Create creates a list, retrying with a fresh invite code when the code is
// taken. Any other failure aborts. Requires connectivity.
func (c *Client) Create(ctx context.Context, userName, listName string) (ir.Session, error) {
	listName = engine.NormalizeName(listName)
	if listName == "" {
		return ir.Session{}, engine.ErrEmptyName
	}
	userName = engine.NormalizeName(userName)
	if !c.Online() {
		return ir.Session{}, fmt.Errorf("create list: %w", ErrOffline)
	}

	prev, _, _ := c.store.LoadSession(ctx)
	userID, err := c.signIn(ctx, prev.ActorID)
	if err != nil && prev.ActorID != "" && errors.Is(err, ErrAuth) {
		userID, err = c.signIn(ctx, "")
	}
	if err != nil {
		return ir.Session{}, fmt.Errorf("create list: %w", err)
	}

	var list List
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, cerr := c.newCode()
		if cerr != nil {
			return ir.Session{}, fmt.Errorf("create list: %w", cerr)
		}
		list, err = c.backend.CreateList(ctx, code, listName, userName)
		if err == nil || !errors.Is(err, ErrInviteTaken) {
			break
		}
		slog.Debug("invite code taken, retrying", "attempt", attempt+1)
	}
	if err != nil {
		c.noteFailure(err)
		return ir.Session{}, fmt.Errorf("create list: %w", err)
	}

	s := ir.Session{
		ActorID:    userID,
		UserName:   userName,
		ListID:     list.ID,
		ListName:   list.Name,
		InviteCode: list.InviteCode,
		Role:       ir.RoleOwner,
	}
	return s, c.adopt(ctx, s)
}

// Join joins the list behind code. Requires connectivity.
func (c *Client) Join(ctx context.Context, userName, code string) (ir.Session, error) {
	code, err := engine.NormalizeInviteCode(code)
	if err != nil {
		return ir.Session{}, err
	}
	if !c.Online() {
		return ir.Session{}, fmt.Errorf("join list: %w", ErrOffline)
	}

	prev, _, _ := c.store.LoadSession(ctx)
	userID, err := c.signIn(ctx, prev.ActorID)
	if err != nil && prev.ActorID != "" && errors.Is(err, ErrAuth) {
		userID, err = c.signIn(ctx, "")
	}
	if err != nil {
		return ir.Session{}, fmt.Errorf("join list: %w", err)
	}

	userName = engine.NormalizeName(userName)
	list, err := c.backend.JoinListByCode(ctx, code, userName)
	if err != nil {
		c.noteFailure(err)
		return ir.Session{}, fmt.Errorf("join list: %w", err)
	}

	role := ir.RoleMember
	if list.OwnerID == userID {
		role = ir.RoleOwner
	}
	s := ir.Session{
		ActorID:    userID,
		UserName:   userName,
		ListID:     list.ID,
		ListName:   list.Name,
		InviteCode: list.InviteCode,
		Role:       role,
	}
	return s, c.adopt(ctx, s)
}

// adopt persists s as the current session and loads its list.
func (c *Client) adopt(ctx context.Context, s ir.Session) error {
	if err := c.store.SaveSession(ctx, s); err != nil {
		return err
	}
	c.setSession(s)
	if _, err := c.Refresh(ctx); err != nil {
		slog.Warn("initial load failed", "list_id", s.ListID, "error", err)
	}
	return nil
}

// Leave forgets the current session. The cache and queue stay on disk.
func (c *Client) Leave(ctx context.Context) error {
	if err := c.store.ClearSession(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = ir.Session{}
	c.joined = false
	c.mu.Unlock()
	return nil
}

// cached returns the cached document of the current list.
func (c *Client) cached(ctx context.Context, s ir.Session) (ir.Doc, error) {
	doc, ok, err := c.store.LoadDoc(ctx, s.ListID)
	if err != nil {
		return ir.Doc{}, err
	}
	return engine.SeedDoc(s, doc, ok), nil
}

// applyLocal folds op into the cached document.
func (c *Client) applyLocal(ctx context.Context, doc ir.Doc, op ir.Op) (ir.Doc, error) {
	next := engine.ApplyOp(doc, op)
	if err := c.store.SaveDoc(ctx, next); err != nil {
		return doc, err
	}
	return next, nil
}

func (c *Client) queue(ctx context.Context, s ir.Session, op ir.PendingOp) error {
	if err := c.store.Enqueue(ctx, s.ListID, op); err != nil {
		return err
	}
	slog.Info("queued offline change", "list_id", s.ListID, "type", op.Type)
	return nil
}

// send runs call unless offline, and reports whether the mutation must be
// queued instead. A connectivity failure marks the client offline and asks
// for queueing; any other failure is returned after a refresh restores the
// server's view.
func (c *Client) send(ctx context.Context, call func() error) (bool, error) {
	if !c.Online() {
		return true, nil
	}
	err := call()
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrOffline) {
		c.SetOnline(false)
		return true, nil
	}
	if _, rerr := c.Refresh(ctx); rerr != nil {
		slog.Warn("refresh after failed write", "error", rerr)
	}
	return false, err
}

// AddItem adds an item. Returns the item as cached and whether the write
// was queued. A queued item has a local id until the next Flush.
func (c *Client) AddItem(ctx context.Context, text string) (ir.Item, bool, error) {
	s, err := c.current()
	if err != nil {
		return ir.Item{}, false, err
	}
	doc, err := c.cached(ctx, s)
	if err != nil {
		return ir.Item{}, false, err
	}
	op, err := engine.NewActions(c.clock, c.ids, s.ActorID).AddItem(text)
	if err != nil {
		return ir.Item{}, false, err
	}
	up := op.(ir.Upsert)

	var created Item
	queued, err := c.send(ctx, func() error {
		var ierr error
		created, ierr = c.backend.InsertItem(ctx, s.ListID, up.Item.Text, false)
		return ierr
	})
	if err != nil {
		return ir.Item{}, false, fmt.Errorf("add item: %w", err)
	}

	if queued {
		up.Item.ID = engine.NewLocalID(c.ids)
		if err := c.queue(ctx, s, ir.PendingOp{Type: ir.PendingAdd, Text: up.Item.Text}); err != nil {
			return ir.Item{}, false, err
		}
	} else {
		up.Item.ID = created.ID
	}
	if _, err := c.applyLocal(ctx, doc, up); err != nil {
		return ir.Item{}, queued, err
	}
	return up.Item, queued, nil
}

// ToggleItem flips an item's checked state.
func (c *Client) ToggleItem(ctx context.Context, id string) (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	doc, err := c.cached(ctx, s)
	if err != nil {
		return false, err
	}
	op, err := engine.NewActions(c.clock, c.ids, s.ActorID).ToggleItem(doc, id)
	if err != nil {
		return false, err
	}
	checked := op.(ir.Toggle).Checked

	return c.mutate(ctx, s, doc, op, ir.PendingOp{Type: ir.PendingToggle, ItemID: id, Checked: checked}, func() error {
		return c.backend.UpdateItemChecked(ctx, id, checked)
	})
}

// EditItem replaces an item's text.
func (c *Client) EditItem(ctx context.Context, id, text string) (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	doc, err := c.cached(ctx, s)
	if err != nil {
		return false, err
	}
	op, err := engine.NewActions(c.clock, c.ids, s.ActorID).EditItem(doc, id, text)
	if err != nil {
		return false, err
	}
	cleaned := op.(ir.Upsert).Item.Text

	return c.mutate(ctx, s, doc, op, ir.PendingOp{Type: ir.PendingEdit, ItemID: id, Text: cleaned}, func() error {
		return c.backend.UpdateItemText(ctx, id, cleaned)
	})
}

// RemoveItem deletes an item.
func (c *Client) RemoveItem(ctx context.Context, id string) (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	doc, err := c.cached(ctx, s)
	if err != nil {
		return false, err
	}
	op, err := engine.NewActions(c.clock, c.ids, s.ActorID).RemoveItem(doc, id)
	if err != nil {
		return false, err
	}

	return c.mutate(ctx, s, doc, op, ir.PendingOp{Type: ir.PendingRemove, ItemID: id}, func() error {
		return c.backend.DeleteItem(ctx, id)
	})
}

// RenameList renames the list. Rename never targets a local id, so it is
// only queued while offline.
func (c *Client) RenameList(ctx context.Context, name string) (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	doc, err := c.cached(ctx, s)
	if err != nil {
		return false, err
	}
	op, err := engine.NewActions(c.clock, c.ids, s.ActorID).RenameList(name)
	if err != nil {
		return false, err
	}
	cleaned := op.(ir.Rename).ListName

	queued, err := c.mutate(ctx, s, doc, op, ir.PendingOp{Type: ir.PendingRename, Name: cleaned}, func() error {
		return c.backend.RenameList(ctx, s.ListID, cleaned)
	})
	if err == nil {
		s.ListName = cleaned
		if serr := c.store.SaveSession(ctx, s); serr != nil {
			return queued, serr
		}
		c.setSession(s)
	}
	return queued, err
}

// mutate applies op locally, then sends or queues pending. Ops on local ids
// are always queued.
func (c *Client) mutate(ctx context.Context, s ir.Session, doc ir.Doc, op ir.Op, pending ir.PendingOp, call func() error) (bool, error) {
	if _, err := c.applyLocal(ctx, doc, op); err != nil {
		return false, err
	}

	queued := engine.IsLocalID(pending.ItemID)
	if !queued {
		var err error
		queued, err = c.send(ctx, call)
		if err != nil {
			return false, fmt.Errorf("%s: %w", pending.Type, err)
		}
	}
	if queued {
		if err := c.queue(ctx, s, pending); err != nil {
			return false, err
		}
	}
	return queued, nil
}

// replay sends one queued op. skipped is true for item ops on local ids,
// which never reached the backend and cannot be addressed there.
func (c *Client) replay(ctx context.Context, listID string, op ir.PendingOp) (skipped bool, err error) {
	switch op.Type {
	case ir.PendingAdd:
		_, err = c.backend.InsertItem(ctx, listID, op.Text, op.Checked)
	case ir.PendingToggle, ir.PendingEdit, ir.PendingRemove:
		if engine.IsLocalID(op.ItemID) {
			return true, nil
		}
		switch op.Type {
		case ir.PendingToggle:
			err = c.backend.UpdateItemChecked(ctx, op.ItemID, op.Checked)
		case ir.PendingEdit:
			err = c.backend.UpdateItemText(ctx, op.ItemID, op.Text)
		default:
			err = c.backend.DeleteItem(ctx, op.ItemID)
		}
	case ir.PendingRename:
		err = c.backend.RenameList(ctx, listID, op.Name)
	default:
		return true, nil
	}
	return false, err
}

// Flush replays the offline queue in order. It stops at the first failure
// and keeps that op and everything after it for the next flush. The list
// is refreshed afterwards. Returns how many ops reached the backend.
func (c *Client) Flush(ctx context.Context) (int, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	if !c.Online() {
		return 0, fmt.Errorf("flush: %w", ErrOffline)
	}

	ops, err := c.store.Pending(ctx, s.ListID)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}

	sent, done := 0, len(ops)
	var failure error
	for i, op := range ops {
		skipped, err := c.replay(ctx, s.ListID, op)
		if err != nil {
			c.noteFailure(err)
			done = i
			failure = fmt.Errorf("flush %s: %w", op.Type, err)
			break
		}
		if skipped {
			slog.Debug("skipping queued op on local id", "type", op.Type, "item_id", op.ItemID)
			continue
		}
		sent++
	}

	if err := c.store.DropPending(ctx, s.ListID, done); err != nil {
		return sent, err
	}
	slog.Info("flushed offline queue", "list_id", s.ListID, "sent", sent, "remaining", len(ops)-done)

	if _, err := c.Refresh(ctx); err != nil {
		slog.Warn("refresh after flush failed", "error", err)
	}
	return sent, failure
}

// Refresh loads the list from the backend and replaces the cache with it.
// When the backend cannot be reached the cached document is returned with
// Stale set; having no cache either is an error.
func (c *Client) Refresh(ctx context.Context) (View, error) {
	s, err := c.current()
	if err != nil {
		return View{}, err
	}

	snap, err := c.backend.LoadList(ctx, s.ListID)
	if err != nil {
		c.noteFailure(err)
		doc, ok, lerr := c.store.LoadDoc(ctx, s.ListID)
		if lerr != nil {
			return View{}, lerr
		}
		if !ok {
			return View{}, fmt.Errorf("refresh %s: %w", s.ListID, err)
		}
		c.mu.Lock()
		members := c.members
		c.mu.Unlock()
		return View{Doc: doc, Members: members, Stale: true}, nil
	}

	doc := SnapshotDoc(snap)
	if err := c.store.SaveDoc(ctx, doc); err != nil {
		return View{}, err
	}
	if snap.List.Name != s.ListName {
		s.ListName = snap.List.Name
		if err := c.store.SaveSession(ctx, s); err != nil {
			return View{}, err
		}
		c.setSession(s)
	}

	members := max(1, snap.Members)
	c.mu.Lock()
	c.members = members
	c.mu.Unlock()
	return View{Doc: doc, Members: members}, nil
}

// Watch refreshes on every backend change until ctx ends, calling fn with
// each new view. It returns ctx's error once ctx ends.
//
// A dropped change feed is logged and resubscribed with backoff. Every
// successful subscribe marks the client online and replays the offline
// queue; after a drop the list is also refreshed, since changes made in the
// gap were never announced.
func (c *Client) Watch(ctx context.Context, fn func(View)) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		changes, err := c.subscribe(ctx, s.ListID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch %s: %w", s.ListID, err)
		}
		c.reconnected(ctx, attempt > 0, fn)

		if err := c.follow(ctx, changes, fn); err != nil {
			return err
		}
		slog.Warn("change feed dropped, resubscribing", "list_id", s.ListID)
	}
}

// subscribe opens the change feed, retrying while the backend is offline.
// Any other failure is permanent.
func (c *Client) subscribe(ctx context.Context, listID string) (<-chan Change, error) {
	var changes <-chan Change
	op := func() error {
		ch, err := c.backend.Subscribe(ctx, listID)
		if err != nil {
			c.noteFailure(err)
			if errors.Is(err, ErrOffline) {
				return err
			}
			return backoff.Permanent(err)
		}
		changes = ch
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("subscribe failed", "list_id", listID, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackoff(), ctx), notify); err != nil {
		return nil, err
	}
	return changes, nil
}

// reconnected runs once the change feed is up.
func (c *Client) reconnected(ctx context.Context, resumed bool, fn func(View)) {
	c.SetOnline(true)
	if _, err := c.Flush(ctx); err != nil {
		slog.Warn("replaying offline queue failed", "error", err)
	}
	if !resumed {
		return
	}
	view, err := c.Refresh(ctx)
	if err != nil {
		slog.Warn("refresh after resubscribe failed", "error", err)
		return
	}
	fn(view)
}

// follow refreshes on each change until the feed closes (nil) or ctx ends.
func (c *Client) follow(ctx context.Context, changes <-chan Change, fn func(View)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			slog.Debug("remote change", "table", change.Table, "list_id", change.ListID)
			view, err := c.Refresh(ctx)
			if err != nil {
				slog.Warn("refresh after change failed", "error", err)
				continue
			}
			fn(view)
		}
	}
}

// SnapshotDoc converts a backend snapshot into a document. Item timestamps
// become Unix milliseconds; the watermark is the newest of them.
func SnapshotDoc(snap Snapshot) ir.Doc {
	doc := ir.NewDoc(snap.List.ID)
	doc.ListName = snap.List.Name
	for _, it := range snap.Items {
		ts := it.UpdatedAt.UnixMilli()
		doc.Items[it.ID] = ir.Item{
			ID:        it.ID,
			Text:      it.Text,
			Checked:   it.Checked,
			UpdatedAt: ts,
		}
		doc.UpdatedAt = max(doc.UpdatedAt, ts)
	}
	return doc
}
