package cli

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/remote"
)

// RemoteOptions holds flags for the remote commands.
type RemoteOptions struct {
	*RootOptions
	DatabaseURL string
}

// NewRemoteCommand creates the remote command group.
func NewRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Use a shared Postgres backend instead of peers",
		Long: `The remote commands keep the list in a shared Postgres database.

Every device reads and writes the server copy. When the server cannot be
reached, changes are applied to this device's copy and queued; the queue
is replayed in order by the next remote command that reaches the server,
or explicitly by remote sync.`,
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "Postgres URL of the shared backend")

	cmd.AddCommand(newRemoteCreateCommand(opts))
	cmd.AddCommand(newRemoteJoinCommand(opts))
	cmd.AddCommand(newRemoteSyncCommand(opts))
	cmd.AddCommand(newRemoteListCommand(opts))
	cmd.AddCommand(newRemoteMutationCommand(opts, "add <text>...", "Add an item", 1))
	cmd.AddCommand(newRemoteMutationCommand(opts, "edit <item-id> <text>...", "Replace an item's text", 2))
	cmd.AddCommand(newRemoteMutationCommand(opts, "toggle <item-id>", "Check or uncheck an item", 1))
	cmd.AddCommand(newRemoteMutationCommand(opts, "rm <item-id>", "Remove an item", 1))
	cmd.AddCommand(newRemoteMutationCommand(opts, "rename <list-name>...", "Rename the list", 1))

	return cmd
}

// remoteSession is an open client plus the device it caches to.
type remoteSession struct {
	*device
	client *remote.Client
}

// openRemote connects to the backend. An unreachable server is not an
// error: the client starts offline and works from the cache.
func openRemote(cmd *cobra.Command, opts *RemoteOptions) (*remoteSession, func(), error) {
	d, err := openDevice(cmd, opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}

	url := opts.Config.DatabaseURL
	if cmd.Flags().Changed("database-url") {
		url = opts.DatabaseURL
	}
	if url == "" {
		d.Close()
		return nil, nil, d.out.Fail(ExitCommandError, ErrCodeConfig, "no database URL (set --database-url or SHOPLIST_DATABASE_URL)", nil)
	}

	ctx := cmd.Context()
	var backend remote.Backend
	closeBackend := func() {}
	pg, err := remote.OpenPostgres(ctx, url)
	switch {
	case err == nil:
		backend = pg
		closeBackend = pg.Close
	case errors.Is(err, remote.ErrOffline):
		slog.Warn("remote backend unreachable, working offline", "error", err)
		backend = remote.Unreachable{Err: err}
	default:
		d.Close()
		return nil, nil, d.fail("open remote backend", err)
	}

	clientOpts := []remote.ClientOption{remote.WithClientIDs(opts.ids())}
	if opts.Clock != nil {
		clientOpts = append(clientOpts, remote.WithClientClock(opts.Clock))
	}
	client := remote.NewClient(backend, d.store, clientOpts...)
	if _, ok := backend.(remote.Unreachable); ok {
		client.SetOnline(false)
	}

	cleanup := func() {
		closeBackend()
		d.Close()
	}
	return &remoteSession{device: d, client: client}, cleanup, nil
}

// resume restores the session and, when online, replays queued changes
// first so new changes land after them.
func (rs *remoteSession) resume(ctx context.Context) (ir.Session, error) {
	s, ok, err := rs.client.Resume(ctx)
	if err != nil {
		return ir.Session{}, rs.out.Fail(ExitCommandError, ErrCodeStorage, "load session", err)
	}
	if !ok {
		return ir.Session{}, rs.out.Fail(ExitFailure, ErrCodeNoSession, "no list joined on this device (use remote create or remote join)", nil)
	}
	if rs.client.Online() {
		if sent, err := rs.client.Flush(ctx); err != nil {
			slog.Warn("queued changes not replayed", "sent", sent, "error", err)
		}
	}
	return s, nil
}

func (rs *remoteSession) view(ctx context.Context, v remote.View) listView {
	out := newListView(v.Doc)
	out.Members = v.Label()
	out.Stale = v.Stale
	if s, ok := rs.client.Session(); ok {
		if pending, err := rs.store.Pending(ctx, s.ListID); err == nil {
			out.Pending = len(pending)
		}
	}
	return out
}

func newRemoteCreateCommand(opts *RemoteOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "create <list-name>",
		Short: "Create a list on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, cleanup, err := openRemote(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := rs.client.Create(cmd.Context(), user, args[0])
			if err != nil {
				return rs.fail("create list", err)
			}
			return rs.out.Success(newSessionView(s, opts.Config.InviteBaseURL, 0))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "display name on this device")
	return cmd
}

func newRemoteJoinCommand(opts *RemoteOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "join <invite-code>",
		Short: "Join a list on the backend by invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, cleanup, err := openRemote(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			s, err := rs.client.Join(ctx, user, args[0])
			if err != nil {
				return rs.fail("join list", err)
			}
			items := 0
			if doc, ok, err := rs.store.LoadDoc(ctx, s.ListID); err == nil && ok {
				items = len(doc.Items)
			}
			return rs.out.Success(newSessionView(s, opts.Config.InviteBaseURL, items))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "display name on this device")
	return cmd
}

func newRemoteSyncCommand(opts *RemoteOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes and fetch the list",
		Long: `Replay changes queued while offline, in the order they were made, then
fetch the list. Replay stops at the first change the server rejects; it
and every later change stay queued.

With --watch, keep printing the list whenever anyone changes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, cleanup, err := openRemote(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if _, err := rs.resume(ctx); err != nil {
				return err
			}
			v, err := rs.client.Refresh(ctx)
			if err != nil {
				return rs.fail("fetch list", err)
			}
			if err := rs.out.Success(rs.view(ctx, v)); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			err = rs.client.Watch(ctx, func(v remote.View) {
				_ = rs.out.Success(rs.view(ctx, v))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return rs.fail("watch list", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep printing the list as it changes")
	return cmd
}

func newRemoteListCommand(opts *RemoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "Print the list, from the server when reachable",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, cleanup, err := openRemote(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if _, err := rs.resume(ctx); err != nil {
				return err
			}
			v, err := rs.client.Refresh(ctx)
			if err != nil {
				return rs.fail("fetch list", err)
			}
			return rs.out.Success(rs.view(ctx, v))
		},
	}
}

// newRemoteMutationCommand builds one of add, edit, toggle, rm and rename.
func newRemoteMutationCommand(opts *RemoteOptions, use, short string, minArgs int) *cobra.Command {
	verb, _, _ := strings.Cut(use, " ")
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, cleanup, err := openRemote(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			s, err := rs.resume(ctx)
			if err != nil {
				return err
			}
			change, err := rs.apply(ctx, s, verb, args)
			if err != nil {
				return rs.fail(verb, err)
			}
			return rs.out.Success(change)
		},
	}
}

func (rs *remoteSession) apply(ctx context.Context, s ir.Session, verb string, args []string) (changeView, error) {
	c := rs.client
	ref := func() (string, error) {
		doc, ok, err := rs.store.LoadDoc(ctx, s.ListID)
		if err != nil {
			return "", err
		}
		return resolveItem(engine.SeedDoc(s, doc, ok), args[0]), nil
	}

	switch verb {
	case "add":
		item, queued, err := c.AddItem(ctx, strings.Join(args, " "))
		return changeView{Action: "added", ItemID: item.ID, Text: item.Text, Queued: queued}, err
	case "rename":
		name := strings.Join(args, " ")
		queued, err := c.RenameList(ctx, name)
		return changeView{Action: "renamed", Text: engine.NormalizeName(name), Queued: queued}, err
	}

	id, err := ref()
	if err != nil {
		return changeView{}, err
	}
	var queued bool
	switch verb {
	case "edit":
		queued, err = c.EditItem(ctx, id, strings.Join(args[1:], " "))
		return changeView{Action: "edited", ItemID: id, Queued: queued}, err
	case "toggle":
		queued, err = c.ToggleItem(ctx, id)
		return changeView{Action: "toggled", ItemID: id, Queued: queued}, err
	default:
		queued, err = c.RemoveItem(ctx, id)
		return changeView{Action: "removed", ItemID: id, Queued: queued}, err
	}
}
