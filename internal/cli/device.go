package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/boltstore"
	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/remote"
	"github.com/roach88/shoplist/internal/store"
	"github.com/roach88/shoplist/internal/transport"
)

// deviceStore is the local state of one device: session, cached documents
// and the offline queue of the remote variant.
type deviceStore interface {
	engine.Persister
	remote.Queue
	Close() error
}

func openStore(kind, path string) (deviceStore, error) {
	if kind == "bolt" {
		st, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// device bundles what a command needs: options, output and the open store.
type device struct {
	opts  *RootOptions
	out   *OutputFormatter
	store deviceStore
}

func openDevice(cmd *cobra.Command, opts *RootOptions) (*device, error) {
	out := opts.formatter(cmd)
	st, err := openStore(opts.Config.Store, opts.Config.DBPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStorage, "open device store", err)
	}
	out.VerboseLog("opened %s store at %s", opts.Config.Store, opts.Config.DBPath)
	return &device{opts: opts, out: out, store: st}, nil
}

func (d *device) Close() {
	if err := d.store.Close(); err != nil {
		d.out.VerboseLog("close store: %v", err)
	}
}

// session returns the joined session or reports that there is none.
func (d *device) session(ctx context.Context) (ir.Session, error) {
	s, ok, err := d.store.LoadSession(ctx)
	if err != nil {
		return ir.Session{}, d.out.Fail(ExitCommandError, ErrCodeStorage, "load session", err)
	}
	if !ok {
		return ir.Session{}, d.out.Fail(ExitFailure, ErrCodeNoSession, "no list joined on this device (use create or join)", nil)
	}
	return s, nil
}

// replica restores the session's replica from the cache. tr may be nil for
// one-shot commands.
func (d *device) replica(ctx context.Context, s ir.Session, tr transport.Transport, opts ...engine.ReplicaOption) (*engine.Replica, error) {
	cached, ok, err := d.store.LoadDoc(ctx, s.ListID)
	if err != nil {
		return nil, d.out.Fail(ExitCommandError, ErrCodeStorage, "load list", err)
	}
	base := []engine.ReplicaOption{engine.WithIDGenerator(d.opts.ids())}
	if d.opts.Clock != nil {
		base = append(base, engine.WithClock(d.opts.Clock))
	}
	return engine.NewReplica(s, engine.SeedDoc(s, cached, ok), d.store, tr, append(base, opts...)...), nil
}

// fail reports err under the code its kind maps to.
func (d *device) fail(message string, err error) error {
	exit, code := classify(err)
	return d.out.Fail(exit, code, message, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrEmptyText),
		errors.Is(err, engine.ErrEmptyName),
		errors.Is(err, engine.ErrEmptyInviteCode):
		return ExitFailure, ErrCodeBadInput
	case errors.Is(err, engine.ErrUnknownItem):
		return ExitFailure, ErrCodeUnknownItem
	case errors.Is(err, remote.ErrOffline):
		return ExitCommandError, ErrCodeOffline
	case errors.Is(err, remote.ErrListNotFound),
		errors.Is(err, remote.ErrItemNotFound),
		errors.Is(err, remote.ErrInviteTaken),
		errors.Is(err, remote.ErrAuth):
		return ExitFailure, ErrCodeRemote
	default:
		return ExitCommandError, ErrCodeGeneric
	}
}

// resolveItem finds the item ref names: an exact id, or a prefix or suffix
// matching exactly one id. Returns ref unchanged when nothing matches so the
// caller reports it as unknown.
func resolveItem(doc ir.Doc, ref string) string {
	if _, ok := doc.Items[ref]; ok || ref == "" {
		return ref
	}
	match := ""
	for id := range doc.Items {
		if strings.HasPrefix(id, ref) || strings.HasSuffix(id, ref) {
			if match != "" {
				return ref
			}
			match = id
		}
	}
	if match == "" {
		return ref
	}
	return match
}
