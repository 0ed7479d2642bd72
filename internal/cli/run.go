package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/config"
	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
	"github.com/roach88/shoplist/internal/transport/memory"
	"github.com/roach88/shoplist/internal/transport/redisroom"
	"github.com/roach88/shoplist/internal/transport/wsmesh"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Transport string
	RedisURL  string
	Listen    string
	Peers     []string
	Discover  bool
	Relay     bool
	NoInput   bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the joined list in sync with peers",
		Long: `Start this device's replica and keep it in sync with every peer in the
room until interrupted.

Peers meet through a transport:
  memory   no peers; local changes are only saved (useful offline)
  redis    a Redis pub/sub channel named after the invite code
  ws       direct websocket links, to --peer addresses and/or peers found
           on the local network with --discover

While running, commands typed on stdin change the list:
  add <text> | edit <id> <text> | toggle <id> | rm <id> | rename <name>
  ls | peers

Example:
  shoplist run --transport redis --redis-url redis://localhost:6379/0
  shoplist run --transport ws --listen :7420 --peer 192.168.1.20:7420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			flags := cmd.Flags()
			if flags.Changed("transport") {
				cfg.Transport = opts.Transport
			}
			if flags.Changed("redis-url") {
				cfg.RedisURL = opts.RedisURL
			}
			if flags.Changed("listen") {
				cfg.Listen = opts.Listen
			}
			if flags.Changed("peer") {
				cfg.Peers = opts.Peers
			}
			if flags.Changed("discover") {
				cfg.Discover = opts.Discover
			}
			if flags.Changed("relay") {
				cfg.Relay = opts.Relay
			}
			if err := cfg.Validate(); err != nil {
				return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
			}
			return runReplica(cmd, opts, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.Transport, "transport", "memory", "peer transport (memory|redis|ws)")
	cmd.Flags().StringVar(&opts.RedisURL, "redis-url", "", "Redis URL for the redis transport")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address for the ws transport")
	cmd.Flags().StringSliceVar(&opts.Peers, "peer", nil, "peer address for the ws transport (repeatable)")
	cmd.Flags().BoolVar(&opts.Discover, "discover", false, "find ws peers on the local network via mDNS")
	cmd.Flags().BoolVar(&opts.Relay, "relay", false, "re-broadcast ops received from peers")
	cmd.Flags().BoolVar(&opts.NoInput, "no-input", false, "do not read commands from stdin")

	return cmd
}

func runReplica(cmd *cobra.Command, opts *RunOptions, cfg config.Config) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose, slog.LevelInfo)

	d, err := openDevice(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer d.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	s, err := d.session(ctx)
	if err != nil {
		return err
	}

	tr, cleanup, err := openTransport(ctx, cfg, s)
	if err != nil {
		return d.out.Fail(ExitCommandError, ErrCodeTransport, "open transport", err)
	}
	defer cleanup()

	var (
		printMu sync.Mutex
		r       *engine.Replica
	)
	show := func(doc ir.Doc) {
		view := newListView(doc)
		view.Members = engine.MemberLabel(len(r.Peers()) + 1)
		printMu.Lock()
		defer printMu.Unlock()
		_ = d.out.Success(view)
	}

	r, err = d.replica(ctx, s, tr,
		engine.WithGateInterval(cfg.GateInterval),
		engine.WithSnapshotInterval(cfg.SnapshotInterval),
		engine.WithRelay(cfg.Relay),
		engine.WithOnChange(show),
	)
	if err != nil {
		return err
	}

	if err := tr.Start(ctx); err != nil {
		return d.out.Fail(ExitCommandError, ErrCodeTransport, "start transport", err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			slog.Warn("close transport", "error", err)
		}
	}()
	if node, ok := tr.(*wsmesh.Node); ok {
		if err := startMesh(ctx, node, cfg); err != nil {
			return d.out.Fail(ExitCommandError, ErrCodeTransport, "start mesh", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if !opts.NoInput {
		go readCommands(ctx, cmd.InOrStdin(), r, func(v any) {
			printMu.Lock()
			defer printMu.Unlock()
			_ = d.out.Success(v)
		}, func(err error) {
			printMu.Lock()
			defer printMu.Unlock()
			_, code := classify(err)
			_ = d.out.Error(code, err.Error(), nil)
		})
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Syncing %q over %s. Press Ctrl-C to stop.\n", s.ListName, cfg.Transport)
	show(r.Doc())

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return d.out.Fail(ExitFailure, ErrCodeGeneric, "replica error", err)
	}

	slog.Info("replica stopped gracefully")
	return nil
}

// openTransport builds the configured transport for s's room. cleanup
// releases anything the transport itself does not own.
func openTransport(ctx context.Context, cfg config.Config, s ir.Session) (transport.Transport, func(), error) {
	room := ir.RoomID(s.InviteCode)
	switch cfg.Transport {
	case "redis":
		client, err := redisroom.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		tr := redisroom.New(client, s.ActorID, room, redisroom.WithHeartbeat(cfg.Heartbeat))
		return tr, func() { _ = client.Close() }, nil
	case "ws":
		return wsmesh.New(s.ActorID, room), func() {}, nil
	default:
		return memory.NewHub().Join(s.ActorID), func() {}, nil
	}
}

// startMesh opens the listener and the outbound links of a started node.
func startMesh(ctx context.Context, node *wsmesh.Node, cfg config.Config) error {
	addr, err := node.Listen(cfg.Listen)
	if err != nil {
		return err
	}
	for _, peer := range cfg.Peers {
		if err := node.Connect(peer); err != nil {
			return fmt.Errorf("connect %s: %w", peer, err)
		}
	}
	if !cfg.Discover {
		return nil
	}

	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listen address %s", addr)
	}
	if err := node.Advertise(tcp.Port); err != nil {
		return err
	}
	go func() {
		if err := node.Discover(ctx); err != nil {
			slog.Warn("peer discovery stopped", "error", err)
		}
	}()
	return nil
}

// readCommands turns stdin lines into ops for r until input or ctx ends.
func readCommands(ctx context.Context, in io.Reader, r *engine.Replica, emit func(any), report func(error)) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch verb {
		case "ls", "list":
			emit(newListView(r.Doc()))
			continue
		case "peers":
			emit(strings.Join(r.Peers(), "\n"))
			continue
		}

		op, err := parseCommand(r.Actions(), r.Doc(), verb, rest)
		if err != nil {
			report(err)
			continue
		}
		if !r.Submit(op) {
			return
		}
	}
}

// parseCommand builds the op for one typed command.
func parseCommand(a engine.Actions, doc ir.Doc, verb, rest string) (ir.Op, error) {
	switch verb {
	case "add":
		return a.AddItem(rest)
	case "edit":
		id, text, _ := strings.Cut(rest, " ")
		return a.EditItem(doc, resolveItem(doc, id), text)
	case "toggle":
		return a.ToggleItem(doc, resolveItem(doc, rest))
	case "rm", "remove":
		return a.RemoveItem(doc, resolveItem(doc, rest))
	case "rename":
		return a.RenameList(rest)
	default:
		return nil, fmt.Errorf("unknown command %q", verb)
	}
}
