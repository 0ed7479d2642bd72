package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/config"
	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string
	Store      string // "sqlite" | "bolt"

	// Config is resolved in PersistentPreRunE: file, then environment,
	// then the flags above.
	Config config.Config

	// Clock and IDs override time and id sources (for testing).
	// If nil, the wall clock and UUIDv7 ids are used.
	Clock engine.Clock
	IDs   engine.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the shoplist CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shoplist",
		Short:   "Shared shopping lists that sync peer to peer",
		Version: ir.Version,
		Long: `shoplist keeps a shopping list in sync across devices.

Create a list, share its invite code, and every device that joins with
the code converges on the same items. Devices exchange changes directly
over Redis or websockets; the last write to an item wins. The remote
commands use a shared Postgres backend instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose, slog.LevelWarn)
			return resolveConfig(cmd, opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a CUE config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the device database")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "device store (sqlite|bolt)")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewLeaveCommand(opts))
	cmd.AddCommand(NewInviteCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRemoteCommand(opts))

	return cmd
}

// resolveConfig loads the config file and environment, then applies the
// global flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = opts.DBPath
	}
	if flags.Changed("store") {
		cfg.Store = opts.Store
	}
	if err := cfg.Validate(); err != nil {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	opts.Config = cfg
	return nil
}

// setupLogging installs a text slog handler on w. Verbose lowers the level
// to debug.
func setupLogging(w io.Writer, verbose bool, level slog.Level) {
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) clock() engine.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return engine.NewWallClock()
}

func (o *RootOptions) ids() engine.IDGenerator {
	if o.IDs != nil {
		return o.IDs
	}
	return engine.UUIDGenerator{}
}
