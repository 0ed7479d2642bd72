package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "create <list-name>",
		Short: "Create a list and make this device its owner",
		Long: `Create a new list. The list id is derived from a fresh invite code;
share the code (or link) so other devices can join.

Example:
  shoplist create Groceries --user Ann`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer d.Close()

			s, err := engine.CreateSession(rootOpts.ids(), user, args[0])
			if err != nil {
				return d.fail("create list", err)
			}
			return d.adopt(cmd, s, engine.NewListDoc(s, rootOpts.clock()))
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "display name on this device")
	return cmd
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "join <invite-code>",
		Short: "Join a list by invite code",
		Long: `Join the list behind an invite code. The code is case-insensitive.
Items arrive from the first peer met by run.

Rejoining the list this device already belongs to keeps its actor id and
its cached items.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			prev, _, err := d.store.LoadSession(ctx)
			if err != nil {
				return d.out.Fail(ExitCommandError, ErrCodeStorage, "load session", err)
			}
			s, err := engine.JoinSession(rootOpts.ids(), prev, user, args[0])
			if err != nil {
				return d.fail("join list", err)
			}

			cached, ok, err := d.store.LoadDoc(ctx, s.ListID)
			if err != nil {
				return d.out.Fail(ExitCommandError, ErrCodeStorage, "load list", err)
			}
			doc := engine.SeedDoc(s, cached, ok)
			s.ListName = doc.ListName
			return d.adopt(cmd, s, doc)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "display name on this device")
	return cmd
}

// adopt persists s and its seed document and prints the session.
func (d *device) adopt(cmd *cobra.Command, s ir.Session, doc ir.Doc) error {
	ctx := cmd.Context()
	if err := d.store.SaveSession(ctx, s); err != nil {
		return d.out.Fail(ExitCommandError, ErrCodeStorage, "save session", err)
	}
	if err := d.store.SaveDoc(ctx, doc); err != nil {
		return d.out.Fail(ExitCommandError, ErrCodeStorage, "save list", err)
	}
	return d.out.Success(newSessionView(s, d.opts.Config.InviteBaseURL, len(doc.Items)))
}

// NewLeaveCommand creates the leave command.
func NewLeaveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Forget the joined list on this device",
		Long:  "Forget the joined list. Cached items stay on disk and are reused on rejoin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer d.Close()

			s, err := d.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.store.ClearSession(cmd.Context()); err != nil {
				return d.out.Fail(ExitCommandError, ErrCodeStorage, "clear session", err)
			}
			return d.out.Success(changeView{Action: "left", Text: s.ListName})
		},
	}
}

// NewInviteCommand creates the invite command.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invite",
		Short: "Print the invite code and link of the joined list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer d.Close()

			s, err := d.session(cmd.Context())
			if err != nil {
				return err
			}
			link := engine.InviteLink(rootOpts.Config.InviteBaseURL, s.InviteCode)
			if rootOpts.Format == "json" {
				return d.out.Success(map[string]string{"invite_code": s.InviteCode, "invite_link": link})
			}
			return d.out.Success(s.InviteCode + "\n" + link)
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the joined list and this device's identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			s, err := d.session(ctx)
			if err != nil {
				return err
			}
			doc, ok, err := d.store.LoadDoc(ctx, s.ListID)
			if err != nil {
				return d.out.Fail(ExitCommandError, ErrCodeStorage, "load list", err)
			}
			doc = engine.SeedDoc(s, doc, ok)
			pending, err := d.store.Pending(ctx, s.ListID)
			if err != nil {
				return d.out.Fail(ExitCommandError, ErrCodeStorage, "load queue", err)
			}

			s.ListName = doc.ListName
			view := newSessionView(s, rootOpts.Config.InviteBaseURL, len(doc.Items))
			view.Pending = len(pending)
			return d.out.Success(view)
		},
	}
}
