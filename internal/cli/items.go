package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "Print the items of the joined list",
		Long: `Print the items of the joined list as this device last saw them:
unchecked items first, most recently changed first.`,
		Args: cobra.NoArgs,
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
			r, err := d.replica(ctx, s, nil)
			if err != nil {
				return err
			}
			return d.out.Success(newListView(r.Doc()))
		},
	}
}

// mutation builds an op against the replica's current document.
type mutation func(a engine.Actions, doc ir.Doc) (ir.Op, error)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>...",
		Short: "Add an item",
		Long: `Add an unchecked item. The change is saved on this device and spreads
to peers the next time run is active.

Example:
  shoplist add oat milk`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return mutate(cmd, rootOpts, "added", func(a engine.Actions, doc ir.Doc) (ir.Op, error) {
				return a.AddItem(text)
			})
		},
	}
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <item-id> <text>...",
		Short: "Replace an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return mutate(cmd, rootOpts, "edited", func(a engine.Actions, doc ir.Doc) (ir.Op, error) {
				return a.EditItem(doc, resolveItem(doc, args[0]), text)
			})
		},
	}
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <item-id>",
		Short: "Check or uncheck an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, "toggled", func(a engine.Actions, doc ir.Doc) (ir.Op, error) {
				return a.ToggleItem(doc, resolveItem(doc, args[0]))
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <item-id>",
		Aliases: []string{"remove"},
		Short:   "Remove an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, "removed", func(a engine.Actions, doc ir.Doc) (ir.Op, error) {
				return a.RemoveItem(doc, resolveItem(doc, args[0]))
			})
		},
	}
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <list-name>...",
		Short: "Rename the joined list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return mutate(cmd, rootOpts, "renamed", func(a engine.Actions, doc ir.Doc) (ir.Op, error) {
				return a.RenameList(name)
			})
		},
	}
}

// mutate applies one local op to the persisted document.
func mutate(cmd *cobra.Command, rootOpts *RootOptions, action string, build mutation) error {
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
	r, err := d.replica(ctx, s, nil)
	if err != nil {
		return err
	}

	op, err := build(r.Actions(), r.Doc())
	if err != nil {
		return d.fail(action, err)
	}
	if _, err := r.HandleLocalOp(ctx, op); err != nil {
		return d.out.Fail(ExitCommandError, ErrCodeStorage, "save list", err)
	}
	if rn, ok := op.(ir.Rename); ok {
		s.ListName = rn.ListName
		if err := d.store.SaveSession(ctx, s); err != nil {
			return d.out.Fail(ExitCommandError, ErrCodeStorage, "save session", err)
		}
	}
	return d.out.Success(describe(action, op))
}

func describe(action string, op ir.Op) changeView {
	v := changeView{Action: action}
	switch o := op.(type) {
	case ir.Upsert:
		v.ItemID, v.Text = o.Item.ID, o.Item.Text
	case ir.Toggle:
		v.ItemID = o.ItemID
		if o.Checked {
			v.Action = "checked"
		} else {
			v.Action = "unchecked"
		}
	case ir.Remove:
		v.ItemID = o.ItemID
	case ir.Rename:
		v.Text = o.ListName
	}
	return v
}
