package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/inventory"
)

type inventoryView []inventory.Entry

func (v inventoryView) WriteText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "Inventory is empty.")
		return err
	}
	for _, e := range v {
		if _, err := fmt.Fprintf(w, "%5d  %s %s\n", e.Amount, e.Spell.Emoji, e.Spell.Name); err != nil {
			return err
		}
	}
	return nil
}

type grantView struct {
	Spell string `json:"spell"`
	Total int64  `json:"total"`
}

func (v grantView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: %d\n", v.Spell, v.Total)
	return err
}

// NewInventoryCommand creates the inventory command.
func NewInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	var playerName string

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List what a player holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				userID, err := a.playerID(ctx, playerName)
				if err != nil {
					return err
				}
				entries, err := a.svc.Inventory(ctx, userID)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []inventory.Entry{}
				}
				return rootOpts.formatter(cmd).Success(inventoryView(entries))
			})
		},
	}
	cmd.Flags().StringVar(&playerName, "player", "", "player to list (required)")
	return cmd
}

// NewGrantCommand creates the grant command.
func NewGrantCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		playerName string
		amount     int64
	)

	cmd := &cobra.Command{
		Use:   "grant <spell>",
		Short: "Give a player units of a spell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				userID, err := a.playerID(ctx, playerName)
				if err != nil {
					return err
				}
				spellID, err := a.spellID(ctx, args[0])
				if err != nil {
					return err
				}
				total, err := a.svc.Grant(ctx, userID, spellID, amount)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(grantView{Spell: args[0], Total: total})
			})
		},
	}
	cmd.Flags().StringVar(&playerName, "player", "", "player to grant to (required)")
	cmd.Flags().Int64Var(&amount, "amount", 1, "units to add")
	return cmd
}
