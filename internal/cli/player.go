package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/player"
)

type playerView struct {
	player.User
}

func (v playerView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s (%s) at node %s\n", v.Name, v.UserID, v.InNode)
	return err
}

// NewPlayerCommand creates the player command group.
func NewPlayerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Manage players",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a player at the default root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				u, err := a.svc.RegisterPlayer(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(playerView{u})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a player and where they are",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				u, err := a.svc.PlayerByName(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(playerView{u})
			})
		},
	})

	return cmd
}
