package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/crafting"
)

type craftView struct {
	crafting.Result
}

func (v craftView) WriteText(w io.Writer) error {
	note := ""
	if v.FirstDiscovery {
		note = " (first discovery!)"
	}
	_, err := fmt.Fprintf(w, "%s %s%s\n%s\n", v.Product.Emoji, v.Product.Name, note, v.Product.Description)
	return err
}

// NewCraftCommand creates the craft command.
func NewCraftCommand(rootOpts *RootOptions) *cobra.Command {
	var playerName string

	cmd := &cobra.Command{
		Use:   "craft <spell> <spell>...",
		Short: "Combine spells into a new one",
		Long: `Combine spells, given by name or id, into a product.

The same ingredients always make the same product, whatever their order.
The first craft of a combination asks the provider to invent it.

Example:
  semantica craft --player alice water fire`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				userID, err := a.playerID(ctx, playerName)
				if err != nil {
					return err
				}
				ids := make([]string, len(args))
				for i, ref := range args {
					if ids[i], err = a.spellID(ctx, ref); err != nil {
						return err
					}
				}
				res, err := a.svc.Craft(ctx, userID, ids)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(craftView{res})
			})
		},
	}
	cmd.Flags().StringVar(&playerName, "player", "", "player who crafts (required)")
	return cmd
}
