package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/game"
	"github.com/roach88/semantica/internal/graph"
)

// NodeOptions holds flags shared by the node subcommands.
type NodeOptions struct {
	*RootOptions
	Player          string
	Spell           string
	Start           string
	LimitNodes      int
	LimitParagraphs int
}

type nodeView struct {
	graph.Node
}

func (v nodeView) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Node %s\n", v.NodeID)
	if v.Parent != nil {
		fmt.Fprintf(w, "  parent: %s", v.Parent.NodeID)
		if f := v.Parent.Fork; f != nil && f.Spell != nil {
			fmt.Fprintf(w, " (fork %d via %s %s)", f.Position, f.Spell.Emoji, f.Spell.Name)
		}
		fmt.Fprintln(w)
	}
	if v.NaturalChild != "" {
		fmt.Fprintf(w, "  next: %s\n", v.NaturalChild)
	}
	for _, fc := range v.ForkChildren {
		name := ""
		if fc.Fork.Spell != nil {
			name = fc.Fork.Spell.Emoji + " " + fc.Fork.Spell.Name
		}
		fmt.Fprintf(w, "  fork %d: %s (%s)\n", fc.Fork.Position, fc.NodeID, name)
	}
	_, err := fmt.Fprintf(w, "\n%s\n", v.Content.Text())
	return err
}

type historyView struct {
	game.NodesResponse
}

// WriteText prints oldest first so the story reads top to bottom.
func (v historyView) WriteText(w io.Writer) error {
	for i := len(v.Nodes) - 1; i >= 0; i-- {
		n := v.Nodes[i]
		fmt.Fprintf(w, "[%s]\n%s\n\n", n.NodeID, n.Content.Text())
	}
	_, err := fmt.Fprintf(w, "%d node(s), %d paragraph(s), stopped at %s\n",
		v.Stats.Nodes, v.Stats.Paragraphs, v.Stats.Stop)
	return err
}

// NewNodeCommand creates the node command group.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Read and write the story graph",
	}

	show := &cobra.Command{
		Use:   "show [node-id]",
		Short: "Show a node, or the player's current node",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				var (
					n   graph.Node
					err error
				)
				if len(args) == 1 {
					n, err = a.svc.Node(ctx, args[0])
				} else {
					userID, perr := a.playerID(ctx, opts.Player)
					if perr != nil {
						return perr
					}
					n, err = a.svc.CurrentNode(ctx, userID)
				}
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(nodeView{n})
			})
		},
	}
	show.Flags().StringVar(&opts.Player, "player", "", "player whose current node to show")

	history := &cobra.Command{
		Use:   "history",
		Short: "Read back through a node's ancestors",
		Long: `Read back from a node through its parents, nearest first.

Starts at --start, or at the player's current node. The walk stops at a
root or when either limit is reached; the start node is always included.

Example:
  semantica node history --player alice --limit-paragraphs 40`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				req := game.NodesRequest{
					StartID:         opts.Start,
					LimitNodes:      opts.LimitNodes,
					LimitParagraphs: opts.LimitParagraphs,
				}
				if opts.Player != "" {
					userID, err := a.playerID(ctx, opts.Player)
					if err != nil {
						return err
					}
					req.UserID = userID
				} else if opts.Start == "" {
					return NewExitError(ExitCommandError, "--player or --start is required")
				}
				resp, err := a.svc.Nodes(ctx, req)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(historyView{resp})
			})
		},
	}
	history.Flags().StringVar(&opts.Player, "player", "", "player whose current node to start from")
	history.Flags().StringVar(&opts.Start, "start", "", "node id to start from")
	history.Flags().IntVar(&opts.LimitNodes, "limit-nodes", 0, "maximum nodes (0 for the configured default)")
	history.Flags().IntVar(&opts.LimitParagraphs, "limit-paragraphs", 0, "paragraph budget (0 for the configured default)")

	advance := &cobra.Command{
		Use:   "advance <text>",
		Short: "Write the next node and move onto it",
		Long: `Write text as a new node under the player's current node.

Without --spell the node is the natural continuation. With --spell it opens
a fork at the next free position; the player must hold the spell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				userID, err := a.playerID(ctx, opts.Player)
				if err != nil {
					return err
				}
				spellID := ""
				if opts.Spell != "" {
					if spellID, err = a.spellID(ctx, opts.Spell); err != nil {
						return err
					}
				}
				n, err := a.svc.Advance(ctx, userID, args[0], spellID)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(nodeView{n})
			})
		},
	}
	advance.Flags().StringVar(&opts.Player, "player", "", "player who writes (required)")
	advance.Flags().StringVar(&opts.Spell, "spell", "", "spell name or id that opens a fork")

	follow := &cobra.Command{
		Use:   "follow <node-id>",
		Short: "Move onto a child of the current node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				userID, err := a.playerID(ctx, opts.Player)
				if err != nil {
					return err
				}
				n, err := a.svc.Follow(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(nodeView{n})
			})
		},
	}
	follow.Flags().StringVar(&opts.Player, "player", "", "player who moves (required)")

	cmd.AddCommand(show, history, advance, follow)
	return cmd
}
