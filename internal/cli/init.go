package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/game"
	"github.com/roach88/semantica/internal/world"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Seed string
}

// initView renders an InitResult.
type initView struct {
	game.InitResult
}

func (v initView) WriteText(w io.Writer) error {
	if v.AlreadyInitialized {
		_, err := fmt.Fprintln(w, "World already initialized; nothing changed.")
		return err
	}
	_, err := fmt.Fprintf(w, "Initialized world: %d root(s), %d spell(s), %d player(s).\nDefault root: %s\n",
		len(v.Roots), len(v.Spells), len(v.Players), v.DefaultRoot)
	return err
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and seed the world",
		Long: `Create the database and seed it with roots, spells, and players.

The seed comes from --seed, then seed_file in the config, then the built-in
world. Running init again on a seeded database changes nothing.

Example:
  semantica init
  semantica init --db ./game.db --seed ./world.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Seed, "seed", "", "world seed YAML file")
	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	path := opts.Seed
	if path == "" {
		path = opts.Config.SeedFile
	}
	w := world.Default()
	if path != "" {
		formatter.VerboseLog("Loading world seed %s", path)
		loaded, err := world.Load(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid world seed", err)
		}
		w = loaded
	}

	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
		res, err := a.svc.Initialize(ctx, w)
		if err != nil {
			return err
		}
		return formatter.Success(initView{res})
	})
}
