package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/config"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	ConfigFile string
	DBPath     string
	Format     string // "json" | "text"
	Verbose    bool

	// Config is loaded before any subcommand runs.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the semantica CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "semantica",
		Short: "Semantica - a branching story you craft your way through",
		Long: `Semantica keeps a branching story graph and a crafting table.

Players read the story from a node back through its ancestors, combine
spells into new ones, and spend what they craft to open forks in the story.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default semantica.yaml in . or $HOME)")
	flags.StringVar(&opts.DBPath, "db", "", "path to SQLite database (default semantica.db)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewPlayerCommand(opts))
	cmd.AddCommand(NewNodeCommand(opts))
	cmd.AddCommand(NewCraftCommand(opts))
	cmd.AddCommand(NewInventoryCommand(opts))
	cmd.AddCommand(NewGrantCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// load reads configuration, with explicitly set flags taking precedence over
// the environment and the config file, and installs the logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	v, err := config.New(o.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	flags := cmd.Flags()
	if f := flags.Lookup("db"); f != nil && f.Changed {
		v.Set("db_path", o.DBPath)
	}
	if f := flags.Lookup("verbose"); f != nil && f.Changed {
		v.Set("verbose", o.Verbose)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg
	o.Verbose = cfg.Verbose

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // keeps JSON on stdout clean
		Verbose:   o.Verbose,
	}
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported once, in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		return exitErr.Code
	}
	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && f.Value.String() == "json" {
		format = "json"
	}
	f := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
	_ = f.Error(err)
	return GetExitCode(err)
}
