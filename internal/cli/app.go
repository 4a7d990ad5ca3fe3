package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/config"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/game"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/provider/openai"
	"github.com/roach88/semantica/internal/provider/table"
	"github.com/roach88/semantica/internal/store"
	"github.com/roach88/semantica/internal/telemetry"
)

// defaultTable names products after their ingredients when no table file
// is configured.
var defaultTable = table.File{
	Fallback: &table.Template{
		Name:        `{{join .Names "-"}}`,
		Emoji:       "✨",
		Description: `A blend of {{join .Names " and "}}.`,
	},
}

// app is an opened game for the duration of one command.
type app struct {
	svc      *game.Service
	store    *store.Store
	shutdown func(context.Context) error
	logger   *slog.Logger
}

// openApp opens the configured database and provider.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := newProvider(cfg.Provider, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure provider", err)
	}
	duplicates, err := crafting.ParseDuplicatePolicy(string(cfg.Crafting.Duplicates))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}

	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	svc := game.New(st, provider,
		game.WithIDs(ident.UUIDv7Generator{}),
		game.WithLogger(logger),
		game.WithCreditProduct(cfg.Crafting.CreditProduct),
		game.WithLimits(game.Limits{
			DefaultParagraphs: cfg.Nodes.DefaultParagraphs,
			MaxParagraphs:     cfg.Nodes.MaxParagraphs,
			DefaultNodes:      cfg.Nodes.DefaultNodes,
			MaxNodes:          cfg.Nodes.MaxNodes,
		}),
		game.WithResolverOptions(
			crafting.WithDuplicatePolicy(duplicates),
			crafting.WithMaxIngredients(cfg.Crafting.MaxIngredients),
		),
	)
	return &app{svc: svc, store: st, shutdown: shutdown, logger: logger}, nil
}

// Close releases the database and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.store.Close(), a.shutdown(ctx))
}

func newProvider(cfg config.ProviderConfig, logger *slog.Logger) (crafting.Provider, error) {
	switch cfg.Kind {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	case config.ProviderTable:
		if cfg.TableFile == "" {
			return table.New(defaultTable)
		}
		return table.Load(cfg.TableFile)
	}
	return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
}

// withApp opens the game, runs fn, and closes the game.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(ctx); closeErr != nil {
			a.logger.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(ctx, a)
}

// playerID resolves a player flag. An empty name is a usage error.
func (a *app) playerID(ctx context.Context, name string) (player.ID, error) {
	if name == "" {
		return "", NewExitError(ExitCommandError, "--player is required")
	}
	u, err := a.svc.PlayerByName(ctx, name)
	if err != nil {
		return "", err
	}
	return u.UserID, nil
}

// spellID resolves a spell given by id or by name.
func (a *app) spellID(ctx context.Context, ref string) (string, error) {
	if ident.Valid(ref) {
		return ref, nil
	}
	sp, err := a.svc.SpellByName(ctx, ref)
	if err != nil {
		return "", err
	}
	return sp.SpellID, nil
}
