package game

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/graph"
	"github.com/roach88/semantica/internal/store"
	"github.com/roach88/semantica/internal/world"
)

// InitResult summarizes world initialization.
type InitResult struct {
	AlreadyInitialized bool              `json:"already_initialized"`
	DefaultRoot        string            `json:"default_root,omitempty"`
	Roots              []string          `json:"roots,omitempty"`
	Spells             map[string]string `json:"spells,omitempty"`
	Players            map[string]string `json:"players,omitempty"`
}

// Initialize seeds an empty database with w. It runs at most once per
// database; later calls report AlreadyInitialized and change nothing.
//
// The first root becomes the default root. Seed players start there with
// their grants.
func (s *Service) Initialize(ctx context.Context, w world.World) (res InitResult, err error) {
	ctx, span := s.start(ctx, "Initialize",
		attribute.Int("roots", len(w.Roots)),
		attribute.Int("spells", len(w.Spells)),
		attribute.Int("players", len(w.Players)))
	defer func() { s.end(span, "Initialize", err) }()

	if len(w.Roots) == 0 {
		return InitResult{}, apperror.Validation("world has no roots")
	}
	if errs := world.Validate(w); len(errs) > 0 {
		return InitResult{}, apperror.Validation("invalid world: %v", errs[0])
	}

	err = s.withTx(ctx, func(tx *store.Tx) error {
		var done bool
		if _, err := tx.GetProperty(ctx, store.PropertyInitialized, &done); err != nil {
			return apperror.Internal("read initialization flag", err)
		}
		if done {
			res.AlreadyInitialized = true
			return nil
		}

		for _, r := range w.Roots {
			n, err := s.graph.Insert(ctx, tx, graph.Draft{Content: graph.NewContent(r.Text)})
			if err != nil {
				return err
			}
			res.Roots = append(res.Roots, n.NodeID)
		}
		res.DefaultRoot = res.Roots[0]
		if err := s.graph.SetDefaultRoot(ctx, tx, res.DefaultRoot); err != nil {
			return err
		}

		res.Spells = make(map[string]string, len(w.Spells))
		byName := make(map[string]string, len(w.Spells))
		for _, sp := range w.Spells {
			created, err := crafting.InsertSpell(ctx, tx, s.ids.NewID(), crafting.Candidate{
				Name:        sp.Name,
				Emoji:       sp.Emoji,
				Description: sp.Description,
			}, nil)
			if err != nil {
				return err
			}
			res.Spells[created.Name] = created.SpellID
			byName[strings.ToLower(created.Name)] = created.SpellID
		}

		res.Players = make(map[string]string, len(w.Players))
		for _, p := range w.Players {
			u, err := s.players.Create(ctx, tx, p.Name, res.DefaultRoot)
			if err != nil {
				return err
			}
			res.Players[u.Name] = string(u.UserID)
			for _, g := range p.Grants {
				spellID := byName[strings.ToLower(strings.TrimSpace(g.Spell))]
				if _, err := s.ledger.Add(ctx, tx, u.UserID, spellID, g.Amount); err != nil {
					return err
				}
			}
		}

		if err := tx.SetProperty(ctx, store.PropertyInitialized, true); err != nil {
			return apperror.Internal("write initialization flag", err)
		}
		return nil
	})
	if err != nil {
		return InitResult{}, err
	}
	if res.AlreadyInitialized {
		s.logger.Debug("world already initialized")
	} else {
		s.logger.Info("world initialized", "default_root", res.DefaultRoot,
			"roots", len(res.Roots), "spells", len(res.Spells), "players", len(res.Players))
	}
	return res, nil
}
