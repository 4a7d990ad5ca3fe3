// Package game is the single entry point to the story graph, crafting, and
// inventories. Every operation runs in its own transaction (crafting uses
// two) and commits or rolls back as a unit.
package game

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/graph"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/inventory"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
)

const instrumentationName = "github.com/roach88/semantica/internal/game"

// Limits bounds ancestor pagination. Zero or negative requested values take
// the default; values over the maximum are clamped.
type Limits struct {
	DefaultParagraphs int
	MaxParagraphs     int
	DefaultNodes      int
	MaxNodes          int
}

// DefaultLimits are used when no limits are configured.
var DefaultLimits = Limits{DefaultParagraphs: 20, MaxParagraphs: 100, DefaultNodes: 2, MaxNodes: 5}

func clamp(requested, def, max int) int {
	switch {
	case requested <= 0:
		return def
	case requested > max:
		return max
	default:
		return requested
	}
}

// Option configures a Service.
type Option func(*Service)

// WithIDs sets the generator for node, spell, and player ids.
func WithIDs(ids ident.Generator) Option {
	return func(s *Service) { s.ids = ids }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracerProvider sets where spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithLimits sets pagination limits.
func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithCreditProduct controls whether a craft adds one unit of its product to
// the crafter's inventory.
func WithCreditProduct(credit bool) Option {
	return func(s *Service) { s.creditProduct = credit }
}

// WithResolverOptions passes options through to the crafting resolver.
func WithResolverOptions(opts ...crafting.Option) Option {
	return func(s *Service) { s.resolverOpts = append(s.resolverOpts, opts...) }
}

// Service composes the graph, resolver, ledger, and player registry.
// It is safe for concurrent use.
type Service struct {
	store    *store.Store
	graph    *graph.Graph
	resolver *crafting.Resolver
	ledger   *inventory.Ledger
	players  *player.Registry

	ids           ident.Generator
	logger        *slog.Logger
	tracer        trace.Tracer
	limits        Limits
	creditProduct bool
	resolverOpts  []crafting.Option
}

// New creates a Service over s that crafts with provider.
func New(s *store.Store, provider crafting.Provider, opts ...Option) *Service {
	svc := &Service{
		store:         s,
		ids:           ident.UUIDv7Generator{},
		logger:        slog.Default(),
		tracer:        otel.Tracer(instrumentationName),
		limits:        DefaultLimits,
		creditProduct: true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	resolverOpts := append([]crafting.Option{crafting.WithLogger(svc.logger)}, svc.resolverOpts...)
	svc.graph = graph.New(svc.ids, svc.logger)
	svc.resolver = crafting.NewResolver(provider, svc.ids, resolverOpts...)
	svc.ledger = inventory.NewLedger()
	svc.players = player.NewRegistry(svc.ids)
	return svc
}

// RegisterPlayer creates a player at the default root.
func (s *Service) RegisterPlayer(ctx context.Context, name string) (u player.User, err error) {
	ctx, span := s.start(ctx, "RegisterPlayer")
	defer func() { s.end(span, "RegisterPlayer", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		root, err := s.graph.DefaultRoot(ctx, tx)
		if err != nil {
			return err
		}
		u, err = s.players.Create(ctx, tx, name, root.NodeID)
		return err
	})
	if err == nil {
		span.SetAttributes(attribute.String("user_id", string(u.UserID)))
		s.logger.Info("player registered", "user", u.UserID, "name", u.Name)
	}
	return u, err
}

// Player returns a player by id.
func (s *Service) Player(ctx context.Context, userID player.ID) (u player.User, err error) {
	ctx, span := s.start(ctx, "Player", attribute.String("user_id", string(userID)))
	defer func() { s.end(span, "Player", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		u, err = s.players.Fetch(ctx, tx, userID)
		return err
	})
	return u, err
}

// PlayerByName returns a player by name.
func (s *Service) PlayerByName(ctx context.Context, name string) (u player.User, err error) {
	ctx, span := s.start(ctx, "PlayerByName")
	defer func() { s.end(span, "PlayerByName", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		u, err = s.players.FetchByName(ctx, tx, name)
		return err
	})
	return u, err
}

// CurrentNode returns the node the player is at.
func (s *Service) CurrentNode(ctx context.Context, userID player.ID) (n graph.Node, err error) {
	ctx, span := s.start(ctx, "CurrentNode", attribute.String("user_id", string(userID)))
	defer func() { s.end(span, "CurrentNode", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		n, err = s.graph.FetchCurrentPosition(ctx, tx, userID)
		return err
	})
	return n, err
}

// Node returns a node by id.
func (s *Service) Node(ctx context.Context, nodeID string) (n graph.Node, err error) {
	ctx, span := s.start(ctx, "Node", attribute.String("node_id", nodeID))
	defer func() { s.end(span, "Node", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		n, err = s.graph.Fetch(ctx, tx, nodeID)
		return err
	})
	return n, err
}

// StartCurrent asks Nodes to start at the player's current node.
const StartCurrent = "current"

// NodesRequest asks for a page of reading history.
type NodesRequest struct {
	UserID          player.ID `json:"user_id,omitempty"`
	StartID         string    `json:"start_id,omitempty"`
	LimitParagraphs int       `json:"limit_paragraphs,omitempty"`
	LimitNodes      int       `json:"limit_nodes,omitempty"`
}

// NodesResponse is a page of nodes, nearest first.
type NodesResponse struct {
	Nodes []graph.Node         `json:"nodes"`
	Stats graph.TraversalStats `json:"stats"`
}

// Nodes walks ancestors from req.StartID, or from the player's current node
// when StartID is empty or "current".
func (s *Service) Nodes(ctx context.Context, req NodesRequest) (resp NodesResponse, err error) {
	limitParagraphs := clamp(req.LimitParagraphs, s.limits.DefaultParagraphs, s.limits.MaxParagraphs)
	limitNodes := clamp(req.LimitNodes, s.limits.DefaultNodes, s.limits.MaxNodes)
	ctx, span := s.start(ctx, "Nodes",
		attribute.String("start_id", req.StartID),
		attribute.Int("limit_paragraphs", limitParagraphs),
		attribute.Int("limit_nodes", limitNodes))
	defer func() { s.end(span, "Nodes", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		start := req.StartID
		if start == "" || start == StartCurrent {
			if req.UserID == "" {
				return apperror.Validation("start_id or user is required")
			}
			current, err := s.graph.FetchCurrentPosition(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			start = current.NodeID
		}
		it := s.graph.TraverseAncestors(ctx, tx, start, limitNodes, limitParagraphs)
		nodes, err := it.Collect()
		if err != nil {
			return err
		}
		resp = NodesResponse{Nodes: nodes, Stats: it.Stats()}
		return nil
	})
	if err == nil {
		span.SetAttributes(attribute.Int("nodes", resp.Stats.Nodes),
			attribute.String("stop", string(resp.Stats.Stop)))
	}
	return resp, err
}

// Craft combines ingredients for the player.
//
// The recipe lookup and the write run in two short transactions with the
// provider call between them, so no store lock is held while generating.
// A concurrent discovery of the same recipe is resolved by the resolver;
// both callers then report the same product.
func (s *Service) Craft(ctx context.Context, userID player.ID, ingredientIDs []string) (res crafting.Result, err error) {
	ctx, span := s.start(ctx, "Craft",
		attribute.String("user_id", string(userID)),
		attribute.Int("ingredients", len(ingredientIDs)))
	defer func() { s.end(span, "Craft", err) }()

	var pending crafting.Pending
	err = s.withTx(ctx, func(tx *store.Tx) error {
		if _, err := s.players.Fetch(ctx, tx, userID); err != nil {
			return err
		}
		pending, err = s.resolver.Prepare(ctx, tx, ingredientIDs)
		return err
	})
	if err != nil {
		return crafting.Result{}, err
	}

	var candidate crafting.Candidate
	if pending.Hit == nil {
		span.AddEvent("generate")
		if candidate, err = s.resolver.Generate(ctx, pending); err != nil {
			return crafting.Result{}, err
		}
	}

	err = s.withTx(ctx, func(tx *store.Tx) error {
		res, err = s.resolver.Record(ctx, tx, userID, pending, candidate)
		if err != nil {
			return err
		}
		if s.creditProduct {
			if _, err := s.ledger.Add(ctx, tx, userID, res.Product.SpellID, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return crafting.Result{}, err
	}
	span.SetAttributes(attribute.String("product", res.Product.SpellID),
		attribute.Bool("first_discovery", res.FirstDiscovery))
	return res, nil
}

// Spell returns a spell by id.
func (s *Service) Spell(ctx context.Context, spellID string) (sp crafting.Spell, err error) {
	ctx, span := s.start(ctx, "Spell", attribute.String("spell_id", spellID))
	defer func() { s.end(span, "Spell", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		sp, err = crafting.FetchSpell(ctx, tx, spellID)
		return err
	})
	return sp, err
}

// SpellByName returns the oldest spell with the given name.
func (s *Service) SpellByName(ctx context.Context, name string) (sp crafting.Spell, err error) {
	ctx, span := s.start(ctx, "SpellByName")
	defer func() { s.end(span, "SpellByName", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		sp, err = crafting.FetchSpellByName(ctx, tx, name)
		return err
	})
	return sp, err
}

// Inventory returns everything the player holds.
func (s *Service) Inventory(ctx context.Context, userID player.ID) (entries []inventory.Entry, err error) {
	ctx, span := s.start(ctx, "Inventory", attribute.String("user_id", string(userID)))
	defer func() { s.end(span, "Inventory", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		if _, err := s.players.Fetch(ctx, tx, userID); err != nil {
			return err
		}
		entries, err = s.ledger.Fetch(ctx, tx, userID)
		return err
	})
	return entries, err
}

// Grant adds units of a spell to the player and returns the new total.
func (s *Service) Grant(ctx context.Context, userID player.ID, spellID string, amount int64) (total int64, err error) {
	ctx, span := s.start(ctx, "Grant",
		attribute.String("user_id", string(userID)),
		attribute.String("spell_id", spellID),
		attribute.Int64("amount", amount))
	defer func() { s.end(span, "Grant", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		total, err = s.ledger.Add(ctx, tx, userID, spellID, amount)
		return err
	})
	return total, err
}

// Advance writes text as a new node under the player's current node and
// moves the player onto it. Without a spell the node is the natural
// continuation; with one it is a fork at the next free position, and the
// player must hold the spell.
func (s *Service) Advance(ctx context.Context, userID player.ID, text, spellID string) (n graph.Node, err error) {
	ctx, span := s.start(ctx, "Advance",
		attribute.String("user_id", string(userID)),
		attribute.String("spell_id", spellID))
	defer func() { s.end(span, "Advance", err) }()

	content := graph.NewContent(text)
	if content.Len() == 0 {
		return graph.Node{}, apperror.Validation("text is required")
	}

	err = s.withTx(ctx, func(tx *store.Tx) error {
		current, err := s.graph.FetchCurrentPosition(ctx, tx, userID)
		if err != nil {
			return err
		}
		draft := graph.Draft{ParentID: current.NodeID, Content: content, CreatedBy: userID}
		if strings.TrimSpace(spellID) != "" {
			if _, err := crafting.FetchSpell(ctx, tx, spellID); err != nil {
				return err
			}
			held, err := s.ledger.Amount(ctx, tx, userID, spellID)
			if err != nil {
				return err
			}
			if held < 1 {
				return apperror.Validation("player does not hold spell %s", spellID)
			}
			position, err := s.graph.NextForkPosition(ctx, tx, current.NodeID)
			if err != nil {
				return err
			}
			draft.Fork = &graph.ForkSpec{Position: position, SpellID: spellID}
		}
		if n, err = s.graph.Insert(ctx, tx, draft); err != nil {
			return err
		}
		return s.players.Move(ctx, tx, userID, n.NodeID)
	})
	if err == nil {
		span.SetAttributes(attribute.String("node_id", n.NodeID))
	}
	return n, err
}

// Follow moves the player to a child (natural or fork) of their current
// node.
func (s *Service) Follow(ctx context.Context, userID player.ID, childID string) (n graph.Node, err error) {
	ctx, span := s.start(ctx, "Follow",
		attribute.String("user_id", string(userID)),
		attribute.String("node_id", childID))
	defer func() { s.end(span, "Follow", err) }()

	err = s.withTx(ctx, func(tx *store.Tx) error {
		if n, err = s.graph.Fetch(ctx, tx, childID); err != nil {
			return err
		}
		current, err := s.graph.FetchCurrentPosition(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n.Parent == nil || n.Parent.NodeID != current.NodeID {
			return apperror.Validation("node %s does not continue from %s", childID, current.NodeID)
		}
		return s.players.Move(ctx, tx, userID, n.NodeID)
	})
	return n, err
}

// withTx runs fn in a transaction, committing on success.
func (s *Service) withTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return apperror.Internal("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Debug("rollback failed", "tx", tx.ID(), "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperror.Internal("commit transaction", err)
	}
	return nil
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "game."+op, trace.WithAttributes(attrs...))
}

// end closes span, recording err. Internal errors are logged here and
// nowhere below.
func (s *Service) end(span trace.Span, op string, err error) {
	if err != nil {
		code := apperror.CodeOf(err)
		span.SetAttributes(attribute.String("error.code", string(code)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		if code == apperror.CodeInternal {
			s.logger.Error("operation failed", "op", op, "error", err)
		} else {
			s.logger.Debug("operation rejected", "op", op, "code", code, "error", err)
		}
	}
	span.End()
}
