// Package crafting resolves ingredient combinations into product spells.
//
// Every distinct ingredient multiset maps to at most one product for the
// lifetime of the store. The mapping is memoized in the recipes table, whose
// unique canonical_key column arbitrates concurrent first discoveries: the
// losing writer undoes its spell insert and reports the winner's product.
//
// Generation can run outside any transaction. Prepare reads inside one,
// Generate calls the provider without holding store locks, and Record writes
// inside a second short transaction. Craft runs all three in one transaction.
package crafting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/canon"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
)

// DefaultMaxIngredients bounds the ingredient list when no option is given.
const DefaultMaxIngredients = 8

// Provider turns an ordered list of ingredient names into a candidate spell.
// Implementations must not touch the store.
type Provider interface {
	Generate(ctx context.Context, names []string) (Candidate, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, names []string) (Candidate, error)

// Generate implements Provider.
func (f ProviderFunc) Generate(ctx context.Context, names []string) (Candidate, error) {
	return f(ctx, names)
}

// DuplicatePolicy decides what repeated ingredient ids mean.
type DuplicatePolicy string

const (
	// Keep treats repeats as quantities: [A,A] and [A] are different recipes.
	Keep DuplicatePolicy = "keep"
	// Collapse removes repeats before canonicalization: [A,A] is [A].
	Collapse DuplicatePolicy = "collapse"
)

// ParseDuplicatePolicy validates a configured policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case Keep, Collapse:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want %q or %q)", s, Keep, Collapse)
	}
}

// Key is a canonical ingredient combination.
type Key struct {
	IDs  []string
	JSON string
}

// RecipeID returns the content-addressed id of the recipe for k.
func (k Key) RecipeID() string {
	return canon.Hash(canon.DomainRecipe, []byte(k.JSON))
}

// Result is the outcome of a craft.
type Result struct {
	Product        Spell `json:"product"`
	FirstDiscovery bool  `json:"first_discovery"`
}

// Pending carries a craft between its phases. Hit is set when the recipe was
// already known during Prepare; otherwise Names holds the ingredient names
// in key order for the provider.
type Pending struct {
	Key   Key
	Names []string
	Hit   *Result
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDuplicatePolicy sets how repeated ingredient ids are treated.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Resolver) { r.duplicates = p }
}

// WithMaxIngredients bounds the ingredient list length.
func WithMaxIngredients(n int) Option {
	return func(r *Resolver) { r.maxIngredients = n }
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver is the crafting engine. It holds no mutable state and is safe for
// concurrent use; all coordination happens through the store.
type Resolver struct {
	provider       Provider
	ids            ident.Generator
	duplicates     DuplicatePolicy
	maxIngredients int
	logger         *slog.Logger
}

// NewResolver creates a Resolver that calls provider on cache misses.
func NewResolver(provider Provider, ids ident.Generator, opts ...Option) *Resolver {
	r := &Resolver{
		provider:       provider,
		ids:            ids,
		duplicates:     Keep,
		maxIngredients: DefaultMaxIngredients,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ids == nil {
		r.ids = ident.UUIDv7Generator{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Canonicalize validates ingredientIDs and returns their canonical key:
// the ids sorted ascending, deduplicated only under the Collapse policy.
func (r *Resolver) Canonicalize(ingredientIDs []string) (Key, error) {
	if len(ingredientIDs) == 0 {
		return Key{}, apperror.Validation("at least one ingredient is required")
	}
	if len(ingredientIDs) > r.maxIngredients {
		return Key{}, apperror.Validation("at most %d ingredients are allowed, got %d",
			r.maxIngredients, len(ingredientIDs))
	}
	for _, id := range ingredientIDs {
		if !ident.Valid(id) {
			return Key{}, apperror.Validation("ingredient id %q is malformed", id)
		}
	}

	ids := slices.Clone(ingredientIDs)
	slices.Sort(ids)
	if r.duplicates == Collapse {
		ids = slices.Compact(ids)
	}
	data, err := canon.Marshal(ids)
	if err != nil {
		return Key{}, apperror.Internal("canonicalize ingredients", err)
	}
	return Key{IDs: ids, JSON: string(data)}, nil
}

// Prepare canonicalizes the ingredients and consults the memo. On a miss it
// resolves every ingredient to its name, failing NotFound for unknown ids.
func (r *Resolver) Prepare(ctx context.Context, tx *store.Tx, ingredientIDs []string) (Pending, error) {
	key, err := r.Canonicalize(ingredientIDs)
	if err != nil {
		return Pending{}, err
	}

	product, found, err := lookupRecipe(ctx, tx, key)
	if err != nil {
		return Pending{}, err
	}
	if found {
		r.logger.Debug("recipe hit", "recipe", key.RecipeID(), "product", product.SpellID)
		return Pending{Key: key, Hit: &Result{Product: product}}, nil
	}

	names := make([]string, len(key.IDs))
	seen := make(map[string]string, len(key.IDs))
	for i, id := range key.IDs {
		name, ok := seen[id]
		if !ok {
			sp, err := FetchSpell(ctx, tx, id)
			if err != nil {
				return Pending{}, err
			}
			name = sp.Name
			seen[id] = name
		}
		names[i] = name
	}
	r.logger.Debug("recipe miss", "recipe", key.RecipeID(), "ingredients", names)
	return Pending{Key: key, Names: names}, nil
}

// Generate asks the provider for a candidate. Provider failures surface as
// Internal. Generate must not be called for a hit.
func (r *Resolver) Generate(ctx context.Context, p Pending) (Candidate, error) {
	if p.Hit != nil {
		return Candidate{}, apperror.Internal("generate", errors.New("recipe already known"))
	}
	c, err := r.provider.Generate(ctx, p.Names)
	if err != nil {
		return Candidate{}, apperror.Internal("generate spell", err)
	}
	c, err = c.Normalize()
	if err != nil {
		return Candidate{}, apperror.Internal("generate spell", err)
	}
	return c, nil
}

const recordSavepoint = "craft_record"

// Record stores the candidate as the product of p's key, authored by creator.
//
// If another transaction recorded the same key first, the spell insert is
// undone and the existing product is returned with FirstDiscovery false.
func (r *Resolver) Record(ctx context.Context, tx *store.Tx, creator player.Creator, p Pending, c Candidate) (Result, error) {
	if p.Hit != nil {
		return *p.Hit, nil
	}
	if err := tx.Savepoint(ctx, recordSavepoint); err != nil {
		return Result{}, apperror.Internal("record craft", err)
	}

	product, err := r.insert(ctx, tx, creator, p.Key, c)
	if err == nil {
		// Re-read so the creator carries its name, as on a recipe hit.
		if product, err = FetchSpell(ctx, tx, product.SpellID); err != nil {
			return Result{}, err
		}
		if err := tx.Release(ctx, recordSavepoint); err != nil {
			return Result{}, apperror.Internal("record craft", err)
		}
		r.logger.Info("first discovery", "spell", product.SpellID, "name", product.Name,
			"recipe", p.Key.RecipeID())
		return Result{Product: product, FirstDiscovery: true}, nil
	}
	if !apperror.IsConflict(err) {
		return Result{}, err
	}

	if err := tx.RollbackTo(ctx, recordSavepoint); err != nil {
		return Result{}, apperror.Internal("record craft", err)
	}
	if err := tx.Release(ctx, recordSavepoint); err != nil {
		return Result{}, apperror.Internal("record craft", err)
	}
	existing, found, err := lookupRecipe(ctx, tx, p.Key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, apperror.Internal("record craft",
			fmt.Errorf("recipe %s conflicted but is not visible", p.Key.RecipeID()))
	}
	r.logger.Debug("recipe conflict resolved by re-read", "recipe", p.Key.RecipeID(),
		"product", existing.SpellID)
	return Result{Product: existing}, nil
}

// Craft runs Prepare, Generate, and Record inside tx. The provider is called
// while tx is open; GameService uses the phases separately instead.
func (r *Resolver) Craft(ctx context.Context, tx *store.Tx, creator player.Creator, ingredientIDs []string) (Result, error) {
	p, err := r.Prepare(ctx, tx, ingredientIDs)
	if err != nil {
		return Result{}, err
	}
	if p.Hit != nil {
		return *p.Hit, nil
	}
	c, err := r.Generate(ctx, p)
	if err != nil {
		return Result{}, err
	}
	return r.Record(ctx, tx, creator, p, c)
}

// insert writes the spell and its recipe. A canonical key collision is
// reported as Conflict.
func (r *Resolver) insert(ctx context.Context, tx *store.Tx, creator player.Creator, key Key, c Candidate) (Spell, error) {
	sp, err := InsertSpell(ctx, tx, r.ids.NewID(), c, creator)
	if err != nil {
		return Spell{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO recipes (recipe_id, canonical_key, product, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, key.RecipeID(), key.JSON, sp.SpellID, store.FormatTime(tx.Now()), player.CreatorValue(creator))
	if store.IsUniqueViolation(err) {
		return Spell{}, apperror.Conflict("recipe already recorded", err)
	}
	if err != nil {
		return Spell{}, apperror.Internal("insert recipe", err)
	}
	return sp, nil
}

func lookupRecipe(ctx context.Context, tx *store.Tx, key Key) (Spell, bool, error) {
	sp, err := scanSpell(tx.QueryRow(ctx, `SELECT `+spellColumns+`
		FROM recipes r
		JOIN spells s ON s.spell_id = r.product
		LEFT JOIN users u ON u.user_id = s.created_by
		WHERE r.canonical_key = ?
	`, key.JSON))
	if errors.Is(err, sql.ErrNoRows) {
		return Spell{}, false, nil
	}
	if err != nil {
		return Spell{}, false, apperror.Internal("lookup recipe", err)
	}
	return sp, true, nil
}
