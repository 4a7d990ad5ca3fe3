package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
	"github.com/roach88/semantica/internal/testutil"
	"github.com/roach88/semantica/internal/world"
)

var testWorld = world.World{
	Roots: []world.Root{{Text: "The beginning.\nNothing yet."}},
	Spells: []world.Spell{
		{Name: "water", Emoji: "💧"},
		{Name: "fire", Emoji: "🔥"},
		{Name: "earth", Emoji: "🪨"},
	},
	Players: []world.Player{{
		Name:   "alice",
		Grants: []world.Grant{{Spell: "water", Amount: 2}, {Spell: "Fire", Amount: 1}},
	}},
}

// joinProvider names products after their ingredients.
type joinProvider struct {
	calls atomic.Int32
	err   error
}

func (p *joinProvider) Generate(_ context.Context, names []string) (crafting.Candidate, error) {
	p.calls.Add(1)
	if p.err != nil {
		return crafting.Candidate{}, p.err
	}
	return crafting.Candidate{Name: strings.Join(names, "+"), Emoji: "✨", Description: "new"}, nil
}

type harness struct {
	svc      *Service
	store    *store.Store
	provider *joinProvider
	init     InitResult
	alice    player.ID
}

func (h *harness) spell(name string) string { return h.init.Spells[name] }

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: testutil.NewStore(t, nil), provider: &joinProvider{}}
	opts = append([]Option{WithIDs(ident.NewSequenceGenerator())}, opts...)
	h.svc = New(h.store, h.provider, opts...)

	res, err := h.svc.Initialize(context.Background(), testWorld)
	require.NoError(t, err)
	h.init = res
	h.alice = player.ID(res.Players["alice"])
	return h
}

func amounts(t *testing.T, h *harness, userID player.ID) map[string]int64 {
	t.Helper()
	entries, err := h.svc.Inventory(context.Background(), userID)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, e := range entries {
		out[e.Spell.Name] = e.Amount
	}
	return out
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.False(t, h.init.AlreadyInitialized)
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", h.init.DefaultRoot)
	assert.Len(t, h.init.Spells, 3)
	assert.Equal(t, "00000000-0000-7000-8000-000000000005", string(h.alice))

	current, err := h.svc.CurrentNode(ctx, h.alice)
	require.NoError(t, err)
	assert.Equal(t, h.init.DefaultRoot, current.NodeID)
	assert.Equal(t, 2, current.Content.Len())
	assert.Equal(t, map[string]int64{"water": 2, "fire": 1}, amounts(t, h, h.alice))

	again, err := h.svc.Initialize(ctx, testWorld)
	require.NoError(t, err)
	assert.True(t, again.AlreadyInitialized)
	assert.Equal(t, 1, testutil.Count(t, h.store, "nodes"))
	assert.Equal(t, 1, testutil.Count(t, h.store, "users"))
}

func TestInitialize_RejectsInvalidWorld(t *testing.T) {
	svc := New(testutil.NewStore(t, nil), &joinProvider{})

	_, err := svc.Initialize(context.Background(), world.World{})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Initialize(context.Background(), world.World{
		Roots:   []world.Root{{Text: "a"}},
		Players: []world.Player{{Name: "p", Grants: []world.Grant{{Spell: "ghost", Amount: 1}}}},
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestRegisterPlayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u, err := h.svc.RegisterPlayer(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, h.init.DefaultRoot, u.InNode)

	byName, err := h.svc.PlayerByName(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, byName.UserID)

	_, err = h.svc.RegisterPlayer(ctx, "bob")
	assert.True(t, apperror.IsValidation(err))
}

func TestRegisterPlayer_BeforeInitialize(t *testing.T) {
	svc := New(testutil.NewStore(t, nil), &joinProvider{})

	_, err := svc.RegisterPlayer(context.Background(), "bob")
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
}

func TestCraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.svc.Craft(ctx, h.alice, []string{h.spell("fire"), h.spell("water")})
	require.NoError(t, err)
	assert.True(t, first.FirstDiscovery)
	assert.Equal(t, "water+fire", first.Product.Name)

	again, err := h.svc.Craft(ctx, h.alice, []string{h.spell("water"), h.spell("fire")})
	require.NoError(t, err)
	assert.False(t, again.FirstDiscovery)
	assert.Equal(t, first.Product.SpellID, again.Product.SpellID)

	assert.EqualValues(t, 1, h.provider.calls.Load())
	assert.Equal(t, map[string]int64{"water": 2, "fire": 1, "water+fire": 2}, amounts(t, h, h.alice))
}

func TestCraft_RepeatReturnsSameProduct(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.svc.Craft(ctx, h.alice, []string{h.spell("water"), h.spell("fire")})
	require.NoError(t, err)
	require.True(t, first.FirstDiscovery)
	again, err := h.svc.Craft(ctx, h.alice, []string{h.spell("fire"), h.spell("water")})
	require.NoError(t, err)

	assert.Equal(t, first.Product, again.Product)
	assert.Equal(t, player.Link{UserID: h.alice, Name: "alice"}, first.Product.CreatedBy)
}

func TestCraft_WithoutCredit(t *testing.T) {
	h := newHarness(t, WithCreditProduct(false))

	_, err := h.svc.Craft(context.Background(), h.alice, []string{h.spell("earth")})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"water": 2, "fire": 1}, amounts(t, h, h.alice))
}

func TestCraft_CollapseDuplicates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithResolverOptions(crafting.WithDuplicatePolicy(crafting.Collapse)))

	double, err := h.svc.Craft(ctx, h.alice, []string{h.spell("water"), h.spell("water")})
	require.NoError(t, err)
	single, err := h.svc.Craft(ctx, h.alice, []string{h.spell("water")})
	require.NoError(t, err)
	assert.False(t, single.FirstDiscovery)
	assert.Equal(t, double.Product.SpellID, single.Product.SpellID)
}

func TestCraft_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Craft(ctx, "00000000-0000-7000-8000-0000000000ff", []string{h.spell("water")})
	assert.True(t, apperror.IsNotFound(err), "unknown user: %v", err)

	_, err = h.svc.Craft(ctx, h.alice, []string{"00000000-0000-7000-8000-0000000000ff"})
	assert.True(t, apperror.IsNotFound(err), "unknown ingredient: %v", err)

	_, err = h.svc.Craft(ctx, h.alice, nil)
	assert.True(t, apperror.IsValidation(err), "empty: %v", err)

	h.provider.err = errors.New("provider down")
	_, err = h.svc.Craft(ctx, h.alice, []string{h.spell("earth")})
	assert.True(t, apperror.IsInternal(err), "provider: %v", err)
	assert.Equal(t, 0, testutil.Count(t, h.store, "recipes"))
	assert.Equal(t, 3, testutil.Count(t, h.store, "spells"))
}

// barrierProvider holds every call until want calls are in flight, so
// concurrent crafts all miss the memo before any of them records.
type barrierProvider struct {
	mu      sync.Mutex
	arrived int
	want    int
	release chan struct{}
}

func (p *barrierProvider) Generate(ctx context.Context, names []string) (crafting.Candidate, error) {
	p.mu.Lock()
	p.arrived++
	if p.arrived == p.want {
		close(p.release)
	}
	p.mu.Unlock()

	select {
	case <-p.release:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return crafting.Candidate{}, ctx.Err()
	}
	return crafting.Candidate{Name: strings.Join(names, "+"), Emoji: "✨"}, nil
}

func TestCraft_ConcurrentFirstDiscovery(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t, nil)
	provider := &barrierProvider{want: 2, release: make(chan struct{})}
	svc := New(s, provider, WithIDs(ident.NewSequenceGenerator()))
	init, err := svc.Initialize(ctx, testWorld)
	require.NoError(t, err)
	bob, err := svc.RegisterPlayer(ctx, "bob")
	require.NoError(t, err)

	users := []player.ID{player.ID(init.Players["alice"]), bob.UserID}
	ingredients := []string{init.Spells["water"], init.Spells["fire"]}
	results := make([]crafting.Result, len(users))
	errs := make([]error, len(users))

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Craft(ctx, u, ingredients)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Product.SpellID, results[1].Product.SpellID)
	assert.NotEqual(t, results[0].FirstDiscovery, results[1].FirstDiscovery,
		"exactly one craft must observe the first discovery")
	assert.Equal(t, 1, testutil.Count(t, s, "recipes"))
	assert.Equal(t, 4, testutil.Count(t, s, "spells"))
}

func TestNodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, text := range []string{"one", "two", "three", "four", "five", "six"} {
		_, err := h.svc.Advance(ctx, h.alice, text, "")
		require.NoError(t, err)
	}

	resp, err := h.svc.Nodes(ctx, NodesRequest{UserID: h.alice})
	require.NoError(t, err)
	require.Len(t, resp.Nodes, DefaultLimits.DefaultNodes)
	assert.Equal(t, "six", resp.Nodes[0].Content.Text())
	assert.Equal(t, "five", resp.Nodes[1].Content.Text())

	resp, err = h.svc.Nodes(ctx, NodesRequest{UserID: h.alice, StartID: StartCurrent, LimitNodes: 50})
	require.NoError(t, err)
	assert.Len(t, resp.Nodes, DefaultLimits.MaxNodes)
	assert.Equal(t, "node_limit", string(resp.Stats.Stop))

	resp, err = h.svc.Nodes(ctx, NodesRequest{StartID: resp.Nodes[4].NodeID, LimitNodes: 5, LimitParagraphs: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Nodes, 2)

	_, err = h.svc.Nodes(ctx, NodesRequest{})
	assert.True(t, apperror.IsValidation(err))

	_, err = h.svc.Nodes(ctx, NodesRequest{StartID: "missing"})
	assert.True(t, apperror.IsNotFound(err))
}

func TestNodes_CustomLimits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithLimits(Limits{DefaultParagraphs: 1, MaxParagraphs: 1, DefaultNodes: 5, MaxNodes: 5}))
	_, err := h.svc.Advance(ctx, h.alice, "next", "")
	require.NoError(t, err)

	resp, err := h.svc.Nodes(ctx, NodesRequest{UserID: h.alice, LimitParagraphs: 100})
	require.NoError(t, err)
	assert.Len(t, resp.Nodes, 1)
	assert.Equal(t, "paragraph_limit", string(resp.Stats.Stop))
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bob, err := h.svc.RegisterPlayer(ctx, "bob")
	require.NoError(t, err)

	natural, err := h.svc.Advance(ctx, h.alice, "Alice walks on.", "")
	require.NoError(t, err)
	require.NotNil(t, natural.Parent)
	assert.Equal(t, h.init.DefaultRoot, natural.Parent.NodeID)
	assert.Equal(t, player.Link{UserID: h.alice, Name: "alice"}, natural.CreatedBy)

	current, err := h.svc.CurrentNode(ctx, h.alice)
	require.NoError(t, err)
	assert.Equal(t, natural.NodeID, current.NodeID)

	_, err = h.svc.Advance(ctx, bob.UserID, "Bob walks on too.", "")
	assert.True(t, apperror.IsValidation(err), "natural slot taken: %v", err)

	_, err = h.svc.Advance(ctx, bob.UserID, "Bob splashes.", h.spell("water"))
	assert.True(t, apperror.IsValidation(err), "bob holds no water: %v", err)

	_, err = h.svc.Grant(ctx, bob.UserID, h.spell("water"), 1)
	require.NoError(t, err)
	fork0, err := h.svc.Advance(ctx, bob.UserID, "Bob splashes.", h.spell("water"))
	require.NoError(t, err)
	require.NotNil(t, fork0.Parent.Fork)
	assert.Equal(t, 0, fork0.Parent.Fork.Position)
	assert.Equal(t, "water", fork0.Parent.Fork.Spell.Name)

	carol, err := h.svc.RegisterPlayer(ctx, "carol")
	require.NoError(t, err)
	_, err = h.svc.Grant(ctx, carol.UserID, h.spell("fire"), 1)
	require.NoError(t, err)
	fork1, err := h.svc.Advance(ctx, carol.UserID, "Carol burns.", h.spell("fire"))
	require.NoError(t, err)
	assert.Equal(t, 1, fork1.Parent.Fork.Position)

	root, err := h.svc.Node(ctx, h.init.DefaultRoot)
	require.NoError(t, err)
	assert.Equal(t, natural.NodeID, root.NaturalChild)
	require.Len(t, root.ForkChildren, 2)

	_, err = h.svc.Advance(ctx, h.alice, "   ", "")
	assert.True(t, apperror.IsValidation(err))
	_, err = h.svc.Advance(ctx, h.alice, "x", "00000000-0000-7000-8000-0000000000ff")
	assert.True(t, apperror.IsNotFound(err))
}

func TestFollow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bob, err := h.svc.RegisterPlayer(ctx, "bob")
	require.NoError(t, err)
	next, err := h.svc.Advance(ctx, h.alice, "Onward.", "")
	require.NoError(t, err)

	moved, err := h.svc.Follow(ctx, bob.UserID, next.NodeID)
	require.NoError(t, err)
	assert.Equal(t, next.NodeID, moved.NodeID)

	current, err := h.svc.CurrentNode(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, next.NodeID, current.NodeID)

	_, err = h.svc.Follow(ctx, bob.UserID, h.init.DefaultRoot)
	assert.True(t, apperror.IsValidation(err))
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	total, err := h.svc.Grant(ctx, h.alice, h.spell("water"), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)

	_, err = h.svc.Grant(ctx, h.alice, h.spell("water"), -1)
	assert.True(t, apperror.IsValidation(err))

	_, err = h.svc.Inventory(ctx, "ghost")
	assert.True(t, apperror.IsNotFound(err))
}

func TestSpellLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	sp, err := h.svc.SpellByName(ctx, "fire")
	require.NoError(t, err)
	assert.Equal(t, h.spell("fire"), sp.SpellID)

	byID, err := h.svc.Spell(ctx, sp.SpellID)
	require.NoError(t, err)
	assert.Equal(t, sp, byID)
}

func TestTracing(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	h := newHarness(t, WithTracerProvider(tp))

	_, err := h.svc.Craft(ctx, h.alice, []string{h.spell("water")})
	require.NoError(t, err)
	_, err = h.svc.Node(ctx, "missing")
	require.Error(t, err)

	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		spans[s.Name()] = s
	}

	craft, ok := spans["game.Craft"]
	require.True(t, ok)
	assert.Contains(t, craft.Attributes(), attribute.Bool("first_discovery", true))
	assert.Equal(t, codes.Unset, craft.Status().Code)

	node, ok := spans["game.Node"]
	require.True(t, ok)
	assert.Equal(t, codes.Error, node.Status().Code)
	assert.Contains(t, node.Attributes(), attribute.String("error.code", "NOT_FOUND"))
}
