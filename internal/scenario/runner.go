package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/canon"
	"github.com/roach88/semantica/internal/game"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/provider/table"
	"github.com/roach88/semantica/internal/store"
	"github.com/roach88/semantica/internal/world"
)

// epoch is the clock reading when a run starts. Each step advances it by a
// second.
var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Event is one trace entry.
type Event map[string]any

// Result is the outcome of a run.
type Result struct {
	Trace    []Event
	Failures []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// TraceJSON renders the trace as canonical JSON.
func (r *Result) TraceJSON(name string) ([]byte, error) {
	events := make([]any, len(r.Trace))
	for i, e := range r.Trace {
		events[i] = map[string]any(e)
	}
	return canon.Marshal(map[string]any{"scenario": name, "trace": events})
}

// Options tune a run.
type Options struct {
	// Logger receives game logs. Logs are discarded when nil.
	Logger *slog.Logger

	// Service options appended after the deterministic defaults.
	Service []game.Option
}

type runner struct {
	svc    *game.Service
	root   string
	labels map[string]string
	names  map[string]string
	result *Result
}

// Run executes sc against a fresh in-memory database. Errors returned are
// setup failures; step outcomes, including failed expectations, are in the
// result.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := epoch
	clock := func() time.Time { return now }
	db, err := store.Open(":memory:", store.WithClock(clock), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	provider, err := table.New(sc.Table)
	if err != nil {
		return nil, fmt.Errorf("provider table: %w", err)
	}
	svcOpts := append([]game.Option{
		game.WithIDs(ident.NewSequenceGenerator()),
		game.WithLogger(logger),
	}, opts.Service...)
	svc := game.New(db, provider, svcOpts...)

	w := world.Default()
	if sc.World != nil {
		w = *sc.World
	}
	seeded, err := svc.Initialize(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("initialize world: %w", err)
	}

	r := &runner{
		svc:    svc,
		root:   seeded.DefaultRoot,
		labels: map[string]string{},
		names:  map[string]string{},
		result: &Result{},
	}
	for i, st := range sc.Steps {
		now = now.Add(time.Second)
		r.step(ctx, i, st)
	}
	return r.result, nil
}

func (r *runner) step(ctx context.Context, i int, st Step) {
	ev := Event{"step": i, "op": st.Op}
	fields, err := r.exec(ctx, st)
	if err != nil {
		ev["error"] = string(apperror.CodeOf(err))
	}
	for k, v := range fields {
		ev[k] = v
	}
	r.result.Trace = append(r.result.Trace, ev)
	r.check(i, st, ev, err)
}

func (r *runner) exec(ctx context.Context, st Step) (Event, error) {
	switch st.Op {
	case OpRegister:
		u, err := r.svc.RegisterPlayer(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		return Event{"player": u.Name, "node": r.ref(u.InNode)}, nil

	case OpGrant:
		userID, err := r.player(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		spellID, err := r.spell(ctx, st.Spell)
		if err != nil {
			return nil, err
		}
		total, err := r.svc.Grant(ctx, userID, spellID, st.Amount)
		if err != nil {
			return nil, err
		}
		return Event{"spell": st.Spell, "amount": st.Amount, "total": total}, nil

	case OpCraft:
		userID, err := r.player(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(st.Ingredients))
		for i, name := range st.Ingredients {
			if ids[i], err = r.spell(ctx, name); err != nil {
				return nil, err
			}
		}
		res, err := r.svc.Craft(ctx, userID, ids)
		if err != nil {
			return nil, err
		}
		r.names[res.Product.SpellID] = res.Product.Name
		return Event{
			"product":         res.Product.Name,
			"emoji":           res.Product.Emoji,
			"first_discovery": res.FirstDiscovery,
		}, nil

	case OpAdvance:
		userID, err := r.player(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		spellID := ""
		if st.Spell != "" {
			if spellID, err = r.spell(ctx, st.Spell); err != nil {
				return nil, err
			}
		}
		n, err := r.svc.Advance(ctx, userID, st.Text, spellID)
		if err != nil {
			return nil, err
		}
		if st.Label != "" {
			r.labels[st.Label] = n.NodeID
		}
		ev := Event{"node": r.ref(n.NodeID), "parent": r.ref(n.Parent.NodeID), "paragraphs": n.Content.Len()}
		if n.Parent.Fork != nil {
			ev["fork"] = n.Parent.Fork.Position
		}
		return ev, nil

	case OpFollow:
		userID, err := r.player(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		n, err := r.svc.Follow(ctx, userID, r.resolve(st.Node))
		if err != nil {
			return nil, err
		}
		return Event{"node": r.ref(n.NodeID)}, nil

	case OpNodes:
		req := game.NodesRequest{
			StartID:         r.resolve(st.Node),
			LimitNodes:      st.LimitNodes,
			LimitParagraphs: st.LimitParagraphs,
		}
		if st.Player != "" {
			userID, err := r.player(ctx, st.Player)
			if err != nil {
				return nil, err
			}
			req.UserID = userID
		}
		resp, err := r.svc.Nodes(ctx, req)
		if err != nil {
			return nil, err
		}
		nodes := make([]string, len(resp.Nodes))
		for i, n := range resp.Nodes {
			nodes[i] = r.ref(n.NodeID)
		}
		return Event{"nodes": nodes, "stop": string(resp.Stats.Stop)}, nil

	case OpInventory:
		userID, err := r.player(ctx, st.Player)
		if err != nil {
			return nil, err
		}
		entries, err := r.svc.Inventory(ctx, userID)
		if err != nil {
			return nil, err
		}
		amounts := map[string]any{}
		for _, e := range entries {
			amounts[e.Spell.Name] = e.Amount
		}
		return Event{"amounts": amounts}, nil
	}
	return nil, apperror.Validation("unknown op %q", st.Op)
}

func (r *runner) player(ctx context.Context, name string) (player.ID, error) {
	u, err := r.svc.PlayerByName(ctx, name)
	if err != nil {
		return "", err
	}
	return u.UserID, nil
}

func (r *runner) spell(ctx context.Context, name string) (string, error) {
	sp, err := r.svc.SpellByName(ctx, name)
	if err != nil {
		return "", err
	}
	return sp.SpellID, nil
}

// resolve turns a node reference into an id.
func (r *runner) resolve(ref string) string {
	if ref == "root" {
		return r.root
	}
	if id, ok := r.labels[ref]; ok {
		return id
	}
	return ref
}

// ref turns a node id into its reference: a label, "root", or the id.
func (r *runner) ref(id string) string {
	if id == r.root {
		return "root"
	}
	for label, labelled := range r.labels {
		if labelled == id {
			return label
		}
	}
	return id
}

func (r *runner) check(i int, st Step, ev Event, err error) {
	fail := func(format string, args ...any) {
		r.result.Failures = append(r.result.Failures,
			fmt.Sprintf("steps[%d] (%s): ", i, st.Op)+fmt.Sprintf(format, args...))
	}
	exp := st.Expect
	if exp == nil {
		if err != nil {
			fail("unexpected error: %v", err)
		}
		return
	}
	if exp.Error != "" {
		if got := ev["error"]; got != exp.Error {
			fail("expected error %s, got %v", exp.Error, got)
		}
		return
	}
	if err != nil {
		fail("unexpected error: %v", err)
		return
	}
	if exp.Product != "" && ev["product"] != exp.Product {
		fail("expected product %q, got %v", exp.Product, ev["product"])
	}
	if exp.FirstDiscovery != nil && ev["first_discovery"] != *exp.FirstDiscovery {
		fail("expected first_discovery %v, got %v", *exp.FirstDiscovery, ev["first_discovery"])
	}
	if exp.Total != nil && ev["total"] != *exp.Total {
		fail("expected total %d, got %v", *exp.Total, ev["total"])
	}
	if exp.Count != nil {
		nodes, _ := ev["nodes"].([]string)
		if len(nodes) != *exp.Count {
			fail("expected %d nodes, got %d", *exp.Count, len(nodes))
		}
	}
	if exp.Nodes != nil {
		nodes, _ := ev["nodes"].([]string)
		if !slices.Equal(nodes, exp.Nodes) {
			fail("expected nodes %v, got %v", exp.Nodes, nodes)
		}
	}
	if exp.Amounts != nil {
		amounts, _ := ev["amounts"].(map[string]any)
		for name, want := range exp.Amounts {
			if got, _ := amounts[name].(int64); got != want {
				fail("expected %d %s, got %d", want, name, got)
			}
		}
	}
}
