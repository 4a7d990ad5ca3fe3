package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		sc, err := Load(path)
		require.NoError(t, err, path)

		t.Run(sc.Name, func(t *testing.T) {
			result, err := Run(context.Background(), sc, Options{})
			require.NoError(t, err)
			assert.Empty(t, result.Failures)
			AssertGolden(t, sc.Name, result)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	sc, err := Load("testdata/scenarios/crafting_and_forks.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	second, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)

	a, err := first.TraceJSON(sc.Name)
	require.NoError(t, err)
	b, err := second.TraceJSON(sc.Name)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_DefaultWorld(t *testing.T) {
	sc, err := Parse([]byte(`
name: default_world
table:
  recipes:
    - ingredients: [water, fire]
      product: {name: steam}
steps:
  - op: inventory
    player: test
    expect:
      amounts: {water: 1, fire: 1, earth: 1, air: 1}
  - op: craft
    player: test
    ingredients: [fire, water]
    expect: {product: steam, first_discovery: true}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.True(t, result.Passed(), "%v", result.Failures)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	sc, err := Parse([]byte(`
name: failing
table:
  recipes: []
steps:
  - op: craft
    player: test
    ingredients: [water, fire]
    expect: {product: steam}
  - op: grant
    player: test
    spell: water
    amount: 1
    expect: {total: 5}
  - op: register
    player: test
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 3)
	assert.Contains(t, result.Failures[0], "steps[0] (craft): unexpected error")
	assert.Contains(t, result.Failures[1], "expected total 5, got 2")
	assert.Contains(t, result.Failures[2], "steps[2] (register): unexpected error")

	assert.Equal(t, "INTERNAL", result.Trace[0]["error"])
	assert.Equal(t, "VALIDATION", result.Trace[2]["error"])
}

func TestRun_ExpectedErrorMustOccur(t *testing.T) {
	sc, err := Parse([]byte(`
name: expected_error
table:
  recipes: []
steps:
  - op: register
    player: newcomer
    expect: {error: VALIDATION}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "expected error VALIDATION")
}

func TestRun_BadTable(t *testing.T) {
	sc, err := Parse([]byte(`
name: bad_table
table:
  recipes:
    - ingredients: []
      product: {name: nothing}
steps:
  - op: inventory
    player: test
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), sc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider table")
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "steps: [{op: inventory, player: a}]", "name is required"},
		{"no steps", "name: x", "steps list is required"},
		{"unknown op", "name: x\nsteps: [{op: dance, player: a}]", `unknown op "dance"`},
		{"missing op", "name: x\nsteps: [{player: a}]", "op is required"},
		{"grant without spell", "name: x\nsteps: [{op: grant, player: a}]", "spell is required"},
		{"craft without ingredients", "name: x\nsteps: [{op: craft, player: a}]", "ingredients are required"},
		{"advance without text", "name: x\nsteps: [{op: advance, player: a}]", "text is required"},
		{"follow without node", "name: x\nsteps: [{op: follow, player: a}]", "node is required"},
		{"nodes without start", "name: x\nsteps: [{op: nodes}]", "player or node is required"},
		{"register without player", "name: x\nsteps: [{op: register}]", "player is required"},
		{"unknown field", "name: x\ncolour: red\nsteps: [{op: inventory, player: a}]", "field colour not found"},
		{"bad world", "name: x\nworld: {roots: [{text: a}], spells: [{name: w}, {name: W}]}\nsteps: [{op: inventory, player: a}]", "defined twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ExpectedErrorRelaxesRequiredFields(t *testing.T) {
	_, err := Parse([]byte(`
name: x
steps:
  - op: craft
    player: a
    expect: {error: VALIDATION}
`))
	assert.NoError(t, err)
}
