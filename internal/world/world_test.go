package world

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
roots:
  - text: |
      The tide is out.
      Gulls circle overhead.
  - text: A second shore.
spells:
  - name: salt
    emoji: "🧂"
    description: Crystals from the sea.
  - name: wind
players:
  - name: mara
    grants:
      - {spell: salt, amount: 2}
      - {spell: Wind, amount: 0}
  - name: oskar
`

func TestParse(t *testing.T) {
	w, err := Parse([]byte(seed))
	require.NoError(t, err)

	require.Len(t, w.Roots, 2)
	assert.Equal(t, "The tide is out.\nGulls circle overhead.\n", w.Roots[0].Text)
	assert.Equal(t, []Spell{
		{Name: "salt", Emoji: "🧂", Description: "Crystals from the sea."},
		{Name: "wind"},
	}, w.Spells)
	require.Len(t, w.Players, 2)
	assert.Equal(t, []Grant{{Spell: "salt", Amount: 2}, {Spell: "Wind", Amount: 0}}, w.Players[0].Grants)
	assert.Empty(t, w.Players[1].Grants)
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no roots", "roots: []"},
		{"missing roots", "spells: [{name: salt}]"},
		{"blank root", "roots: [{text: '   '}]"},
		{"unknown field", "roots: [{text: a}]\nweather: rain"},
		{"negative grant", "roots: [{text: a}]\nspells: [{name: s}]\nplayers: [{name: p, grants: [{spell: s, amount: -1}]}]"},
		{"fractional grant", "roots: [{text: a}]\nspells: [{name: s}]\nplayers: [{name: p, grants: [{spell: s, amount: 1.5}]}]"},
		{"long name", "roots: [{text: a}]\nplayers: [{name: " + strings.Repeat("a", 65) + "}]"},
		{"not yaml", "roots: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParse_SchemaErrorCode(t *testing.T) {
	_, err := Parse([]byte("roots: []"))
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrSchema, ve.Code)
}

func TestValidate(t *testing.T) {
	w := World{
		Roots:  []Root{{Text: "a"}},
		Spells: []Spell{{Name: "salt"}, {Name: "Salt"}},
		Players: []Player{
			{Name: "mara", Grants: []Grant{{Spell: "pepper", Amount: 1}}},
			{Name: "MARA"},
		},
	}

	errs := Validate(w)
	require.Len(t, errs, 3)
	assert.Equal(t, ErrDuplicateSpell, errs[0].Code)
	assert.Equal(t, "spells[1].name", errs[0].Field)
	assert.Equal(t, ErrUnknownSpell, errs[1].Code)
	assert.Equal(t, "players[0].grants[0].spell", errs[1].Field)
	assert.Equal(t, ErrDuplicatePlayer, errs[2].Code)
}

func TestParse_ReportsReferenceErrors(t *testing.T) {
	_, err := Parse([]byte("roots: [{text: a}]\nplayers: [{name: p, grants: [{spell: ghost, amount: 1}]}]"))
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrUnknownSpell, ve.Code)
}

func TestDefault(t *testing.T) {
	w := Default()
	assert.Empty(t, Validate(w))
	require.Len(t, w.Roots, 1)
	assert.Equal(t, "This is the beginning of your story.\nThere's nothing here yet, besides these words.", w.Roots[0].Text)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	w, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, w.Roots, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
