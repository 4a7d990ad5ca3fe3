// Package world describes the initial contents of a fresh database: root
// nodes, base spells, and starting players with their grants.
//
// Seed documents are YAML. They are checked against an embedded CUE schema
// for shape, then validated for references between sections.
package world

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// World is a seed document.
type World struct {
	Roots   []Root   `yaml:"roots" json:"roots"`
	Spells  []Spell  `yaml:"spells,omitempty" json:"spells,omitempty"`
	Players []Player `yaml:"players,omitempty" json:"players,omitempty"`
}

// Root is a story entry point. The first root becomes the default.
type Root struct {
	Text string `yaml:"text" json:"text"`
}

// Spell is a base spell available before any crafting.
type Spell struct {
	Name        string `yaml:"name" json:"name"`
	Emoji       string `yaml:"emoji,omitempty" json:"emoji,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Player is a starting player, placed at the default root.
type Player struct {
	Name   string  `yaml:"name" json:"name"`
	Grants []Grant `yaml:"grants,omitempty" json:"grants,omitempty"`
}

// Grant gives a player units of a base spell, referenced by name.
type Grant struct {
	Spell  string `yaml:"spell" json:"spell"`
	Amount int64  `yaml:"amount" json:"amount"`
}

// Validation error codes.
const (
	ErrSchema          = "W100" // document does not match the schema
	ErrDuplicateSpell  = "W101" // two base spells share a name
	ErrDuplicatePlayer = "W102" // two players share a name
	ErrUnknownSpell    = "W103" // grant references a spell not in the document
)

// ValidationError is one problem found in a seed document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Default is the built-in world used when no seed file is configured.
func Default() World {
	return World{
		Roots: []Root{{
			Text: "This is the beginning of your story.\nThere's nothing here yet, besides these words.",
		}},
		Spells: []Spell{
			{Name: "water", Emoji: "💧", Description: "It flows."},
			{Name: "fire", Emoji: "🔥", Description: "It burns."},
			{Name: "earth", Emoji: "🪨", Description: "It holds."},
			{Name: "air", Emoji: "💨", Description: "It moves."},
		},
		Players: []Player{{
			Name: "test",
			Grants: []Grant{
				{Spell: "water", Amount: 1},
				{Spell: "fire", Amount: 1},
				{Spell: "earth", Amount: 1},
				{Spell: "air", Amount: 1},
			},
		}},
	}
}

// Load reads and validates a seed file.
func Load(path string) (World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return World{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	w, err := Parse(data)
	if err != nil {
		return World{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return w, nil
}

// Parse checks a YAML seed document against the schema, decodes it, and
// validates its references. All reference problems are reported together.
func Parse(data []byte) (World, error) {
	if err := checkSchema(data); err != nil {
		return World{}, ValidationError{Field: "document", Message: err.Error(), Code: ErrSchema}
	}
	var w World
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil {
		return World{}, fmt.Errorf("decode seed: %w", err)
	}
	if errs := Validate(w); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return World{}, errors.Join(joined...)
	}
	return w, nil
}

func checkSchema(data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	file, err := cueyaml.Extract("seed.yaml", data)
	if err != nil {
		return err
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return err
	}
	unified := schema.LookupPath(cue.ParsePath("#World")).Unify(doc)
	return unified.Validate(cue.Concrete(true))
}

// Validate reports reference problems in w: duplicate spell or player names
// and grants of spells the document does not define. Names compare
// case-insensitively.
func Validate(w World) []ValidationError {
	var errs []ValidationError

	spells := make(map[string]bool, len(w.Spells))
	for i, s := range w.Spells {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if spells[key] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("spells[%d].name", i),
				Message: fmt.Sprintf("spell %q is defined twice", s.Name),
				Code:    ErrDuplicateSpell,
			})
		}
		spells[key] = true
	}

	players := make(map[string]bool, len(w.Players))
	for i, p := range w.Players {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if players[key] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("players[%d].name", i),
				Message: fmt.Sprintf("player %q is defined twice", p.Name),
				Code:    ErrDuplicatePlayer,
			})
		}
		players[key] = true

		for j, g := range p.Grants {
			if !spells[strings.ToLower(strings.TrimSpace(g.Spell))] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("players[%d].grants[%d].spell", i, j),
					Message: fmt.Sprintf("spell %q is not defined", g.Spell),
					Code:    ErrUnknownSpell,
				})
			}
		}
	}
	return errs
}
