// Package scenario runs scripted playthroughs against a fresh game and
// records what happened as a canonical trace.
//
// A scenario names a world, a provider table, and a list of steps. Players
// and spells are referenced by name; ids, times, and generated content are
// deterministic, so traces can be compared with golden files.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/semantica/internal/provider/table"
	"github.com/roach88/semantica/internal/world"
)

// Operation names.
const (
	OpRegister  = "register"
	OpGrant     = "grant"
	OpCraft     = "craft"
	OpAdvance   = "advance"
	OpFollow    = "follow"
	OpNodes     = "nodes"
	OpInventory = "inventory"
)

// Scenario is a scripted playthrough.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// World seeds the game. The built-in world is used when absent.
	World *world.World `yaml:"world,omitempty"`

	// Table answers crafting requests.
	Table table.File `yaml:"table"`

	// Steps run in order; a failed expectation does not stop the run.
	Steps []Step `yaml:"steps"`
}

// Step is one game operation. Which fields apply depends on Op.
//
// Node references a node by the label of the advance step that wrote it,
// by "root" for the default root, or by id.
type Step struct {
	Op              string   `yaml:"op"`
	Player          string   `yaml:"player,omitempty"`
	Spell           string   `yaml:"spell,omitempty"`
	Amount          int64    `yaml:"amount,omitempty"`
	Ingredients     []string `yaml:"ingredients,omitempty"`
	Text            string   `yaml:"text,omitempty"`
	Node            string   `yaml:"node,omitempty"`
	Label           string   `yaml:"label,omitempty"`
	LimitNodes      int      `yaml:"limit_nodes,omitempty"`
	LimitParagraphs int      `yaml:"limit_paragraphs,omitempty"`
	Expect          *Expect  `yaml:"expect,omitempty"`
}

// Expect lists checks on a step's outcome. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code; a step expecting an error must fail.
	Error string `yaml:"error,omitempty"`

	Product        string           `yaml:"product,omitempty"`
	FirstDiscovery *bool            `yaml:"first_discovery,omitempty"`
	Total          *int64           `yaml:"total,omitempty"`
	Count          *int             `yaml:"count,omitempty"`
	Nodes          []string         `yaml:"nodes,omitempty"`
	Amounts        map[string]int64 `yaml:"amounts,omitempty"`
}

// Load reads and validates a scenario file. Unknown fields are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validate(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validate(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if sc.World != nil {
		if errs := world.Validate(*sc.World); len(errs) > 0 {
			return fmt.Errorf("world: %w", errs[0])
		}
	}
	for i, st := range sc.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	needPlayer := func() error {
		if st.Player == "" {
			return fmt.Errorf("player is required for %s", st.Op)
		}
		return nil
	}
	switch st.Op {
	case OpRegister, OpInventory:
		return needPlayer()
	case OpGrant:
		if st.Spell == "" {
			return fmt.Errorf("spell is required for grant")
		}
		return needPlayer()
	case OpCraft:
		if len(st.Ingredients) == 0 && (st.Expect == nil || st.Expect.Error == "") {
			return fmt.Errorf("ingredients are required for craft")
		}
		return needPlayer()
	case OpAdvance:
		if st.Text == "" && (st.Expect == nil || st.Expect.Error == "") {
			return fmt.Errorf("text is required for advance")
		}
		return needPlayer()
	case OpFollow:
		if st.Node == "" {
			return fmt.Errorf("node is required for follow")
		}
		return needPlayer()
	case OpNodes:
		if st.Player == "" && st.Node == "" {
			return fmt.Errorf("player or node is required for nodes")
		}
		return nil
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}
