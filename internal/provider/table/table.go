// Package table is a deterministic crafting provider backed by a YAML
// fixture. Ingredient lists are matched as multisets, so the order in which
// the resolver passes names does not matter.
package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/roach88/semantica/internal/crafting"
)

// ErrNoRecipe is returned when no entry matches and no fallback is set.
var ErrNoRecipe = errors.New("table: no recipe for ingredients")

// File is the fixture document.
//
//	recipes:
//	  - ingredients: [water, fire]
//	    product: {name: steam, emoji: "💨", description: Hot vapour.}
//	fallback:
//	  name: '{{join .Names "-"}}'
//	  emoji: "✨"
//	  description: 'A blend of {{join .Names " and "}}.'
type File struct {
	Recipes  []Recipe  `yaml:"recipes"`
	Fallback *Template `yaml:"fallback,omitempty"`
}

// Recipe maps an ingredient list to a product.
type Recipe struct {
	Ingredients []string           `yaml:"ingredients"`
	Product     crafting.Candidate `yaml:"product"`
}

// Template renders a product for unmatched ingredients. Each field is a
// text/template executed with .Names and the join function.
type Template struct {
	Name        string `yaml:"name"`
	Emoji       string `yaml:"emoji"`
	Description string `yaml:"description"`
}

// Provider answers from the table.
type Provider struct {
	entries  map[string]crafting.Candidate
	fallback *compiledTemplate
}

type compiledTemplate struct {
	name, emoji, description *template.Template
}

// Load reads a fixture file.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a fixture document.
func Parse(data []byte) (*Provider, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return New(f)
}

// New builds a provider from a decoded fixture.
func New(f File) (*Provider, error) {
	p := &Provider{entries: make(map[string]crafting.Candidate, len(f.Recipes))}
	for i, r := range f.Recipes {
		if len(r.Ingredients) == 0 {
			return nil, fmt.Errorf("recipe %d: no ingredients", i)
		}
		if strings.TrimSpace(r.Product.Name) == "" {
			return nil, fmt.Errorf("recipe %d: product has no name", i)
		}
		key := multisetKey(r.Ingredients)
		if _, dup := p.entries[key]; dup {
			return nil, fmt.Errorf("recipe %d: duplicate ingredients %v", i, r.Ingredients)
		}
		p.entries[key] = r.Product
	}
	if f.Fallback != nil {
		fb, err := compile(*f.Fallback)
		if err != nil {
			return nil, err
		}
		p.fallback = fb
	}
	return p, nil
}

// Generate implements crafting.Provider.
func (p *Provider) Generate(ctx context.Context, names []string) (crafting.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return crafting.Candidate{}, err
	}
	if c, ok := p.entries[multisetKey(names)]; ok {
		return c, nil
	}
	if p.fallback == nil {
		return crafting.Candidate{}, fmt.Errorf("%w %v", ErrNoRecipe, names)
	}
	return p.fallback.render(names)
}

func multisetKey(names []string) string {
	sorted := make([]string, len(names))
	for i, n := range names {
		sorted[i] = strings.ToLower(strings.TrimSpace(n))
	}
	slices.Sort(sorted)
	return strings.Join(sorted, "\x00")
}

var funcs = template.FuncMap{"join": strings.Join}

func compile(t Template) (*compiledTemplate, error) {
	parse := func(field, text string) (*template.Template, error) {
		tmpl, err := template.New(field).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", field, err)
		}
		return tmpl, nil
	}
	var (
		c   compiledTemplate
		err error
	)
	if c.name, err = parse("name", t.Name); err != nil {
		return nil, err
	}
	if c.emoji, err = parse("emoji", t.Emoji); err != nil {
		return nil, err
	}
	if c.description, err = parse("description", t.Description); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *compiledTemplate) render(names []string) (crafting.Candidate, error) {
	data := struct{ Names []string }{Names: names}
	exec := func(t *template.Template) (string, error) {
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render fallback %s: %w", t.Name(), err)
		}
		return buf.String(), nil
	}
	var (
		out crafting.Candidate
		err error
	)
	if out.Name, err = exec(c.name); err != nil {
		return crafting.Candidate{}, err
	}
	if out.Emoji, err = exec(c.emoji); err != nil {
		return crafting.Candidate{}, err
	}
	if out.Description, err = exec(c.description); err != nil {
		return crafting.Candidate{}, err
	}
	return out, nil
}
