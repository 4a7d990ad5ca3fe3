// Package ident generates record identifiers.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique record identifiers.
type Generator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits, so
// nodes and spells created later sort after earlier ones. Stateless and safe
// for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new UUIDv7 in hyphenated form.
//
// Panics if the system random source fails (should never happen in practice).
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns deterministic UUID-shaped identifiers for tests:
// 00000000-0000-7000-8000-000000000001, ...-000000000002, and so on.
//
// The output sorts in generation order, which keeps canonical recipe keys
// predictable in golden files. Safe for concurrent use.
type SequenceGenerator struct {
	mu   sync.Mutex
	next uint64
}

// NewSequenceGenerator creates a generator whose first id ends in 1.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{next: 1}
}

// NewID returns the next id in sequence.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("00000000-0000-7000-8000-%012x", g.next)
	g.next++
	return id
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
