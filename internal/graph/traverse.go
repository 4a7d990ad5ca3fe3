package graph

import (
	"context"

	"github.com/roach88/semantica/internal/store"
)

// StopReason says why an ancestor walk ended.
type StopReason string

const (
	StopRoot           StopReason = "root"
	StopNodeLimit      StopReason = "node_limit"
	StopParagraphLimit StopReason = "paragraph_limit"
	StopError          StopReason = "error"
)

// TraversalStats summarizes an ancestor walk. Stop is empty until the walk
// has ended.
type TraversalStats struct {
	Nodes      int        `json:"nodes"`
	Paragraphs int        `json:"paragraphs"`
	Stop       StopReason `json:"stop,omitempty"`
}

// Ancestors is a single-use cursor over a node and its ancestors, nearest
// first. Use it like sql.Rows:
//
//	it := g.TraverseAncestors(ctx, tx, id, 2, 20)
//	for it.Next() {
//	    n := it.Node()
//	}
//	if err := it.Err(); err != nil { ... }
type Ancestors struct {
	g               *Graph
	ctx             context.Context
	tx              *store.Tx
	next            string
	limitNodes      int
	limitParagraphs int

	node  Node
	stats TraversalStats
	err   error
	done  bool
}

// TraverseAncestors walks from startID through successive parents, never
// through forks. The start node is always yielded; further ancestors are
// pulled while fewer than limitNodes nodes and fewer than limitParagraphs
// paragraphs have been yielded, until a root is reached.
func (g *Graph) TraverseAncestors(ctx context.Context, tx *store.Tx, startID string, limitNodes, limitParagraphs int) *Ancestors {
	return &Ancestors{
		g:               g,
		ctx:             ctx,
		tx:              tx,
		next:            startID,
		limitNodes:      limitNodes,
		limitParagraphs: limitParagraphs,
	}
}

// Next advances to the next node. It returns false when the walk is over or
// failed; check Err afterwards.
func (a *Ancestors) Next() bool {
	if a.done {
		return false
	}
	if a.stats.Nodes > 0 {
		switch {
		case a.node.Parent == nil:
			return a.finish(StopRoot)
		case a.stats.Nodes >= a.limitNodes:
			return a.finish(StopNodeLimit)
		case a.stats.Paragraphs >= a.limitParagraphs:
			return a.finish(StopParagraphLimit)
		}
		a.next = a.node.Parent.NodeID
	}

	n, err := a.g.Fetch(a.ctx, a.tx, a.next)
	if err != nil {
		a.err = err
		return a.finish(StopError)
	}
	a.node = n
	a.stats.Nodes++
	a.stats.Paragraphs += n.Content.Len()
	return true
}

func (a *Ancestors) finish(reason StopReason) bool {
	a.done = true
	a.node = Node{}
	a.stats.Stop = reason
	a.g.logger.Debug("ancestor traversal stopped", "reason", reason,
		"nodes", a.stats.Nodes, "paragraphs", a.stats.Paragraphs)
	return false
}

// Node returns the current node.
func (a *Ancestors) Node() Node { return a.node }

// Err returns the error that ended the walk, if any.
func (a *Ancestors) Err() error { return a.err }

// Stats returns the walk's counters so far.
func (a *Ancestors) Stats() TraversalStats { return a.stats }

// Collect drains the cursor.
func (a *Ancestors) Collect() ([]Node, error) {
	var nodes []Node
	for a.Next() {
		nodes = append(nodes, a.Node())
	}
	return nodes, a.Err()
}
