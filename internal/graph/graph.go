// Package graph stores and traverses the branching story graph.
//
// The graph is a forest. A node may only reference a parent that already
// exists when it is inserted, so cycles cannot be written; reads trust this
// and never check for them. Every node has at most one natural (unforked)
// continuation and any number of forks, each created by using a spell at a
// position unique among its siblings.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
)

// Fork records that a node exists because a spell was used at its parent.
type Fork struct {
	Position int             `json:"position"`
	Spell    *crafting.Spell `json:"spell"`
}

// Parent is a node's link to its predecessor.
type Parent struct {
	NodeID string `json:"node_id"`
	Fork   *Fork  `json:"fork,omitempty"`
}

// ForkChild is a branch created at a node.
type ForkChild struct {
	NodeID string `json:"node_id"`
	Fork   Fork   `json:"fork"`
}

// Node is a paragraph-bearing unit of story content.
type Node struct {
	NodeID       string         `json:"node_id"`
	Parent       *Parent        `json:"parent,omitempty"`
	NaturalChild string         `json:"natural_child,omitempty"`
	ForkChildren []ForkChild    `json:"fork_children"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	CreatedBy    player.Creator `json:"created_by,omitempty"`
	Content      Content        `json:"content"`
}

// IsRoot reports whether n has no parent.
func (n Node) IsRoot() bool { return n.Parent == nil }

// ForkSpec requests a fork on insert.
type ForkSpec struct {
	Position int
	SpellID  string
}

// Draft is a node to insert. An empty ParentID inserts a root.
type Draft struct {
	ParentID  string
	Fork      *ForkSpec
	Content   Content
	CreatedBy player.Creator
}

// Graph reads and writes nodes inside caller-provided transactions.
type Graph struct {
	ids    ident.Generator
	logger *slog.Logger
}

// New creates a Graph. Nil arguments take defaults.
func New(ids ident.Generator, logger *slog.Logger) *Graph {
	if ids == nil {
		ids = ident.UUIDv7Generator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{ids: ids, logger: logger}
}

// Insert writes d as a new node and returns it.
//
// Fails NotFound when the parent, fork spell, or creator does not exist, and
// Validation when the parent's natural slot or the fork position is taken or
// a root carries a fork. Roots are registered in the root index.
func (g *Graph) Insert(ctx context.Context, tx *store.Tx, d Draft) (Node, error) {
	if d.ParentID == "" && d.Fork != nil {
		return Node{}, apperror.Validation("a root node cannot be a fork")
	}
	if d.Fork != nil && d.Fork.Position < 0 {
		return Node{}, apperror.Validation("fork position must be non-negative, got %d", d.Fork.Position)
	}
	if d.ParentID != "" {
		if err := g.requireNode(ctx, tx, d.ParentID); err != nil {
			return Node{}, err
		}
	}
	var forkPosition, forkSpell any
	if d.Fork != nil {
		if _, err := crafting.FetchSpell(ctx, tx, d.Fork.SpellID); err != nil {
			return Node{}, err
		}
		forkPosition, forkSpell = d.Fork.Position, d.Fork.SpellID
	}

	content, err := encodeContent(d.Content)
	if err != nil {
		return Node{}, apperror.Internal("insert node", err)
	}
	var createdAt any
	if d.CreatedBy != nil {
		createdAt = store.FormatTime(tx.Now())
	}

	id := g.ids.NewID()
	_, err = tx.Exec(ctx, `
		INSERT INTO nodes (node_id, content, paragraph_count, parent_id, fork_position,
			created_with, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, content, d.Content.Len(), nullable(d.ParentID), forkPosition, forkSpell,
		createdAt, player.CreatorValue(d.CreatedBy))
	switch {
	case store.IsUniqueViolation(err) && d.Fork == nil:
		return Node{}, apperror.Validation("node %s already has a natural continuation", d.ParentID)
	case store.IsUniqueViolation(err):
		return Node{}, apperror.Validation("node %s already has a fork at position %d", d.ParentID, d.Fork.Position)
	case store.IsForeignKeyViolation(err) && d.CreatedBy != nil:
		return Node{}, apperror.NotFound("user %s", d.CreatedBy.Identifier())
	case store.IsForeignKeyViolation(err):
		return Node{}, apperror.NotFound("node %s references a missing row", id)
	case err != nil:
		return Node{}, apperror.Internal("insert node", err)
	}

	if d.ParentID == "" {
		if _, err := tx.Exec(ctx, `INSERT INTO root_nodes (node_id) VALUES (?)`, id); err != nil {
			return Node{}, apperror.Internal("register root", err)
		}
	}
	g.logger.Debug("node inserted", "node", id, "parent", d.ParentID, "paragraphs", d.Content.Len())
	return g.Fetch(ctx, tx, id)
}

// Fetch returns the node with the given id, including its children.
func (g *Graph) Fetch(ctx context.Context, tx *store.Tx, id string) (Node, error) {
	var (
		n             Node
		content       string
		parentID      sql.NullString
		forkPosition  sql.NullInt64
		createdWith   sql.NullString
		createdAt     sql.NullString
		createdBy     sql.NullString
		createdByName sql.NullString
	)
	err := tx.QueryRow(ctx, `
		SELECT n.node_id, n.content, n.parent_id, n.fork_position, n.created_with,
			n.created_at, n.created_by, u.name
		FROM nodes n LEFT JOIN users u ON u.user_id = n.created_by
		WHERE n.node_id = ?
	`, id).Scan(&n.NodeID, &content, &parentID, &forkPosition, &createdWith,
		&createdAt, &createdBy, &createdByName)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, apperror.NotFound("node %s", id)
	}
	if err != nil {
		return Node{}, apperror.Internal("fetch node", err)
	}

	if n.Content, err = decodeContent(content); err != nil {
		return Node{}, apperror.Internal("fetch node "+id, err)
	}
	if n.CreatedAt, err = store.NullTime(createdAt); err != nil {
		return Node{}, apperror.Internal("fetch node "+id, err)
	}
	n.CreatedBy = player.LinkFromColumns(createdBy, createdByName)

	if parentID.Valid {
		n.Parent = &Parent{NodeID: parentID.String}
		if forkPosition.Valid {
			fork, err := loadFork(ctx, tx, int(forkPosition.Int64), createdWith.String)
			if err != nil {
				return Node{}, err
			}
			n.Parent.Fork = &fork
		}
	}
	if err := g.loadChildren(ctx, tx, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// FetchCurrentPosition returns the node the user is currently at.
func (g *Graph) FetchCurrentPosition(ctx context.Context, tx *store.Tx, userID player.ID) (Node, error) {
	var inNode sql.NullString
	err := tx.QueryRow(ctx, `SELECT in_node FROM users WHERE user_id = ?`, string(userID)).Scan(&inNode)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, apperror.NotFound("user %s", userID)
	}
	if err != nil {
		return Node{}, apperror.Internal("fetch current position", err)
	}
	if !inNode.Valid {
		return Node{}, apperror.NotFound("user %s has no current node", userID)
	}
	return g.Fetch(ctx, tx, inNode.String)
}

// Roots returns every root id in registration order.
func (g *Graph) Roots(ctx context.Context, tx *store.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT node_id FROM root_nodes ORDER BY seq`)
	if err != nil {
		return nil, apperror.Internal("list roots", err)
	}
	defer rows.Close()
	var roots []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Internal("list roots", err)
		}
		roots = append(roots, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Internal("list roots", err)
	}
	return roots, nil
}

// SetDefaultRoot designates the root new players start at.
func (g *Graph) SetDefaultRoot(ctx context.Context, tx *store.Tx, id string) error {
	n, err := g.Fetch(ctx, tx, id)
	if err != nil {
		return err
	}
	if !n.IsRoot() {
		return apperror.Validation("node %s is not a root", id)
	}
	if err := tx.SetProperty(ctx, store.PropertyDefaultRoot, id); err != nil {
		return apperror.Internal("set default root", err)
	}
	return nil
}

// DefaultRoot returns the designated default root, or the first registered
// root when none was designated.
func (g *Graph) DefaultRoot(ctx context.Context, tx *store.Tx) (Node, error) {
	var id string
	found, err := tx.GetProperty(ctx, store.PropertyDefaultRoot, &id)
	if err != nil {
		return Node{}, apperror.Internal("default root", err)
	}
	if !found {
		err := tx.QueryRow(ctx, `SELECT node_id FROM root_nodes ORDER BY seq LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, apperror.NotFound("no root node exists")
		}
		if err != nil {
			return Node{}, apperror.Internal("default root", err)
		}
	}
	return g.Fetch(ctx, tx, id)
}

// NextForkPosition returns the lowest position after every existing fork of
// the node.
func (g *Graph) NextForkPosition(ctx context.Context, tx *store.Tx, parentID string) (int, error) {
	if err := g.requireNode(ctx, tx, parentID); err != nil {
		return 0, err
	}
	var next int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(fork_position) + 1, 0) FROM nodes WHERE parent_id = ?
	`, parentID).Scan(&next)
	if err != nil {
		return 0, apperror.Internal("next fork position", err)
	}
	return next, nil
}

func (g *Graph) requireNode(ctx context.Context, tx *store.Tx, id string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM nodes WHERE node_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("node %s", id)
	}
	if err != nil {
		return apperror.Internal("lookup node", err)
	}
	return nil
}

func (g *Graph) loadChildren(ctx context.Context, tx *store.Tx, n *Node) error {
	type child struct {
		id       string
		position sql.NullInt64
		spell    sql.NullString
	}
	rows, err := tx.Query(ctx, `
		SELECT node_id, fork_position, created_with FROM nodes
		WHERE parent_id = ?
		ORDER BY fork_position IS NOT NULL, fork_position
	`, n.NodeID)
	if err != nil {
		return apperror.Internal("fetch children", err)
	}
	var children []child
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.id, &c.position, &c.spell); err != nil {
			rows.Close()
			return apperror.Internal("fetch children", err)
		}
		children = append(children, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return apperror.Internal("fetch children", err)
	}

	n.ForkChildren = []ForkChild{}
	for _, c := range children {
		if !c.position.Valid {
			n.NaturalChild = c.id
			continue
		}
		fork, err := loadFork(ctx, tx, int(c.position.Int64), c.spell.String)
		if err != nil {
			return err
		}
		n.ForkChildren = append(n.ForkChildren, ForkChild{NodeID: c.id, Fork: fork})
	}
	return nil
}

func loadFork(ctx context.Context, tx *store.Tx, position int, spellID string) (Fork, error) {
	sp, err := crafting.FetchSpell(ctx, tx, spellID)
	if err != nil {
		return Fork{}, err
	}
	return Fork{Position: position, Spell: &sp}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
