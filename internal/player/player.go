// Package player holds the user reference records the game core reads:
// identity, display name, and current position in the node graph.
// Credentials and sessions live outside this module.
package player

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/ident"
	"github.com/roach88/semantica/internal/store"
)

// MaxNameLength bounds player names, in runes.
const MaxNameLength = 64

// Creator is anything that identifies the user who created a record.
// Writes accept a bare ID; reads return a Link carrying the display name.
type Creator interface {
	Identifier() string
}

// ID references a user by id only.
type ID string

// Identifier implements Creator.
func (id ID) Identifier() string { return string(id) }

// Link is the full reference to a user as returned in responses.
type Link struct {
	UserID ID     `json:"user_id"`
	Name   string `json:"name"`
}

// Identifier implements Creator.
func (l Link) Identifier() string { return string(l.UserID) }

// CreatorValue converts an optional Creator into a SQL argument.
func CreatorValue(c Creator) any {
	if c == nil {
		return nil
	}
	return c.Identifier()
}

// LinkFromColumns builds the creator of a joined row. A NULL id means the
// record was system-generated.
func LinkFromColumns(id, name sql.NullString) Creator {
	if !id.Valid {
		return nil
	}
	return Link{UserID: ID(id.String), Name: name.String}
}

// User is a player record.
type User struct {
	UserID    ID        `json:"user_id"`
	Name      string    `json:"name"`
	InNode    string    `json:"in_node,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Link returns the full reference to u.
func (u User) Link() Link {
	return Link{UserID: u.UserID, Name: u.Name}
}

// Registry creates, reads, and moves players.
type Registry struct {
	ids ident.Generator
}

// NewRegistry creates a Registry. A nil generator defaults to UUIDv7.
func NewRegistry(ids ident.Generator) *Registry {
	if ids == nil {
		ids = ident.UUIDv7Generator{}
	}
	return &Registry{ids: ids}
}

// Create registers a new player positioned at inNode.
// Fails with Validation for a blank, overlong, or taken name, and NotFound
// when inNode does not exist.
func (r *Registry) Create(ctx context.Context, tx *store.Tx, name, inNode string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, apperror.Validation("player name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return User{}, apperror.Validation("player name exceeds %d characters", MaxNameLength)
	}

	u := User{
		UserID:    ID(r.ids.NewID()),
		Name:      name,
		InNode:    inNode,
		CreatedAt: tx.Now(),
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, name, in_node, created_at)
		VALUES (?, ?, ?, ?)
	`, string(u.UserID), u.Name, nullable(inNode), store.FormatTime(u.CreatedAt))
	switch {
	case store.IsUniqueViolation(err):
		return User{}, apperror.Validation("player name %q is taken", name)
	case store.IsForeignKeyViolation(err):
		return User{}, apperror.NotFound("node %s", inNode)
	case err != nil:
		return User{}, apperror.Internal("create player", err)
	}
	return u, nil
}

// Fetch returns the player with the given id.
func (r *Registry) Fetch(ctx context.Context, tx *store.Tx, id ID) (User, error) {
	return scanUser(tx.QueryRow(ctx, `
		SELECT user_id, name, in_node, created_at FROM users WHERE user_id = ?
	`, string(id)), string(id))
}

// FetchByName returns the player with the given name.
func (r *Registry) FetchByName(ctx context.Context, tx *store.Tx, name string) (User, error) {
	return scanUser(tx.QueryRow(ctx, `
		SELECT user_id, name, in_node, created_at FROM users WHERE name = ?
	`, strings.TrimSpace(name)), name)
}

// Move sets the player's current position.
func (r *Registry) Move(ctx context.Context, tx *store.Tx, id ID, nodeID string) error {
	res, err := tx.Exec(ctx, `UPDATE users SET in_node = ? WHERE user_id = ?`, nodeID, string(id))
	if store.IsForeignKeyViolation(err) {
		return apperror.NotFound("node %s", nodeID)
	}
	if err != nil {
		return apperror.Internal("move player", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Internal("move player: rows affected", err)
	}
	if n == 0 {
		return apperror.NotFound("user %s", id)
	}
	return nil
}

func scanUser(row *store.Row, key string) (User, error) {
	var (
		u         User
		id        string
		inNode    sql.NullString
		createdAt string
	)
	err := row.Scan(&id, &u.Name, &inNode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperror.NotFound("user %s", key)
	}
	if err != nil {
		return User{}, apperror.Internal("fetch user", err)
	}
	u.UserID = ID(id)
	u.InNode = inNode.String
	if u.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return User{}, apperror.Internal("fetch user", err)
	}
	return u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
