package crafting

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
)

// Spell is a craftable item.
type Spell struct {
	SpellID     string         `json:"spell_id"`
	Name        string         `json:"name"`
	Emoji       string         `json:"emoji"`
	Description string         `json:"description"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	CreatedBy   player.Creator `json:"created_by,omitempty"`
}

// Candidate is a generated spell before it has an identity.
type Candidate struct {
	Name        string `json:"name" yaml:"name"`
	Emoji       string `json:"emoji" yaml:"emoji"`
	Description string `json:"description" yaml:"description"`
}

// Normalize trims and NFC-normalizes every field.
// Fails when the name is empty afterwards.
func (c Candidate) Normalize() (Candidate, error) {
	out := Candidate{
		Name:        norm.NFC.String(strings.TrimSpace(c.Name)),
		Emoji:       norm.NFC.String(strings.TrimSpace(c.Emoji)),
		Description: norm.NFC.String(strings.TrimSpace(c.Description)),
	}
	if out.Name == "" {
		return Candidate{}, errors.New("candidate has no name")
	}
	return out, nil
}

const spellColumns = `
	s.spell_id, s.name, s.emoji, s.description, s.created_at, s.created_by, u.name
`

// FetchSpell returns the spell with the given id.
func FetchSpell(ctx context.Context, tx *store.Tx, id string) (Spell, error) {
	sp, err := scanSpell(tx.QueryRow(ctx, `SELECT `+spellColumns+`
		FROM spells s LEFT JOIN users u ON u.user_id = s.created_by
		WHERE s.spell_id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Spell{}, apperror.NotFound("spell %s", id)
	}
	if err != nil {
		return Spell{}, apperror.Internal("fetch spell", err)
	}
	return sp, nil
}

// FetchSpellByName returns the oldest spell with the given name.
// Spell names are not unique; system spells sort first.
func FetchSpellByName(ctx context.Context, tx *store.Tx, name string) (Spell, error) {
	sp, err := scanSpell(tx.QueryRow(ctx, `SELECT `+spellColumns+`
		FROM spells s LEFT JOIN users u ON u.user_id = s.created_by
		WHERE s.name = ?
		ORDER BY s.created_at IS NOT NULL, s.created_at, s.spell_id
		LIMIT 1
	`, norm.NFC.String(strings.TrimSpace(name))))
	if errors.Is(err, sql.ErrNoRows) {
		return Spell{}, apperror.NotFound("spell named %q", name)
	}
	if err != nil {
		return Spell{}, apperror.Internal("fetch spell", err)
	}
	return sp, nil
}

// InsertSpell writes a new spell with the given id. A nil creator marks a
// system spell, which carries no creation time.
func InsertSpell(ctx context.Context, tx *store.Tx, id string, c Candidate, creator player.Creator) (Spell, error) {
	c, err := c.Normalize()
	if err != nil {
		return Spell{}, apperror.Validation("spell name is required")
	}
	sp := Spell{
		SpellID:     id,
		Name:        c.Name,
		Emoji:       c.Emoji,
		Description: c.Description,
		CreatedBy:   creator,
	}
	var createdAt any
	if creator != nil {
		now := tx.Now()
		sp.CreatedAt = &now
		createdAt = store.FormatTime(now)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO spells (spell_id, name, emoji, description, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sp.SpellID, sp.Name, sp.Emoji, sp.Description, createdAt, player.CreatorValue(creator))
	switch {
	case store.IsForeignKeyViolation(err):
		if creator == nil {
			return Spell{}, apperror.NotFound("spell %s references a missing row", id)
		}
		return Spell{}, apperror.NotFound("user %s", creator.Identifier())
	case store.IsUniqueViolation(err):
		return Spell{}, apperror.Validation("spell %s already exists", id)
	case err != nil:
		return Spell{}, apperror.Internal("insert spell", err)
	}
	return sp, nil
}

func scanSpell(row *store.Row) (Spell, error) {
	var (
		sp            Spell
		createdAt     sql.NullString
		createdBy     sql.NullString
		createdByName sql.NullString
	)
	if err := row.Scan(&sp.SpellID, &sp.Name, &sp.Emoji, &sp.Description,
		&createdAt, &createdBy, &createdByName); err != nil {
		return Spell{}, err
	}
	t, err := store.NullTime(createdAt)
	if err != nil {
		return Spell{}, err
	}
	sp.CreatedAt = t
	sp.CreatedBy = player.LinkFromColumns(createdBy, createdByName)
	return sp, nil
}
