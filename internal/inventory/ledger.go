// Package inventory keeps per-user spell quantities.
package inventory

import (
	"context"
	"math"

	"github.com/roach88/semantica/internal/apperror"
	"github.com/roach88/semantica/internal/crafting"
	"github.com/roach88/semantica/internal/player"
	"github.com/roach88/semantica/internal/store"
)

// Entry is one spell a user holds.
type Entry struct {
	Spell  crafting.Spell `json:"spell"`
	Amount int64          `json:"amount"`
}

// Ledger reads and increments inventory rows. Rows are created on the first
// grant and never deleted.
type Ledger struct{}

// NewLedger creates a Ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Add credits amount units of the spell to the user and returns the new
// total. A zero amount still creates the row.
func (l *Ledger) Add(ctx context.Context, tx *store.Tx, userID player.ID, spellID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, apperror.Validation("amount must be non-negative, got %d", amount)
	}
	current, err := l.Amount(ctx, tx, userID, spellID)
	if err != nil {
		return 0, err
	}
	if amount > math.MaxInt64-current {
		return 0, apperror.Validation("amount %d would overflow the %d held of spell %s", amount, current, spellID)
	}
	var total int64
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_contents (user_id, spell_id, amount)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, spell_id) DO UPDATE SET amount = amount + excluded.amount
		RETURNING amount
	`, string(userID), spellID, amount).Scan(&total)
	if store.IsForeignKeyViolation(err) {
		return 0, apperror.NotFound("user %s or spell %s", userID, spellID)
	}
	if err != nil {
		return 0, apperror.Internal("add to inventory", err)
	}
	return total, nil
}

// Fetch returns every entry the user holds. Rows come back in spell id order
// so the result is deterministic; callers sort for display.
func (l *Ledger) Fetch(ctx context.Context, tx *store.Tx, userID player.ID) ([]Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT spell_id, amount FROM inventory_contents
		WHERE user_id = ?
		ORDER BY spell_id
	`, string(userID))
	if err != nil {
		return nil, apperror.Internal("fetch inventory", err)
	}
	type row struct {
		spellID string
		amount  int64
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.spellID, &r.amount); err != nil {
			rows.Close()
			return nil, apperror.Internal("fetch inventory", err)
		}
		found = append(found, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperror.Internal("fetch inventory", err)
	}

	entries := make([]Entry, 0, len(found))
	for _, r := range found {
		sp, err := crafting.FetchSpell(ctx, tx, r.spellID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Spell: sp, Amount: r.amount})
	}
	return entries, nil
}

// Amount returns how many units of the spell the user holds.
func (l *Ledger) Amount(ctx context.Context, tx *store.Tx, userID player.ID, spellID string) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM inventory_contents WHERE user_id = ? AND spell_id = ?
	`, string(userID), spellID).Scan(&amount)
	if err != nil {
		return 0, apperror.Internal("inventory amount", err)
	}
	return amount, nil
}
