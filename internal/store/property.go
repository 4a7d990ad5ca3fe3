package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known property keys.
const (
	PropertyInitialized = "world.initialized"
	PropertyDefaultRoot = "world.default_root"
)

// GetProperty decodes the JSON value stored under key into dst.
// Returns false if the key is not set.
func (t *Tx) GetProperty(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := t.QueryRow(ctx, `SELECT value FROM properties WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get property %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode property %q: %w", key, err)
	}
	return true, nil
}

// SetProperty stores value as JSON under key, replacing any previous value.
func (t *Tx) SetProperty(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode property %q: %w", key, err)
	}
	_, err = t.Exec(ctx, `
		INSERT INTO properties (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("set property %q: %w", key, err)
	}
	return nil
}

// FormatTime renders t the way timestamps are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// NullTime converts a nullable stored timestamp into a *time.Time.
func NullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
