package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Preferences persists key to JSON-string UI preferences in the
// preferences table.
type Preferences struct {
	db *sql.DB
}

// NewPreferences creates a Preferences persister.
func NewPreferences(db *sql.DB) *Preferences {
	return &Preferences{db: db}
}

// Load returns the stored value for key and whether it exists.
func (p *Preferences) Load(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Save upserts the value for key.
func (p *Preferences) Save(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
	INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// All returns every stored preference.
func (p *Preferences) All(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
