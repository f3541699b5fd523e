package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// settingRepo implementa repository.SettingsRepository sobre SQLite.
type settingRepo struct{ db *sql.DB }

func (r *settingRepo) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM settings WHERE key = ?`
	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get setting: %w", err)
	}
	return value, nil
}

func (r *settingRepo) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, key, value, fmtTime(time.Now())); err != nil {
		return fmt.Errorf("sqlite: set setting: %w", err)
	}
	return nil
}

func (r *settingRepo) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM settings WHERE key = ?`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("sqlite: delete setting: %w", err)
	}
	return nil
}

func (r *settingRepo) All(ctx context.Context) (map[string]string, error) {
	const query = `SELECT key, value FROM settings`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite: scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
