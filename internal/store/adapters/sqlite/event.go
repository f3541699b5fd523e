package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// eventRepo implementa repository.EventRepository sobre SQLite.
type eventRepo struct{ db *sql.DB }

const defaultEventLimit = 200

func (r *eventRepo) Append(ctx context.Context, e domain.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const query = `INSERT INTO events (ts, level, identity_id, category, message) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, fmtTime(ts), string(e.Level), e.IdentityID, e.Category, e.Message); err != nil {
		return fmt.Errorf("sqlite: append event: %w", err)
	}
	return nil
}

func (r *eventRepo) List(ctx context.Context, filter repository.EventFilter) ([]domain.Event, error) {
	query := `SELECT id, ts, level, identity_id, category, message FROM events`

	var conds []string
	var args []any
	if filter.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.IdentityID != "" {
		conds = append(conds, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			ts    string
			level string
		)
		if err := rows.Scan(&e.ID, &ts, &level, &e.IdentityID, &e.Category, &e.Message); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Level = domain.EventLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *eventRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM events WHERE ts < ?`
	res, err := r.db.ExecContext(ctx, query, fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
