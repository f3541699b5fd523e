package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// eventRepo implementa repository.EventRepository sobre PostgreSQL.
type eventRepo struct{ pool *pgxpool.Pool }

const defaultEventLimit = 200

func (r *eventRepo) Append(ctx context.Context, e domain.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const query = `INSERT INTO events (ts, level, identity_id, category, message) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, ts, string(e.Level), e.IdentityID, e.Category, e.Message); err != nil {
		return fmt.Errorf("pg: append event: %w", err)
	}
	return nil
}

func (r *eventRepo) List(ctx context.Context, filter repository.EventFilter) ([]domain.Event, error) {
	query := `SELECT id, ts, level, identity_id, category, message FROM events`

	var conds []string
	var args []any
	argIdx := 1

	addCond := func(cond string, val any) {
		conds = append(conds, fmt.Sprintf(cond, argIdx))
		args = append(args, val)
		argIdx++
	}

	if filter.Level != "" {
		addCond("level = $%d", string(filter.Level))
	}
	if filter.IdentityID != "" {
		addCond("identity_id = $%d", filter.IdentityID)
	}
	if filter.Category != "" {
		addCond("category = $%d", filter.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			level string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.IdentityID, &e.Category, &e.Message); err != nil {
			return nil, fmt.Errorf("pg: scan event: %w", err)
		}
		e.Level = domain.EventLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *eventRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM events WHERE ts < $1`
	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("pg: prune events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
