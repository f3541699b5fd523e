package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// activityRepo implementa repository.ActivityRecordRepository sobre PostgreSQL.
type activityRepo struct{ pool *pgxpool.Pool }

const activityColumns = `id, identity_id, started_at, ended_at, activity_set`

func scanActivity(row interface{ Scan(dest ...any) error }) (*domain.ActivityRecord, error) {
	var (
		rec    domain.ActivityRecord
		setRaw string
	)

	err := row.Scan(&rec.ID, &rec.IdentityID, &rec.StartedAt, &rec.EndedAt, &setRaw)
	if err == pgx.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ActivitySet = decodeSet(setRaw)
	return &rec, nil
}

func (r *activityRepo) Open(ctx context.Context, identityID string, at time.Time, activitySet []uint32) (*domain.ActivityRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Cerrar cualquier ventana abierta previa en la misma transacción.
	const closePrior = `UPDATE activity_records SET ended_at = $2 WHERE identity_id = $1 AND ended_at IS NULL`
	if _, err := tx.Exec(ctx, closePrior, identityID, at); err != nil {
		return nil, fmt.Errorf("pg: close prior window: %w", err)
	}

	rec := &domain.ActivityRecord{
		ID:          uuid.NewString(),
		IdentityID:  identityID,
		StartedAt:   at,
		ActivitySet: domain.NormalizeActivitySet(activitySet),
	}

	const insert = `INSERT INTO activity_records (id, identity_id, started_at, activity_set) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insert, rec.ID, rec.IdentityID, at, encodeSet(rec.ActivitySet)); err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" { // foreign_key_violation
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: open window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pg: commit: %w", err)
	}
	return rec, nil
}

func (r *activityRepo) Close(ctx context.Context, identityID string, at time.Time) (*domain.ActivityRecord, error) {
	const query = `
		UPDATE activity_records SET ended_at = $2
		WHERE identity_id = $1 AND ended_at IS NULL
		RETURNING ` + activityColumns + `
	`
	rec, err := scanActivity(r.pool.QueryRow(ctx, query, identityID, at))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil // sin ventana abierta: stop es idempotente
	}
	if err != nil {
		return nil, fmt.Errorf("pg: close window: %w", err)
	}
	return rec, nil
}

func (r *activityRepo) CloseAllOpen(ctx context.Context, at time.Time) (int, error) {
	const query = `UPDATE activity_records SET ended_at = $1 WHERE ended_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, at)
	if err != nil {
		return 0, fmt.Errorf("pg: close all open: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *activityRepo) GetOpen(ctx context.Context, identityID string) (*domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE identity_id = $1 AND ended_at IS NULL`
	rec, err := scanActivity(r.pool.QueryRow(ctx, query, identityID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get open window: %w", err)
	}
	return rec, nil
}

func (r *activityRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE identity_id = $1 ORDER BY started_at DESC`
	args := []any{identityID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list windows: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan window: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *activityRepo) CountByIdentity(ctx context.Context, identityID string) (total, open int, err error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM activity_records WHERE identity_id = $1
	`
	if err := r.pool.QueryRow(ctx, query, identityID).Scan(&total, &open); err != nil {
		return 0, 0, fmt.Errorf("pg: count windows: %w", err)
	}
	return total, open, nil
}
