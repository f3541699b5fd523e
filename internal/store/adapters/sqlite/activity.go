package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// activityRepo implementa repository.ActivityRecordRepository sobre SQLite.
type activityRepo struct{ db *sql.DB }

const activityColumns = `id, identity_id, started_at, ended_at, activity_set`

func scanActivity(row interface{ Scan(dest ...any) error }) (*domain.ActivityRecord, error) {
	var (
		rec     domain.ActivityRecord
		started string
		ended   sql.NullString
		setRaw  string
	)

	err := row.Scan(&rec.ID, &rec.IdentityID, &started, &ended, &setRaw)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rec.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if rec.EndedAt, err = parseTimePtr(ended); err != nil {
		return nil, err
	}
	rec.ActivitySet = decodeSet(setRaw)

	return &rec, nil
}

func (r *activityRepo) Open(ctx context.Context, identityID string, at time.Time, activitySet []uint32) (*domain.ActivityRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Cerrar cualquier ventana abierta previa en la misma transacción.
	const closePrior = `UPDATE activity_records SET ended_at = ? WHERE identity_id = ? AND ended_at IS NULL`
	if _, err := tx.ExecContext(ctx, closePrior, fmtTime(at), identityID); err != nil {
		return nil, fmt.Errorf("sqlite: close prior window: %w", err)
	}

	rec := &domain.ActivityRecord{
		ID:          uuid.NewString(),
		IdentityID:  identityID,
		StartedAt:   at,
		ActivitySet: domain.NormalizeActivitySet(activitySet),
	}

	const insert = `INSERT INTO activity_records (id, identity_id, started_at, activity_set) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, rec.ID, rec.IdentityID, fmtTime(at), encodeSet(rec.ActivitySet)); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: open window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return rec, nil
}

func (r *activityRepo) Close(ctx context.Context, identityID string, at time.Time) (*domain.ActivityRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE identity_id = ? AND ended_at IS NULL`
	rec, err := scanActivity(tx.QueryRowContext(ctx, query, identityID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil // sin ventana abierta: stop es idempotente
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get open window: %w", err)
	}

	const update = `UPDATE activity_records SET ended_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, fmtTime(at), rec.ID); err != nil {
		return nil, fmt.Errorf("sqlite: close window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}

	end := at
	rec.EndedAt = &end
	return rec, nil
}

func (r *activityRepo) CloseAllOpen(ctx context.Context, at time.Time) (int, error) {
	const query = `UPDATE activity_records SET ended_at = ? WHERE ended_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, fmtTime(at))
	if err != nil {
		return 0, fmt.Errorf("sqlite: close all open: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *activityRepo) GetOpen(ctx context.Context, identityID string) (*domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE identity_id = ? AND ended_at IS NULL`
	rec, err := scanActivity(r.db.QueryRowContext(ctx, query, identityID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get open window: %w", err)
	}
	return rec, nil
}

func (r *activityRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE identity_id = ? ORDER BY started_at DESC`
	args := []any{identityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list windows: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan window: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *activityRepo) CountByIdentity(ctx context.Context, identityID string) (total, open int, err error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM activity_records WHERE identity_id = ?
	`
	if err := r.db.QueryRowContext(ctx, query, identityID).Scan(&total, &open); err != nil {
		return 0, 0, fmt.Errorf("sqlite: count windows: %w", err)
	}
	return total, open, nil
}
