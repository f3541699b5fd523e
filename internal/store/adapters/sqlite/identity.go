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

// identityRepo implementa repository.IdentityRepository sobre SQLite.
type identityRepo struct{ db *sql.DB }

const identityColumns = `id, login_name, password, shared_secret, identity_secret, refresh_token,
	status, last_error, desired_idle, persona, activity_set,
	failed_logins, last_failure_at, locked_until, created_at, updated_at`

// scanIdentity mapea una fila a domain.Identity. Acepta *sql.Row y *sql.Rows.
func scanIdentity(row interface{ Scan(dest ...any) error }) (*domain.Identity, error) {
	var (
		ident       domain.Identity
		status      string
		desired     int
		persona     string
		activityRaw string
		lastFailure sql.NullString
		lockedUntil sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&ident.ID, &ident.LoginName, &ident.Password, &ident.SharedSecret, &ident.IdentitySecret, &ident.RefreshToken,
		&status, &ident.LastError, &desired, &persona, &activityRaw,
		&ident.FailedLogins, &lastFailure, &lockedUntil, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ident.Status = domain.Status(status)
	ident.DesiredIdle = desired != 0
	ident.Persona = domain.Persona(persona)
	ident.ActivitySet = decodeSet(activityRaw)

	if ident.LastFailureAt, err = parseTimePtr(lastFailure); err != nil {
		return nil, err
	}
	if ident.LockedUntil, err = parseTimePtr(lockedUntil); err != nil {
		return nil, err
	}
	if ident.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ident.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &ident, nil
}

func (r *identityRepo) Create(ctx context.Context, input repository.CreateIdentityInput) (*domain.Identity, error) {
	if strings.TrimSpace(input.LoginName) == "" {
		return nil, fmt.Errorf("%w: login name vacío", repository.ErrInvalidInput)
	}

	id := uuid.NewString()
	now := fmtTime(time.Now())

	const query = `
		INSERT INTO identities (id, login_name, password, shared_secret, identity_secret,
			status, persona, activity_set, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		id, input.LoginName, input.Password, input.SharedSecret, input.IdentitySecret,
		string(domain.StatusOffline), string(input.Persona.OrDefault()),
		encodeSet(domain.NormalizeActivitySet(input.ActivitySet)), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("sqlite: create identity: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *identityRepo) Get(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`
	ident, err := scanIdentity(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get identity: %w", err)
	}
	return ident, nil
}

func (r *identityRepo) GetByLogin(ctx context.Context, loginName string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE login_name = ?`
	ident, err := scanIdentity(r.db.QueryRowContext(ctx, query, loginName))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get identity by login: %w", err)
	}
	return ident, nil
}

func (r *identityRepo) List(ctx context.Context) ([]domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY login_name`
	return r.list(ctx, query)
}

func (r *identityRepo) ListDesiredIdle(ctx context.Context) ([]domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE desired_idle = 1 ORDER BY login_name`
	return r.list(ctx, query)
}

func (r *identityRepo) list(ctx context.Context, query string, args ...any) ([]domain.Identity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list identities: %w", err)
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan identity: %w", err)
		}
		out = append(out, *ident)
	}
	return out, rows.Err()
}

func (r *identityRepo) Update(ctx context.Context, id string, input repository.UpdateIdentityInput) (*domain.Identity, error) {
	var setClauses []string
	var args []any

	if input.Password != nil {
		setClauses = append(setClauses, "password = ?")
		args = append(args, *input.Password)
	}
	if input.SharedSecret != nil {
		setClauses = append(setClauses, "shared_secret = ?")
		args = append(args, *input.SharedSecret)
	}
	if input.IdentitySecret != nil {
		setClauses = append(setClauses, "identity_secret = ?")
		args = append(args, *input.IdentitySecret)
	}
	if input.RefreshToken != nil {
		setClauses = append(setClauses, "refresh_token = ?")
		args = append(args, *input.RefreshToken)
	}
	if input.Persona != nil {
		setClauses = append(setClauses, "persona = ?")
		args = append(args, string(input.Persona.OrDefault()))
	}
	if input.ActivitySet != nil {
		setClauses = append(setClauses, "activity_set = ?")
		args = append(args, encodeSet(domain.NormalizeActivitySet(*input.ActivitySet)))
	}

	if len(setClauses) == 0 {
		return r.Get(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, fmtTime(time.Now()), id)

	query := fmt.Sprintf("UPDATE identities SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, repository.ErrNotFound
	}

	return r.Get(ctx, id)
}

func (r *identityRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error {
	const query = `UPDATE identities SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(status), lastError, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) UpdateLockout(ctx context.Context, id string, lockout repository.LockoutUpdate) error {
	const query = `UPDATE identities SET failed_logins = ?, last_failure_at = ?, locked_until = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		lockout.FailedLogins, fmtTimePtr(lockout.LastFailureAt), fmtTimePtr(lockout.LockedUntil),
		fmtTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update lockout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetDesiredIdle(ctx context.Context, id string, desired bool) error {
	const query = `UPDATE identities SET desired_idle = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, boolToInt(desired), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: set desired idle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetActivitySet(ctx context.Context, id string, ids []uint32) error {
	const query = `UPDATE identities SET activity_set = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, encodeSet(domain.NormalizeActivitySet(ids)), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: set activity set: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetRefreshToken(ctx context.Context, id string, token string) error {
	const query = `UPDATE identities SET refresh_token = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, token, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: set refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Delete(ctx context.Context, id string) error {
	// ON DELETE CASCADE arrastra activity_records; los eventos quedan.
	const query = `DELETE FROM identities WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count identities: %w", err)
	}
	return n, nil
}
