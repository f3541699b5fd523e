package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// identityRepo implementa repository.IdentityRepository sobre PostgreSQL.
type identityRepo struct{ pool *pgxpool.Pool }

const identityColumns = `id, login_name, password, shared_secret, identity_secret, refresh_token,
	status, last_error, desired_idle, persona, activity_set,
	failed_logins, last_failure_at, locked_until, created_at, updated_at`

// scanIdentity mapea una fila a domain.Identity. Acepta pgx.Row y pgx.Rows.
func scanIdentity(row interface{ Scan(dest ...any) error }) (*domain.Identity, error) {
	var (
		ident       domain.Identity
		status      string
		persona     string
		activityRaw string
	)

	err := row.Scan(
		&ident.ID, &ident.LoginName, &ident.Password, &ident.SharedSecret, &ident.IdentitySecret, &ident.RefreshToken,
		&status, &ident.LastError, &ident.DesiredIdle, &persona, &activityRaw,
		&ident.FailedLogins, &ident.LastFailureAt, &ident.LockedUntil, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ident.Status = domain.Status(status)
	ident.Persona = domain.Persona(persona)
	ident.ActivitySet = decodeSet(activityRaw)

	return &ident, nil
}

func (r *identityRepo) Create(ctx context.Context, input repository.CreateIdentityInput) (*domain.Identity, error) {
	if strings.TrimSpace(input.LoginName) == "" {
		return nil, fmt.Errorf("%w: login name vacío", repository.ErrInvalidInput)
	}

	id := uuid.NewString()
	now := time.Now()

	const query = `
		INSERT INTO identities (id, login_name, password, shared_secret, identity_secret,
			status, persona, activity_set, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		id, input.LoginName, input.Password, input.SharedSecret, input.IdentitySecret,
		string(domain.StatusOffline), string(input.Persona.OrDefault()),
		encodeSet(domain.NormalizeActivitySet(input.ActivitySet)), now, now,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" { // unique_violation
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("pg: create identity: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *identityRepo) Get(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	ident, err := scanIdentity(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get identity: %w", err)
	}
	return ident, nil
}

func (r *identityRepo) GetByLogin(ctx context.Context, loginName string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE login_name = $1`
	ident, err := scanIdentity(r.pool.QueryRow(ctx, query, loginName))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get identity by login: %w", err)
	}
	return ident, nil
}

func (r *identityRepo) List(ctx context.Context) ([]domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY login_name`
	return r.list(ctx, query)
}

func (r *identityRepo) ListDesiredIdle(ctx context.Context) ([]domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE desired_idle ORDER BY login_name`
	return r.list(ctx, query)
}

func (r *identityRepo) list(ctx context.Context, query string, args ...any) ([]domain.Identity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list identities: %w", err)
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan identity: %w", err)
		}
		out = append(out, *ident)
	}
	return out, rows.Err()
}

func (r *identityRepo) Update(ctx context.Context, id string, input repository.UpdateIdentityInput) (*domain.Identity, error) {
	var setClauses []string
	args := []any{id}
	argIdx := 2

	addSet := func(col string, val any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}

	if input.Password != nil {
		addSet("password", *input.Password)
	}
	if input.SharedSecret != nil {
		addSet("shared_secret", *input.SharedSecret)
	}
	if input.IdentitySecret != nil {
		addSet("identity_secret", *input.IdentitySecret)
	}
	if input.RefreshToken != nil {
		addSet("refresh_token", *input.RefreshToken)
	}
	if input.Persona != nil {
		addSet("persona", string(input.Persona.OrDefault()))
	}
	if input.ActivitySet != nil {
		addSet("activity_set", encodeSet(domain.NormalizeActivitySet(*input.ActivitySet)))
	}

	if len(setClauses) == 0 {
		return r.Get(ctx, id)
	}
	addSet("updated_at", time.Now())

	query := fmt.Sprintf("UPDATE identities SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repository.ErrNotFound
	}

	return r.Get(ctx, id)
}

func (r *identityRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error {
	const query = `UPDATE identities SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("pg: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) UpdateLockout(ctx context.Context, id string, lockout repository.LockoutUpdate) error {
	const query = `
		UPDATE identities SET failed_logins = $2, last_failure_at = $3, locked_until = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, lockout.FailedLogins, lockout.LastFailureAt, lockout.LockedUntil)
	if err != nil {
		return fmt.Errorf("pg: update lockout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetDesiredIdle(ctx context.Context, id string, desired bool) error {
	const query = `UPDATE identities SET desired_idle = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, desired)
	if err != nil {
		return fmt.Errorf("pg: set desired idle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetActivitySet(ctx context.Context, id string, ids []uint32) error {
	const query = `UPDATE identities SET activity_set = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, encodeSet(domain.NormalizeActivitySet(ids)))
	if err != nil {
		return fmt.Errorf("pg: set activity set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetRefreshToken(ctx context.Context, id string, token string) error {
	const query = `UPDATE identities SET refresh_token = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, token)
	if err != nil {
		return fmt.Errorf("pg: set refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Delete(ctx context.Context, id string) error {
	// ON DELETE CASCADE arrastra activity_records; los eventos quedan.
	const query = `DELETE FROM identities WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("pg: delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pg: count identities: %w", err)
	}
	return n, nil
}
