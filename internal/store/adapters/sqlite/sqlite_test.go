package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/store"
	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/sqlite"
)

func openTestStore(t *testing.T, path string) store.AdapterConnection {
	t.Helper()
	conn, err := store.OpenAdapter(context.Background(), store.AdapterConfig{
		Name: store.DriverSQLite,
		Path: path,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSQLiteAdapterRegistered(t *testing.T) {
	adapter, ok := store.GetAdapter(store.DriverSQLite)
	if !ok || adapter == nil {
		t.Fatal("sqlite adapter not registered")
	}
	if adapter.Name() != "sqlite" {
		t.Errorf("expected adapter name 'sqlite', got %q", adapter.Name())
	}

	// Sin path no hay base.
	if _, err := adapter.Connect(context.Background(), store.AdapterConfig{}); err == nil {
		t.Error("expected error when connecting without path")
	}
}

func TestSQLiteIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idlejohn.db")
	conn := openTestStore(t, path)
	repo := conn.Identities()

	created, err := repo.Create(ctx, repository.CreateIdentityInput{
		LoginName:      "alice",
		Password:       "sb1|bm9uY2U|Y2lwaGVy",
		SharedSecret:   "sb1|bm9uY2U|c2VjcmV0",
		IdentitySecret: "",
		Persona:        domain.PersonaAway,
		ActivitySet:    []uint32{730, 440, 730},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Persona != domain.PersonaAway {
		t.Errorf("persona = %q, want away", created.Persona)
	}
	if len(created.ActivitySet) != 2 {
		t.Errorf("activity set not deduplicated: %v", created.ActivitySet)
	}

	if _, err := repo.Create(ctx, repository.CreateIdentityInput{LoginName: "alice"}); !repository.IsDuplicate(err) {
		t.Errorf("duplicate login: got %v, want ErrDuplicate", err)
	}

	failAt := time.Now().Add(-2 * time.Minute).Truncate(time.Millisecond)
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	err = repo.UpdateLockout(ctx, created.ID, repository.LockoutUpdate{
		FailedLogins:  5,
		LastFailureAt: &failAt,
		LockedUntil:   &until,
	})
	if err != nil {
		t.Fatalf("update lockout: %v", err)
	}
	if err := repo.SetDesiredIdle(ctx, created.ID, true); err != nil {
		t.Fatalf("set desired idle: %v", err)
	}
	if err := repo.SetRefreshToken(ctx, created.ID, "sb1|bm9uY2U|dG9rZW4"); err != nil {
		t.Fatalf("set refresh token: %v", err)
	}

	// Reabrir la base: todo debe sobrevivir al proceso.
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	conn = openTestStore(t, path)
	repo = conn.Identities()

	got, err := repo.GetByLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Password != "sb1|bm9uY2U|Y2lwaGVy" || got.RefreshToken != "sb1|bm9uY2U|dG9rZW4" {
		t.Errorf("secrets did not survive reopen: %+v", got)
	}
	if !got.DesiredIdle {
		t.Error("desired idle lost on reopen")
	}
	if got.FailedLogins != 5 {
		t.Errorf("failed logins = %d, want 5", got.FailedLogins)
	}
	if got.LastFailureAt == nil || !got.LastFailureAt.Equal(failAt) {
		t.Errorf("last failure at = %v, want %v", got.LastFailureAt, failAt)
	}
	if got.LockedUntil == nil || !got.LockedUntil.Equal(until) {
		t.Errorf("locked until = %v, want %v", got.LockedUntil, until)
	}

	desired, err := repo.ListDesiredIdle(ctx)
	if err != nil || len(desired) != 1 {
		t.Errorf("list desired after reopen = %d (%v), want 1", len(desired), err)
	}
}

func TestSQLiteActivityWindows(t *testing.T) {
	ctx := context.Background()
	conn := openTestStore(t, filepath.Join(t.TempDir(), "act.db"))
	ident, err := conn.Identities().Create(ctx, repository.CreateIdentityInput{LoginName: "alice"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	repo := conn.ActivityRecords()

	t0 := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	if _, err := repo.Open(ctx, ident.ID, t0, []uint32{730}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// La segunda apertura cierra la primera dentro de la misma transacción.
	second, err := repo.Open(ctx, ident.ID, t0.Add(10*time.Minute), []uint32{440})
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	total, open, err := repo.CountByIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 || open != 1 {
		t.Errorf("count = (%d total, %d open), want (2, 1)", total, open)
	}

	gotOpen, err := repo.GetOpen(ctx, ident.ID)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if gotOpen.ID != second.ID {
		t.Errorf("open window = %q, want %q", gotOpen.ID, second.ID)
	}

	end := t0.Add(20 * time.Minute)
	closed, err := repo.Close(ctx, ident.ID, end)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed == nil || closed.EndedAt == nil {
		t.Fatalf("close returned %+v", closed)
	}

	if again, err := repo.Close(ctx, ident.ID, end); err != nil || again != nil {
		t.Errorf("idempotent close = (%v, %v), want (nil, nil)", again, err)
	}
	if _, err := repo.GetOpen(ctx, ident.ID); !repository.IsNotFound(err) {
		t.Errorf("get open after close: got %v, want ErrNotFound", err)
	}

	list, err := repo.ListByIdentity(ctx, ident.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("list order wrong: %+v", list)
	}
	if got := list[0].ActivitySet; len(got) != 1 || got[0] != 440 {
		t.Errorf("activity set round trip = %v, want [440]", got)
	}

	// Abrir para una identidad inexistente viola la FK.
	if _, err := repo.Open(ctx, "no-such-id", time.Now(), nil); !repository.IsNotFound(err) {
		t.Errorf("open for unknown identity: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteEventsAndSettings(t *testing.T) {
	ctx := context.Background()
	conn := openTestStore(t, filepath.Join(t.TempDir(), "ev.db"))

	events := conn.Events()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	for i, msg := range []string{"logged on", "connection dropped", "resumed"} {
		err := events.Append(ctx, domain.Event{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Level:      domain.EventInfo,
			IdentityID: "a",
			Category:   domain.EventCatSession,
			Message:    msg,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	list, err := events.List(ctx, repository.EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Message != "resumed" {
		t.Errorf("list = %+v, want newest first", list)
	}

	pruned, err := events.Prune(ctx, base.Add(90*time.Second))
	if err != nil || pruned != 2 {
		t.Errorf("prune = (%d, %v), want (2, nil)", pruned, err)
	}

	settings := conn.Settings()
	if err := settings.Set(ctx, repository.SettingKDFSalt, "c2FsdA"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := settings.Set(ctx, repository.SettingKDFSalt, "b3Rybw"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := settings.Get(ctx, repository.SettingKDFSalt)
	if err != nil || v != "b3Rybw" {
		t.Errorf("get = (%q, %v)", v, err)
	}
	if _, err := settings.Get(ctx, "nope"); !repository.IsNotFound(err) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.db")
	conn := openTestStore(t, path)
	if _, err := conn.Identities().Create(context.Background(), repository.CreateIdentityInput{LoginName: "alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	conn.Close()

	// Segunda conexión sobre la misma base: migraciones ya aplicadas.
	conn = openTestStore(t, path)
	n, err := conn.Identities().Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("count after reopen = (%d, %v), want (1, nil)", n, err)
	}
}

// TestSQLiteUpgradeAddsColumns abre una base con el esquema de la versión
// inicial (sin refresh_token/last_error/persona/activity_set) y verifica
// que Connect agrega las columnas sin tocar los datos existentes.
func TestSQLiteUpgradeAddsColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	const oldSchema = `
		CREATE TABLE _migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		INSERT INTO _migrations (version, name) VALUES (1, 'init');

		CREATE TABLE identities (
			id              TEXT PRIMARY KEY,
			login_name      TEXT NOT NULL UNIQUE,
			password        TEXT NOT NULL DEFAULT '',
			shared_secret   TEXT NOT NULL DEFAULT '',
			identity_secret TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'offline',
			desired_idle    INTEGER NOT NULL DEFAULT 0,
			failed_logins   INTEGER NOT NULL DEFAULT 0,
			last_failure_at TEXT,
			locked_until    TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE TABLE activity_records (
			id           TEXT PRIMARY KEY,
			identity_id  TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			started_at   TEXT NOT NULL,
			ended_at     TEXT,
			activity_set TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			level       TEXT NOT NULL,
			identity_id TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL,
			message     TEXT NOT NULL
		);
		CREATE TABLE settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		INSERT INTO identities (id, login_name, desired_idle, created_at, updated_at)
		VALUES ('old-1', 'legacy', 1, '2024-01-01T00:00:00.000000000Z', '2024-01-01T00:00:00.000000000Z');
	`
	if _, err := db.ExecContext(ctx, oldSchema); err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	db.Close()

	conn := openTestStore(t, path)
	got, err := conn.Identities().GetByLogin(ctx, "legacy")
	if err != nil {
		t.Fatalf("get legacy row: %v", err)
	}
	if got.Persona != domain.PersonaOnline {
		t.Errorf("persona default = %q, want online", got.Persona)
	}
	if got.RefreshToken != "" || got.LastError != "" || got.ActivitySet != nil {
		t.Errorf("added columns not defaulted: %+v", got)
	}
	if !got.DesiredIdle {
		t.Error("existing data lost during upgrade")
	}

	// Las columnas nuevas son escribibles.
	if err := conn.Identities().SetRefreshToken(ctx, "old-1", "sb1|a|b"); err != nil {
		t.Errorf("set refresh token on upgraded row: %v", err)
	}
}
