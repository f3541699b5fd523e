package store

import (
	"embed"
	"strings"
	"testing"
)

//go:embed testdata/migrations
var testMigrationsFS embed.FS

func TestParseMigrationsOrdersByVersion(t *testing.T) {
	m := NewMigrator(testMigrationsFS, "testdata/migrations")

	migs, err := m.ParseMigrations()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// El orden es numérico, no lexicográfico ("2" va antes que "010").
	wantVersions := []int{1, 2, 10}
	if len(migs) != len(wantVersions) {
		t.Fatalf("parsed %d migrations, want %d (non-sql files must be ignored)", len(migs), len(wantVersions))
	}
	for i, want := range wantVersions {
		if migs[i].Version != want {
			t.Errorf("migs[%d].Version = %d, want %d", i, migs[i].Version, want)
		}
	}

	if migs[0].Name != "init" {
		t.Errorf("migs[0].Name = %q, want init", migs[0].Name)
	}
	if !strings.Contains(migs[0].SQL, "CREATE TABLE") {
		t.Errorf("migs[0].SQL missing content: %q", migs[0].SQL)
	}
}

func TestMigrationFilePattern(t *testing.T) {
	cases := map[string]bool{
		"001_init.sql":     true,
		"2_add_flags.sql":  true,
		"010_backfill.sql": true,
		"init.sql":         false,
		"001-init.sql":     false,
		"001_init.sql.bak": false,
		"notes.md":         false,
		"001_init.SQL":     false,
	}

	for name, want := range cases {
		if got := migrationFilePattern.MatchString(name); got != want {
			t.Errorf("pattern match %q = %v, want %v", name, got, want)
		}
	}
}
