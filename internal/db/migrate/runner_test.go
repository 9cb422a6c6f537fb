package migrate

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"custodial-ledger/backend/internal/db"
)

func TestRun_RequiresDSN(t *testing.T) {
	if err := Run("", "up"); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("Run(\"\") err = %v, want ErrNoDSN", err)
	}
	if _, _, err := Version(""); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("Version(\"\") err = %v, want ErrNoDSN", err)
	}
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"up", "down"} {
		d, err := ParseDirection(s)
		if err != nil || string(d) != s {
			t.Errorf("ParseDirection(%q) = %q, %v", s, d, err)
		}
	}
	for _, s := range []string{"", "UP", "Down", "sideways"} {
		if _, err := ParseDirection(s); err == nil {
			t.Errorf("ParseDirection(%q) should fail", s)
		}
	}
}

func TestRun_InvalidDirectionBeforeConnecting(t *testing.T) {
	err := Run("postgres://127.0.0.1:1/ledger?sslmode=disable", "left")
	if err == nil || !strings.Contains(err.Error(), "direction") {
		t.Fatalf("Run err = %v, want a direction error", err)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(db.MigrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		base := strings.TrimPrefix(n, "migrations/")
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			ups[strings.TrimSuffix(base, ".up.sql")] = true
		case strings.HasSuffix(base, ".down.sql"):
			downs[strings.TrimSuffix(base, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", base)
		}
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
	for v := range downs {
		if !ups[v] {
			t.Errorf("migration %s has no up file", v)
		}
	}
}

func TestEmbeddedSchemaDefinesLedgerTables(t *testing.T) {
	raw, err := fs.ReadFile(db.MigrationFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	schema := string(raw)
	for _, table := range []string{"accounts", "transfers", "deposits", "audit_logs", "settlement_policies"} {
		if !strings.Contains(schema, "CREATE TABLE "+table) && !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema does not create %s", table)
		}
	}
}
