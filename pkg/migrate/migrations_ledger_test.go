package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/giftledger-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestContributionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_contributions")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS contributions",
		"CHECK (amount_cents > 0)",
		"ux_contributions_external_ref",
		"FOREIGN KEY (item_id) REFERENCES registry_items(id)",
		"DROP TABLE IF EXISTS contributions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRegistryItemsMigrationKeepsAccumulationNonNegative(t *testing.T) {
	content := readMigration(t, "create_registries")
	for _, sub := range []string{"CHECK (accumulated_cents >= 0)", "CHECK (goal_cents >= 0)"} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRedemptionsMigrationLinksFlags(t *testing.T) {
	content := readMigration(t, "create_redemptions")
	for _, sub := range []string{
		"redemption_id uuid NOT NULL UNIQUE",
		"details jsonb NOT NULL",
		"DROP TABLE IF EXISTS flagged_transactions",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("shipped migrations invalid: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "add_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Review Note!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_review_note.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestEmbeddedSourceMatchesDir(t *testing.T) {
	fsys, err := migrate.Source(migrate.DefaultDir)
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	if err := migrate.Validate(fsys); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	embedded, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob dir: %v", err)
	}
	if len(embedded) == 0 || len(embedded) != len(onDisk) {
		t.Fatalf("embedded %d migrations, dir has %d", len(embedded), len(onDisk))
	}
}

func TestValidateRejectsUnbalancedBlocks(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000009_broken.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
	}
	if err := migrate.Validate(fsys); err == nil {
		t.Fatal("expected unbalanced block error")
	}
}

func TestNewRunnerRequiresDB(t *testing.T) {
	if _, err := migrate.NewRunner(nil, "", nil); err == nil {
		t.Fatal("expected error without db")
	}
}
