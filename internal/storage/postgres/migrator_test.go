package postgres

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/0002_add_notes.up.sql":   {Data: []byte("ALTER TABLE orders ADD COLUMN note TEXT")},
		"sql/migrations/0002_add_notes.down.sql": {Data: []byte("ALTER TABLE orders DROP COLUMN note")},
		"sql/migrations/0001_init.up.sql":        {Data: []byte("CREATE TABLE orders (id TEXT PRIMARY KEY)")},
		"sql/migrations/0001_init.down.sql":      {Data: []byte("DROP TABLE orders")},
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("migrations must be sorted by version: %+v", migrations)
	}
	if migrations[0].Name != "init" {
		t.Fatalf("unexpected migration name %s", migrations[0].Name)
	}
	if migrations[1].UpSQL == "" || migrations[1].DownSQL == "" {
		t.Fatal("expected both up and down bodies")
	}
}

func TestLoadMigrations_MissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {Data: []byte("CREATE TABLE orders (id TEXT PRIMARY KEY)")},
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for missing down migration")
	}
}

func TestLoadMigrations_BadName(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/init.up.sql": {Data: []byte("SELECT 1")},
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for invalid file name")
	}
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations are broken: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
}
