package shared

import (
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("expected migrations to load, got %v", err)
	}

	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}

	for i, migration := range migrations {
		if migration.Up == "" {
			t.Errorf("migration %d missing up script", migration.Version)
		}
		if migration.Down == "" {
			t.Errorf("migration %d missing down script", migration.Version)
		}
		if i > 0 && migrations[i-1].Version >= migration.Version {
			t.Error("expected migrations sorted by version")
		}
	}
}

func TestRunMigrations(t *testing.T) {
	db, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("expected migrations to apply, got %v", err)
	}

	for _, table := range []string{"tracks", "playlists", "playlist_tracks", "blacklist", "task_state", "task_runs"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}

	// Running twice must be a no-op.
	if err := RunMigrations(db); err != nil {
		t.Fatalf("expected re-run to be a no-op, got %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatal(err)
	}
	if applied == 0 {
		t.Error("expected schema_migrations rows")
	}
}

func TestRollbackMigration(t *testing.T) {
	db, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := RollbackMigration(db); err == nil {
		t.Error("expected rollback with no migrations applied to fail")
	}

	if err := RunMigrations(db); err != nil {
		t.Fatal(err)
	}

	if err := RollbackMigration(db); err != nil {
		t.Fatalf("expected rollback to succeed, got %v", err)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='tracks'").Scan(&name)
	if err == nil {
		t.Error("expected tracks table to be dropped after rollback")
	}
}
