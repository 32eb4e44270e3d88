package migrations_test

import (
	"context"
	"testing"

	"github.com/playperu/simple5k/internal/database"
	"github.com/playperu/simple5k/internal/migrations"
)

func TestMigrations(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	// Verify all tables exist by querying sqlite_master.
	want := []string{"races", "tags", "runners", "laps", "admins", "admin_sessions", "api_keys", "email_jobs"}

	for _, table := range want {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(db); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
}

func TestLapNumbersUniquePerRunner(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	stmts := []string{
		`INSERT INTO races (id, name, distance_m) VALUES (1, 'Spring 5K', 5000)`,
		`INSERT INTO runners (id, race_id, first_name, last_name, gender) VALUES (1, 1, 'Ana', 'Diaz', 'female')`,
		`INSERT INTO laps (runner_id, race_id, lap, time, duration_us) VALUES (1, 1, 1, '2025-05-01T09:10:00Z', 600000000)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}

	_, err = db.Exec(`INSERT INTO laps (runner_id, race_id, lap, time, duration_us) VALUES (1, 1, 1, '2025-05-01T09:11:00Z', 60000000)`)
	if err == nil {
		t.Fatal("duplicate lap number accepted")
	}

	_, err = db.Exec(`INSERT INTO runners (race_id, first_name, last_name, gender) VALUES (1, 'No', 'Gender', '')`)
	if err == nil {
		t.Fatal("runner without gender accepted")
	}
}

func TestVersionAndRollback(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	v, err := migrations.Version(db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 3 {
		t.Fatalf("version = %d, want 3", v)
	}

	if err := migrations.Rollback(db); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	v, err = migrations.Version(db)
	if err != nil {
		t.Fatalf("version after rollback: %v", err)
	}
	if v != 2 {
		t.Fatalf("version after rollback = %d, want 2", v)
	}
}

func TestShirtSizeChecked(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO races (id, name, distance_m) VALUES (1, 'Spring 5K', 5000)`); err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`INSERT INTO runners (race_id, first_name, last_name, gender, shirt_size) VALUES (1, 'Ana', 'Diaz', 'female', 'm')`)
	if err != nil {
		t.Fatalf("medium shirt rejected: %v", err)
	}
	_, err = db.Exec(`INSERT INTO runners (race_id, first_name, last_name, gender, shirt_size) VALUES (1, 'Luis', 'Rojas', 'male', 'huge')`)
	if err == nil {
		t.Fatal("unknown shirt size accepted")
	}
	_, err = db.Exec(`INSERT INTO email_jobs (race_id, subject, body, status) VALUES (1, 'Packet pickup', 'Friday 5pm', 'lost')`)
	if err == nil {
		t.Fatal("unknown email job status accepted")
	}
}
