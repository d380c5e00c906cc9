package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/cliprelay/db"
)

// SetupTestDB opens a migrated SQLite store in a temp dir.
func SetupTestDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	return open(t, filepath.Join(t.TempDir(), "cliprelay.db"))
}

// SetupPostgresDB connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupPostgresDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	return open(t, dsn)
}

func open(t *testing.T, dsn string) (*sql.DB, db.Dialect) {
	t.Helper()
	database, dialect, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunMigrations(database, dialect); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database, dialect
}
