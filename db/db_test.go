package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, dialect, err := Connect(filepath.Join(t.TempDir(), "clips.db"))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if dialect != DialectSQLite {
		t.Fatalf("dialect = %s, want sqlite", dialect)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	})
	if err := RunMigrations(db, dialect); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	return db
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn         string
		wantDialect Dialect
		wantPrefix  string
	}{
		{"postgres://u:p@localhost:5432/clips?sslmode=disable", DialectPostgres, "postgres://"},
		{"postgresql://localhost/clips", DialectPostgres, "postgresql://"},
		{"cliprelay.db", DialectSQLite, "file:cliprelay.db?_pragma=busy_timeout(5000)"},
		{"sqlite:///var/lib/clips.db", DialectSQLite, "file:/var/lib/clips.db?"},
		{"file:clips.db?cache=shared", DialectSQLite, "file:clips.db?cache=shared&_pragma"},
	}
	for _, tt := range tests {
		d, src := ParseDSN(tt.dsn)
		if d != tt.wantDialect {
			t.Errorf("ParseDSN(%q) dialect = %s, want %s", tt.dsn, d, tt.wantDialect)
		}
		if !strings.HasPrefix(src, tt.wantPrefix) {
			t.Errorf("ParseDSN(%q) source = %q, want prefix %q", tt.dsn, src, tt.wantPrefix)
		}
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM t WHERE a = ? AND b = ?`
	if got := rebind(DialectSQLite, q); got != q {
		t.Errorf("rebind(sqlite) = %q", got)
	}
	if got, want := rebind(DialectPostgres, q), `SELECT 1 FROM t WHERE a = $1 AND b = $2`; got != want {
		t.Errorf("rebind(postgres) = %q, want %q", got, want)
	}
}

func TestStoreExistsCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openSQLite(t), DialectSQLite)

	ok, err := s.Exists(ctx, "AbCdEf123", "dest-1")
	if err != nil || ok {
		t.Fatalf("Exists() before commit = %v, %v; want false, nil", ok, err)
	}

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Commit(ctx, "AbCdEf123", "dest-1", first); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	// Second commit for the same key is a no-op, not an error.
	if err := s.Commit(ctx, "AbCdEf123", "dest-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second Commit() error: %v", err)
	}

	ok, err = s.Exists(ctx, "AbCdEf123", "dest-1")
	if err != nil || !ok {
		t.Fatalf("Exists() after commit = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := s.Exists(ctx, "AbCdEf123", "dest-2"); ok {
		t.Error("Exists() for another destination should be false")
	}

	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}
	at, found, err := s.PostedAt(ctx, "AbCdEf123", "dest-1")
	if err != nil || !found {
		t.Fatalf("PostedAt() = %v, %v, %v", at, found, err)
	}
	if !at.Equal(first) {
		t.Errorf("PostedAt() = %v, want original %v", at, first)
	}
}

func TestStoreConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openSQLite(t), DialectSQLite)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Commit(ctx, "race", "dest", time.Now())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Commit() error: %v", err)
		}
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")

	db1, dialect, err := Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db1, dialect); err != nil {
		t.Fatal(err)
	}
	if err := NewStore(db1, dialect).Commit(ctx, "clip", "dest", time.Now()); err != nil {
		t.Fatal(err)
	}
	db1.Close()

	db2, dialect, err := Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	if _, ok, err := NewStore(db2, dialect).PostedAt(ctx, "clip", "dest"); err != nil || !ok {
		t.Errorf("PostedAt() after reopen found = %v, %v; want true", ok, err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres store test")
	}
	db, dialect, err := Connect(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM posted_clips WHERE clip_id = 'pg-test'`); err != nil {
		t.Fatal(err)
	}
	s := NewStore(db, dialect)
	for i := 0; i < 2; i++ {
		if err := s.Commit(ctx, "pg-test", "dest", time.Now()); err != nil {
			t.Fatalf("Commit() #%d error: %v", i, err)
		}
	}
	if _, ok, err := s.PostedAt(ctx, "pg-test", "dest"); err != nil || !ok {
		t.Errorf("PostedAt() found = %v, %v", ok, err)
	}
}
