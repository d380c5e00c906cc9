// Package db provides database connection helpers, schema migration, and the posted-clip store
// that records which clip has been announced to which destination.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure-Go sqlite driver registered as 'sqlite'
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDSN maps a configured DSN to a dialect and a driver-specific data source.
// postgres:// and postgresql:// URLs use pgx; anything else is a sqlite file path,
// optionally prefixed with sqlite:// or file:.
func ParseDSN(dsn string) (Dialect, string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres, dsn
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	source := "file:" + path + sep + "_pragma=busy_timeout(5000)"
	if !strings.Contains(path, ":memory:") {
		source += "&_pragma=journal_mode(WAL)"
	}
	return DialectSQLite, source
}

// Connect opens the database described by dsn.
func Connect(dsn string) (*sql.DB, Dialect, error) {
	dialect, source := ParseDSN(dsn)
	driver := "pgx"
	if dialect == DialectSQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// A single writer avoids SQLITE_BUSY between concurrent deliveries.
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}

// Migrate applies idempotent schema changes for the posted_clips table.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	ts := "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	if dialect == DialectSQLite {
		ts = "TIMESTAMP NOT NULL"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posted_clips (
			clip_id TEXT NOT NULL,
			destination_id TEXT NOT NULL,
			posted_at ` + ts + `,
			PRIMARY KEY (clip_id, destination_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posted_clips_posted_at ON posted_clips(posted_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s migrate step %d failed: %w", dialect, i, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(dialect Dialect, q string) string {
	if dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
