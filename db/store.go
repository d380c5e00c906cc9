package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store records which clip was announced to which destination. A (clip, destination) pair is
// written at most once; the primary key makes Commit safe under concurrent callers.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps an opened and migrated database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Commit records that clipID was posted to destID at the given time. Committing an
// existing pair is a no-op and keeps the original timestamp.
func (s *Store) Commit(ctx context.Context, clipID, destID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		rebind(s.dialect, `INSERT INTO posted_clips (clip_id, destination_id, posted_at) VALUES (?, ?, ?)
			ON CONFLICT (clip_id, destination_id) DO NOTHING`),
		clipID, destID, at.UTC())
	if err != nil {
		return fmt.Errorf("commit posted clip: %w", err)
	}
	return nil
}

// Exists reports whether clipID was already posted to destID.
func (s *Store) Exists(ctx context.Context, clipID, destID string) (bool, error) {
	_, found, err := s.PostedAt(ctx, clipID, destID)
	return found, err
}

// PostedAt returns when clipID was first posted to destID; found is false if it never was.
func (s *Store) PostedAt(ctx context.Context, clipID, destID string) (at time.Time, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		rebind(s.dialect, `SELECT posted_at FROM posted_clips WHERE clip_id = ? AND destination_id = ?`),
		clipID, destID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query posted_at: %w", err)
	}
	return at, true, nil
}

// Count returns the number of posted-clip records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posted_clips`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posted clips: %w", err)
	}
	return n, nil
}
