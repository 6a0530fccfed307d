package governor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps leases in node_leases and counts in invocation_counts.
// Every process opening the same database file shares the same slots. The
// schema is expected to be applied already (protocol.SchemaDDL).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// leaseSQL takes the slot in one statement: the SELECT yields a row only
// while the day's count is under the cap, and the upsert overwrites an
// existing row only when it has expired.
const leaseSQL = `
INSERT INTO node_leases (node_key, holder, acquired_at, expires_at)
SELECT ?, ?, ?, ?
WHERE ? <= 0
   OR COALESCE((SELECT completed FROM invocation_counts WHERE node_key = ? AND day = ?), 0) < ?
ON CONFLICT(node_key) DO UPDATE SET
    holder = excluded.holder,
    acquired_at = excluded.acquired_at,
    expires_at = excluded.expires_at
WHERE node_leases.expires_at <= ?`

func (s *SQLiteStore) Lease(ctx context.Context, l Lease, dailyCap int, day string, now time.Time) (Denial, error) {
	nowMS := now.UnixMilli()
	res, err := s.db.ExecContext(ctx, leaseSQL,
		l.Key, l.Holder, nowMS, l.Expires.UnixMilli(),
		dailyCap, l.Key, day, dailyCap,
		nowMS)
	if err != nil {
		return "", fmt.Errorf("take lease for %s: %w", l.Key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("take lease for %s: %w", l.Key, err)
	} else if n == 1 {
		return Granted, nil
	}

	// Refused; work out which gate closed for the caller's log.
	active, err := s.Active(ctx, l.Key, now)
	if err != nil {
		return "", err
	}
	if active {
		return DeniedBusy, nil
	}
	return DeniedCap, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, key, holder, day string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release of %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM node_leases WHERE node_key = ? AND holder = ?`, key, holder)
	if err != nil {
		return fmt.Errorf("drop lease for %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotActive
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO invocation_counts (node_key, day, completed) VALUES (?, ?, 1)
		 ON CONFLICT(node_key, day) DO UPDATE SET completed = completed + 1`,
		key, day); err != nil {
		return fmt.Errorf("upsert invocation_counts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release of %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Active(ctx context.Context, key string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM node_leases WHERE node_key = ? AND expires_at > ?`, key, now.UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query node_leases: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Completed(ctx context.Context, key, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM invocation_counts WHERE node_key = ? AND day = ?`, key, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query invocation_counts: %w", err)
	}
	return n, nil
}

// Prune deletes counts for days strictly before the UTC day of cutoff, and
// leases that expired before cutoff. Only the current day matters for cap
// enforcement; older counts are kept for the caps report until pruned.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM invocation_counts WHERE day < ?`, Day(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune invocation_counts: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM node_leases WHERE expires_at < ?`, cutoff.UnixMilli()); err != nil {
		return n, fmt.Errorf("prune node_leases: %w", err)
	}
	return n, nil
}
