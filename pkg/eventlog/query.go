// Package eventlog records and reads warden's decision log: every dispatch,
// skip, invocation outcome and remediation step lands in the SQLite events
// table so an operator can reconstruct why something ran (or did not).
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// sqliteTime is the layout of datetime('now'), always UTC.
const sqliteTime = "2006-01-02 15:04:05"

// Event is one row of the decision log.
type Event struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	Node         string    `json:"node,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueryOpts filters a Query. Zero fields do not filter.
type QueryOpts struct {
	Node         string // node key, "role" or "role/job"
	EventType    string // e.g. "skipped_busy"
	InvocationID string

	After  *time.Time // inclusive
	Before *time.Time // inclusive

	// AfterID returns only rows with a larger id; used to follow the log.
	AfterID int64

	// OldestFirst reverses the default newest-first order.
	OldestFirst bool

	Limit int
}

// Reader queries the decision log.
type Reader struct {
	db    *sql.DB
	owned bool
}

// NewReader opens the state database at dbPath read-only, so a running
// daemon is never blocked. The database must already exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Reader{db: db, owned: true}, nil
}

// NewReaderDB reads from an already open database. Close leaves db open.
func NewReaderDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database if the Reader opened it. It is idempotent.
func (r *Reader) Close() error {
	if r.db == nil || !r.owned {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Query returns the events matching opts, newest first unless
// opts.OldestFirst is set. No match yields an empty, non-nil slice.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := opts.selectSQL()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		e                  Event
		node, inv, payload sql.NullString
		created            string
	)
	if err := rows.Scan(&e.ID, &e.Type, &e.Source, &node, &inv, &payload, &created); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Node, e.InvocationID, e.Payload = node.String, inv.String, payload.String

	if created == "" {
		return e, nil
	}
	t, err := time.Parse(sqliteTime, created)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, created); err != nil {
			return Event{}, fmt.Errorf("event %d: parse created_at %q: %w", e.ID, created, err)
		}
	}
	e.CreatedAt = t.UTC()
	return e, nil
}

// selectSQL renders opts as a SELECT with positional arguments.
func (o QueryOpts) selectSQL() (string, []any) {
	var (
		where []string
		args  []any
	)
	eq := func(col, val string) {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	eq("node", o.Node)
	eq("type", o.EventType)
	eq("invocation_id", o.InvocationID)

	if o.After != nil {
		where = append(where, "created_at >= ?")
		args = append(args, o.After.UTC().Format(sqliteTime))
	}
	if o.Before != nil {
		where = append(where, "created_at <= ?")
		args = append(args, o.Before.UTC().Format(sqliteTime))
	}
	if o.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, o.AfterID)
	}

	var b strings.Builder
	b.WriteString("SELECT id, type, source, node, invocation_id, payload, created_at FROM events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if o.OldestFirst {
		b.WriteString(" ORDER BY id ASC")
	} else {
		b.WriteString(" ORDER BY id DESC")
	}
	if o.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", o.Limit)
	}
	return b.String(), args
}
