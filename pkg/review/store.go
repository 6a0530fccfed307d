package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps cycles in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	cycles map[int]Cycle
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cycles: make(map[int]Cycle)}
}

func (m *MemoryStore) Get(_ context.Context, pr int) (Cycle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[pr]
	if !ok {
		return Cycle{PR: pr, Outcome: OutcomeNone}, false, nil
	}
	return c, true, nil
}

func (m *MemoryStore) Put(_ context.Context, c Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[c.PR] = c
	return nil
}

// SQLiteStore persists cycles in the review_cycles table. Terminal cycles
// are stamped with archived_at and stay readable so later actions still see
// ErrTerminal.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db. The schema must already be applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, pr int) (Cycle, bool, error) {
	var (
		c        = Cycle{PR: pr}
		terminal int
		outcome  string
		updated  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT round, terminal, outcome, updated_at FROM review_cycles WHERE pr = ?`, pr,
	).Scan(&c.Round, &terminal, &outcome, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		c.Outcome = OutcomeNone
		return c, false, nil
	}
	if err != nil {
		return Cycle{}, false, fmt.Errorf("query review_cycles: %w", err)
	}
	c.Terminal = terminal != 0
	c.Outcome = Outcome(outcome)
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		c.UpdatedAt = t
	}
	return c, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, c Cycle) error {
	terminal := 0
	var archived any
	if c.Terminal {
		terminal = 1
		archived = c.UpdatedAt.UTC().Format(time.RFC3339)
	}
	outcome := c.Outcome
	if outcome == "" {
		outcome = OutcomeNone
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_cycles (pr, round, terminal, outcome, updated_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pr) DO UPDATE SET
		   round = excluded.round,
		   terminal = excluded.terminal,
		   outcome = excluded.outcome,
		   updated_at = excluded.updated_at,
		   archived_at = excluded.archived_at`,
		c.PR, c.Round, terminal, string(outcome), c.UpdatedAt.UTC().Format(time.RFC3339), archived)
	if err != nil {
		return fmt.Errorf("upsert review_cycles: %w", err)
	}
	return nil
}

// Active lists non-terminal cycles ordered by PR number.
func (s *SQLiteStore) Active(ctx context.Context) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pr, round, outcome, updated_at FROM review_cycles WHERE terminal = 0 ORDER BY pr`)
	if err != nil {
		return nil, fmt.Errorf("query review_cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c       Cycle
			outcome string
			updated string
		)
		if err := rows.Scan(&c.PR, &c.Round, &outcome, &updated); err != nil {
			return nil, fmt.Errorf("scan review_cycles: %w", err)
		}
		c.Outcome = Outcome(outcome)
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			c.UpdatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
