package review

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"warden/pkg/protocol"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(protocol.SchemaDDL)
	require.NoError(t, err)
	return db
}

func TestSQLiteStore_RoundTripAndArchive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := NewSQLiteStore(db)

	c, found, err := s.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Cycle{PR: 9, Outcome: OutcomeNone}, c)

	at := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, Cycle{PR: 9, Round: 1, Outcome: OutcomeNone, UpdatedAt: at}))

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].Round)

	require.NoError(t, s.Put(ctx, Cycle{PR: 9, Round: 1, Terminal: true, Outcome: OutcomeClosed, UpdatedAt: at}))

	c, found, err = s.Get(ctx, 9)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, c.Terminal)
	assert.Equal(t, OutcomeClosed, c.Outcome)
	assert.Equal(t, at, c.UpdatedAt)

	var archived sql.NullString
	require.NoError(t, db.QueryRow(`SELECT archived_at FROM review_cycles WHERE pr = 9`).Scan(&archived))
	assert.True(t, archived.Valid)

	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestController_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	em := &mockEmitter{}
	c := New(NewSQLiteStore(newTestDB(t)), em, nil, 2)

	_, err := c.Apply(ctx, 4, ActionRequestChanges, 0)
	require.NoError(t, err)
	_, err = c.Apply(ctx, 4, ActionRequestChanges, 0)
	var forced *ForcedDecisionError
	require.ErrorAs(t, err, &forced)

	_, err = c.Apply(ctx, 4, ActionClose, 0)
	require.NoError(t, err)
	_, err = c.Apply(ctx, 4, ActionClose, 0)
	assert.ErrorIs(t, err, ErrTerminal)
}
