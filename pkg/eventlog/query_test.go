package eventlog_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/eventlog"
	"warden/pkg/protocol"

	_ "modernc.org/sqlite"
)

// setupTestDB creates a state database with a short dispatch history.
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(protocol.SchemaDDL)
	require.NoError(t, err)

	w := eventlog.NewWriter(db)
	entries := []eventlog.Entry{
		{Type: "dispatched", Source: "dispatcher", Node: "reviewer", InvocationID: "inv-1", Payload: map[string]any{"event": "pr-opened"}},
		{Type: "skipped_busy", Source: "dispatcher", Node: "reviewer"},
		{Type: "invocation_succeeded", Source: "executor", Node: "reviewer", InvocationID: "inv-1", Payload: `{"duration_ms":1200}`},
		{Type: "dispatched", Source: "dispatcher", Node: "builder/fix", InvocationID: "inv-2"},
		{Type: "chain_depth_exceeded", Source: "dispatcher", Payload: map[string]any{"depth": 6}},
	}
	for _, e := range entries {
		require.NoError(t, w.Record(context.Background(), e))
	}
	return db, dbPath
}

func openReader(t *testing.T, dbPath string) *eventlog.Reader {
	t.Helper()
	reader, err := eventlog.NewReader(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	return reader
}

func TestNewReader_MissingDB(t *testing.T) {
	reader, err := eventlog.NewReader("/nonexistent/path.db")
	assert.Error(t, err)
	assert.Nil(t, reader)
}

func TestQuery_ByNode(t *testing.T) {
	_, dbPath := setupTestDB(t)
	reader := openReader(t, dbPath)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{Node: "reviewer"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first.
	assert.Equal(t, "invocation_succeeded", events[0].Type)
	assert.Equal(t, "dispatched", events[2].Type)
	assert.Equal(t, `{"event":"pr-opened"}`, events[2].Payload)
	assert.Empty(t, events[1].InvocationID, "skips carry no invocation id")
}

func TestQuery_ByTypeAndInvocation(t *testing.T) {
	_, dbPath := setupTestDB(t)
	reader := openReader(t, dbPath)
	ctx := context.Background()

	events, err := reader.Query(ctx, eventlog.QueryOpts{EventType: "dispatched"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = reader.Query(ctx, eventlog.QueryOpts{InvocationID: "inv-1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestQuery_TimeRange(t *testing.T) {
	_, dbPath := setupTestDB(t)
	reader := openReader(t, dbPath)
	ctx := context.Background()

	now := time.Now()
	after := now.Add(-1 * time.Minute)
	events, err := reader.Query(ctx, eventlog.QueryOpts{After: &after})
	require.NoError(t, err)
	assert.Len(t, events, 5)

	before := now.Add(-1 * time.Hour)
	events, err = reader.Query(ctx, eventlog.QueryOpts{Before: &before})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQuery_LimitAndEmpty(t *testing.T) {
	db, _ := setupTestDB(t)
	reader := eventlog.NewReaderDB(db)
	ctx := context.Background()

	events, err := reader.Query(ctx, eventlog.QueryOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "chain_depth_exceeded", events[0].Type, "newest first")

	events, err = reader.Query(ctx, eventlog.QueryOpts{Node: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	// Closing a borrowed reader leaves the database usable.
	require.NoError(t, reader.Close())
	assert.NoError(t, db.Ping())
}

func TestQuery_AfterIDOldestFirst(t *testing.T) {
	db, _ := setupTestDB(t)
	reader := eventlog.NewReaderDB(db)

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{AfterID: 3, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].ID)
	assert.Equal(t, int64(5), events[1].ID)
}

func TestWriter_UnmarshalablePayload(t *testing.T) {
	db, _ := setupTestDB(t)
	w := eventlog.NewWriter(db)

	err := w.Record(context.Background(), eventlog.Entry{Type: "x", Source: "test", Payload: make(chan int)})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, eventlog.Discard.Record(context.Background(), eventlog.Entry{Type: "x"}))
}
