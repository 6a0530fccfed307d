package governor

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
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

// openShared opens path the way the warden binary does, with its own pool,
// so two calls act like two processes sharing one database file.
func openShared(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(protocol.SchemaDDL)
	require.NoError(t, err)
	return db
}

// complete takes and releases one lease directly on the store.
func complete(t *testing.T, s *SQLiteStore, key, day string) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	d, err := s.Lease(ctx, Lease{Key: key, Holder: "h", Expires: now.Add(time.Hour)}, 0, day, now)
	require.NoError(t, err)
	require.Equal(t, Granted, d)
	require.NoError(t, s.Complete(ctx, key, "h", day))
}

func TestSQLiteStore_CompleteAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(newTestDB(t))

	n, err := s.Completed(ctx, "triage", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	complete(t, s, "triage", "2026-05-04")
	complete(t, s, "triage", "2026-05-04")
	complete(t, s, "triage", "2026-05-05")
	complete(t, s, "builder/lint", "2026-05-04")

	n, err = s.Completed(ctx, "triage", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.Completed(ctx, "triage", "2026-05-05")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Completed(ctx, "builder/lint", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_LeaseDenials(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(newTestDB(t))
	day := Day(noon)

	d, err := s.Lease(ctx, Lease{Key: "triage", Holder: "a", Expires: noon.Add(time.Minute)}, 1, day, noon)
	require.NoError(t, err)
	require.Equal(t, Granted, d)

	d, err = s.Lease(ctx, Lease{Key: "triage", Holder: "b", Expires: noon.Add(time.Minute)}, 1, day, noon)
	require.NoError(t, err)
	assert.Equal(t, DeniedBusy, d)

	assert.ErrorIs(t, s.Complete(ctx, "triage", "b", day), ErrNotActive, "only the holder may complete")
	require.NoError(t, s.Complete(ctx, "triage", "a", day))

	d, err = s.Lease(ctx, Lease{Key: "triage", Holder: "b", Expires: noon.Add(time.Minute)}, 1, day, noon)
	require.NoError(t, err)
	assert.Equal(t, DeniedCap, d)

	active, err := s.Active(ctx, "triage", noon)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLiteStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(newTestDB(t))

	for _, day := range []string{"2026-04-01", "2026-05-03", "2026-05-04"} {
		complete(t, s, "triage", day)
	}

	removed, err := s.Prune(ctx, time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err := s.Completed(ctx, "triage", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGovernor_SingleFlightAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.db")
	now := func() time.Time { return noon }

	a := New(NewSQLiteStore(openShared(t, path)))
	a.SetClock(now)
	b := New(NewSQLiteStore(openShared(t, path)))
	b.SetClock(now)

	ok, err := a.TryAcquire(ctx, "reviewer", 0)
	require.NoError(t, err)
	require.True(t, ok)

	d, err := b.Acquire(ctx, "reviewer", 0)
	require.NoError(t, err)
	assert.Equal(t, DeniedBusy, d, "second process must see the first one's slot")

	assert.ErrorIs(t, b.Release(ctx, "reviewer"), ErrNotActive)
	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Active)

	require.NoError(t, a.Release(ctx, "reviewer"))
	ok, err = b.TryAcquire(ctx, "reviewer", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGovernor_ExpiredLeaseTakenOver(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.db")
	clk := &fakeClock{now: noon}

	a := New(NewSQLiteStore(openShared(t, path)))
	a.SetClock(clk.Now)
	b := New(NewSQLiteStore(openShared(t, path)))
	b.SetClock(clk.Now)

	d, err := a.AcquireFor(ctx, "builder", 0, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, Granted, d)

	// a dies without releasing; b waits out the lease.
	clk.Set(noon.Add(5 * time.Minute))
	d, err = b.AcquireFor(ctx, "builder", 0, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, Granted, d)

	assert.ErrorIs(t, a.Release(ctx, "builder"), ErrNotActive, "stale holder must not free b's slot")
	require.NoError(t, b.Release(ctx, "builder"))

	n, err := b.CompletedOn(ctx, "builder", noon)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGovernor_CapSharedAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.db")
	now := func() time.Time { return noon }

	a := New(NewSQLiteStore(openShared(t, path)))
	a.SetClock(now)
	b := New(NewSQLiteStore(openShared(t, path)))
	b.SetClock(now)

	ok, err := a.TryAcquire(ctx, "triage", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Release(ctx, "triage"))

	ok, err = b.TryAcquire(ctx, "triage", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, b.Release(ctx, "triage"))

	d, err := a.Acquire(ctx, "triage", 2)
	require.NoError(t, err)
	assert.Equal(t, DeniedCap, d)
}

func TestGovernor_ConcurrentAcquireAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.db")
	now := func() time.Time { return noon }

	govs := make([]*Governor, 2)
	for i := range govs {
		govs[i] = New(NewSQLiteStore(openShared(t, path)))
		govs[i].SetClock(now)
	}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(g *Governor) {
			defer wg.Done()
			ok, err := g.TryAcquire(ctx, "builder", 0)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}(govs[i%2])
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestGovernor_CountsSurviveRestartWithSQLite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := func() time.Time { return noon }

	g := New(NewSQLiteStore(db))
	g.SetClock(now)
	ok, err := g.TryAcquire(ctx, "triage", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, "triage"))

	restarted := New(NewSQLiteStore(db))
	restarted.SetClock(now)
	ok, err = restarted.TryAcquire(ctx, "triage", 1)
	require.NoError(t, err)
	assert.False(t, ok, "cap must hold across a restart")
}
