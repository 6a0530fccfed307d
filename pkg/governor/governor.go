// Package governor enforces single-flight execution and daily invocation
// caps per concurrency group.
//
// A concurrency group is keyed by "role" or "role/job". At most one
// invocation per key is active at a time; different keys never block each
// other. The slot is a lease in a Store with an expiry, so when the Store is
// shared (SQLite) the limit holds across every process using it, and a
// holder that dies frees the slot once its lease runs out. Completed
// invocations are counted per key and UTC day, so the daily cap resets
// lazily the first time a key is touched after midnight UTC.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLeaseTTL bounds a slot taken with Acquire.
const DefaultLeaseTTL = time.Hour

// ErrNotActive is returned by Release when the key holds no active slot.
// A double release therefore never inflates the completed count.
var ErrNotActive = errors.New("governor: key has no active invocation")

// Denial explains why Acquire refused a slot. The empty Denial means the
// slot was granted.
type Denial string

// Acquire outcomes.
const (
	Granted    Denial = ""
	DeniedBusy Denial = "busy"
	DeniedCap  Denial = "daily cap reached"
)

// Group is a point-in-time view of one concurrency group.
type Group struct {
	Key            string    `json:"key"`
	Active         bool      `json:"active"`
	CompletedToday int       `json:"completed_today"`
	DayBoundary    time.Time `json:"day_boundary"`
}

type group struct {
	holder      string    // lease token of this process's invocation, if any
	dayBoundary time.Time // start of the UTC day the group last saw
}

// Governor takes leases and counts completions through a Store. It
// remembers the lease tokens it handed out so Release can only free a slot
// this Governor still holds.
type Governor struct {
	store Store

	mu     sync.Mutex
	groups map[string]*group

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New returns a Governor backed by store.
func New(store Store) *Governor {
	return &Governor{
		store:   store,
		groups:  make(map[string]*group),
		nowFunc: time.Now,
	}
}

// SetClock replaces the time source. Intended for tests and simulations.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nowFunc = now
}

// Day returns the UTC calendar day containing t, formatted as the store key.
func Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Acquire is AcquireFor with DefaultLeaseTTL.
func (g *Governor) Acquire(ctx context.Context, key string, dailyCap int) (Denial, error) {
	return g.AcquireFor(ctx, key, dailyCap, DefaultLeaseTTL)
}

// AcquireFor tries to take the slot for key for at most ttl. dailyCap <= 0
// means unlimited. On Granted the caller must Release it exactly once;
// after ttl the slot is free again whether or not it was released.
func (g *Governor) AcquireFor(ctx context.Context, key string, dailyCap int, ttl time.Duration) (Denial, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	grp := g.groupLocked(key, now)
	lease := Lease{Key: key, Holder: uuid.NewString(), Expires: now.Add(ttl)}
	d, err := g.store.Lease(ctx, lease, dailyCap, Day(now), now)
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	if d == Granted {
		grp.holder = lease.Holder
	}
	return d, nil
}

// TryAcquire is Acquire reduced to a boolean.
func (g *Governor) TryAcquire(ctx context.Context, key string, dailyCap int) (bool, error) {
	d, err := g.Acquire(ctx, key, dailyCap)
	if err != nil {
		return false, err
	}
	return d == Granted, nil
}

// Release frees the slot for key and counts one completed invocation for
// the current UTC day. ErrNotActive means this Governor holds no live lease
// for key, either because it was never taken here or because it expired
// and was taken by someone else.
func (g *Governor) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	grp := g.groupLocked(key, now)
	if grp.holder == "" {
		return ErrNotActive
	}
	holder := grp.holder
	grp.holder = ""
	if err := g.store.Complete(ctx, key, holder, Day(now)); err != nil {
		if errors.Is(err, ErrNotActive) {
			return err
		}
		return fmt.Errorf("record completion for %s: %w", key, err)
	}
	return nil
}

// CompletedOn returns the completed count for key on the UTC day of date.
func (g *Governor) CompletedOn(ctx context.Context, key string, date time.Time) (int, error) {
	n, err := g.store.Completed(ctx, key, Day(date))
	if err != nil {
		return 0, fmt.Errorf("read completed count for %s: %w", key, err)
	}
	return n, nil
}

// Snapshot returns the state of every group the governor has seen, sorted
// by key. Active reflects the Store, so it includes leases held by other
// processes.
func (g *Governor) Snapshot(ctx context.Context) ([]Group, error) {
	g.mu.Lock()
	now := g.nowFunc()
	out := make([]Group, 0, len(g.groups))
	for key := range g.groups {
		grp := g.groupLocked(key, now)
		out = append(out, Group{Key: key, DayBoundary: grp.dayBoundary})
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	today := Day(now)
	for i := range out {
		active, err := g.store.Active(ctx, out[i].Key, now)
		if err != nil {
			return nil, fmt.Errorf("read lease for %s: %w", out[i].Key, err)
		}
		n, err := g.store.Completed(ctx, out[i].Key, today)
		if err != nil {
			return nil, fmt.Errorf("read completed count for %s: %w", out[i].Key, err)
		}
		out[i].Active = active
		out[i].CompletedToday = n
	}
	return out, nil
}

// groupLocked returns the group for key, rolling its day boundary forward
// when now is past it. Caller must hold g.mu.
func (g *Governor) groupLocked(key string, now time.Time) *group {
	grp, ok := g.groups[key]
	if !ok {
		grp = &group{}
		g.groups[key] = grp
	}
	if start := dayStart(now); start.After(grp.dayBoundary) {
		grp.dayBoundary = start
	}
	return grp
}
