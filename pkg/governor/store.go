package governor

import (
	"context"
	"sync"
	"time"
)

// Lease is the single-flight slot of one concurrency group. A lease past
// Expires is free for anyone to take, so a holder that crashed cannot
// block its node beyond the lease duration.
type Lease struct {
	Key     string
	Holder  string
	Expires time.Time
}

// Store holds leases and completed counts. Lease must check the slot and
// the day's count and take the slot as one atomic step.
type Store interface {
	// Lease takes l unless an unexpired lease exists for l.Key (DeniedBusy)
	// or dailyCap > 0 and the count for day has reached it (DeniedCap).
	Lease(ctx context.Context, l Lease, dailyCap int, day string, now time.Time) (Denial, error)

	// Complete drops the lease held by holder and counts one completion
	// for day. ErrNotActive means holder no longer owns the slot.
	Complete(ctx context.Context, key, holder, day string) error

	// Active reports whether key has an unexpired lease at now.
	Active(ctx context.Context, key string, now time.Time) (bool, error)

	Completed(ctx context.Context, key, day string) (int, error)
}

// MemoryStore is a process-local Store. Nothing survives a restart and
// other processes cannot see its leases.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]Lease
	counts map[[2]string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]Lease),
		counts: make(map[[2]string]int),
	}
}

func (m *MemoryStore) Lease(_ context.Context, l Lease, dailyCap int, day string, now time.Time) (Denial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[l.Key]; ok && cur.Expires.After(now) {
		return DeniedBusy, nil
	}
	if dailyCap > 0 && m.counts[[2]string{l.Key, day}] >= dailyCap {
		return DeniedCap, nil
	}
	m.leases[l.Key] = l
	return Granted, nil
}

func (m *MemoryStore) Complete(_ context.Context, key, holder, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[key]
	if !ok || cur.Holder != holder {
		return ErrNotActive
	}
	delete(m.leases, key)
	m.counts[[2]string{key, day}]++
	return nil
}

func (m *MemoryStore) Active(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[key]
	return ok && cur.Expires.After(now), nil
}

func (m *MemoryStore) Completed(_ context.Context, key, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[[2]string{key, day}], nil
}
