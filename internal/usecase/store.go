package usecase

import (
	"context"
	"sync"
	"time"
)

// SessionStore keeps one Snapshot per session. Load returns an empty snapshot
// for unknown sessions.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Save(ctx context.Context, sessionID string, snap *Snapshot) error
}

type memoryEntry struct {
	snap    *Snapshot
	savedAt time.Time
}

// MemoryStore is a process-local SessionStore. Entries idle longer than ttl are
// dropped: on Load of that session, and by a sweep that Save runs at most once per
// sweep interval.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// maxSweepInterval caps how long an expired entry may linger between sweeps.
const maxSweepInterval = time.Minute

// NewMemoryStore creates an in-memory store. A zero ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok {
		return &Snapshot{}, nil
	}
	if m.ttl > 0 && m.now().Sub(entry.savedAt) > m.ttl {
		delete(m.entries, sessionID)
		return &Snapshot{}, nil
	}
	return entry.snap.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)
	m.entries[sessionID] = memoryEntry{snap: snap.Clone(), savedAt: now}
	return nil
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	interval := m.ttl
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if now.Sub(m.lastSweep) < interval {
		return
	}
	m.lastSweep = now
	for id, entry := range m.entries {
		if now.Sub(entry.savedAt) > m.ttl {
			delete(m.entries, id)
		}
	}
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
