package store

import (
	"context"
	"sync"
	"time"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

// MemoryStore is an in-memory implementation of the ChallengeStore interface.
// Expiry is checked on every take; a background reaper additionally sweeps
// abandoned ceremonies so the map does not grow without bound.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	ceremony  core.PendingCeremony
	expiresAt time.Time
}

const reapInterval = time.Minute

// NewMemoryStore creates a new in-memory store and starts its reaper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.reap()
	return s
}

var _ ports.ChallengeStore = (*MemoryStore)(nil)

// Put stores a pending ceremony under its session id.
func (s *MemoryStore) Put(ctx context.Context, sessionID string, ceremony core.PendingCeremony, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sessionID] = memoryEntry{
		ceremony:  ceremony,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// TakeIfValid atomically removes and returns the pending ceremony for the
// session id. Expired entries are deleted and reported as not found.
func (s *MemoryStore) TakeIfValid(ctx context.Context, sessionID string) (core.PendingCeremony, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return core.PendingCeremony{}, false, nil
	}
	delete(s.entries, sessionID)

	if s.now().After(entry.expiresAt) {
		return core.PendingCeremony{}, false, nil
	}
	return entry.ceremony, true, nil
}

// Close stops the reaper goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) reap() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for id, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
