package slotlock

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore keeps locks in a map with lazy expiry: an expired entry is
// treated as absent and overwritten on the next acquire. No sweeper
// goroutine runs.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]entry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, ok := s.locks[key]
	if ok && current.expiresAt.After(now) && current.holder != holder {
		return ErrSlotLocked
	}
	s.locks[key] = entry{holder: holder, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[key]
	if !ok {
		return false, nil
	}
	if current.holder != holder {
		return false, nil
	}
	delete(s.locks, key)
	return current.expiresAt.After(s.now()), nil
}

func (s *MemoryStore) LockedTimes(_ context.Context, day, doctorID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := day + "|" + doctorID + "|"
	now := s.now()
	var times []string
	for key, current := range s.locks {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !current.expiresAt.After(now) {
			delete(s.locks, key)
			continue
		}
		times = append(times, strings.TrimPrefix(key, prefix))
	}
	return times, nil
}
