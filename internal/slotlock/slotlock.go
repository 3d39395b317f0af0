// Package slotlock holds short-lived advisory locks on appointment slots.
// A lock keeps two front desks from editing the same (day, doctor, time)
// at once; it does not guarantee the booking. The unique index checked at
// booking commit is the real guard.
package slotlock

import (
	"context"
	"errors"
	"time"
)

const DefaultTTL = 5 * time.Minute

var ErrSlotLocked = errors.New("slot locked by another holder")

// LockStore holds lock state. The memory store serves a single instance;
// the redis store is for running more than one.
type LockStore interface {
	// Acquire takes the lock or refreshes it when holder already owns it.
	// Returns ErrSlotLocked when a different holder owns a live lock.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) error
	// Release drops the lock when holder owns it. Releasing a lock held by
	// someone else, or not held at all, reports false without error.
	Release(ctx context.Context, key, holder string) (bool, error)
	// LockedTimes lists slot times currently locked under the prefix.
	LockedTimes(ctx context.Context, day, doctorID string) ([]string, error)
}

// Notifier receives a signal after lock state changes so screens showing
// availability can refresh.
type Notifier interface {
	SlotChanged(day, doctorID string)
}

type Manager struct {
	store    LockStore
	notifier Notifier
	ttl      time.Duration
}

func NewManager(lockStore LockStore, notifier Notifier, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: lockStore, notifier: notifier, ttl: ttl}
}

func lockKey(day, doctorID, slotTime string) string {
	return day + "|" + doctorID + "|" + slotTime
}

func (m *Manager) Lock(ctx context.Context, day, doctorID, slotTime, holder string) error {
	if err := m.store.Acquire(ctx, lockKey(day, doctorID, slotTime), holder, m.ttl); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.SlotChanged(day, doctorID)
	}
	return nil
}

func (m *Manager) Release(ctx context.Context, day, doctorID, slotTime, holder string) error {
	released, err := m.store.Release(ctx, lockKey(day, doctorID, slotTime), holder)
	if err != nil {
		return err
	}
	if released && m.notifier != nil {
		m.notifier.SlotChanged(day, doctorID)
	}
	return nil
}

// LockedTimes reports the live-locked slot times for a doctor's day.
func (m *Manager) LockedTimes(ctx context.Context, day, doctorID string) ([]string, error) {
	return m.store.LockedTimes(ctx, day, doctorID)
}
