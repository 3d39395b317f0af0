package queue

import (
	"testing"
	"time"
)

func TestDayLockTimesOut(t *testing.T) {
	locks := newDayLocks()
	if !locks.acquire("2026-08-31", 10*time.Millisecond) {
		t.Fatal("first acquire failed")
	}
	if locks.acquire("2026-08-31", 10*time.Millisecond) {
		t.Fatal("second acquire should time out")
	}
	locks.release("2026-08-31")
	if !locks.acquire("2026-08-31", 10*time.Millisecond) {
		t.Fatal("acquire after release failed")
	}
}

func TestDayLocksAreIndependent(t *testing.T) {
	locks := newDayLocks()
	if !locks.acquire("2026-08-31", 10*time.Millisecond) {
		t.Fatal("first day acquire failed")
	}
	if !locks.acquire("2026-09-01", 10*time.Millisecond) {
		t.Fatal("other day should not be blocked")
	}
}
