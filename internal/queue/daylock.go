package queue

import (
	"sync"
	"time"
)

// dayLocks serializes mutations per queue day. Each day gets a one-slot
// channel acting as a mutex with a bounded wait.
type dayLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newDayLocks() *dayLocks {
	return &dayLocks{locks: make(map[string]chan struct{})}
}

func (d *dayLocks) lockFor(day string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[day]
	if !ok {
		lock = make(chan struct{}, 1)
		d.locks[day] = lock
	}
	return lock
}

// acquire takes the day's lock, giving up after timeout.
func (d *dayLocks) acquire(day string, timeout time.Duration) bool {
	lock := d.lockFor(day)
	select {
	case lock <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (d *dayLocks) release(day string) {
	<-d.lockFor(day)
}
