package iface

import "sync/atomic"

// ResourceLock guards a physical peripheral shared by several tasks.
// It never blocks: a task failing to acquire it yields and retries in a
// later step. There's no queueing and no fairness.
type ResourceLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it's free.
func (l *ResourceLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock.
func (l *ResourceLock) Release() {
	l.held.Store(false)
}

// Held indicates the lock is taken.
func (l *ResourceLock) Held() bool {
	return l.held.Load()
}
