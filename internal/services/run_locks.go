package services

import "sync"

// RunLocks tracks which runs have an optimization in flight. It is a
// single-owner, non-blocking lock per run id: a second acquire fails instead
// of waiting.
type RunLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewRunLocks() *RunLocks {
	return &RunLocks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for runID and reports whether it succeeded.
func (l *RunLocks) TryAcquire(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[runID]; busy {
		return false
	}
	l.held[runID] = struct{}{}
	return true
}

func (l *RunLocks) Release(runID string) {
	l.mu.Lock()
	delete(l.held, runID)
	l.mu.Unlock()
}

// Busy reports whether runID is currently locked.
func (l *RunLocks) Busy(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, busy := l.held[runID]
	return busy
}
