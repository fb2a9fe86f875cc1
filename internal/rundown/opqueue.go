package rundown

import (
	"sync"
	"time"
)

const defaultReleaseWindow = time.Second

// OperationQueue suppresses duplicate triggers of a single logical operation
// (double-click, rapid drag repeat) within one session. Release is deferred by
// a short window so a burst of duplicate triggers arriving just after the
// first completes is still absorbed. It is not a cross-user concurrency
// mechanism.
type OperationQueue struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	inflight map[string]time.Time
}

// NewOperationQueue creates a queue with the given release window. A window
// <= 0 uses the 1s default.
func NewOperationQueue(window time.Duration) *OperationQueue {
	if window <= 0 {
		window = defaultReleaseWindow
	}
	return &OperationQueue{
		window:   window,
		now:      time.Now,
		inflight: make(map[string]time.Time),
	}
}

// Add registers opID as in flight. It returns false if the id is already
// queued or still inside its release window.
func (q *OperationQueue) Add(opID string) bool {
	if opID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	if _, ok := q.inflight[opID]; ok {
		return false
	}
	q.inflight[opID] = time.Time{}
	return true
}

// Has reports whether opID is in flight or still inside its release window.
func (q *OperationQueue) Has(opID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	_, ok := q.inflight[opID]
	return ok
}

// Remove schedules opID for release once the window elapses. Until then Has
// keeps reporting true and Add keeps refusing the id.
func (q *OperationQueue) Remove(opID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[opID]; !ok {
		return
	}
	q.inflight[opID] = q.now().Add(q.window)
}

func (q *OperationQueue) pruneLocked() {
	now := q.now()
	for opID, deadline := range q.inflight {
		if !deadline.IsZero() && !now.Before(deadline) {
			delete(q.inflight, opID)
		}
	}
}
