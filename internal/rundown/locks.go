package rundown

import "sync"

// LockTable consumes the locked/unlocked signal for segments held open in a
// remote edit surface. Acquisition, renewal and expiry are server concerns;
// this table only tracks the signal and gates local edits.
//
// It also keeps the pending-edit side table: the save callback a segment
// carries while open in a local edit surface lives here, keyed by segment id,
// never on the persisted entity itself.
type LockTable struct {
	mu      sync.Mutex
	locked  map[string]string
	pending map[string]func(Segment)
}

func NewLockTable() *LockTable {
	return &LockTable{
		locked:  make(map[string]string),
		pending: make(map[string]func(Segment)),
	}
}

// SetLocked records a remote session taking a segment into edit.
func (t *LockTable) SetLocked(segID, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locked[segID] = holder
}

// SetUnlocked records the holder releasing a segment.
func (t *LockTable) SetUnlocked(segID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locked, segID)
}

// IsLocked reports whether a remote session currently holds the segment.
func (t *LockTable) IsLocked(segID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.locked[segID]
	return ok
}

// Holder returns the session holding the segment, if any.
func (t *LockTable) Holder(segID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	holder, ok := t.locked[segID]
	return holder, ok
}

// SetPendingSave registers the save callback for a segment open in a local
// edit surface.
func (t *LockTable) SetPendingSave(segID string, fn func(Segment)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.pending, segID)
		return
	}
	t.pending[segID] = fn
}

// TakePendingSave removes and returns the segment's save callback.
func (t *LockTable) TakePendingSave(segID string) (func(Segment), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn, ok := t.pending[segID]
	if ok {
		delete(t.pending, segID)
	}
	return fn, ok
}
