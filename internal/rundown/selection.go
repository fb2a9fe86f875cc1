package rundown

import "sync"

// Selection stores two independent concerns: the single focused segment used
// for relative-position pasting, and the orthogonal batch-selection set. The
// UI treats the two as mutually exclusive input modes; this store does not
// enforce that and records both faithfully.
type Selection struct {
	mu      sync.Mutex
	focused string
	batch   bool
	ids     map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// ToggleFocus focuses a segment, or clears focus when the same segment is
// clicked again.
func (s *Selection) ToggleFocus(segID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focused == segID {
		s.focused = ""
		return
	}
	s.focused = segID
}

// Focused returns the currently focused segment id, empty when none.
func (s *Selection) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// EnterBatch switches batch-selection mode on.
func (s *Selection) EnterBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = true
}

// ExitBatch switches batch mode off and clears the set.
func (s *Selection) ExitBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = false
	s.ids = make(map[string]struct{})
}

// BatchActive reports whether batch-selection mode is on.
func (s *Selection) BatchActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch
}

// Toggle flips a segment's membership in the batch set.
func (s *Selection) Toggle(segID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[segID]; ok {
		delete(s.ids, segID)
		return
	}
	s.ids[segID] = struct{}{}
}

// SelectAll adds every visible item to the batch set.
func (s *Selection) SelectAll(visible []Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range visible {
		s.ids[item.ID] = struct{}{}
	}
}

// Clear empties the batch set without leaving batch mode.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// IsSelected reports batch membership.
func (s *Selection) IsSelected(segID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[segID]
	return ok
}

// SelectedItems filters the given items down to the selected subset,
// preserving their order.
func (s *Selection) SelectedItems(all []Segment) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Segment
	for _, item := range all {
		if _, ok := s.ids[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}
