package rundown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleFocus(t *testing.T) {
	s := NewSelection()
	s.ToggleFocus("a")
	assert.Equal(t, "a", s.Focused())

	// Clicking another segment moves focus.
	s.ToggleFocus("b")
	assert.Equal(t, "b", s.Focused())

	// Clicking the focused segment again clears it.
	s.ToggleFocus("b")
	assert.Empty(t, s.Focused())
}

func TestBatchToggleAndClear(t *testing.T) {
	s := NewSelection()
	s.EnterBatch()
	assert.True(t, s.BatchActive())

	s.Toggle("a")
	s.Toggle("b")
	assert.True(t, s.IsSelected("a"))
	s.Toggle("a")
	assert.False(t, s.IsSelected("a"))

	s.Clear()
	assert.False(t, s.IsSelected("b"))
	assert.True(t, s.BatchActive())
}

func TestExitBatchClearsSet(t *testing.T) {
	s := NewSelection()
	s.EnterBatch()
	s.Toggle("a")
	s.ExitBatch()
	assert.False(t, s.BatchActive())
	assert.False(t, s.IsSelected("a"))
}

func TestSelectAllAndSelectedItems(t *testing.T) {
	s := NewSelection()
	items := []Segment{seg("a", 0), seg("b", 1), seg("c", 2)}
	s.EnterBatch()
	s.SelectAll(items[:2])
	got := s.SelectedItems(items)
	assert.Equal(t, []string{"a", "b"}, idsOf(got))

	// Order follows the rundown, not selection order.
	s.Toggle("c")
	s.Toggle("a")
	got = s.SelectedItems(items)
	assert.Equal(t, []string{"b", "c"}, idsOf(got))
}

func TestFocusAndBatchAreIndependent(t *testing.T) {
	s := NewSelection()
	s.ToggleFocus("a")
	s.EnterBatch()
	s.Toggle("b")
	s.ExitBatch()
	assert.Equal(t, "a", s.Focused())
}
