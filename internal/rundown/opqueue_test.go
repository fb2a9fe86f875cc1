package rundown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(window time.Duration) (*OperationQueue, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 9, 18, 30, 0, 0, time.UTC)}
	q := NewOperationQueue(window)
	q.now = clock.Now
	return q, clock
}

func TestQueueRefusesDuplicateWhileInFlight(t *testing.T) {
	q, _ := newTestQueue(time.Second)
	assert.True(t, q.Add("move:seg-1"))
	assert.False(t, q.Add("move:seg-1"))
	assert.True(t, q.Has("move:seg-1"))
	assert.True(t, q.Add("move:seg-2"))
}

func TestQueueRemoveIsDeferredByWindow(t *testing.T) {
	q, clock := newTestQueue(time.Second)
	assert.True(t, q.Add("op"))
	q.Remove("op")

	// Still suppressed inside the window.
	assert.False(t, q.Add("op"))
	clock.Advance(999 * time.Millisecond)
	assert.False(t, q.Add("op"))

	clock.Advance(time.Millisecond)
	assert.False(t, q.Has("op"))
	assert.True(t, q.Add("op"))
}

func TestQueueUnremovedEntryNeverExpires(t *testing.T) {
	q, clock := newTestQueue(time.Second)
	assert.True(t, q.Add("op"))
	clock.Advance(time.Hour)
	assert.False(t, q.Add("op"))
}

func TestQueueRemoveUnknownIsNoop(t *testing.T) {
	q, _ := newTestQueue(time.Second)
	q.Remove("ghost")
	assert.False(t, q.Has("ghost"))
}

func TestQueueEmptyIDRefused(t *testing.T) {
	q, _ := newTestQueue(0)
	assert.False(t, q.Add(""))
}
