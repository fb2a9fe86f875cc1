package rundown

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/espelho/internal/feed"
)

func newTestReconciler(t *testing.T) (*Reconciler, *State, *LockTable, *feed.Hub) {
	t.Helper()
	state := dualState(t)
	locks := NewLockTable()
	hub := feed.NewHub()
	rec := NewReconciler(state, locks, hub, zerolog.Nop())
	require.NoError(t, rec.Subscribe("j1"))
	require.NoError(t, rec.Subscribe("j2"))
	t.Cleanup(rec.Close)
	return rec, state, locks, hub
}

func publish(t *testing.T, hub *feed.Hub, table string, action feed.Action, record any) {
	t.Helper()
	ev, err := feed.MarshalRecord(table, action, record)
	require.NoError(t, err)
	hub.Publish(ev)
}

func TestReconcilerRemoteSegmentUpdateWins(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	publish(t, hub, feed.TableSegments, feed.ActionUpdate, segmentRecord{
		Segment:   Segment{ID: "a", BlockID: "b1", Order: 0, Page: "1", Slug: "remoto", DurationSec: 99},
		JournalID: "j1",
	})
	seg, ok := state.Segment("a")
	require.True(t, ok)
	assert.Equal(t, "remoto", seg.Slug)
	assert.Equal(t, 99, seg.DurationSec)
}

func TestReconcilerInsertOfKnownSegmentUpserts(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	publish(t, hub, feed.TableSegments, feed.ActionInsert, segmentRecord{
		Segment:   Segment{ID: "a", BlockID: "b1", Order: 0, Slug: "confirmado"},
		JournalID: "j1",
	})
	seg, _ := state.Segment("a")
	assert.Equal(t, "confirmado", seg.Slug)
	block, _, _ := state.Block("b1")
	assert.Len(t, block.Items, 3)
}

func TestReconcilerUpdateOfUnknownSegmentInserts(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	publish(t, hub, feed.TableSegments, feed.ActionUpdate, segmentRecord{
		Segment:   Segment{ID: "novo", BlockID: "b1", Order: 5, Slug: "perdido"},
		JournalID: "j1",
	})
	_, ok := state.Segment("novo")
	assert.True(t, ok)
}

func TestReconcilerDeleteOfAbsentSegmentIsNoop(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	_, before := state.Snapshot(PanelPrimary)
	publish(t, hub, feed.TableSegments, feed.ActionDelete, map[string]string{
		"id": "ghost", "id_telejornal": "j1",
	})
	_, after := state.Snapshot(PanelPrimary)
	assert.Equal(t, before, after)
}

func TestReconcilerDiscardsOutOfScopeEvents(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	// The filter column keeps foreign-journal traffic out; a record that slips
	// past it is still dropped by the scope check.
	publish(t, hub, feed.TableSegments, feed.ActionInsert, segmentRecord{
		Segment:   Segment{ID: "intruso", BlockID: "b1", Order: 9},
		JournalID: "outro-jornal",
	})
	_, ok := state.Segment("intruso")
	assert.False(t, ok)
}

func TestReconcilerJournalGateToggle(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	publish(t, hub, feed.TableJournals, feed.ActionUpdate, Journal{
		ID: "j1", Name: "JN1", Open: false,
	})
	journal, _ := state.Journal(PanelPrimary)
	assert.False(t, journal.Open)
}

func TestReconcilerBlockLifecycle(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	publish(t, hub, feed.TableBlocks, feed.ActionInsert, Block{
		ID: "b9", JournalID: "j1", Name: "Bloco 3", Order: 2,
	})
	_, _, ok := state.Block("b9")
	require.True(t, ok)

	publish(t, hub, feed.TableBlocks, feed.ActionUpdate, Block{
		ID: "b9", JournalID: "j1", Name: "Encerramento", Order: 2,
	})
	block, _, _ := state.Block("b9")
	assert.Equal(t, "Encerramento", block.Name)

	publish(t, hub, feed.TableBlocks, feed.ActionDelete, map[string]string{
		"id": "b9", "id_telejornal": "j1",
	})
	_, _, ok = state.Block("b9")
	assert.False(t, ok)
}

func TestReconcilerLockSignal(t *testing.T) {
	_, _, locks, hub := newTestReconciler(t)
	publish(t, hub, feed.TableLocks, feed.ActionInsert, lockRecord{
		ID: "a", Holder: "sessao-7", JournalID: "j1",
	})
	assert.True(t, locks.IsLocked("a"))
	holder, _ := locks.Holder("a")
	assert.Equal(t, "sessao-7", holder)

	publish(t, hub, feed.TableLocks, feed.ActionDelete, lockRecord{
		ID: "a", JournalID: "j1",
	})
	assert.False(t, locks.IsLocked("a"))
}

func TestReconcilerSubscribeIsIdempotent(t *testing.T) {
	state := dualState(t)
	source := &countingSource{Source: feed.NewHub()}
	rec := NewReconciler(state, NewLockTable(), source, zerolog.Nop())
	require.NoError(t, rec.Subscribe("j1"))
	first := source.calls
	require.NoError(t, rec.Subscribe("j1"))
	assert.Equal(t, first, source.calls)
}

func TestReconcilerSubscribeRollsBackOnFailure(t *testing.T) {
	state := dualState(t)
	source := &countingSource{Source: feed.NewHub(), failAfter: 2}
	rec := NewReconciler(state, NewLockTable(), source, zerolog.Nop())
	err := rec.Subscribe("j1")
	require.Error(t, err)
	assert.Equal(t, 2, source.released)
	// The failed journal can be retried.
	source.failAfter = 0
	require.NoError(t, rec.Subscribe("j1"))
}

func TestReconcilerUnsubscribeStopsDelivery(t *testing.T) {
	rec, state, _, hub := newTestReconciler(t)
	rec.Unsubscribe("j1")
	publish(t, hub, feed.TableSegments, feed.ActionUpdate, segmentRecord{
		Segment:   Segment{ID: "a", BlockID: "b1", Order: 0, Slug: "tarde-demais"},
		JournalID: "j1",
	})
	seg, _ := state.Segment("a")
	assert.Equal(t, "abertura", seg.Slug)
}

func TestReconcilerDropsUndecodableRecord(t *testing.T) {
	_, state, _, hub := newTestReconciler(t)
	hub.Publish(feed.Event{
		Table:  feed.TableSegments,
		Action: feed.ActionUpdate,
		Record: []byte(`{"id": 12, "id_telejornal": "j1"}`),
	})
	_, before := state.Snapshot(PanelPrimary)
	assert.NotEmpty(t, before)
}

// countingSource wraps a real source, counting subscriptions and releases and
// optionally failing after a number of successes.
type countingSource struct {
	feed.Source
	calls     int
	released  int
	failAfter int
}

func (c *countingSource) Subscribe(table string, filter feed.Filter, handlers feed.Handlers) (feed.Unsubscribe, error) {
	if c.failAfter > 0 && c.calls >= c.failAfter {
		return nil, errors.New("subscription refused")
	}
	c.calls++
	unsub, err := c.Source.Subscribe(table, filter, handlers)
	if err != nil {
		return nil, err
	}
	return func() {
		c.released++
		unsub()
	}, nil
}
