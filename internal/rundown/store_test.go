package rundown

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenJournalSortsAndRecomputesTotals(t *testing.T) {
	s := NewState(zerolog.Nop())
	s.OpenJournal(PanelPrimary, Journal{ID: "j1", Open: true}, []BlockWithItems{
		{Block: Block{ID: "b2", JournalID: "j1", Order: 1}, Items: []Segment{
			{ID: "c", BlockID: "b2", Order: 1, DurationSec: 45},
			{ID: "b", BlockID: "b2", Order: 0, DurationSec: 15},
		}},
		{Block: Block{ID: "b1", JournalID: "j1", Order: 0}, Items: []Segment{
			{ID: "a", BlockID: "b1", Order: 0, DurationSec: 30},
		}},
	})

	_, blocks := s.Snapshot(PanelPrimary)
	require.Len(t, blocks, 2)
	assert.Equal(t, "b1", blocks[0].ID)
	assert.Equal(t, "b2", blocks[1].ID)
	assert.Equal(t, []string{"b", "c"}, idsOf(blocks[1].Items))
	assert.Equal(t, 30*time.Second, blocks[0].TotalTime)
	assert.Equal(t, time.Minute, blocks[1].TotalTime)
}

func TestSnapshotIsDetachedFromState(t *testing.T) {
	s := dualState(t)
	_, blocks := s.Snapshot(PanelPrimary)
	blocks[0].Items[0].Slug = "mutated"
	seg, ok := s.Segment("a")
	require.True(t, ok)
	assert.Equal(t, "abertura", seg.Slug)
}

func TestAddSegmentRecomputesTotal(t *testing.T) {
	s := dualState(t)
	require.True(t, s.AddSegment(Segment{ID: "n", BlockID: "b2", Order: 2, DurationSec: 60}))
	block, _, ok := s.Block("b2")
	require.True(t, ok)
	assert.Equal(t, 6*time.Minute, block.TotalTime)
}

func TestAddSegmentUnknownBlock(t *testing.T) {
	s := dualState(t)
	assert.False(t, s.AddSegment(Segment{ID: "n", BlockID: "ghost"}))
}

func TestDeleteSegmentAbsentIsNoop(t *testing.T) {
	s := dualState(t)
	_, ok := s.DeleteSegment("ghost")
	assert.False(t, ok)
}

func TestUpdateSegmentReplacesWholesale(t *testing.T) {
	s := dualState(t)
	require.True(t, s.UpdateSegment(Segment{
		ID: "a", BlockID: "b1", Order: 0, Page: "1", Slug: "nova-retranca", DurationSec: 40,
	}))
	seg, ok := s.Segment("a")
	require.True(t, ok)
	assert.Equal(t, "nova-retranca", seg.Slug)
	assert.Equal(t, 40, seg.DurationSec)
	block, _, _ := s.Block("b1")
	assert.Equal(t, (40+90+20)*time.Second, block.TotalTime)
}

func TestUpdateSegmentKeepsBlockWhenUnset(t *testing.T) {
	s := dualState(t)
	require.True(t, s.UpdateSegment(Segment{ID: "a", Slug: "sem-bloco"}))
	seg, _ := s.Segment("a")
	assert.Equal(t, "b1", seg.BlockID)
}

func TestDeleteBlockCascades(t *testing.T) {
	s := dualState(t)
	removed, ok := s.DeleteBlock("b1")
	require.True(t, ok)
	assert.Len(t, removed.Items, 3)
	_, found := s.Segment("a")
	assert.False(t, found)
	_, blocks := s.Snapshot(PanelPrimary)
	assert.Len(t, blocks, 1)
}

func TestApplyBlockUpsert(t *testing.T) {
	s := dualState(t)
	// Update keeps items.
	require.True(t, s.ApplyBlock(Block{ID: "b1", JournalID: "j1", Name: "Renomeado", Order: 0}))
	block, _, _ := s.Block("b1")
	assert.Equal(t, "Renomeado", block.Name)
	assert.Len(t, block.Items, 3)

	// Insert joins the panel owning the journal.
	require.True(t, s.ApplyBlock(Block{ID: "b9", JournalID: "j2", Name: "Bloco 2", Order: 1}))
	_, panel, ok := s.Block("b9")
	require.True(t, ok)
	assert.Equal(t, PanelSecondary, panel)

	// Unknown journal has no home.
	assert.False(t, s.ApplyBlock(Block{ID: "bx", JournalID: "ghost"}))
}

func TestApplyJournalUpdatesGate(t *testing.T) {
	s := dualState(t)
	require.True(t, s.ApplyJournal(Journal{ID: "j1", Name: "JN1", Open: false}))
	journal, ok := s.Journal(PanelPrimary)
	require.True(t, ok)
	assert.False(t, journal.Open)
	assert.False(t, s.ApplyJournal(Journal{ID: "ghost"}))
}

func TestCloseJournalEmptiesPanel(t *testing.T) {
	s := dualState(t)
	s.CloseJournal(PanelSecondary)
	_, ok := s.Journal(PanelSecondary)
	assert.False(t, ok)
	_, found := s.Segment("f")
	assert.False(t, found)
	// Primary is untouched.
	_, ok = s.Journal(PanelPrimary)
	assert.True(t, ok)
}

func TestDefaultBlockGuard(t *testing.T) {
	s := NewState(zerolog.Nop())
	s.OpenJournal(PanelPrimary, Journal{ID: "j1", Open: true}, nil)

	require.True(t, s.TryBeginDefaultBlock(PanelPrimary))
	// Second attempt while in flight must refuse.
	assert.False(t, s.TryBeginDefaultBlock(PanelPrimary))

	s.AddBlock(PanelPrimary, Block{ID: "b1", JournalID: "j1"})
	s.EndDefaultBlock(PanelPrimary)
	// A populated rundown never creates another default block.
	assert.False(t, s.TryBeginDefaultBlock(PanelPrimary))
}

func TestDefaultBlockRefusedForClosedJournal(t *testing.T) {
	s := NewState(zerolog.Nop())
	s.OpenJournal(PanelPrimary, Journal{ID: "j1", Open: false}, nil)
	assert.False(t, s.TryBeginDefaultBlock(PanelPrimary))
}

func TestNormalizePlanThreshold(t *testing.T) {
	s := dualState(t)
	require.True(t, s.AddSegment(Segment{ID: "x", BlockID: "b1", Order: 0.1}))

	// One fractional key stays under the threshold.
	_, ok := s.NormalizePlan("b1", 2)
	assert.False(t, ok)

	orders, ok := s.NormalizePlan("b1", 1)
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"a": 0, "x": 1, "b": 2, "c": 3}, orders)

	_, ok = s.NormalizePlan("ghost", 1)
	assert.False(t, ok)
}

func TestPanelForJournal(t *testing.T) {
	s := dualState(t)
	panel, ok := s.PanelForJournal("j2")
	require.True(t, ok)
	assert.Equal(t, PanelSecondary, panel)
	_, ok = s.PanelForJournal("ghost")
	assert.False(t, ok)
}
