package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/espelho/internal/rundown"
)

func seededMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.SeedJournal(rundown.Journal{ID: "j1", Name: "JN1", Open: true})
	ctx := context.Background()
	require.NoError(t, m.CreateBlock(ctx, rundown.Block{ID: "b1", JournalID: "j1", Name: "Bloco 1", Order: 0}))
	require.NoError(t, m.CreateBlock(ctx, rundown.Block{ID: "b2", JournalID: "j1", Name: "Bloco 2", Order: 1}))
	require.NoError(t, m.CreateSegment(ctx, rundown.Segment{ID: "a", BlockID: "b1", Order: 1, Slug: "vt"}))
	require.NoError(t, m.CreateSegment(ctx, rundown.Segment{ID: "b", BlockID: "b1", Order: 0, Slug: "nota"}))
	require.NoError(t, m.CreateSegment(ctx, rundown.Segment{ID: "c", BlockID: "b2", Order: 0, Slug: "ao-vivo"}))
	return m
}

func TestMemoryJournalLookup(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()
	journal, err := m.Journal(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, journal.Open)

	_, err = m.Journal(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetJournalOpen(ctx, "j1", false))
	journal, _ = m.Journal(ctx, "j1")
	assert.False(t, journal.Open)
}

func TestMemoryListsAreOrdered(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	blocks, err := m.ListBlocks(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "b1", blocks[0].ID)

	segs, err := m.ListSegments(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "b", segs[0].ID)
	assert.Equal(t, "a", segs[1].ID)
}

func TestMemoryUpdateSegmentPatch(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	require.NoError(t, m.UpdateSegment(ctx, "a", OrderPatch(0.5)))
	seg, ok := m.Segment("a")
	require.True(t, ok)
	assert.Equal(t, 0.5, seg.Order)
	// Untouched members survive the patch.
	assert.Equal(t, "vt", seg.Slug)

	moved := seg
	moved.BlockID = "b2"
	moved.Order = 1
	moved.Page = "7"
	require.NoError(t, m.UpdateSegment(ctx, "a", MovePatch(moved)))
	seg, _ = m.Segment("a")
	assert.Equal(t, "b2", seg.BlockID)
	assert.Equal(t, "7", seg.Page)

	assert.ErrorIs(t, m.UpdateSegment(ctx, "ghost", OrderPatch(1)), ErrNotFound)
}

func TestMemoryDeleteBlockCascades(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()
	require.NoError(t, m.DeleteBlock(ctx, "b1"))
	_, ok := m.Segment("a")
	assert.False(t, ok)
	_, ok = m.Segment("b")
	assert.False(t, ok)
	// Other blocks keep theirs.
	_, ok = m.Segment("c")
	assert.True(t, ok)
}

func TestMemoryCreateValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	assert.ErrorIs(t, m.CreateBlock(ctx, rundown.Block{}), ErrInvalidInput)
	assert.ErrorIs(t, m.CreateSegment(ctx, rundown.Segment{ID: "a"}), ErrInvalidInput)
}

func TestMemoryOwnershipLookups(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	journalID, err := m.JournalForBlock(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "j1", journalID)
	_, err = m.JournalForBlock(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	blockID, err := m.BlockForSegment(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "b2", blockID)
	_, err = m.BlockForSegment(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateBlockPatch(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()
	name := "Encerramento"
	require.NoError(t, m.UpdateBlock(ctx, "b2", BlockPatch{Name: &name}))
	blocks, _ := m.ListBlocks(ctx, "j1")
	assert.Equal(t, "Encerramento", blocks[1].Name)
}
