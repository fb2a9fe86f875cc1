package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/pautahq/espelho/internal/rundown"
)

// Memory is the in-memory Store twin, used by tests and the daemon's memory
// profile.
type Memory struct {
	mu       sync.Mutex
	journals map[string]rundown.Journal
	blocks   map[string]rundown.Block
	segments map[string]rundown.Segment
}

func NewMemory() *Memory {
	return &Memory{
		journals: make(map[string]rundown.Journal),
		blocks:   make(map[string]rundown.Block),
		segments: make(map[string]rundown.Segment),
	}
}

// SeedJournal installs a journal record directly; journal administration is
// outside the sync core's surface.
func (m *Memory) SeedJournal(journal rundown.Journal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journals[journal.ID] = journal
}

func (m *Memory) Journal(_ context.Context, id string) (rundown.Journal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal, ok := m.journals[id]
	if !ok {
		return rundown.Journal{}, ErrNotFound
	}
	return journal, nil
}

func (m *Memory) SetJournalOpen(_ context.Context, id string, open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal, ok := m.journals[id]
	if !ok {
		return ErrNotFound
	}
	journal.Open = open
	m.journals[id] = journal
	return nil
}

func (m *Memory) ListBlocks(_ context.Context, journalID string) ([]rundown.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rundown.Block
	for _, block := range m.blocks {
		if block.JournalID == journalID {
			out = append(out, block)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *Memory) CreateBlock(_ context.Context, block rundown.Block) error {
	if block.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.ID] = block
	return nil
}

func (m *Memory) UpdateBlock(_ context.Context, id string, patch BlockPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(&block)
	m.blocks[id] = block
	return nil
}

func (m *Memory) DeleteBlock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[id]; !ok {
		return ErrNotFound
	}
	delete(m.blocks, id)
	for segID, seg := range m.segments {
		if seg.BlockID == id {
			delete(m.segments, segID)
		}
	}
	return nil
}

func (m *Memory) ListSegments(_ context.Context, blockID string) ([]rundown.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rundown.Segment
	for _, seg := range m.segments {
		if seg.BlockID == blockID {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *Memory) CreateSegment(_ context.Context, seg rundown.Segment) error {
	if seg.ID == "" || seg.BlockID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[seg.ID] = seg
	return nil
}

func (m *Memory) UpdateSegment(_ context.Context, id string, patch SegmentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(&seg)
	m.segments[id] = seg
	return nil
}

func (m *Memory) DeleteSegment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return ErrNotFound
	}
	delete(m.segments, id)
	return nil
}

// Segment exposes a stored segment for assertions.
func (m *Memory) Segment(id string) (rundown.Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[id]
	return seg, ok
}

func (m *Memory) JournalForBlock(_ context.Context, blockID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[blockID]
	if !ok {
		return "", ErrNotFound
	}
	return block.JournalID, nil
}

func (m *Memory) BlockForSegment(_ context.Context, segID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segID]
	if !ok {
		return "", ErrNotFound
	}
	return seg.BlockID, nil
}
