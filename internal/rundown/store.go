package rundown

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// State is the in-memory ordered representation of blocks-with-items that the
// rest of the system reads and mutates. It is the source of truth for
// rendering until confirmed or overwritten by remote updates. One panel is
// populated in single view, two in dual view; the two collections never share
// mutable state.
//
// All mutations run from UI callbacks or remote-event callbacks. The mutex
// guards against those interleaving at arbitrary points; there is no internal
// ordering guarantee between a pending local mutation and a remote event for
// the same entity — remote always wins (see reconciler.go).
type State struct {
	mu     sync.Mutex
	log    zerolog.Logger
	panels [panelCount]*panelState
}

type panelState struct {
	journal              Journal
	blocks               []BlockWithItems
	defaultBlockInFlight bool
}

func NewState(log zerolog.Logger) *State {
	s := &State{log: log}
	for i := range s.panels {
		s.panels[i] = &panelState{}
	}
	return s
}

// OpenJournal installs the initial load for a panel, replacing whatever the
// panel held before. Blocks and items are resorted by order and totals
// recomputed.
func (s *State) OpenJournal(panel Panel, journal Journal, blocks []BlockWithItems) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.panels[panel]
	ps.journal = journal
	ps.blocks = make([]BlockWithItems, len(blocks))
	copy(ps.blocks, blocks)
	for i := range ps.blocks {
		ps.blocks[i].Items = append([]Segment(nil), blocks[i].Items...)
	}
	ps.defaultBlockInFlight = false
	s.resortLocked(panel)
}

// CloseJournal empties a panel.
func (s *State) CloseJournal(panel Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[panel] = &panelState{}
}

// Journal returns the panel's journal metadata. ok is false for an empty
// panel.
func (s *State) Journal(panel Panel) (Journal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.panels[panel].journal
	return j, j.ID != ""
}

// Snapshot returns a deep copy of the panel's journal and blocks for the UI
// and for export collaborators, which must not mutate the store.
func (s *State) Snapshot(panel Panel) (Journal, []BlockWithItems) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.panels[panel]
	blocks := make([]BlockWithItems, len(ps.blocks))
	for i, block := range ps.blocks {
		blocks[i] = block
		blocks[i].Items = append([]Segment(nil), block.Items...)
	}
	return ps.journal, blocks
}

// AddBlock inserts a block into its panel's collection.
func (s *State) AddBlock(panel Panel, block Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[panel].blocks = append(s.panels[panel].blocks, BlockWithItems{Block: block})
	s.resortLocked(panel)
}

// ApplyBlock upserts remote block metadata. An existing block keeps its
// items; an unknown block joins the panel owning its journal.
func (s *State) ApplyBlock(block Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if panel, idx, ok := s.findBlockLocked(block.ID); ok {
		s.panels[panel].blocks[idx].Block = block
		s.resortLocked(panel)
		return true
	}
	for panel := range s.panels {
		if s.panels[panel].journal.ID == block.JournalID {
			s.panels[panel].blocks = append(s.panels[panel].blocks, BlockWithItems{Block: block})
			s.resortLocked(Panel(panel))
			return true
		}
	}
	return false
}

// DeleteBlock removes a block and, by construction, every segment it held.
// It returns the removed block so callers can cascade persistence deletes.
func (s *State) DeleteBlock(blockID string) (BlockWithItems, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for panel := range s.panels {
		ps := s.panels[panel]
		for i, block := range ps.blocks {
			if block.ID == blockID {
				removed := block
				ps.blocks = append(ps.blocks[:i], ps.blocks[i+1:]...)
				return removed, true
			}
		}
	}
	return BlockWithItems{}, false
}

// AddSegment inserts a segment into its block and recomputes the block total.
func (s *State) AddSegment(seg Segment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSegmentLocked(seg)
}

// DeleteSegment removes a segment by id. Unknown ids are a no-op: remote
// deletes may race local ones.
func (s *State) DeleteSegment(segID string) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeSegmentLocked(segID)
}

// UpdateSegment replaces the stored segment with the same id wholesale and
// resorts its block. Returns false when the segment is not present in any
// open panel.
func (s *State) UpdateSegment(seg Segment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.removeSegmentLocked(seg.ID)
	if !ok {
		return false
	}
	if seg.BlockID == "" {
		seg.BlockID = prev.BlockID
	}
	if !s.insertSegmentLocked(seg) {
		// Block moved out from under the update; restore the previous record.
		s.insertSegmentLocked(prev)
		return false
	}
	return true
}

// SetOrders bulk-assigns order values inside one block, the write path used
// after normalization.
func (s *State) SetOrders(blockID string, orders map[string]float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	panel, idx, ok := s.findBlockLocked(blockID)
	if !ok {
		return false
	}
	block := &s.panels[panel].blocks[idx]
	for i := range block.Items {
		if order, ok := orders[block.Items[i].ID]; ok {
			block.Items[i].Order = order
		}
	}
	sortItems(block.Items)
	block.recomputeTotal()
	return true
}

// ApplyMove performs the optimistic mutation for a resolved move: the item
// leaves its source block, sibling order overrides from ItemsToPersist are
// applied, and the item lands in the destination block.
func (s *State) ApplyMove(m Move) error {
	if m.Kind == MoveRejected {
		return Rejected(ErrInvalidInput, m.Reason)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.removeSegmentLocked(m.Item.ID); !ok {
		return ErrNotFound
	}
	for _, sibling := range m.ItemsToPersist {
		if sibling.ID == m.Item.ID {
			continue
		}
		s.setOrderLocked(sibling.ID, sibling.Order)
	}
	if !s.insertSegmentLocked(m.Item) {
		return ErrNotFound
	}
	return nil
}

// Segment looks a segment up by id across both panels.
func (s *State) Segment(segID string) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for panel := range s.panels {
		for _, block := range s.panels[panel].blocks {
			for _, item := range block.Items {
				if item.ID == segID {
					return item, true
				}
			}
		}
	}
	return Segment{}, false
}

// Block looks a block up by id across both panels.
func (s *State) Block(blockID string) (BlockWithItems, Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	panel, idx, ok := s.findBlockLocked(blockID)
	if !ok {
		return BlockWithItems{}, PanelPrimary, false
	}
	block := s.panels[panel].blocks[idx]
	block.Items = append([]Segment(nil), block.Items...)
	return block, panel, true
}

// PanelForJournal reports which open panel, if any, holds the journal.
func (s *State) PanelForJournal(journalID string) (Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for panel := range s.panels {
		if s.panels[panel].journal.ID == journalID {
			return Panel(panel), true
		}
	}
	return PanelPrimary, false
}

// ApplyJournal replaces the journal metadata on whichever panel holds it,
// keeping the espelho_aberto gate current with remote toggles.
func (s *State) ApplyJournal(journal Journal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for panel := range s.panels {
		if s.panels[panel].journal.ID == journal.ID {
			s.panels[panel].journal = journal
			return true
		}
	}
	return false
}

// TryBeginDefaultBlock reports whether the panel's journal is open for
// editing with zero blocks after initial load, and if so flags the default
// block creation as in flight. The flag stops concurrent effects from
// creating two default blocks for the same journal.
func (s *State) TryBeginDefaultBlock(panel Panel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.panels[panel]
	if ps.journal.ID == "" || !ps.journal.Open {
		return false
	}
	if len(ps.blocks) > 0 || ps.defaultBlockInFlight {
		return false
	}
	ps.defaultBlockInFlight = true
	return true
}

// EndDefaultBlock clears the in-flight default block flag.
func (s *State) EndDefaultBlock(panel Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[panel].defaultBlockInFlight = false
}

// NormalizePlan returns dense replacement orders for a block whose fractional
// keys have accumulated past the threshold. ok is false when the block is
// missing or already dense enough.
func (s *State) NormalizePlan(blockID string, threshold int) (map[string]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	panel, idx, ok := s.findBlockLocked(blockID)
	if !ok {
		return nil, false
	}
	items := s.panels[panel].blocks[idx].Items
	if threshold > 0 && fractionalKeyCount(items) < threshold {
		return nil, false
	}
	orders := make(map[string]float64, len(items))
	for _, item := range Normalize(items) {
		orders[item.ID] = item.Order
	}
	return orders, true
}

func (s *State) locateBlockLocked(preferred Panel, blockID string) (Panel, int, bool) {
	for i, block := range s.panels[preferred].blocks {
		if block.ID == blockID {
			return preferred, i, true
		}
	}
	// Not found within the panel's own state: delegate the comparison to the
	// other panel (dual-view cross-panel drops).
	other := PanelSecondary
	if preferred == PanelSecondary {
		other = PanelPrimary
	}
	for i, block := range s.panels[other].blocks {
		if block.ID == blockID {
			return other, i, true
		}
	}
	return preferred, 0, false
}

func (s *State) findBlockLocked(blockID string) (Panel, int, bool) {
	for panel := range s.panels {
		for i, block := range s.panels[panel].blocks {
			if block.ID == blockID {
				return Panel(panel), i, true
			}
		}
	}
	return PanelPrimary, 0, false
}

func (s *State) insertSegmentLocked(seg Segment) bool {
	panel, idx, ok := s.findBlockLocked(seg.BlockID)
	if !ok {
		return false
	}
	block := &s.panels[panel].blocks[idx]
	block.Items = append(block.Items, seg)
	sortItems(block.Items)
	block.recomputeTotal()
	return true
}

func (s *State) removeSegmentLocked(segID string) (Segment, bool) {
	for panel := range s.panels {
		ps := s.panels[panel]
		for i := range ps.blocks {
			block := &ps.blocks[i]
			for j, item := range block.Items {
				if item.ID == segID {
					removed := item
					block.Items = append(block.Items[:j], block.Items[j+1:]...)
					block.recomputeTotal()
					return removed, true
				}
			}
		}
	}
	return Segment{}, false
}

func (s *State) setOrderLocked(segID string, order float64) {
	for panel := range s.panels {
		ps := s.panels[panel]
		for i := range ps.blocks {
			block := &ps.blocks[i]
			for j := range block.Items {
				if block.Items[j].ID == segID {
					block.Items[j].Order = order
					sortItems(block.Items)
					return
				}
			}
		}
	}
}

func (s *State) resortLocked(panel Panel) {
	ps := s.panels[panel]
	sort.SliceStable(ps.blocks, func(i, j int) bool { return ps.blocks[i].Order < ps.blocks[j].Order })
	for i := range ps.blocks {
		sortItems(ps.blocks[i].Items)
		ps.blocks[i].recomputeTotal()
	}
}

func sortItems(items []Segment) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
}
