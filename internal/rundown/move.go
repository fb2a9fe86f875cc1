package rundown

import "strconv"

// MoveKind classifies a drag-release event. The classification is decided
// once at the boundary and consumed exhaustively downstream.
type MoveKind int

const (
	MoveRejected MoveKind = iota
	MoveSameBlock
	MoveCrossBlock
	MoveCrossPanel
)

func (k MoveKind) String() string {
	switch k {
	case MoveSameBlock:
		return "same-block"
	case MoveCrossBlock:
		return "cross-block"
	case MoveCrossPanel:
		return "cross-panel"
	default:
		return "rejected"
	}
}

// DropEvent is the raw drag-release payload handed in by the UI layer.
// Droppable identifiers may carry a panel-scoping prefix in dual view.
type DropEvent struct {
	SegmentID       string
	SourceDroppable string
	SourceIndex     int
	DestDroppable   string
	DestIndex       int
}

// Move is the validated, typed result of resolving a drop event. For rejected
// moves only Kind and Reason are set. ItemsToPersist carries the moved
// segment plus every sibling whose order must be written back.
type Move struct {
	Kind           MoveKind
	SourcePanel    Panel
	DestPanel      Panel
	SourceBlockID  string
	DestBlockID    string
	CrossJournal   bool
	Item           Segment
	ItemsToPersist []Segment
	Reason         string
}

func rejectedMove(reason string) Move {
	return Move{Kind: MoveRejected, Reason: reason}
}

// ResolveMove interprets a drop event against the current state. It never
// mutates the state: a rejected result guarantees zero side effects, and an
// accepted result must be applied separately with ApplyMove.
func (s *State) ResolveMove(ev DropEvent) Move {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.DestDroppable == "" {
		return rejectedMove("dropped outside any droppable region")
	}

	srcPanel, srcBlockID := ResolveDroppable(ev.SourceDroppable)
	dstPanel, dstBlockID := ResolveDroppable(ev.DestDroppable)

	if srcPanel == dstPanel && srcBlockID == dstBlockID && ev.SourceIndex == ev.DestIndex {
		return rejectedMove("dropped at the same position")
	}

	srcPanel, srcIdx, ok := s.locateBlockLocked(srcPanel, srcBlockID)
	if !ok {
		return rejectedMove("source block not found in either panel")
	}
	dstPanel, dstIdx, ok := s.locateBlockLocked(dstPanel, dstBlockID)
	if !ok {
		return rejectedMove("destination block not found in either panel")
	}

	srcJournal := s.panels[srcPanel].journal
	dstJournal := s.panels[dstPanel].journal
	if !srcJournal.Open {
		return rejectedMove("journal " + srcJournal.Name + " is closed for editing")
	}
	if !dstJournal.Open {
		return rejectedMove("journal " + dstJournal.Name + " is closed for editing")
	}

	srcBlock := &s.panels[srcPanel].blocks[srcIdx]
	moved, ok := pickMoved(srcBlock.Items, ev)
	if !ok {
		return rejectedMove("dragged segment not found in source block")
	}

	if srcPanel == dstPanel && srcBlockID == dstBlockID {
		return s.resolveSameBlockLocked(srcPanel, srcBlockID, srcBlock.Items, moved, ev.DestIndex)
	}

	kind := MoveCrossBlock
	if srcPanel != dstPanel {
		kind = MoveCrossPanel
	}
	crossJournal := IsCrossJournalTransfer(srcJournal, dstJournal)

	destItems := s.panels[dstPanel].blocks[dstIdx].Items
	insertOrder := nextInsertOrderAt(destItems, ev.DestIndex)

	item := moved
	item.BlockID = dstBlockID
	item.Order = insertOrder
	if crossJournal {
		// Page numbering is per journal: a transferred segment must never
		// carry its origin journal's page number.
		item.Page = strconv.Itoa(NextPageNumber(s.panels[dstPanel].blocks))
	}

	persist := append([]Segment{item}, ItemsNeedingUpdate(destItems, insertOrder)...)

	return Move{
		Kind:           kind,
		SourcePanel:    srcPanel,
		DestPanel:      dstPanel,
		SourceBlockID:  srcBlockID,
		DestBlockID:    dstBlockID,
		CrossJournal:   crossJournal,
		Item:           item,
		ItemsToPersist: persist,
	}
}

func (s *State) resolveSameBlockLocked(panel Panel, blockID string, items []Segment, moved Segment, destIndex int) Move {
	remaining := make([]Segment, 0, len(items))
	for _, item := range items {
		if item.ID != moved.ID {
			remaining = append(remaining, item)
		}
	}
	if destIndex < 0 {
		destIndex = 0
	}
	if destIndex > len(remaining) {
		destIndex = len(remaining)
	}
	spliced := make([]Segment, 0, len(items))
	spliced = append(spliced, remaining[:destIndex]...)
	spliced = append(spliced, moved)
	spliced = append(spliced, remaining[destIndex:]...)
	for i := range spliced {
		spliced[i].Order = float64(i)
	}

	before := make(map[string]float64, len(items))
	for _, item := range items {
		before[item.ID] = item.Order
	}
	var persist []Segment
	var item Segment
	for _, seg := range spliced {
		if seg.ID == moved.ID {
			item = seg
			persist = append(persist, seg)
			continue
		}
		if before[seg.ID] != seg.Order {
			persist = append(persist, seg)
		}
	}

	return Move{
		Kind:           MoveSameBlock,
		SourcePanel:    panel,
		DestPanel:      panel,
		SourceBlockID:  blockID,
		DestBlockID:    blockID,
		Item:           item,
		ItemsToPersist: persist,
	}
}

// pickMoved prefers the dragged segment id when the event carries one; the
// source index is a fallback for payloads that only report positions.
func pickMoved(items []Segment, ev DropEvent) (Segment, bool) {
	if ev.SegmentID != "" {
		for _, item := range items {
			if item.ID == ev.SegmentID {
				return item, true
			}
		}
		return Segment{}, false
	}
	if ev.SourceIndex < 0 || ev.SourceIndex >= len(items) {
		return Segment{}, false
	}
	return items[ev.SourceIndex], true
}
