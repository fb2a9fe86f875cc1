package rundown

import "strings"

// Panel identifies one of the two rundown views in dual mode. Single-view
// sessions only ever populate the primary panel.
type Panel int

const (
	PanelPrimary Panel = iota
	PanelSecondary
	panelCount
)

func (p Panel) String() string {
	switch p {
	case PanelPrimary:
		return "primary"
	case PanelSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

const (
	primaryPrefix   = "primary-"
	secondaryPrefix = "secondary-"
)

// ResolveDroppable strips the panel-scoping prefix from a droppable
// identifier. Identifiers without a prefix belong to the primary panel
// (single-view droppables are unscoped).
func ResolveDroppable(droppableID string) (Panel, string) {
	if rest, ok := strings.CutPrefix(droppableID, primaryPrefix); ok {
		return PanelPrimary, rest
	}
	if rest, ok := strings.CutPrefix(droppableID, secondaryPrefix); ok {
		return PanelSecondary, rest
	}
	return PanelPrimary, droppableID
}

// IsCrossJournalTransfer reports whether a move between the two panels also
// crosses a journal boundary. Dual view can show the same journal twice, in
// which case a cross-panel drag is an ordinary move.
func IsCrossJournalTransfer(source, dest Journal) bool {
	return source.ID != dest.ID
}
