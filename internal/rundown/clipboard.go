package rundown

import (
	"sync"
	"time"
)

// Clipboard holds at most one copied block or segment. Entries are transient:
// a journal switch or an explicit clear drops them.
type Clipboard struct {
	mu    sync.Mutex
	entry *ClipboardEntry
	now   func() time.Time
}

func NewClipboard() *Clipboard {
	return &Clipboard{now: time.Now}
}

// CopySegment records a segment copy tagged with its source journal.
func (c *Clipboard) CopySegment(seg Segment, source Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &ClipboardEntry{
		Kind:              ClipboardSegment,
		Segment:           seg,
		SourceJournalID:   source.ID,
		SourceJournalName: source.Name,
		CopiedAt:          c.now(),
	}
}

// CopyBlock records a block copy, items included.
func (c *Clipboard) CopyBlock(block BlockWithItems, source Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := block
	copied.Items = append([]Segment(nil), block.Items...)
	c.entry = &ClipboardEntry{
		Kind:              ClipboardBlock,
		Block:             copied,
		SourceJournalID:   source.ID,
		SourceJournalName: source.Name,
		CopiedAt:          c.now(),
	}
}

// Entry returns the current entry, if any.
func (c *Clipboard) Entry() (ClipboardEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return ClipboardEntry{}, false
	}
	return *c.entry, true
}

// Clear drops the entry.
func (c *Clipboard) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
