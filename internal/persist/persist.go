// Package persist is the persistence collaborator boundary: create, update,
// delete and ordered list operations over journals, blocks and segments.
// Postgres backs production; the memory store backs tests and the memory
// profile.
package persist

import (
	"context"
	"errors"

	"github.com/pautahq/espelho/internal/rundown"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// BlockPatch is a partial block update. Nil members are left untouched.
type BlockPatch struct {
	Name  *string
	Order *float64
}

// SegmentPatch is a partial segment update. Nil members are left untouched.
type SegmentPatch struct {
	BlockID     *string
	Order       *float64
	Page        *string
	Slug        *string
	Script      *string
	DurationSec *int
	Status      *string
}

// Store is the persistence contract the sync core invokes. List results come
// back ordered ascending by ordem.
type Store interface {
	Journal(ctx context.Context, id string) (rundown.Journal, error)
	SetJournalOpen(ctx context.Context, id string, open bool) error

	ListBlocks(ctx context.Context, journalID string) ([]rundown.Block, error)
	CreateBlock(ctx context.Context, block rundown.Block) error
	UpdateBlock(ctx context.Context, id string, patch BlockPatch) error
	DeleteBlock(ctx context.Context, id string) error

	ListSegments(ctx context.Context, blockID string) ([]rundown.Segment, error)
	CreateSegment(ctx context.Context, seg rundown.Segment) error
	UpdateSegment(ctx context.Context, id string, patch SegmentPatch) error
	DeleteSegment(ctx context.Context, id string) error

	// JournalForBlock and BlockForSegment resolve ownership, used to
	// denormalize journal ids onto change-feed records.
	JournalForBlock(ctx context.Context, blockID string) (string, error)
	BlockForSegment(ctx context.Context, segID string) (string, error)
}

// OrderPatch builds the patch for a pure reorder write.
func OrderPatch(order float64) SegmentPatch {
	return SegmentPatch{Order: &order}
}

// MovePatch builds the patch persisting a segment move: new block, new order
// and, for cross-journal transfers, the recomputed page.
func MovePatch(seg rundown.Segment) SegmentPatch {
	blockID := seg.BlockID
	order := seg.Order
	page := seg.Page
	return SegmentPatch{BlockID: &blockID, Order: &order, Page: &page}
}

func (p SegmentPatch) apply(seg *rundown.Segment) {
	if p.BlockID != nil {
		seg.BlockID = *p.BlockID
	}
	if p.Order != nil {
		seg.Order = *p.Order
	}
	if p.Page != nil {
		seg.Page = *p.Page
	}
	if p.Slug != nil {
		seg.Slug = *p.Slug
	}
	if p.Script != nil {
		seg.Script = *p.Script
	}
	if p.DurationSec != nil {
		seg.DurationSec = *p.DurationSec
	}
	if p.Status != nil {
		seg.Status = rundown.SegmentStatus(*p.Status)
	}
}

func (p BlockPatch) apply(block *rundown.Block) {
	if p.Name != nil {
		block.Name = *p.Name
	}
	if p.Order != nil {
		block.Order = *p.Order
	}
}
