// Package session ties the optimistic rundown state to its persistence store
// and realtime change feed, driving the full edit pipeline for one client:
// validate, mutate optimistically, persist, reconcile.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pautahq/espelho/internal/feed"
	"github.com/pautahq/espelho/internal/persist"
	"github.com/pautahq/espelho/internal/rundown"
)

const defaultNormalizeThreshold = 8

// Options configures one editing session.
type Options struct {
	Store  persist.Store
	Feed   feed.Source
	Logger zerolog.Logger

	// OpWindow is the duplicate-trigger suppression window; <= 0 uses 1s.
	OpWindow time.Duration
	// NormalizeThreshold is how many fractional order keys a block may
	// accumulate before a move triggers renormalization; <= 0 uses 8.
	NormalizeThreshold int
	// NewID overrides id generation, for tests.
	NewID func() string
}

// Session is one client's editing session over one or two journals.
type Session struct {
	state     *rundown.State
	selection *rundown.Selection
	clipboard *rundown.Clipboard
	locks     *rundown.LockTable
	ops       *rundown.OperationQueue
	store     persist.Store
	rec       *rundown.Reconciler
	log       zerolog.Logger
	newID     func() string
	threshold int
}

func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("persistence store is required: %w", rundown.ErrInvalidInput)
	}
	if opts.Feed == nil {
		return nil, fmt.Errorf("change feed is required: %w", rundown.ErrInvalidInput)
	}
	threshold := opts.NormalizeThreshold
	if threshold <= 0 {
		threshold = defaultNormalizeThreshold
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	state := rundown.NewState(opts.Logger)
	locks := rundown.NewLockTable()
	return &Session{
		state:     state,
		selection: rundown.NewSelection(),
		clipboard: rundown.NewClipboard(),
		locks:     locks,
		ops:       rundown.NewOperationQueue(opts.OpWindow),
		store:     opts.Store,
		rec:       rundown.NewReconciler(state, locks, opts.Feed, opts.Logger),
		log:       opts.Logger,
		newID:     newID,
		threshold: threshold,
	}, nil
}

// State exposes the optimistic store for the rendering layer.
func (s *Session) State() *rundown.State { return s.state }

// Selection exposes the selection state for the rendering layer.
func (s *Session) Selection() *rundown.Selection { return s.selection }

// Clipboard exposes the copy/paste state.
func (s *Session) Clipboard() *rundown.Clipboard { return s.clipboard }

// Locks exposes the edit lock gate.
func (s *Session) Locks() *rundown.LockTable { return s.locks }

// Open loads a journal into a panel, subscribes its change feed and creates
// the default block for a freshly opened empty journal. Opening a different
// journal over a panel clears the clipboard.
func (s *Session) Open(ctx context.Context, panel rundown.Panel, journalID string) error {
	previous, hadPrevious := s.state.Journal(panel)

	journal, err := s.store.Journal(ctx, journalID)
	if err != nil {
		return fmt.Errorf("load journal %s: %w", journalID, err)
	}
	blocks, err := s.loadBlocks(ctx, journalID)
	if err != nil {
		return fmt.Errorf("load rundown %s: %w", journalID, err)
	}

	if hadPrevious && previous.ID != journalID {
		s.clipboard.Clear()
		s.selection.ExitBatch()
	}
	s.state.OpenJournal(panel, journal, blocks)
	if hadPrevious && previous.ID != journalID {
		// The previous journal keeps its subscription while the other panel
		// still shows it.
		if _, stillOpen := s.state.PanelForJournal(previous.ID); !stillOpen {
			s.rec.Unsubscribe(previous.ID)
		}
	}
	if err := s.rec.Subscribe(journalID); err != nil {
		// Live updates degrade to the loaded state; the session stays usable.
		s.log.Warn().Err(err).Str("journal", journalID).Msg("continuing without live updates")
	}
	s.ensureDefaultBlock(ctx, panel)
	return nil
}

// Close empties a panel and tears down its subscriptions unless the other
// panel still shows the same journal.
func (s *Session) Close(panel rundown.Panel) {
	journal, ok := s.state.Journal(panel)
	s.state.CloseJournal(panel)
	if !ok {
		return
	}
	if _, stillOpen := s.state.PanelForJournal(journal.ID); !stillOpen {
		s.rec.Unsubscribe(journal.ID)
	}
	s.clipboard.Clear()
}

// Shutdown releases every subscription.
func (s *Session) Shutdown() {
	s.rec.Close()
}

// Resync reloads a panel from the last known-good persisted state, the
// recovery path after a persistence failure left local and remote diverged.
func (s *Session) Resync(ctx context.Context, panel rundown.Panel) error {
	journal, ok := s.state.Journal(panel)
	if !ok {
		return rundown.ErrNotFound
	}
	fresh, err := s.store.Journal(ctx, journal.ID)
	if err != nil {
		return err
	}
	blocks, err := s.loadBlocks(ctx, journal.ID)
	if err != nil {
		return err
	}
	s.state.OpenJournal(panel, fresh, blocks)
	return nil
}

// Move runs the full drag pipeline: duplicate suppression, validation,
// optimistic mutation, then a concurrent persistence batch. The returned Move
// reports how the drop was classified. A rejected drop returns a
// RejectedError and guarantees zero mutations and zero persistence calls.
func (s *Session) Move(ctx context.Context, ev rundown.DropEvent) (rundown.Move, error) {
	opID := moveOpID(ev)
	if !s.ops.Add(opID) {
		return rundown.Move{}, rundown.ErrDuplicateOperation
	}
	defer s.ops.Remove(opID)

	m := s.state.ResolveMove(ev)
	if m.Kind == rundown.MoveRejected {
		return m, rundown.Rejected(rundown.ErrInvalidInput, m.Reason)
	}
	if err := s.state.ApplyMove(m); err != nil {
		return m, err
	}

	writes := make([]func(context.Context) error, 0, len(m.ItemsToPersist))
	for _, item := range m.ItemsToPersist {
		item := item
		patch := persist.OrderPatch(item.Order)
		if item.ID == m.Item.ID {
			patch = persist.MovePatch(item)
		}
		writes = append(writes, func(ctx context.Context) error {
			return s.store.UpdateSegment(ctx, item.ID, patch)
		})
	}
	if err := s.persistBatch(ctx, writes); err != nil {
		s.log.Error().Err(err).Str("segment", m.Item.ID).Stringer("kind", m.Kind).
			Msg("move persistence failed; optimistic state kept")
		return m, err
	}

	s.normalizeIfNeeded(ctx, m.DestBlockID)
	return m, nil
}

// AddBlock appends a block at the tail of the panel's rundown.
func (s *Session) AddBlock(ctx context.Context, panel rundown.Panel, name string) (rundown.Block, error) {
	journal, ok := s.state.Journal(panel)
	if !ok {
		return rundown.Block{}, rundown.ErrNotFound
	}
	if !journal.Open {
		return rundown.Block{}, rundown.Rejected(rundown.ErrJournalClosed, "journal "+journal.Name+" is closed for editing")
	}
	_, blocks := s.state.Snapshot(panel)
	block := rundown.Block{
		ID:        s.newID(),
		JournalID: journal.ID,
		Name:      name,
		Order:     rundown.NextBlockOrder(blocks),
	}
	s.state.AddBlock(panel, block)
	if err := s.store.CreateBlock(ctx, block); err != nil {
		s.log.Error().Err(err).Str("block", block.ID).Msg("block create failed; optimistic state kept")
		return block, err
	}
	return block, nil
}

// DeleteBlock removes a block and every segment it holds.
func (s *Session) DeleteBlock(ctx context.Context, blockID string) error {
	removed, ok := s.state.DeleteBlock(blockID)
	if !ok {
		return rundown.ErrNotFound
	}
	if err := s.store.DeleteBlock(ctx, blockID); err != nil {
		s.log.Error().Err(err).Str("block", removed.ID).Msg("block delete failed; optimistic state kept")
		return err
	}
	return nil
}

// AddSegment appends a segment at the tail of a block, assigning the next
// order key and the journal's next page number.
func (s *Session) AddSegment(ctx context.Context, blockID string, seg rundown.Segment) (rundown.Segment, error) {
	block, panel, ok := s.state.Block(blockID)
	if !ok {
		return rundown.Segment{}, rundown.ErrNotFound
	}
	journal, _ := s.state.Journal(panel)
	if !journal.Open {
		return rundown.Segment{}, rundown.Rejected(rundown.ErrJournalClosed, "journal "+journal.Name+" is closed for editing")
	}
	_, blocks := s.state.Snapshot(panel)
	if seg.ID == "" {
		seg.ID = s.newID()
	}
	seg.BlockID = blockID
	seg.Order = rundown.TailInsertOrder(block.Items)
	if seg.Page == "" {
		seg.Page = strconv.Itoa(rundown.NextPageNumber(blocks))
	}
	if seg.Status == "" {
		seg.Status = rundown.StatusDraft
	}
	s.state.AddSegment(seg)
	if err := s.store.CreateSegment(ctx, seg); err != nil {
		s.log.Error().Err(err).Str("segment", seg.ID).Msg("segment create failed; optimistic state kept")
		return seg, err
	}
	return seg, nil
}

// UpdateSegment replaces a segment's editable fields. Edits are refused while
// a remote session holds the segment's lock.
func (s *Session) UpdateSegment(ctx context.Context, seg rundown.Segment) error {
	if s.locks.IsLocked(seg.ID) {
		return rundown.ErrLocked
	}
	if !s.state.UpdateSegment(seg) {
		return rundown.ErrNotFound
	}
	slug, script, duration, status := seg.Slug, seg.Script, seg.DurationSec, string(seg.Status)
	page := seg.Page
	patch := persist.SegmentPatch{
		Page:        &page,
		Slug:        &slug,
		Script:      &script,
		DurationSec: &duration,
		Status:      &status,
	}
	if err := s.store.UpdateSegment(ctx, seg.ID, patch); err != nil {
		s.log.Error().Err(err).Str("segment", seg.ID).Msg("segment update failed; optimistic state kept")
		return err
	}
	return nil
}

// DeleteSegment removes one segment.
func (s *Session) DeleteSegment(ctx context.Context, segID string) error {
	if _, ok := s.state.DeleteSegment(segID); !ok {
		return rundown.ErrNotFound
	}
	if err := s.store.DeleteSegment(ctx, segID); err != nil {
		s.log.Error().Err(err).Str("segment", segID).Msg("segment delete failed; optimistic state kept")
		return err
	}
	return nil
}

// DeleteSelected deletes every batch-selected segment of a panel as one
// concurrent persistence batch.
func (s *Session) DeleteSelected(ctx context.Context, panel rundown.Panel) error {
	_, blocks := s.state.Snapshot(panel)
	var all []rundown.Segment
	for _, block := range blocks {
		all = append(all, block.Items...)
	}
	selected := s.selection.SelectedItems(all)
	if len(selected) == 0 {
		return nil
	}
	writes := make([]func(context.Context) error, 0, len(selected))
	for _, seg := range selected {
		segID := seg.ID
		s.state.DeleteSegment(segID)
		writes = append(writes, func(ctx context.Context) error {
			return s.store.DeleteSegment(ctx, segID)
		})
	}
	s.selection.Clear()
	if err := s.persistBatch(ctx, writes); err != nil {
		s.log.Error().Err(err).Int("segments", len(selected)).Msg("batch delete failed; optimistic state kept")
		return err
	}
	return nil
}

// CopySegment puts a segment on the clipboard.
func (s *Session) CopySegment(segID string) error {
	seg, ok := s.state.Segment(segID)
	if !ok {
		return rundown.ErrNotFound
	}
	_, panel, _ := s.state.Block(seg.BlockID)
	journal, _ := s.state.Journal(panel)
	s.clipboard.CopySegment(seg, journal)
	return nil
}

// CopyBlock puts a block, items included, on the clipboard.
func (s *Session) CopyBlock(blockID string) error {
	block, panel, ok := s.state.Block(blockID)
	if !ok {
		return rundown.ErrNotFound
	}
	journal, _ := s.state.Journal(panel)
	s.clipboard.CopyBlock(block, journal)
	return nil
}

// Paste inserts the clipboard entry into the panel: a segment lands after the
// focused segment (or at the tail of the last block without focus) under a
// fresh id; a block is appended at the tail of the rundown. Pastes that cross
// a journal boundary get renumbered pages, same as cross-panel transfers.
func (s *Session) Paste(ctx context.Context, panel rundown.Panel) (rundown.Segment, error) {
	entry, ok := s.clipboard.Entry()
	if !ok {
		return rundown.Segment{}, rundown.ErrEmptyClipboard
	}
	journal, ok := s.state.Journal(panel)
	if !ok {
		return rundown.Segment{}, rundown.ErrNotFound
	}
	if !journal.Open {
		return rundown.Segment{}, rundown.Rejected(rundown.ErrJournalClosed, "journal "+journal.Name+" is closed for editing")
	}
	switch entry.Kind {
	case rundown.ClipboardSegment:
		return s.pasteSegment(ctx, panel, journal, entry)
	case rundown.ClipboardBlock:
		return rundown.Segment{}, s.pasteBlock(ctx, panel, journal, entry)
	default:
		return rundown.Segment{}, rundown.ErrInvalidInput
	}
}

func (s *Session) pasteSegment(ctx context.Context, panel rundown.Panel, journal rundown.Journal, entry rundown.ClipboardEntry) (rundown.Segment, error) {
	_, blocks := s.state.Snapshot(panel)
	if len(blocks) == 0 {
		return rundown.Segment{}, rundown.ErrNotFound
	}
	target := blocks[len(blocks)-1]
	insertOrder := rundown.TailInsertOrder(target.Items)
	if focused := s.selection.Focused(); focused != "" {
		if seg, ok := s.state.Segment(focused); ok {
			if block, blockPanel, ok := s.state.Block(seg.BlockID); ok && blockPanel == panel {
				target = block
				insertOrder = rundown.NextInsertOrder(block.Items, focused)
			}
		}
	}

	seg := entry.Segment
	seg.ID = s.newID()
	seg.BlockID = target.ID
	seg.Order = insertOrder
	if entry.SourceJournalID != journal.ID {
		seg.Page = strconv.Itoa(rundown.NextPageNumber(blocks))
	}
	s.state.AddSegment(seg)
	if err := s.store.CreateSegment(ctx, seg); err != nil {
		s.log.Error().Err(err).Str("segment", seg.ID).Msg("paste persist failed; optimistic state kept")
		return seg, err
	}
	s.normalizeIfNeeded(ctx, target.ID)
	return seg, nil
}

func (s *Session) pasteBlock(ctx context.Context, panel rundown.Panel, journal rundown.Journal, entry rundown.ClipboardEntry) error {
	_, blocks := s.state.Snapshot(panel)
	block := entry.Block.Block
	block.ID = s.newID()
	block.JournalID = journal.ID
	block.Order = rundown.NextBlockOrder(blocks)
	s.state.AddBlock(panel, block)

	writes := []func(context.Context) error{
		func(ctx context.Context) error { return s.store.CreateBlock(ctx, block) },
	}
	page := rundown.NextPageNumber(blocks)
	for i, item := range entry.Block.Items {
		seg := item
		seg.ID = s.newID()
		seg.BlockID = block.ID
		seg.Order = float64(i)
		if entry.SourceJournalID != journal.ID {
			seg.Page = strconv.Itoa(page)
			page++
		}
		s.state.AddSegment(seg)
		writes = append(writes, func(ctx context.Context) error {
			return s.store.CreateSegment(ctx, seg)
		})
	}
	if err := s.persistBatch(ctx, writes); err != nil {
		s.log.Error().Err(err).Str("block", block.ID).Msg("block paste persist failed; optimistic state kept")
		return err
	}
	return nil
}

// BeginEdit opens a segment in a local edit surface, registering its save
// callback in the pending-edit side table. It refuses while a remote session
// holds the lock; the UI surfaces that as a blocking overlay.
func (s *Session) BeginEdit(segID string, onSave func(rundown.Segment)) error {
	if s.locks.IsLocked(segID) {
		return rundown.ErrLocked
	}
	if _, ok := s.state.Segment(segID); !ok {
		return rundown.ErrNotFound
	}
	s.locks.SetPendingSave(segID, onSave)
	return nil
}

// EndEdit closes the edit surface. With save set, the pending callback runs
// with the segment's current state before being dropped.
func (s *Session) EndEdit(segID string, save bool) {
	fn, ok := s.locks.TakePendingSave(segID)
	if !ok || !save {
		return
	}
	if seg, found := s.state.Segment(segID); found {
		fn(seg)
	}
}

// NormalizeBlock forces dense renormalization of a block's order keys,
// persisting every changed key as one batch.
func (s *Session) NormalizeBlock(ctx context.Context, blockID string) error {
	orders, ok := s.state.NormalizePlan(blockID, 0)
	if !ok {
		return rundown.ErrNotFound
	}
	return s.applyOrders(ctx, blockID, orders)
}

func (s *Session) normalizeIfNeeded(ctx context.Context, blockID string) {
	orders, ok := s.state.NormalizePlan(blockID, s.threshold)
	if !ok {
		return
	}
	if err := s.applyOrders(ctx, blockID, orders); err != nil {
		s.log.Warn().Err(err).Str("block", blockID).Msg("renormalization persist failed")
	}
}

func (s *Session) applyOrders(ctx context.Context, blockID string, orders map[string]float64) error {
	s.state.SetOrders(blockID, orders)
	writes := make([]func(context.Context) error, 0, len(orders))
	for segID, order := range orders {
		segID, order := segID, order
		writes = append(writes, func(ctx context.Context) error {
			return s.store.UpdateSegment(ctx, segID, persist.OrderPatch(order))
		})
	}
	return s.persistBatch(ctx, writes)
}

func (s *Session) ensureDefaultBlock(ctx context.Context, panel rundown.Panel) {
	if !s.state.TryBeginDefaultBlock(panel) {
		return
	}
	defer s.state.EndDefaultBlock(panel)
	journal, _ := s.state.Journal(panel)
	block := rundown.Block{
		ID:        s.newID(),
		JournalID: journal.ID,
		Name:      "Bloco 1",
		Order:     0,
	}
	if err := s.store.CreateBlock(ctx, block); err != nil {
		s.log.Error().Err(err).Str("journal", journal.ID).Msg("default block create failed")
		return
	}
	s.state.AddBlock(panel, block)
}

// persistBatch issues every write concurrently and reports the failures as
// one aggregate error. Writes that succeeded are not rolled back.
func (s *Session) persistBatch(ctx context.Context, writes []func(context.Context) error) error {
	if len(writes) == 0 {
		return nil
	}
	errs := make([]error, len(writes))
	var wg sync.WaitGroup
	for i, write := range writes {
		wg.Add(1)
		go func(i int, write func(context.Context) error) {
			defer wg.Done()
			errs[i] = write(ctx)
		}(i, write)
	}
	wg.Wait()
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &rundown.BatchError{Errs: failed}
}

func (s *Session) loadBlocks(ctx context.Context, journalID string) ([]rundown.BlockWithItems, error) {
	blocks, err := s.store.ListBlocks(ctx, journalID)
	if err != nil {
		return nil, err
	}
	out := make([]rundown.BlockWithItems, 0, len(blocks))
	for _, block := range blocks {
		items, err := s.store.ListSegments(ctx, block.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, rundown.BlockWithItems{Block: block, Items: items})
	}
	return out, nil
}

func moveOpID(ev rundown.DropEvent) string {
	if ev.SegmentID != "" {
		return "move:" + ev.SegmentID
	}
	return fmt.Sprintf("move:%s:%d", ev.SourceDroppable, ev.SourceIndex)
}
