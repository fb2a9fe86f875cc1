package rundown

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pautahq/espelho/internal/feed"
)

// journalFKColumn is the foreign-key column feed subscriptions filter on.
const journalFKColumn = "id_telejornal"

// segmentRecord is the wire shape of a segment change event. The daemon
// denormalizes the owning journal id onto the record so equality filters and
// the scope check below can work without a lookup.
type segmentRecord struct {
	Segment
	JournalID string `json:"id_telejornal"`
}

// lockRecord is the wire shape of an edit-lock change event. Its id is the
// locked segment's id.
type lockRecord struct {
	ID        string `json:"id"`
	Holder    string `json:"sessao"`
	JournalID string `json:"id_telejornal"`
}

type deleteRecord struct {
	ID string `json:"id"`
}

// Reconciler subscribes to remote change events scoped by journal id and
// merges them into the optimistic state. Remote events always replace local
// state for the entity they target; there is no field-level merge and no
// last-local-wins option, so an in-flight local edit for the same entity can
// be transiently discarded.
type Reconciler struct {
	state  *State
	locks  *LockTable
	source feed.Source
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string][]feed.Unsubscribe
}

func NewReconciler(state *State, locks *LockTable, source feed.Source, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		state:  state,
		locks:  locks,
		source: source,
		log:    log,
		subs:   make(map[string][]feed.Unsubscribe),
	}
}

// Subscribe establishes the journal's change subscriptions. Subscribing an
// already-subscribed journal is a no-op, never a duplicate feed; callers may
// re-invoke it freely on every render.
func (r *Reconciler) Subscribe(journalID string) error {
	if journalID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[journalID]; ok {
		return nil
	}

	filter := feed.Filter{Column: journalFKColumn, Value: journalID}
	specs := []struct {
		table    string
		filter   feed.Filter
		handlers feed.Handlers
	}{
		{feed.TableJournals, feed.Filter{Column: "id", Value: journalID}, feed.Handlers{
			OnUpdate: r.onJournal,
		}},
		{feed.TableBlocks, filter, feed.Handlers{
			OnInsert: r.onBlockUpsert,
			OnUpdate: r.onBlockUpsert,
			OnDelete: r.onBlockDelete,
		}},
		{feed.TableSegments, filter, feed.Handlers{
			OnInsert: r.onSegmentInsert,
			OnUpdate: r.onSegmentUpdate,
			OnDelete: r.onSegmentDelete,
		}},
		{feed.TableLocks, filter, feed.Handlers{
			OnInsert: r.onLock,
			OnUpdate: r.onLock,
			OnDelete: r.onUnlock,
		}},
	}

	unsubs := make([]feed.Unsubscribe, 0, len(specs))
	for _, spec := range specs {
		unsub, err := r.source.Subscribe(spec.table, spec.filter, spec.handlers)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			r.log.Error().Err(err).Str("journal", journalID).Str("table", spec.table).
				Msg("feed subscription failed; live updates degraded")
			return err
		}
		unsubs = append(unsubs, unsub)
	}
	r.subs[journalID] = unsubs
	return nil
}

// Unsubscribe tears the journal's subscriptions down, typically on journal
// switch or unmount.
func (r *Reconciler) Unsubscribe(journalID string) {
	r.mu.Lock()
	unsubs := r.subs[journalID]
	delete(r.subs, journalID)
	r.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Close tears down every subscription.
func (r *Reconciler) Close() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[string][]feed.Unsubscribe)
	r.mu.Unlock()
	for _, unsubs := range all {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (r *Reconciler) onJournal(ev feed.Event) {
	var journal Journal
	if !r.decode(ev, &journal) {
		return
	}
	if !r.inScope(journal.ID) {
		return
	}
	r.state.ApplyJournal(journal)
}

func (r *Reconciler) onBlockUpsert(ev feed.Event) {
	var block Block
	if !r.decode(ev, &block) {
		return
	}
	if !r.inScope(block.JournalID) {
		r.log.Debug().Str("block", block.ID).Msg("discarding out-of-scope block event")
		return
	}
	r.state.ApplyBlock(block)
}

func (r *Reconciler) onBlockDelete(ev feed.Event) {
	var record deleteRecord
	if !r.decode(ev, &record) {
		return
	}
	// Absent blocks are a no-op; the local delete may have landed first.
	r.state.DeleteBlock(record.ID)
}

func (r *Reconciler) onSegmentInsert(ev feed.Event) {
	var record segmentRecord
	if !r.decode(ev, &record) {
		return
	}
	if record.JournalID != "" && !r.inScope(record.JournalID) {
		r.log.Debug().Str("segment", record.ID).Msg("discarding out-of-scope segment event")
		return
	}
	if _, ok := r.state.Segment(record.ID); ok {
		// Our own optimistic insert already confirmed; remote record wins.
		r.state.UpdateSegment(record.Segment)
		return
	}
	r.state.AddSegment(record.Segment)
}

func (r *Reconciler) onSegmentUpdate(ev feed.Event) {
	var record segmentRecord
	if !r.decode(ev, &record) {
		return
	}
	if record.JournalID != "" && !r.inScope(record.JournalID) {
		r.log.Debug().Str("segment", record.ID).Msg("discarding out-of-scope segment event")
		return
	}
	if !r.state.UpdateSegment(record.Segment) {
		// Entity unknown locally: treat as insert so a missed insert event
		// cannot wedge the rundown.
		r.state.AddSegment(record.Segment)
	}
}

func (r *Reconciler) onSegmentDelete(ev feed.Event) {
	var record deleteRecord
	if !r.decode(ev, &record) {
		return
	}
	r.state.DeleteSegment(record.ID)
}

func (r *Reconciler) onLock(ev feed.Event) {
	var record lockRecord
	if !r.decode(ev, &record) {
		return
	}
	if record.JournalID != "" && !r.inScope(record.JournalID) {
		return
	}
	r.locks.SetLocked(record.ID, record.Holder)
}

func (r *Reconciler) onUnlock(ev feed.Event) {
	var record lockRecord
	if !r.decode(ev, &record) {
		return
	}
	r.locks.SetUnlocked(record.ID)
}

func (r *Reconciler) decode(ev feed.Event, dst any) bool {
	if err := json.Unmarshal(ev.Record, dst); err != nil {
		r.log.Warn().Err(err).Str("table", ev.Table).Msg("dropping undecodable change event")
		return false
	}
	return true
}

// inScope verifies the payload's journal id against the journals currently
// open in either panel. Events arriving on a shared channel for other
// journals are discarded here even if a filter upstream should already have
// caught them.
func (r *Reconciler) inScope(journalID string) bool {
	if journalID == "" {
		return false
	}
	_, ok := r.state.PanelForJournal(journalID)
	return ok
}
