// Package feed is the change-notification transport boundary: insert, update
// and delete events per table, scoped by an equality filter on a foreign-key
// column. The in-process Hub serves the daemon and tests; ws.go bridges a
// remote hub over websocket.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("feed closed")

// Table names follow the persisted schema.
const (
	TableJournals = "telejornais"
	TableBlocks   = "blocos"
	TableSegments = "materias"
	TableLocks    = "edicoes"
)

// Action is the kind of change an event carries.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one change notification. Record holds the full row payload after
// the change; for deletes it holds at least the row id.
type Event struct {
	Table  string          `json:"table"`
	Action Action          `json:"action"`
	Record json.RawMessage `json:"record"`
}

// Filter scopes a subscription by exact equality on one record column. The
// zero Filter matches everything.
type Filter struct {
	Column string
	Value  string
}

// Matches reports whether the event's record satisfies the filter.
func (f Filter) Matches(ev Event) bool {
	if f.Column == "" {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal(ev.Record, &record); err != nil {
		return false
	}
	value, ok := record[f.Column]
	if !ok {
		return false
	}
	return fmt.Sprint(value) == f.Value
}

// Handlers receives the events of one subscription. Nil members are skipped.
type Handlers struct {
	OnInsert func(Event)
	OnUpdate func(Event)
	OnDelete func(Event)
}

func (h Handlers) dispatch(ev Event) {
	switch ev.Action {
	case ActionInsert:
		if h.OnInsert != nil {
			h.OnInsert(ev)
		}
	case ActionUpdate:
		if h.OnUpdate != nil {
			h.OnUpdate(ev)
		}
	case ActionDelete:
		if h.OnDelete != nil {
			h.OnDelete(ev)
		}
	}
}

// Unsubscribe tears one subscription down. Calling it twice is harmless.
type Unsubscribe func()

// Source is the subscribe contract the reconciliation layer consumes.
type Source interface {
	Subscribe(table string, filter Filter, handlers Handlers) (Unsubscribe, error)
}

type subscription struct {
	id       uint64
	table    string
	filter   Filter
	handlers Handlers
}

// Hub is a synchronous in-process change broker. Publish dispatches inline to
// every matching subscription; subscribers must not block.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

// Subscribe registers handlers for one table under a filter.
func (h *Hub) Subscribe(table string, filter Filter, handlers Handlers) (Unsubscribe, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{id: id, table: table, filter: filter, handlers: handlers}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}, nil
}

// Publish delivers the event to every matching subscription.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	matching := make([]Handlers, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.table == ev.Table && sub.filter.Matches(ev) {
			matching = append(matching, sub.handlers)
		}
	}
	h.mu.Unlock()
	for _, handlers := range matching {
		handlers.dispatch(ev)
	}
}

// Close drops all subscriptions and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[uint64]*subscription)
}

// MarshalRecord builds an event around any record value.
func MarshalRecord(table string, action Action, record any) (Event, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Event{}, err
	}
	return Event{Table: table, Action: action, Record: payload}, nil
}
