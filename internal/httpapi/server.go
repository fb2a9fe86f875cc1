// Package httpapi exposes the rundown over HTTP: REST mutations for journals,
// blocks, segments and edit locks, plus the websocket change feed. Every
// committed mutation is published to the hub so connected sessions reconcile.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pautahq/espelho/internal/feed"
	"github.com/pautahq/espelho/internal/persist"
	"github.com/pautahq/espelho/internal/rundown"
)

type Server struct {
	store persist.Store
	hub   *feed.Hub
	ws    http.Handler
	log   zerolog.Logger
	newID func() string

	lockMu sync.Mutex
	locks  map[string]lockState
}

type lockState struct {
	holder    string
	journalID string
}

func NewServer(store persist.Store, hub *feed.Hub, log zerolog.Logger) *Server {
	return &Server{
		store: store,
		hub:   hub,
		ws:    feed.NewWSHandler(hub, log),
		log:   log,
		newID: func() string { return uuid.NewString() },
		locks: make(map[string]lockState),
	}
}

// wireSegment carries the denormalized journal id every segment feed record
// needs for journal-scoped filtering.
type wireSegment struct {
	rundown.Segment
	JournalID string `json:"id_telejornal"`
}

type wireLock struct {
	ID        string `json:"id"`
	Holder    string `json:"sessao"`
	JournalID string `json:"id_telejornal"`
}

type wireID struct {
	ID        string `json:"id"`
	JournalID string `json:"id_telejornal,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/feed" && r.Method == http.MethodGet {
		s.ws.ServeHTTP(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch parts[1] {
	case "journals":
		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			s.handleJournal(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "open" && r.Method == http.MethodPost:
			s.handleJournalGate(w, r, parts[2], true)
		case len(parts) == 4 && parts[3] == "close" && r.Method == http.MethodPost:
			s.handleJournalGate(w, r, parts[2], false)
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found")
		}
	case "blocks":
		switch {
		case len(parts) == 2 && r.Method == http.MethodPost:
			s.handleCreateBlock(w, r)
		case len(parts) == 3 && r.Method == http.MethodPatch:
			s.handleUpdateBlock(w, r, parts[2])
		case len(parts) == 3 && r.Method == http.MethodDelete:
			s.handleDeleteBlock(w, r, parts[2])
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found")
		}
	case "segments":
		switch {
		case len(parts) == 2 && r.Method == http.MethodPost:
			s.handleCreateSegment(w, r)
		case len(parts) == 3 && r.Method == http.MethodPatch:
			s.handleUpdateSegment(w, r, parts[2])
		case len(parts) == 3 && r.Method == http.MethodDelete:
			s.handleDeleteSegment(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "lock" && r.Method == http.MethodPost:
			s.handleLock(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "lock" && r.Method == http.MethodDelete:
			s.handleUnlock(w, r, parts[2])
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found")
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request, journalID string) {
	ctx := r.Context()
	journal, err := s.store.Journal(ctx, journalID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	blocks, err := s.store.ListBlocks(ctx, journalID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	type blockResponse struct {
		rundown.Block
		Items []rundown.Segment `json:"materias"`
	}
	resp := struct {
		rundown.Journal
		Blocks []blockResponse `json:"blocos"`
	}{Journal: journal, Blocks: make([]blockResponse, 0, len(blocks))}
	for _, block := range blocks {
		items, err := s.store.ListSegments(ctx, block.ID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		resp.Blocks = append(resp.Blocks, blockResponse{Block: block, Items: items})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJournalGate(w http.ResponseWriter, r *http.Request, journalID string, open bool) {
	ctx := r.Context()
	if err := s.store.SetJournalOpen(ctx, journalID, open); err != nil {
		s.writeStoreError(w, err)
		return
	}
	journal, err := s.store.Journal(ctx, journalID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publish(feed.TableJournals, feed.ActionUpdate, journal)
	writeJSON(w, http.StatusOK, journal)
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var block rundown.Block
	if !s.decodeJSONBody(w, r, &block) {
		return
	}
	if block.JournalID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "id_telejornal is required")
		return
	}
	if block.ID == "" {
		block.ID = s.newID()
	}
	if err := s.store.CreateBlock(r.Context(), block); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publish(feed.TableBlocks, feed.ActionInsert, block)
	writeJSON(w, http.StatusCreated, block)
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request, blockID string) {
	var body struct {
		Name  *string  `json:"nome"`
		Order *float64 `json:"ordem"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	ctx := r.Context()
	patch := persist.BlockPatch{Name: body.Name, Order: body.Order}
	if err := s.store.UpdateBlock(ctx, blockID, patch); err != nil {
		s.writeStoreError(w, err)
		return
	}
	journalID, err := s.store.JournalForBlock(ctx, blockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	blocks, err := s.store.ListBlocks(ctx, journalID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	for _, block := range blocks {
		if block.ID == blockID {
			s.publish(feed.TableBlocks, feed.ActionUpdate, block)
			writeJSON(w, http.StatusOK, block)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "block not found")
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request, blockID string) {
	ctx := r.Context()
	journalID, err := s.store.JournalForBlock(ctx, blockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	// Collect the cascade before the delete so segment removals can be
	// broadcast individually.
	items, err := s.store.ListSegments(ctx, blockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteBlock(ctx, blockID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	for _, item := range items {
		s.publish(feed.TableSegments, feed.ActionDelete, wireID{ID: item.ID, JournalID: journalID})
	}
	s.publish(feed.TableBlocks, feed.ActionDelete, wireID{ID: blockID, JournalID: journalID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var seg rundown.Segment
	if !s.decodeJSONBody(w, r, &seg) {
		return
	}
	if seg.BlockID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "id_bloco is required")
		return
	}
	if seg.ID == "" {
		seg.ID = s.newID()
	}
	if seg.Status == "" {
		seg.Status = rundown.StatusDraft
	}
	ctx := r.Context()
	journalID, err := s.store.JournalForBlock(ctx, seg.BlockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.CreateSegment(ctx, seg); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publish(feed.TableSegments, feed.ActionInsert, wireSegment{Segment: seg, JournalID: journalID})
	writeJSON(w, http.StatusCreated, seg)
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request, segID string) {
	var body struct {
		BlockID     *string  `json:"id_bloco"`
		Order       *float64 `json:"ordem"`
		Page        *string  `json:"pagina"`
		Slug        *string  `json:"retranca"`
		Script      *string  `json:"texto"`
		DurationSec *int     `json:"duracao"`
		Status      *string  `json:"status"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	ctx := r.Context()
	patch := persist.SegmentPatch{
		BlockID:     body.BlockID,
		Order:       body.Order,
		Page:        body.Page,
		Slug:        body.Slug,
		Script:      body.Script,
		DurationSec: body.DurationSec,
		Status:      body.Status,
	}
	if err := s.store.UpdateSegment(ctx, segID, patch); err != nil {
		s.writeStoreError(w, err)
		return
	}
	seg, journalID, err := s.loadSegment(r, segID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publish(feed.TableSegments, feed.ActionUpdate, wireSegment{Segment: seg, JournalID: journalID})
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request, segID string) {
	ctx := r.Context()
	blockID, err := s.store.BlockForSegment(ctx, segID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	journalID, err := s.store.JournalForBlock(ctx, blockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteSegment(ctx, segID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.releaseLock(segID)
	s.publish(feed.TableSegments, feed.ActionDelete, wireID{ID: segID, JournalID: journalID})
	w.WriteHeader(http.StatusNoContent)
}

// handleLock takes a segment into remote edit. A second session asking for a
// held lock is refused with a conflict; the same session renews freely.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request, segID string) {
	var body struct {
		Holder string `json:"sessao"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if body.Holder == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "sessao is required")
		return
	}
	ctx := r.Context()
	blockID, err := s.store.BlockForSegment(ctx, segID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	journalID, err := s.store.JournalForBlock(ctx, blockID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.lockMu.Lock()
	current, held := s.locks[segID]
	if held && current.holder != body.Holder {
		s.lockMu.Unlock()
		writeError(w, http.StatusConflict, "locked", "segment is locked by another session")
		return
	}
	s.locks[segID] = lockState{holder: body.Holder, journalID: journalID}
	s.lockMu.Unlock()

	record := wireLock{ID: segID, Holder: body.Holder, JournalID: journalID}
	action := feed.ActionInsert
	if held {
		action = feed.ActionUpdate
	}
	s.publish(feed.TableLocks, action, record)
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request, segID string) {
	// The body is optional; without a session the release is unconditional.
	var body struct {
		Holder string `json:"sessao"`
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	s.lockMu.Lock()
	current, held := s.locks[segID]
	if !held {
		s.lockMu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if body.Holder != "" && current.holder != body.Holder {
		s.lockMu.Unlock()
		writeError(w, http.StatusConflict, "locked", "segment is locked by another session")
		return
	}
	delete(s.locks, segID)
	s.lockMu.Unlock()

	s.publish(feed.TableLocks, feed.ActionDelete, wireLock{
		ID: segID, Holder: current.holder, JournalID: current.journalID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) releaseLock(segID string) {
	s.lockMu.Lock()
	current, held := s.locks[segID]
	delete(s.locks, segID)
	s.lockMu.Unlock()
	if held {
		s.publish(feed.TableLocks, feed.ActionDelete, wireLock{
			ID: segID, Holder: current.holder, JournalID: current.journalID,
		})
	}
}

func (s *Server) loadSegment(r *http.Request, segID string) (rundown.Segment, string, error) {
	ctx := r.Context()
	blockID, err := s.store.BlockForSegment(ctx, segID)
	if err != nil {
		return rundown.Segment{}, "", err
	}
	journalID, err := s.store.JournalForBlock(ctx, blockID)
	if err != nil {
		return rundown.Segment{}, "", err
	}
	items, err := s.store.ListSegments(ctx, blockID)
	if err != nil {
		return rundown.Segment{}, "", err
	}
	for _, item := range items {
		if item.ID == segID {
			return item, journalID, nil
		}
	}
	return rundown.Segment{}, "", persist.ErrNotFound
}

func (s *Server) publish(table string, action feed.Action, record any) {
	ev, err := feed.MarshalRecord(table, action, record)
	if err != nil {
		s.log.Error().Err(err).Str("table", table).Msg("change event marshal failed")
		return
	}
	s.hub.Publish(ev)
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persist.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, persist.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.log.Error().Err(err).Msg("persistence failure")
		writeError(w, http.StatusInternalServerError, "internal", "persistence failure")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
