package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/espelho/internal/feed"
	"github.com/pautahq/espelho/internal/persist"
	"github.com/pautahq/espelho/internal/rundown"
)

type apiFixture struct {
	server *Server
	store  *persist.Memory
	hub    *feed.Hub
	events []feed.Event
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store := persist.NewMemory()
	store.SeedJournal(rundown.Journal{ID: "j1", Name: "JN1", Open: true})
	require.NoError(t, store.CreateBlock(ctx, rundown.Block{ID: "b1", JournalID: "j1", Name: "Bloco 1", Order: 0}))
	require.NoError(t, store.CreateSegment(ctx, rundown.Segment{
		ID: "a", BlockID: "b1", Order: 0, Page: "1", Slug: "abertura", Status: rundown.StatusDraft,
	}))

	hub := feed.NewHub()
	f := &apiFixture{server: NewServer(store, hub, zerolog.Nop()), store: store, hub: hub}
	for _, table := range []string{feed.TableJournals, feed.TableBlocks, feed.TableSegments, feed.TableLocks} {
		record := func(ev feed.Event) { f.events = append(f.events, ev) }
		_, err := hub.Subscribe(table, feed.Filter{}, feed.Handlers{
			OnInsert: record, OnUpdate: record, OnDelete: record,
		})
		require.NoError(t, err)
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) lastEvent(t *testing.T) feed.Event {
	t.Helper()
	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetJournalWithRundown(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/journals/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID     string `json:"id"`
		Open   bool   `json:"espelho_aberto"`
		Blocks []struct {
			ID    string `json:"id"`
			Items []struct {
				ID string `json:"id"`
			} `json:"materias"`
		} `json:"blocos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "j1", resp.ID)
	assert.True(t, resp.Open)
	require.Len(t, resp.Blocks, 1)
	require.Len(t, resp.Blocks[0].Items, 1)
	assert.Equal(t, "a", resp.Blocks[0].Items[0].ID)
}

func TestGetJournalNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/journals/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJournalGateBroadcasts(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/journals/j1/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	journal, err := f.store.Journal(context.Background(), "j1")
	require.NoError(t, err)
	assert.False(t, journal.Open)

	ev := f.lastEvent(t)
	assert.Equal(t, feed.TableJournals, ev.Table)
	assert.Equal(t, feed.ActionUpdate, ev.Action)
	assert.Contains(t, string(ev.Record), `"espelho_aberto":false`)
}

func TestCreateSegmentDenormalizesJournal(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/segments", map[string]any{
		"id_bloco": "b1", "ordem": 1, "pagina": "2", "retranca": "vt-novo",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ev := f.lastEvent(t)
	assert.Equal(t, feed.TableSegments, ev.Table)
	assert.Equal(t, feed.ActionInsert, ev.Action)
	// The feed record carries the owning journal for scoped filtering.
	assert.Contains(t, string(ev.Record), `"id_telejornal":"j1"`)
}

func TestCreateSegmentUnknownBlock(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/segments", map[string]any{
		"id_bloco": "ghost", "retranca": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSegmentPatch(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPatch, "/v1/segments/a", map[string]any{
		"ordem": 0.5, "retranca": "editada",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	seg, ok := f.store.Segment("a")
	require.True(t, ok)
	assert.Equal(t, 0.5, seg.Order)
	assert.Equal(t, "editada", seg.Slug)
	// Unpatched members survive.
	assert.Equal(t, "1", seg.Page)

	ev := f.lastEvent(t)
	assert.Equal(t, feed.ActionUpdate, ev.Action)
	assert.Contains(t, string(ev.Record), `"id_telejornal":"j1"`)
}

func TestDeleteSegmentBroadcasts(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/v1/segments/a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := f.store.Segment("a")
	assert.False(t, ok)

	ev := f.lastEvent(t)
	assert.Equal(t, feed.TableSegments, ev.Table)
	assert.Equal(t, feed.ActionDelete, ev.Action)
}

func TestDeleteBlockCascadeBroadcasts(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/v1/blocks/b1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// One delete per cascaded segment, then the block delete.
	require.GreaterOrEqual(t, len(f.events), 2)
	segEv := f.events[len(f.events)-2]
	blockEv := f.events[len(f.events)-1]
	assert.Equal(t, feed.TableSegments, segEv.Table)
	assert.Equal(t, feed.ActionDelete, segEv.Action)
	assert.Equal(t, feed.TableBlocks, blockEv.Table)
	assert.Equal(t, feed.ActionDelete, blockEv.Action)
}

func TestCreateBlockGeneratesID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/blocks", map[string]any{
		"id_telejornal": "j1", "nome": "Bloco 2", "ordem": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var block rundown.Block
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &block))
	assert.NotEmpty(t, block.ID)
	assert.Equal(t, "Bloco 2", block.Name)
}

func TestLockConflict(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/segments/a/lock", map[string]string{"sessao": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	ev := f.lastEvent(t)
	assert.Equal(t, feed.TableLocks, ev.Table)
	assert.Equal(t, feed.ActionInsert, ev.Action)

	// Another session is refused; the holder renews freely.
	rec = f.do(t, http.MethodPost, "/v1/segments/a/lock", map[string]string{"sessao": "s2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/segments/a/lock", map[string]string{"sessao": "s1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong-session unlock is refused; the holder's goes through.
	rec = f.do(t, http.MethodDelete, "/v1/segments/a/lock", map[string]string{"sessao": "s2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodDelete, "/v1/segments/a/lock", map[string]string{"sessao": "s1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	ev = f.lastEvent(t)
	assert.Equal(t, feed.ActionDelete, ev.Action)
}

func TestDeleteSegmentReleasesLock(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/segments/a/lock", map[string]string{"sessao": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/segments/a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Lock release precedes the segment delete broadcast.
	require.GreaterOrEqual(t, len(f.events), 2)
	assert.Equal(t, feed.TableLocks, f.events[len(f.events)-2].Table)
	assert.Equal(t, feed.ActionDelete, f.events[len(f.events)-2].Action)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/desconhecido", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/segments", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
