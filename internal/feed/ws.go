package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsBufferedEvents = 256
	wsBaseRetryDelay = 250 * time.Millisecond
	wsMaxRetryDelay  = 10 * time.Second
)

// WSClient mirrors a remote hub into a local one. Every valid frame read off
// the socket is published locally, so sessions subscribe to the local hub
// exactly as they would in process.
type WSClient struct {
	url  string
	hub  *Hub
	log  zerolog.Logger
	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

func NewWSClient(url string, hub *Hub, log zerolog.Logger) *WSClient {
	return &WSClient{
		url: url,
		hub: hub,
		log: log,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, url, nil)
			return conn, err
		},
	}
}

// Run reads frames until the context is canceled, reconnecting with backoff
// after transport failures. Invalid frames are dropped and logged; the feed
// itself keeps going.
func (c *WSClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.dial(ctx, c.url)
		if err != nil {
			attempt++
			c.log.Warn().Err(err).Str("url", c.url).Msg("feed dial failed")
			if err := sleepContext(ctx, retryDelay(attempt)); err != nil {
				return err
			}
			continue
		}
		attempt = 0
		err = c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("feed connection lost; reconnecting")
	}
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := ValidateFrame(frame); err != nil {
			c.log.Warn().Err(err).Msg("dropping invalid feed frame")
			continue
		}
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable feed frame")
			continue
		}
		c.hub.Publish(ev)
	}
}

// WSHandler streams hub events to websocket clients. The journal query
// parameter scopes the stream to one journal's blocks, segments and locks;
// without it the client receives every event.
type WSHandler struct {
	hub *Hub
	log zerolog.Logger
}

func NewWSHandler(hub *Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ctx := r.Context()
	events := make(chan Event, wsBufferedEvents)
	forward := func(ev Event) {
		select {
		case events <- ev:
		default:
			h.log.Warn().Str("table", ev.Table).Msg("slow feed consumer; dropping event")
		}
	}
	handlers := Handlers{OnInsert: forward, OnUpdate: forward, OnDelete: forward}

	journalID := r.URL.Query().Get("journal")
	unsubs := make([]Unsubscribe, 0, 4)
	for _, table := range []string{TableJournals, TableBlocks, TableSegments, TableLocks} {
		filter := Filter{}
		if journalID != "" {
			filter = journalFilter(table, journalID)
		}
		unsub, err := h.hub.Subscribe(table, filter, handlers)
		if err != nil {
			h.log.Error().Err(err).Msg("feed subscription failed")
			return
		}
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// journalFilter picks the column that carries the journal id for each table.
func journalFilter(table, journalID string) Filter {
	switch table {
	case TableJournals:
		return Filter{Column: "id", Value: journalID}
	default:
		return Filter{Column: "id_telejornal", Value: journalID}
	}
}

func retryDelay(attempt int) time.Duration {
	delay := wsBaseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= wsMaxRetryDelay {
			return wsMaxRetryDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
