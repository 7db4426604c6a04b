package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

// envelope is the frame pushed to websocket clients.
type envelope struct {
	Type string             `json:"type"`
	Seq  int64              `json:"seq"`
	TS   string             `json:"ts"`
	Data model.SignalRecord `json:"data"`
}

// Hub fans accepted signals out to connected websocket clients and keeps a
// replay buffer for reconnects.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer

	// OnCount, if set, is called with the client count after each change.
	OnCount func(n int)
}

// NewHub creates a hub that remembers the last replaySize signals.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
	}
}

// Run broadcasts every record received on src until ctx is cancelled or src
// is closed.
func (h *Hub) Run(ctx context.Context, src <-chan model.SignalRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-src:
			if !ok {
				return
			}
			h.Broadcast(rec)
		}
	}
}

// Broadcast sequences rec, stores it for replay and queues it on every
// client. Slow clients drop frames rather than block the hub.
func (h *Hub) Broadcast(rec model.SignalRecord) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	data, err := json.Marshal(envelope{
		Type: "signal",
		Seq:  seq,
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Data: rec,
	})
	if err != nil {
		log.Error().Str("component", "hub").Err(err).Msg("marshal signal envelope")
		return
	}
	h.replay.Push(seq, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Serve registers conn as a client and replays buffered signals newer than
// lastSeq.
func (h *Hub) Serve(conn *websocket.Conn, lastSeq int64) {
	c := &Client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(n)
	log.Info().Str("component", "hub").Int("clients", n).Msg("ws client connected")

	for _, frame := range h.replay.After(lastSeq) {
		select {
		case c.send <- frame:
		default:
		}
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(n)
	log.Info().Str("component", "hub").Int("clients", n).Msg("ws client disconnected")
}

func (h *Hub) notifyCount(n int) {
	if h.OnCount != nil {
		h.OnCount(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last sequence number handed out.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}
