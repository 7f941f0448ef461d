// Package ws implements the WebSocket adapter that pushes sync events to
// dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second
	// events buffered per client before new ones are dropped for it
	sendBuffer = 32
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one dashboard connection. An empty repo receives every event.
type client struct {
	ws     *websocket.Conn
	repo   string
	send   chan []byte
	cancel context.CancelFunc
}

func (c *client) wants(repo string) bool {
	return c.repo == "" || repo == "" || strings.EqualFold(c.repo, repo)
}

// Hub fans events out to connected clients. Each client has its own writer
// goroutine, so one slow client never delays the others or the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// HandleWS upgrades the request to a WebSocket connection. The optional
// "repository" query parameter limits the feed to one owner/repo. Clients
// only receive; a client that sends data is disconnected.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // read-only feed, no cookies involved
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	// The connection outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		ws:     ws,
		repo:   r.URL.Query().Get("repository"),
		send:   make(chan []byte, sendBuffer),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("websocket connected", "remote", r.RemoteAddr, "repository", c.repo)

	go h.write(ws.CloseRead(ctx), c)
}

func (h *Hub) write(ctx context.Context, c *client) {
	defer h.remove(c, websocket.StatusNormalClosure, "")
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues msg for every client following repo. An empty repo
// reaches every client. Clients whose buffer is full miss the message.
func (h *Hub) Broadcast(ctx context.Context, repo string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.ErrorContext(ctx, "websocket marshal failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(repo) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.WarnContext(ctx, "websocket client too slow, event dropped", "type", msg.Type, "repository", c.repo)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c, websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	// Close before cancelling: a cancelled read context would close the
	// connection with a policy violation instead.
	_ = c.ws.Close(code, reason)
	c.cancel()
	h.log.Info("websocket disconnected", "repository", c.repo)
}
