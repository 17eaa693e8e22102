package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"gpio-go-home/internal/device"
)

const (
	wsBroadcastBuffer = 128
	wsClientBuffer    = 32
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 1024
)

// wsFrame is an encoded event tagged with its type for per-client filtering.
type wsFrame struct {
	kind string
	data []byte
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	kinds map[string]bool // nil: every event
}

func (c *wsClient) wants(kind string) bool {
	return c.kinds == nil || kind == "" || c.kinds[kind]
}

// WSHub fans device events out to WebSocket clients. A client whose queue
// is full is dropped; the device loop never waits on a browser.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan wsFrame

	done     chan struct{}
	stopOnce sync.Once
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan wsFrame, wsBroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns client membership until Stop is called.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c, "disconnected")
		case f := <-h.broadcast:
			h.fanOut(f)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client joined", "clients", n)
}

func (h *WSHub) remove(c *wsClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("ws client left", "reason", reason, "clients", n)
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	clear(h.clients)
}

func (h *WSHub) fanOut(f wsFrame) {
	var slow []*wsClient
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(f.kind) {
			continue
		}
		select {
		case c.send <- f.data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("ws client too slow, dropping")
		h.remove(c, "slow")
	}
}

// Clients reports the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and closes every client queue. Idempotent.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast encodes msg once and queues it for delivery without blocking.
// Device events are delivered only to clients that asked for their type.
func (h *WSHub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws encode", "err", err)
		return
	}
	var kind string
	if ev, ok := msg.(device.Event); ok {
		kind = ev.Type
	}
	select {
	case h.broadcast <- wsFrame{kind: kind, data: data}:
	default:
		h.logger.Warn("ws broadcast queue full, event dropped", "type", kind)
	}
}

// parseKinds reads the optional ?types=a,b filter.
func parseKinds(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	return kinds
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsClientBuffer),
		kinds: parseKinds(r),
	}

	// Every client starts from the current snapshot, whatever its filter.
	hello := device.Event{Type: "snapshot", Time: time.Now(), Data: s.state.Snapshot()}
	if data, err := json.Marshal(hello); err == nil {
		c.send <- data
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for data := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Debug("ws write", "err", err)
			return
		}
	}
}

// readLoop only watches for the peer going away; the feed is one-way.
func (s *Server) readLoop(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			break
		}
	}
	cancel()

	select {
	case s.wsHub.unregister <- c:
	case <-s.wsHub.done:
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}
