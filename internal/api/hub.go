// ABOUTME: WebSocket hub pushing the snapshot and delta stream to clients
// ABOUTME: Slow consumers are dropped rather than allowed to block the core
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/zone"
)

const (
	clientBuffer  = 32
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// wsClient is one event feed subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan protocol.Event
}

// Hub fans the core's delta stream out to websocket clients. Every
// client receives hello with the full snapshot first, then
// generation-tagged deltas; a generation gap means frames were dropped
// and the client should reconnect for a fresh snapshot.
type Hub struct {
	core     *zone.Core
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
	stopped bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates the event feed hub.
func NewHub(core *zone.Core) *Hub {
	return &Hub{
		core: core,
		upgrader: websocket.Upgrader{
			// The daemon serves trusted local networks; browser dashboards
			// connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
		stop:    make(chan struct{}),
	}
}

// Start begins pumping deltas to connected clients.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop disconnects every client and ends the pump.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.Lock()
		h.stopped = true
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	})
	h.wg.Wait()
}

func (h *Hub) run() {
	defer h.wg.Done()

	deltas, cancel := h.core.Watch(64)
	defer cancel()

	for {
		select {
		case <-h.stop:
			return
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			h.broadcast(protocol.Event{Type: protocol.EventDelta, Delta: &delta})
		}
	}
}

// broadcast queues an event for every client. A full send buffer means
// the client cannot keep up; it gets disconnected and can come back for
// a fresh snapshot.
func (h *Hub) broadcast(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
			logger.Warnf("dropping slow event feed client %s", c.conn.RemoteAddr())
		}
	}
}

// drop removes one client. Safe to call from any path; only the call
// that actually removes the client closes its channel.
func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades an event feed connection and starts its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stop:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("websocket upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan protocol.Event, clientBuffer)}

	// Queue hello before the client joins the broadcast set so it is
	// guaranteed to be the first frame.
	snap := h.core.Snapshot()
	client.send <- protocol.Event{Type: protocol.EventHello, Snapshot: &snap}

	// Registration and the pump WaitGroup share the lock with Stop's
	// sweep, so a client either joins before the sweep and gets closed
	// by it, or is rejected here.
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = true
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *Hub) writeLoop(c *wsClient) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeDeadline))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.drop(c)
				// Drain until drop's close lands so broadcast never blocks.
				for range c.send {
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				h.drop(c)
				for range c.send {
				}
				return
			}
		}
	}
}

// readLoop consumes client frames. The feed is one-way; reading only
// services control frames and notices disconnects.
func (h *Hub) readLoop(c *wsClient) {
	defer h.wg.Done()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}
