package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second

	// Per-client event backlog. Broadcast never blocks the bus: a client
	// that falls this far behind starts losing events instead.
	wsSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon serves one household on a LAN; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient pairs a connection with its bounded outbound backlog. All
// writes go through the writer goroutine draining send.
type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
	done chan struct{}
}

// Hub pushes scene and recording events to websocket subscribers. Each
// client gets its own buffered backlog and writer goroutine, so a stalled
// socket never blocks the publisher.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool

	unsubscribe func()
}

func NewHub(bus *events.Bus, log *zap.Logger) *Hub {
	h := &Hub{
		log:     log.Named("ws"),
		clients: make(map[*wsClient]bool),
	}
	if bus != nil {
		h.unsubscribe = bus.Subscribe(h.Broadcast)
	}
	return h
}

func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client connected", zap.Int("total", n))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.done)
		c.conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Info("client disconnected", zap.Int("total", n))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast hands the event to every subscriber's backlog. A full backlog
// means a consumer too slow to matter; the event is shed, not waited on.
func (h *Hub) Broadcast(e events.Event) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- e:
		default:
			h.log.Debug("client backlog full, dropping event",
				zap.String("type", string(e.Type)))
		}
	}
}

// ServeHTTP upgrades the connection and parks it on the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		conn: conn,
		send: make(chan events.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
}

// writePump is the only writer on the connection: it drains the backlog
// and keeps the ping schedule. A failed write drops the client.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(e); err != nil {
				h.log.Debug("dropping slow client", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump keeps the connection alive and notices disconnects. Clients
// never send anything meaningful, the read loop exists for pong handling.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
