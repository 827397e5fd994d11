package node

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/controller"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 2 * wsPingInterval
)

// WSManager streams controller events to WebSocket clients
type WSManager struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	gauge    func(n int)

	activeConns sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewWSManager creates a new WebSocket manager. gauge, when set, is told the
// client count after every change.
func NewWSManager(logger logrus.FieldLogger, gauge func(n int)) *WSManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WSManager{
		clients: make(map[*wsClient]struct{}),
		logger:  logger.WithField("component", "ws"),
		gauge:   gauge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin may subscribe
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish implements controller.Publisher. Slow clients miss events rather
// than block the controller.
func (wm *WSManager) Publish(e controller.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		wm.logger.WithError(err).Error("Failed to encode event")
		return
	}

	wm.mu.RLock()
	defer wm.mu.RUnlock()
	for c := range wm.clients {
		select {
		case c.send <- data:
		default:
			wm.logger.Warn("Dropping event for slow client")
		}
	}
}

// Clients returns the number of connected clients
func (wm *WSManager) Clients() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (wm *WSManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wm.mu.RLock()
	closed := wm.closed
	wm.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := wm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wm.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if !wm.add(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go wm.writePump(client)
	wm.readPump(client)
}

// add registers c unless the manager is stopped. It reports whether c was added.
func (wm *WSManager) add(c *wsClient) bool {
	wm.mu.Lock()
	if wm.closed {
		wm.mu.Unlock()
		return false
	}
	wm.clients[c] = struct{}{}
	wm.activeConns.Add(1)
	n := len(wm.clients)
	wm.mu.Unlock()
	if wm.gauge != nil {
		wm.gauge(n)
	}
	return true
}

func (wm *WSManager) remove(c *wsClient) {
	wm.mu.Lock()
	_, ok := wm.clients[c]
	delete(wm.clients, c)
	n := len(wm.clients)
	wm.mu.Unlock()
	if ok {
		c.close()
		if wm.gauge != nil {
			wm.gauge(n)
		}
	}
}

// readPump only watches for the client going away
func (wm *WSManager) readPump(c *wsClient) {
	defer func() {
		wm.remove(c)
		wm.activeConns.Done()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (wm *WSManager) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Stop disconnects every client and waits for their handlers to return
func (wm *WSManager) Stop() error {
	wm.mu.Lock()
	wm.closed = true
	clients := make([]*wsClient, 0, len(wm.clients))
	for c := range wm.clients {
		clients = append(clients, c)
	}
	wm.mu.Unlock()

	for _, c := range clients {
		wm.remove(c)
	}
	wm.activeConns.Wait()
	return nil
}
