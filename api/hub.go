package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/Suhridx/pump-dashboard/pkg/timestamp"
	"github.com/Suhridx/pump-dashboard/view"
)

// Envelope types pushed to subscribers.
const (
	EnvelopeView = "view"
)

// MessageEnvelope wraps every websocket message with type discrimination.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const (
	hubWriteTimeout = 10 * time.Second
	hubPingInterval = 30 * time.Second
)

// Hub pushes every published view to websocket subscribers. Each client
// holds its own view.Subscription, so a slow client only skips intermediate
// views and never delays the others.
type Hub struct {
	pub      *view.Publisher
	upgrader websocket.Upgrader
	sem      *semaphore.Weighted
	logger   *slog.Logger
	metrics  *apiMetrics

	writeTimeout time.Duration
	pingInterval time.Duration

	mu       sync.Mutex
	clients  map[string]*hubClient
	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

type hubClient struct {
	id          string
	conn        *websocket.Conn
	sub         *view.Subscription
	connectedAt time.Time
	closeOnce   sync.Once
}

func newHub(pub *view.Publisher, maxClients int, origins []string, logger *slog.Logger, metrics *apiMetrics) *Hub {
	h := &Hub{
		pub:          pub,
		sem:          semaphore.NewWeighted(int64(maxClients)),
		logger:       logger,
		metrics:      metrics,
		writeTimeout: hubWriteTimeout,
		pingInterval: hubPingInterval,
		clients:      make(map[string]*hubClient),
		shutdown:     make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

// originChecker allows same-host requests, requests without an Origin header
// and the listed origins. "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// ServeHTTP upgrades the request and starts pushing views.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if !h.sem.TryAcquire(1) {
		h.metrics.clientRejected()
		writeError(w, http.StatusServiceUnavailable, "too many subscribers")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		h.sem.Release(1)
		h.metrics.wsError("connection_upgrade")
		return
	}

	c := &hubClient{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		_ = conn.Close()
		h.sem.Release(1)
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	c.sub = h.pub.Subscribe()
	h.metrics.clientConnected(n)
	h.logger.Debug("View subscriber connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.serve(c)
}

// serve writes views until the client goes away or the hub closes.
func (h *Hub) serve(c *hubClient) {
	defer h.wg.Done()

	readerDone := make(chan struct{})
	go h.readLoop(c, readerDone)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	reason := "normal"
	defer func() { h.remove(c, reason) }()

	for {
		select {
		case v, ok := <-c.sub.C():
			if !ok {
				reason = "publisher_closed"
				return
			}
			if err := h.push(c, v); err != nil {
				h.metrics.wsError("write")
				reason = "write_error"
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				reason = "ping_failed"
				return
			}
		case <-readerDone:
			return
		case <-h.shutdown:
			reason = "shutdown"
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
			return
		}
	}
}

// readLoop discards client messages and keeps the read deadline fresh. It
// ends when the client closes the connection.
func (h *Hub) readLoop(c *hubClient, done chan<- struct{}) {
	defer close(done)
	readTimeout := 2 * h.pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Hub) push(c *hubClient, v *view.View) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(MessageEnvelope{
		Type:      EnvelopeView,
		ID:        uuid.NewString(),
		Timestamp: timestamp.ToUnixMs(time.Now()),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.metrics.sent(len(data))
	return nil
}

func (h *Hub) remove(c *hubClient, reason string) {
	c.closeOnce.Do(func() {
		c.sub.Close()
		_ = c.conn.Close()

		h.mu.Lock()
		delete(h.clients, c.id)
		n := len(h.clients)
		h.mu.Unlock()

		h.sem.Release(1)
		if reason == "normal" && time.Since(c.connectedAt) < 5*time.Second {
			reason = "early_disconnect"
		}
		h.metrics.clientDisconnected(reason, n)
		h.logger.Debug("View subscriber disconnected", "client_id", c.id, "reason", reason)
	})
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and waits for them to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed.Swap(true) {
		h.mu.Unlock()
		return
	}
	close(h.shutdown)
	h.mu.Unlock()
	h.wg.Wait()
}
