// Package websocket implements the live-reload hub: browsers connect over
// a websocket and receive one message per completed watch run.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/notify"
)

// ErrShutdown is returned by Notify after Shutdown.
var ErrShutdown = errors.New("websocket hub is shut down")

// ErrBusy is returned when the broadcast queue is full.
var ErrBusy = errors.New("websocket broadcast queue full")

// Hub manages browser connections and broadcasting.
//
// A single goroutine owns registration, removal and fan-out; HTTP handlers
// and notifiers talk to it over channels.
//
// Invariants:
//   - clients map access always protected by clientsMutex
//   - a client's send channel is closed only by the hub goroutine
//   - isShutdown transitions from false to true exactly once
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	allowedOrigins []string
	logger         logging.Logger
	recorder       metrics.Recorder

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins accepts connections from these origin hosts in
// addition to loopback addresses and the server's own host.
func WithAllowedOrigins(hosts ...string) HubOption {
	return func(h *Hub) { h.allowedOrigins = append(h.allowedOrigins, hosts...) }
}

// WithHubLogger sets the hub's logger.
func WithHubLogger(l logging.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHubRecorder counts delivered notifications.
func WithHubRecorder(r metrics.Recorder) HubOption {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

// NewHub creates a hub and starts its goroutine.
func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client, 32),
		unregister: make(chan *websocket.Conn, 32),
		logger:     logging.NopLogger{},
		recorder:   metrics.NoopRecorder{},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("websocket")

	go h.runHub()

	return h
}

// HandleWebSocket upgrades the request and registers the client.
//
// Responses:
//   - 403 Forbidden: origin not allowed
//   - 503 Service Unavailable: hub shut down
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if !h.validateOrigin(r) {
		h.logger.Warn(r.Context(), nil, "WebSocket connection rejected: origin not allowed",
			"origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Origins were validated above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:        conn,
		send:        make(chan []byte, 64),
		remote:      r.RemoteAddr,
		connectedAt: time.Now(),
	}
	client.touch()

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	go h.handleClient(client)
}

// validateOrigin allows requests without an Origin header, from loopback
// hosts, from the server's own host and from configured hosts.
func (h *Hub) validateOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(allowed, host) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// runHub manages client connections and broadcasting
func (h *Hub) runHub() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case conn := <-h.unregister:
			h.unregisterClient(conn, websocket.StatusNormalClosure, "")

		case message := <-h.broadcast:
			h.broadcastToClients(message)

		case <-h.ctx.Done():
			h.clientsMutex.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMutex.RUnlock()
			for _, conn := range conns {
				h.unregisterClient(conn, websocket.StatusGoingAway, "Server shutdown")
			}
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	h.clients[client.conn] = client
	total := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(h.ctx, "WebSocket client connected", "remote", client.remote, "clients", total)
}

func (h *Hub) unregisterClient(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(client.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(code, reason)
		h.logger.Debug(context.Background(), "WebSocket client disconnected", "remote", client.remote, "clients", total)
	}
}

// broadcastToClients sends a message to all connected clients. Clients
// whose buffer is full are dropped.
func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	var slow []*websocket.Conn
	for conn, client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, conn)
		}
	}
	h.clientsMutex.RUnlock()

	for _, conn := range slow {
		h.unregisterClient(conn, websocket.StatusPolicyViolation, "Too slow")
	}
}

// handleClient manages the lifecycle of a WebSocket client
func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.ctx.Done():
		}
	}()

	go h.writeToClient(client)

	h.readFromClient(client)
}

// readFromClient discards client messages; reading keeps pings and close
// frames flowing.
func (h *Hub) readFromClient(client *Client) {
	for {
		_, _, err := client.conn.Read(h.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && websocket.CloseStatus(err) != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "WebSocket read ended", "remote", client.remote, "error", err.Error())
			}
			return
		}
		client.touch()
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// Notify implements notify.Notifier by broadcasting the change to every
// connected browser.
func (h *Hub) Notify(ctx context.Context, change notify.Change) error {
	if h.isShutdown.Load() {
		return ErrShutdown
	}

	data, err := json.Marshal(messageFor(change))
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
		h.recorder.IncReload(string(change.Kind))
		return nil
	case <-h.ctx.Done():
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBusy
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Clients describes connected clients, oldest first.
func (h *Hub) Clients() []ClientInfo {
	h.clientsMutex.RLock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, ClientInfo{
			Remote:       c.remote,
			ConnectedAt:  c.connectedAt,
			LastActivity: time.Unix(0, c.lastActivity.Load()),
		})
	}
	h.clientsMutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Shutdown closes every connection and stops the hub goroutine.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()
	})

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown has been called.
func (h *Hub) IsShutdown() bool {
	return h.isShutdown.Load()
}

var _ notify.Notifier = (*Hub)(nil)
