package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"nightdesk/pkg/types"
)

// Dispatcher is the hub side of a websocket connection
type Dispatcher interface {
	Connect(connID string) error
	Disconnect(connID string) error
	Dispatch(connID string, env types.Envelope) error
}

// HandlerConfig holds the socket-level settings of the handler
type HandlerConfig struct {
	ReadLimit        int64         // max inbound frame size in bytes
	PongWait         time.Duration // read deadline extended by every pong
	HandshakeTimeout time.Duration
	AllowedOrigins   []string // empty allows every origin
	Connection       ConnectionOptions
}

// DefaultHandlerConfig returns the handler settings used when none are configured
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadLimit:        32 * 1024,
		PongWait:         60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Connection:       DefaultConnectionOptions(),
	}
}

// Handler upgrades HTTP requests and pumps frames into the hub
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// the handler never interprets an event beyond decoding its envelope
type Handler struct {
	registry *Registry
	hub      Dispatcher
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a websocket handler
func NewHandler(registry *Registry, hub Dispatcher, cfg HandlerConfig, log *slog.Logger) *Handler {
	h := &Handler{
		registry: registry,
		hub:      hub,
		cfg:      cfg,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return h
}

// FUNCTIONAL DISCOVERY: Without a configured allow-list every origin is accepted,
// which keeps local development working out of the box
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// HandleWebSocket upgrades the request and serves the connection until it closes
// ARCHITECTURAL DISCOVERY: Connections start unbound; the role is declared by
// the first guest.declare or admin.declare frame, never by the URL
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, h.cfg.Connection)
	if err := h.registry.Register(conn); err != nil {
		h.log.Error("connection registration failed", "conn", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}
	if err := h.hub.Connect(conn.ID()); err != nil {
		h.log.Error("hub rejected connection", "conn", conn.ID(), "error", err)
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	h.log.Info("connection opened", "conn", conn.ID(), "remote", r.RemoteAddr)
	go h.readPump(conn)
}

// readPump decodes inbound frames until the socket fails
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures resources are released
		// even if connection handling exits unexpectedly
		if err := h.hub.Disconnect(conn.ID()); err != nil {
			h.log.Warn("disconnect not delivered to hub", "conn", conn.ID(), "error", err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.log.Info("connection closed", "conn", conn.ID())
	}()

	ws := conn.conn
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	// TECHNICAL DISCOVERY: Read deadline extended on every pong; the writer pings
	// at a shorter period so an idle but healthy client never times out
	if h.cfg.PongWait > 0 {
		if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
			return
		}
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read ended", "conn", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.log.Debug("malformed frame dropped", "conn", conn.ID())
			continue
		}
		if !types.IsInboundEvent(env.Type) {
			h.log.Debug("unknown event dropped", "conn", conn.ID(), "type", env.Type)
			continue
		}

		if err := h.hub.Dispatch(conn.ID(), env); err != nil {
			h.log.Warn("frame not dispatched", "conn", conn.ID(), "type", env.Type, "error", err)
		}
	}
}
