package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

// MaxHistoryLimit caps the limit query parameter of the history endpoint
const MaxHistoryLimit = 1000

// ChannelLister returns the live channel list; implemented by the hub
type ChannelLister interface {
	Channels(ctx context.Context) ([]types.ChannelSummary, error)
}

// StatsProvider reports connection statistics; implemented by the websocket registry
type StatsProvider interface {
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	channels     ChannelLister
	store        interfaces.Store
	stats        StatsProvider
	historyLimit int
	router       *mux.Router
	started      time.Time
	log          *slog.Logger
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(channels ChannelLister, store interfaces.Store, stats StatsProvider, historyLimit int, log *slog.Logger) *Server {
	if historyLimit <= 0 || historyLimit > MaxHistoryLimit {
		historyLimit = MaxHistoryLimit
	}
	s := &Server{
		channels:     channels,
		store:        store,
		stats:        stats,
		historyLimit: historyLimit,
		router:       mux.NewRouter(),
		started:      time.Now(),
		log:          log,
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS applies to every route; JSON content type only to the API and health routes
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware)
	api.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/channels/{id}/history", s.channelHistory).Methods(http.MethodGet, http.MethodOptions)

	s.router.MethodNotAllowedHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
	s.router.NotFoundHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	}))
}

// Router exposes the route table so the websocket endpoint can share it
func (s *Server) Router() *mux.Router {
	return s.router
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types for JSON serialization
type ListChannelsResponse struct {
	Channels []types.ChannelSummary `json:"channels"`
}

type HistoryResponse struct {
	ChannelID string          `json:"channelId"`
	Messages  []types.Message `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/channels - live channel list in admin order
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	channels, err := s.channels.Channels(ctx)
	if err != nil {
		s.log.Warn("channel list unavailable", "error", err)
		s.sendError(w, "Channel list unavailable", http.StatusServiceUnavailable)
		return
	}
	if channels == nil {
		channels = []types.ChannelSummary{}
	}

	s.writeJSON(w, http.StatusOK, ListChannelsResponse{Channels: channels})
}

// FUNCTIONAL DISCOVERY: GET /api/channels/{id}/history - read from the store, so
// history stays retrievable after the channel is deleted from the live registry
func (s *Server) channelHistory(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["id"]
	if channelID == "" {
		s.sendError(w, "Channel ID required", http.StatusBadRequest)
		return
	}

	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	records, err := s.store.FetchHistory(r.Context(), channelID, limit)
	if err != nil {
		if errors.Is(err, interfaces.ErrStoreClosed) {
			s.sendError(w, "Store unavailable", http.StatusServiceUnavailable)
			return
		}
		s.log.Error("history fetch failed", "channel", channelID, "error", err)
		s.sendError(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}

	messages := lo.Map(records, func(rec interfaces.MessageRecord, _ int) types.Message {
		return rec.ToMessage()
	})
	s.writeJSON(w, http.StatusOK, HistoryResponse{ChannelID: channelID, Messages: messages})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storeStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Store:       storeStatus,
		Connections: s.stats.GetStats(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("response write failed", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
