package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nightdesk/internal/api"
	"nightdesk/internal/config"
	"nightdesk/internal/hub"
	"nightdesk/internal/registry"
	"nightdesk/internal/router"
	"nightdesk/internal/store"
	"nightdesk/internal/websocket"
	dbconfig "nightdesk/pkg/database"
	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        *slog.Logger
	store      interfaces.Store
	persister  *router.Persister
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Persister → Registries → Router (+ restore) → Hub → API/WebSocket → HTTP
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the persistence backend (foundation layer)
	st, err := store.Open(storeConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// STEP 2: Best-effort writer between router and store
	persister := router.NewPersister(st, cfg.Store.QueueSize, cfg.Store.WriteTimeout, log)

	// STEP 3: Channel registry and the websocket transport
	channels := registry.New()
	transport := websocket.NewRegistry(log)

	// STEP 4: Router, restored from the journal before any client can connect
	rt := router.NewRouter(channels, transport, persister, routerOptions(cfg), log)
	if journal, ok := st.(interfaces.ChannelJournal); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		restored, err := rt.Restore(ctx, journal, st)
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to restore channels: %w", err)
		}
		log.Info("channels restored", "count", restored)
	}

	// STEP 5: Hub owns the router from here on
	messageHub := hub.NewHub(rt, cfg.Chat.HubQueueSize, log)

	// STEP 6: HTTP API and websocket endpoint share one route table
	apiServer := api.NewServer(messageHub, st, transport, cfg.Chat.HistoryLimit, log)
	wsHandler := websocket.NewHandler(transport, messageHub, handlerConfig(cfg), log)
	apiServer.Router().HandleFunc("/ws", wsHandler.HandleWebSocket).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      st,
		persister:  persister,
		registry:   transport,
		router:     rt,
		hub:        messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

func storeConfig(cfg *config.Config) store.Config {
	sqlCfg := dbconfig.DefaultConfig()
	sqlCfg.DatabasePath = cfg.Database.Path
	sqlCfg.BusyTimeout = cfg.Database.Timeout
	sqlCfg.MaxConnections = cfg.Database.MaxConnections
	sqlCfg.WriteRetryDelay = cfg.Database.WriteRetryDelay

	return store.Config{
		Backend:        cfg.Store.Backend,
		SQLite:         sqlCfg,
		BadgerPath:     cfg.Store.BadgerPath,
		BadgerInMemory: cfg.Store.BadgerInMemory,
	}
}

func routerOptions(cfg *config.Config) router.Options {
	return router.Options{
		Limits: types.Limits{
			TextMax:       cfg.Chat.TextMax,
			BranchMax:     cfg.Chat.BranchMax,
			GuestNameMax:  cfg.Chat.GuestNameMax,
			SenderNameMax: cfg.Chat.SenderNameMax,
		},
		ManagerName:  cfg.Chat.ManagerName,
		HistoryLimit: cfg.Chat.HistoryLimit,
		RateLimit:    cfg.Chat.RateLimit,
		RateWindow:   cfg.Chat.RateWindow,
	}
}

func handlerConfig(cfg *config.Config) websocket.HandlerConfig {
	return websocket.HandlerConfig{
		ReadLimit:        cfg.WebSocket.MaxFrameBytes,
		PongWait:         cfg.WebSocket.ReadTimeout,
		HandshakeTimeout: 10 * time.Second,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		Connection: websocket.ConnectionOptions{
			SendBuffer:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingPeriod:   cfg.WebSocket.PingInterval,
		},
	}
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Persister and hub start first, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.persister.Start()

	if err := app.hub.Start(ctx); err != nil {
		app.persister.Stop()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// TECHNICAL DISCOVERY: Binding before returning surfaces "address in use"
	// synchronously and makes port 0 usable in tests
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		app.persister.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server error", "error", err)
		}
	}()

	app.log.Info("nightdesk started", "addr", listener.Addr().String(), "store", app.config.Store.Backend)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Persister → Store
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down nightdesk")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Drop live sockets so their disconnects reach the hub while it runs
	if closed := app.registry.CloseAll(); closed > 0 {
		app.log.Info("closed live connections", "count", closed)
		app.waitForDisconnects(ctx)
	}

	// STEP 3: Stop message processing; a hub already stopped by ctx is fine
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	// STEP 4: Flush queued writes, then close the store
	app.persister.Stop()
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store shutdown: %w", err))
	}

	app.log.Info("nightdesk shutdown complete")
	return errors.Join(errs...)
}

// waitForDisconnects polls until every read pump has unregistered or ctx ends
func (app *Application) waitForDisconnects(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.GetStats()["total_connections"] > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
