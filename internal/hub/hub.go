package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nightdesk/internal/router"
	"nightdesk/pkg/types"
)

// DefaultQueueSize bounds the number of pending hub operations
const DefaultQueueSize = 1024

// sweepInterval is how often idle per-connection state is collected
const sweepInterval = time.Minute

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opDispatch
	opQuery
)

// operation is one unit of work for the hub goroutine
type operation struct {
	kind     opKind
	connID   string
	envelope types.Envelope
	query    func(*router.Router)
	done     chan struct{}
}

// Hub serializes every router operation onto one goroutine
// ARCHITECTURAL DISCOVERY: One queue for connects, frames and disconnects keeps
// per-connection order intact; a frame can never overtake its own disconnect
type Hub struct {
	router *router.Router
	log    *slog.Logger

	queue    chan operation
	shutdown chan struct{}
	stopped  chan struct{}

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub that owns r; queueSize <= 0 selects DefaultQueueSize
func NewHub(r *router.Router, queueSize int, log *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		router: r,
		log:    log,
		queue:  make(chan operation, queueSize),
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	h.log.Info("starting hub", "queue", cap(h.queue))
	go h.run(ctx, h.shutdown, h.stopped)
	return nil
}

// Stop signals the hub goroutine and waits for it to exit.
// Operations still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.log.Info("hub stopped")
	return nil
}

// Running reports whether the hub goroutine is active
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect queues registration of a new connection
func (h *Hub) Connect(connID string) error {
	return h.enqueue(operation{kind: opConnect, connID: connID})
}

// Disconnect queues teardown of a connection
// FUNCTIONAL DISCOVERY: Teardown waits for queue space rather than being shed;
// a lost disconnect would hold the admin slot forever
func (h *Hub) Disconnect(connID string) error {
	_, err := h.enqueueWait(context.Background(), operation{kind: opDisconnect, connID: connID})
	return err
}

// Dispatch queues one inbound frame
func (h *Hub) Dispatch(connID string, env types.Envelope) error {
	return h.enqueue(operation{kind: opDispatch, connID: connID, envelope: env})
}

// Query runs fn on the hub goroutine and waits for it to finish.
// fn must not retain the router.
func (h *Hub) Query(ctx context.Context, fn func(*router.Router)) error {
	done := make(chan struct{})
	stopped, err := h.enqueueWait(ctx, operation{kind: opQuery, query: fn, done: done})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-stopped:
		// RACE CONDITION FIX: The op may have landed after the loop exited
		select {
		case <-done:
			return nil
		default:
			return ErrHubNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channels returns a snapshot of the admin channel list
func (h *Hub) Channels(ctx context.Context) ([]types.ChannelSummary, error) {
	result := make(chan []types.ChannelSummary, 1)
	if err := h.Query(ctx, func(r *router.Router) { result <- r.Channels() }); err != nil {
		return nil, err
	}
	select {
	case out := <-result:
		return out, nil
	default:
		return nil, ErrQueryFailed // fn panicked
	}
}

func (h *Hub) enqueue(op operation) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send; a saturated hub sheds load
	// instead of stalling websocket read pumps
	select {
	case h.queue <- op:
		return nil
	default:
		return ErrQueueFull
	}
}

// enqueueWait blocks for queue space; used by operations that must not be shed.
// It returns the stopped channel of the loop the op was queued for.
func (h *Hub) enqueueWait(ctx context.Context, op operation) (<-chan struct{}, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return nil, ErrHubNotRunning
	}
	shutdown, stopped := h.shutdown, h.stopped
	h.mu.RUnlock()

	select {
	case h.queue <- op:
		return stopped, nil
	case <-shutdown:
		return nil, ErrHubNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer h.discardPending()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-h.queue:
			h.process(op)

		case <-ticker.C:
			h.safely("sweep", func() { h.router.Sweep() })

		case <-shutdown:
			return

		case <-ctx.Done():
			h.log.Info("hub context cancelled")
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

// discardPending empties the queue on exit so a later Start does not replay
// stale operations
func (h *Hub) discardPending() {
	dropped := 0
	for {
		select {
		case <-h.queue:
			dropped++
		default:
			if dropped > 0 {
				h.log.Warn("discarded queued operations", "count", dropped)
			}
			return
		}
	}
}

func (h *Hub) process(op operation) {
	switch op.kind {
	case opConnect:
		h.safely("connect", func() { h.router.Connect(op.connID) })

	case opDisconnect:
		h.safely("disconnect", func() { h.router.Disconnect(op.connID) })

	case opDispatch:
		h.safely(op.envelope.Type, func() {
			// FUNCTIONAL DISCOVERY: Router errors are logged and dropped; the
			// router already replied to the client where a reply is owed
			if err := h.router.Handle(op.connID, op.envelope); err != nil {
				h.log.Debug("event dropped", "conn", op.connID, "type", op.envelope.Type, "error", err)
			}
		})

	case opQuery:
		h.safely("query", func() { op.query(h.router) })
		close(op.done)
	}
}

// safely runs fn and converts a panic into a log line so one bad frame
// cannot take the hub down
func (h *Hub) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("hub operation panicked", "op", what, "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}
