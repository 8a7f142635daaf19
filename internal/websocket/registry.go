package websocket

import (
	"log/slog"
	"sync"

	"nightdesk/pkg/interfaces"
)

// Registry tracks live connections and their group memberships; it is the
// websocket implementation of interfaces.Transport
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and routing decisions
type Registry struct {
	mu          sync.RWMutex                     // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	connections map[string]interfaces.Connection // connID -> Connection for O(1) lookup
	groups      map[string]map[string]struct{}   // group -> member connIDs
	memberOf    map[string]map[string]struct{}   // connID -> groups, for O(groups) cleanup
	log         *slog.Logger
}

// NewRegistry creates a new connection registry
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		groups:      make(map[string]map[string]struct{}),
		memberOf:    make(map[string]map[string]struct{}),
		log:         log,
	}
}

// Register adds a connection
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes a connection and every membership it holds
// RACE CONDITION FIX: Only removes the connection if it matches the one currently registered
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if registered, exists := r.connections[id]; !exists || registered != conn {
		return
	}
	delete(r.connections, id)

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	for group := range r.memberOf[id] {
		r.removeMember(group, id)
	}
	delete(r.memberOf, id)
}

// Get returns the connection with the given id
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

// Join adds a live connection to a group
func (r *Registry) Join(connID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.connections[connID]; !live {
		return
	}
	if r.groups[group] == nil {
		r.groups[group] = make(map[string]struct{})
	}
	r.groups[group][connID] = struct{}{}
	if r.memberOf[connID] == nil {
		r.memberOf[connID] = make(map[string]struct{})
	}
	r.memberOf[connID][group] = struct{}{}
}

// Leave removes a connection from a group
func (r *Registry) Leave(connID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMember(group, connID)
	if groups, ok := r.memberOf[connID]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(r.memberOf, connID)
		}
	}
}

func (r *Registry) removeMember(group, connID string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
}

// SendToOne delivers event to a single connection
func (r *Registry) SendToOne(connID string, event any) error {
	conn, exists := r.Get(connID)
	if !exists {
		return interfaces.ErrConnectionNotFound
	}
	return conn.WriteJSON(event)
}

// SendToGroup delivers event to every member of group
func (r *Registry) SendToGroup(group string, event any) {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.groups[group]))
	for connID := range r.groups[group] {
		if conn, ok := r.connections[connID]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	r.deliver(targets, event)
}

// SendToAll delivers event to every live connection
func (r *Registry) SendToAll(event any) {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	r.deliver(targets, event)
}

// deliver writes outside the lock; a failed write only affects its own connection
func (r *Registry) deliver(targets []interfaces.Connection, event any) {
	for _, conn := range targets {
		if err := conn.WriteJSON(event); err != nil {
			r.log.Warn("dropping frame", "conn", conn.ID(), "error", err)
		}
	}
}

// CloseAll closes every live connection; their read pumps then unregister them
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Close(); err != nil {
			r.log.Debug("close failed", "conn", conn.ID(), "error", err)
		}
	}
	return len(targets)
}

// Members returns the connection ids in group
func (r *Registry) Members(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups[group]))
	for connID := range r.groups[group] {
		out = append(out, connID)
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"active_groups":     len(r.groups),
	}
}
