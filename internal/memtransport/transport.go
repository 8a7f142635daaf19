// Package memtransport is an in-process Transport that records every delivery.
// It backs router and hub tests and can stand in for the websocket transport
// when embedding the router.
package memtransport

import (
	"sort"
	"sync"

	"nightdesk/pkg/types"
)

// Transport keeps group membership in memory and appends deliveries to a
// per-connection inbox
type Transport struct {
	mu      sync.Mutex
	conns   map[string]bool
	groups  map[string]map[string]bool
	inboxes map[string][]types.Event
}

// New creates an empty transport
func New() *Transport {
	return &Transport{
		conns:   make(map[string]bool),
		groups:  make(map[string]map[string]bool),
		inboxes: make(map[string][]types.Event),
	}
}

// Add registers a live connection
func (t *Transport) Add(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connID] = true
}

// Remove drops a connection and all its memberships; its inbox is kept
func (t *Transport) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connID)
	for name, members := range t.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(t.groups, name)
		}
	}
}

func (t *Transport) Join(connID, group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[group] == nil {
		t.groups[group] = make(map[string]bool)
	}
	t.groups[group][connID] = true
}

func (t *Transport) Leave(connID, group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(t.groups, group)
		}
	}
}

func (t *Transport) SendToOne(connID string, event any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliver(connID, event)
	return nil
}

func (t *Transport) SendToGroup(group string, event any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for connID := range t.groups[group] {
		t.deliver(connID, event)
	}
}

func (t *Transport) SendToAll(event any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for connID := range t.conns {
		t.deliver(connID, event)
	}
}

func (t *Transport) deliver(connID string, event any) {
	ev, ok := event.(types.Event)
	if !ok {
		ev = types.Event{Type: "raw", Payload: event}
	}
	t.inboxes[connID] = append(t.inboxes[connID], ev)
}

// Events returns a copy of everything delivered to connID
func (t *Transport) Events(connID string) []types.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Event, len(t.inboxes[connID]))
	copy(out, t.inboxes[connID])
	return out
}

// EventsOfType returns the deliveries to connID with the given type
func (t *Transport) EventsOfType(connID, eventType string) []types.Event {
	var out []types.Event
	for _, ev := range t.Events(connID) {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent delivery of a type to connID
func (t *Transport) Last(connID, eventType string) (types.Event, bool) {
	events := t.EventsOfType(connID, eventType)
	if len(events) == 0 {
		return types.Event{}, false
	}
	return events[len(events)-1], true
}

// Reset clears every inbox
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inboxes = make(map[string][]types.Event)
}

// Members returns the sorted members of a group
func (t *Transport) Members(group string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for connID := range t.groups[group] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}
