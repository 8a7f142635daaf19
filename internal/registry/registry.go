package registry

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"nightdesk/pkg/types"
)

// previewMax caps the list preview text, in runes
const previewMax = 80

// Registry is the in-memory map channel id → channel state
// ARCHITECTURAL DISCOVERY: No locking by design of ownership: the registry is
// only touched from the hub goroutine, which serializes every mutation
type Registry struct {
	channels map[string]*types.Channel
	now      func() time.Time
}

// New creates an empty registry using the wall clock
func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty registry with an injected clock
func NewWithClock(now func() time.Time) *Registry {
	return &Registry{
		channels: make(map[string]*types.Channel),
		now:      now,
	}
}

// Create inserts a new channel; ids must be unique
func (r *Registry) Create(id, branch, guestName string) (*types.Channel, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if _, exists := r.channels[id]; exists {
		return nil, ErrChannelExists
	}

	now := r.now()
	ch := &types.Channel{
		ID:           id,
		Branch:       branch,
		GuestName:    guestName,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	r.channels[id] = ch
	return ch, nil
}

// Restore inserts a channel rebuilt from persistent state
func (r *Registry) Restore(ch *types.Channel) error {
	if ch == nil || ch.ID == "" {
		return ErrEmptyID
	}
	if _, exists := r.channels[ch.ID]; exists {
		return ErrChannelExists
	}
	r.channels[ch.ID] = ch
	return nil
}

// Get returns the channel for id
func (r *Registry) Get(id string) (*types.Channel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

// Touch marks a channel as active now; no-op for unknown ids
func (r *Registry) Touch(id string) {
	if ch, ok := r.channels[id]; ok {
		ch.LastActiveAt = r.now()
	}
}

// Close marks a channel closed and reports whether it was open before
func (r *Registry) Close(id string) bool {
	ch, ok := r.channels[id]
	if !ok || ch.Closed {
		return false
	}
	ch.Closed = true
	return true
}

// Delete removes a channel and reports whether it existed
func (r *Registry) Delete(id string) bool {
	if _, ok := r.channels[id]; !ok {
		return false
	}
	delete(r.channels, id)
	return true
}

// Len returns the number of channels
func (r *Registry) Len() int {
	return len(r.channels)
}

// List returns channel summaries, most recently active first
// FUNCTIONAL DISCOVERY: The ordering is part of the admin contract; ties fall
// back to creation time and then id so repeated pushes never reshuffle rows
func (r *Registry) List() []types.ChannelSummary {
	channels := lo.Values(r.channels)
	sort.Slice(channels, func(i, j int) bool {
		a, b := channels[i], channels[j]
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.After(b.LastActiveAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return lo.Map(channels, func(ch *types.Channel, _ int) types.ChannelSummary {
		return Summarize(ch)
	})
}

// Summarize projects a channel onto its list row
func Summarize(ch *types.Channel) types.ChannelSummary {
	summary := types.ChannelSummary{
		ChannelID:    ch.ID,
		Branch:       ch.Branch,
		GuestName:    ch.GuestName,
		CreatedAt:    ch.CreatedAt,
		LastActiveAt: ch.LastActiveAt,
		Closed:       ch.Closed,
		Online:       ch.OwnerConnID != "",
		MessageCount: len(ch.Messages),
	}
	if last, ok := ch.LastMessage(); ok {
		who := ch.GuestName
		if last.Sender == types.RoleAdmin {
			who = last.SenderName
		}
		summary.LastPreview = who + ": " + types.Truncate(last.Text, previewMax)
	}
	return summary
}
