package presence

import (
	"log/slog"

	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

// Lister is the read side of the channel registry
type Lister interface {
	List() []types.ChannelSummary
}

// Broadcaster pushes the admin-facing channel list and system notices
// ARCHITECTURAL DISCOVERY: Pure derived view; it never mutates the registry and
// recomputes the list from scratch on every push
type Broadcaster struct {
	lister    Lister
	transport interfaces.Transport
	log       *slog.Logger
}

// NewBroadcaster creates a broadcaster over a registry and a transport
func NewBroadcaster(lister Lister, transport interfaces.Transport, log *slog.Logger) *Broadcaster {
	return &Broadcaster{lister: lister, transport: transport, log: log}
}

// ListEvent builds the channel.list event from the current registry state
func (b *Broadcaster) ListEvent() types.Event {
	channels := b.lister.List()
	if channels == nil {
		channels = []types.ChannelSummary{}
	}
	return types.NewEvent(types.EventChannelList, types.ChannelListPayload{Channels: channels})
}

// PushList sends the current channel list to the admin group
func (b *Broadcaster) PushList() {
	b.transport.SendToGroup(types.AdminGroup, b.ListEvent())
}

// SendList sends the current channel list to a single connection
func (b *Broadcaster) SendList(connID string) {
	if err := b.transport.SendToOne(connID, b.ListEvent()); err != nil {
		b.log.Warn("channel list delivery failed", "conn", connID, "error", err)
	}
}

// Notice pushes a UI-only system notice to the admin group
func (b *Broadcaster) Notice(text string) {
	b.transport.SendToGroup(types.AdminGroup, types.NewEvent(types.EventSystemNotice, types.NoticePayload{Text: text}))
}
