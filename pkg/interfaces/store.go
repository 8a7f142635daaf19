package interfaces

import (
	"context"
	"time"

	"nightdesk/pkg/types"
)

// MessageRecord is the persisted form of a delivered message
// FUNCTIONAL DISCOVERY: Branch is denormalized onto every row so history can be
// tagged by site even after the channel is deleted from the registry
type MessageRecord struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channel_id"`
	Sender     types.Role `json:"sender"`
	SenderName string     `json:"sender_name"`
	Branch     string     `json:"branch"`
	Text       string     `json:"text"`
	SentAt     time.Time  `json:"sent_at"`
}

// ToMessage converts a stored row back into a channel log entry
func (r MessageRecord) ToMessage() types.Message {
	return types.Message{
		ID:         r.ID,
		ChannelID:  r.ChannelID,
		Sender:     r.Sender,
		SenderName: r.SenderName,
		Text:       r.Text,
		SentAt:     r.SentAt,
	}
}

// Channel status values recorded by a ChannelJournal
const (
	ChannelStatusOpen    = "open"
	ChannelStatusClosed  = "closed"
	ChannelStatusDeleted = "deleted"
)

// ChannelRecord is the journaled metadata of a channel
type ChannelRecord struct {
	ID           string    `json:"id"`
	Branch       string    `json:"branch"`
	GuestName    string    `json:"guest_name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Status       string    `json:"status"`
}

// Store is the durable, append-only message log
// ARCHITECTURAL DISCOVERY: Absence of a backend is a valid mode; callers
// always hold a Store and the no-op implementation stands in
type Store interface {
	// Append persists one message; failures are reported but never retried
	Append(ctx context.Context, record MessageRecord) error

	// FetchHistory returns at most limit messages of a channel in send order,
	// the most recent ones when the log is longer; limit <= 0 means all
	FetchHistory(ctx context.Context, channelID string, limit int) ([]MessageRecord, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// ChannelJournal is implemented by stores that also keep channel metadata,
// which is what makes restart recovery possible
type ChannelJournal interface {
	SaveChannel(ctx context.Context, record ChannelRecord) error

	// LoadChannels returns every channel not marked deleted
	LoadChannels(ctx context.Context) ([]ChannelRecord, error)
}
