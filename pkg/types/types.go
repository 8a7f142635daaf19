package types

import (
	"encoding/json"
	"time"
)

// Role of a connection once it has declared itself
// ARCHITECTURAL DISCOVERY: Role is set once per connection and never changes,
// so routing decisions can rely on it without re-validation
type Role string

const (
	RoleNone  Role = ""
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// AdminGroup is the Transport group every bound admin connection joins
const AdminGroup = "admins"

// Inbound event types (client → server)
const (
	EventGuestDeclare  = "guest.declare"
	EventAdminDeclare  = "admin.declare"
	EventMessageSend   = "message.send"
	EventChannelSelect = "channel.select"
	EventChannelEnd    = "channel.end"
	EventChannelDelete = "channel.delete"
)

// Outbound event types (server → client)
const (
	EventChannelAssigned  = "channel.assigned"
	EventHistory          = "history"
	EventMessageDelivered = "message.delivered"
	EventChannelList      = "channel.list"
	EventChannelSelected  = "channel.selected"
	EventChannelError     = "channel.error"
	EventAdminError       = "admin.error"
	EventSessionEnded     = "session.ended"
	EventSystemNotice     = "system.notice"
)

// Error codes carried by channel.error and admin.error events
const (
	ErrorCodeNotFound      = "not_found"
	ErrorCodeAdminConflict = "admin_conflict"
)

// Envelope is the wire frame for every event in both directions
// FUNCTIONAL DISCOVERY: Payload stays raw until the router knows the event type,
// so one decode pass per frame is enough
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound event before serialization
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent builds an outbound event
func NewEvent(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload}
}

// Message is one immutable entry of a channel log
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channelId"`
	Sender     Role      `json:"sender"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// Channel is the live state of one guest ↔ admin conversation
// FUNCTIONAL DISCOVERY: Messages is append-only; insertion order is the
// chronological order delivered to clients
type Channel struct {
	ID           string
	Branch       string
	GuestName    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Closed       bool
	OwnerConnID  string // empty while the guest is disconnected
	Messages     []Message
}

// LastMessage returns the most recent message, if any
func (c *Channel) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// ChannelSummary is one row of the admin channel list
type ChannelSummary struct {
	ChannelID    string    `json:"channelId"`
	Branch       string    `json:"branch"`
	GuestName    string    `json:"guestName"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Closed       bool      `json:"closed"`
	Online       bool      `json:"online"`
	MessageCount int       `json:"messageCount"`
	LastPreview  string    `json:"lastPreview"`
}

// Inbound payloads
// TECHNICAL DISCOVERY: validate tags are checked by DecodePayload; a failing
// payload is dropped without any reply to the sender. Free-text fields carry no
// max tag: the socket read limit bounds them and the router truncates to Limits

type GuestDeclarePayload struct {
	Branch    string `json:"branch"`
	Nickname  string `json:"nickname"`
	ChannelID string `json:"channelId,omitempty" validate:"omitempty,max=64"`
}

type MessageSendPayload struct {
	ChannelID  string     `json:"channelId" validate:"required,max=64"`
	SenderName string     `json:"senderName"`
	Text       string     `json:"text" validate:"required"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
}

type ChannelPayload struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
}

// Outbound payloads

type ChannelAssignedPayload struct {
	ChannelID   string `json:"channelId"`
	Branch      string `json:"branch"`
	GuestName   string `json:"guestName"`
	ManagerName string `json:"managerName"`
	Resumed     bool   `json:"resumed"`
}

type HistoryPayload struct {
	ChannelID string    `json:"channelId"`
	Messages  []Message `json:"messages"`
}

type MessageDeliveredPayload struct {
	ChannelID  string    `json:"channelId"`
	ID         string    `json:"id"`
	Sender     Role      `json:"sender"`
	SenderName string    `json:"senderName"`
	Branch     string    `json:"branch"`
	GuestName  string    `json:"guestName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

type ChannelListPayload struct {
	Channels []ChannelSummary `json:"channels"`
}

type ChannelSelectedPayload struct {
	ChannelID string    `json:"channelId"`
	Branch    string    `json:"branch"`
	GuestName string    `json:"guestName"`
	CreatedAt time.Time `json:"createdAt"`
	Closed    bool      `json:"closed"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ChannelID string `json:"channelId,omitempty"`
}

type SessionEndedPayload struct {
	ChannelID string `json:"channelId"`
}

type NoticePayload struct {
	Text string `json:"text"`
}
