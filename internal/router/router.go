package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"nightdesk/internal/presence"
	"nightdesk/internal/registry"
	"nightdesk/pkg/interfaces"
	"nightdesk/pkg/types"
)

// Options tunes router behavior
type Options struct {
	Limits       types.Limits
	ManagerName  string
	HistoryLimit int // max messages replayed to a resuming guest and by Restore; <= 0 means all
	RateLimit    int // messages per connection per RateWindow; <= 0 disables
	RateWindow   time.Duration
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Limits:       types.DefaultLimits(),
		ManagerName:  "Night Manager",
		HistoryLimit: 200,
		RateLimit:    100,
		RateWindow:   time.Minute,
	}
}

// session is the per-connection protocol state
// FUNCTIONAL DISCOVERY: ownedChannelID is only set for guests and
// activeChannelID only for the admin; role never changes once set
type session struct {
	role            types.Role
	ownedChannelID  string
	activeChannelID string
}

// Router is the protocol state machine
// ARCHITECTURAL DISCOVERY: Router is not safe for concurrent use; the hub calls
// it from a single goroutine so registry mutations and fan-out are serialized
type Router struct {
	registry    *registry.Registry
	transport   interfaces.Transport
	presence    *presence.Broadcaster
	persister   *Persister
	rateLimiter *RateLimiter
	opts        Options
	log         *slog.Logger

	sessions    map[string]*session
	adminConnID string // single admin slot; empty when unset

	now   func() time.Time
	newID func() string
}

// NewRouter wires a router; persister may be nil to disable persistence
func NewRouter(reg *registry.Registry, transport interfaces.Transport, persister *Persister, opts Options, log *slog.Logger) *Router {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.ManagerName == "" {
		opts.ManagerName = DefaultOptions().ManagerName
	}
	return &Router{
		registry:    reg,
		transport:   transport,
		presence:    presence.NewBroadcaster(reg, transport, log),
		persister:   persister,
		rateLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		opts:        opts,
		log:         log,
		sessions:    make(map[string]*session),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Connect registers a new unbound connection
func (r *Router) Connect(connID string) {
	if _, exists := r.sessions[connID]; !exists {
		r.sessions[connID] = &session{}
	}
}

// Disconnect tears down the protocol state of a connection
// FUNCTIONAL DISCOVERY: A departing guest's channel is retained and stays open
// so the admin can still review it and the guest can resume it
func (r *Router) Disconnect(connID string) {
	s, exists := r.sessions[connID]
	if !exists {
		return
	}
	delete(r.sessions, connID)
	r.rateLimiter.Forget(connID)

	switch s.role {
	case types.RoleGuest:
		r.transport.Leave(connID, s.ownedChannelID)
		ch, ok := r.registry.Get(s.ownedChannelID)
		if !ok {
			return
		}
		if ch.OwnerConnID == connID {
			ch.OwnerConnID = ""
		}
		r.presence.PushList()
		r.presence.Notice(fmt.Sprintf("Guest disconnected: %s / %s", ch.Branch, ch.GuestName))

	case types.RoleAdmin:
		r.transport.Leave(connID, types.AdminGroup)
		if r.adminConnID == connID {
			r.adminConnID = ""
			r.log.Info("admin slot released", "conn", connID)
		}
	}
}

// Handle processes one inbound event to completion
// TECHNICAL DISCOVERY: The returned error is for server-side logging only;
// client-visible replies are emitted by the handlers themselves
func (r *Router) Handle(connID string, env types.Envelope) error {
	s, exists := r.sessions[connID]
	if !exists {
		s = &session{}
		r.sessions[connID] = s
	}

	switch env.Type {
	case types.EventGuestDeclare:
		return r.handleGuestDeclare(connID, s, env)
	case types.EventAdminDeclare:
		return r.handleAdminDeclare(connID, s)
	case types.EventChannelSelect:
		return r.handleSelect(connID, s, env)
	case types.EventMessageSend:
		return r.handleSend(connID, s, env)
	case types.EventChannelEnd:
		return r.handleEnd(connID, s, env)
	case types.EventChannelDelete:
		return r.handleDelete(connID, s, env)
	default:
		return fmt.Errorf("%w: %q", types.ErrUnknownEventType, env.Type)
	}
}

func (r *Router) handleGuestDeclare(connID string, s *session, env types.Envelope) error {
	if s.role != types.RoleNone {
		return ErrAlreadyBound
	}

	var p types.GuestDeclarePayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}

	ch, resumed := r.resumable(p.ChannelID)
	if !resumed {
		branch := types.NormalizeName(p.Branch, r.opts.Limits.BranchMax, "")
		name := types.NormalizeName(p.Nickname, r.opts.Limits.GuestNameMax, types.DefaultGuestName)

		// ARCHITECTURAL DISCOVERY: Channel ids are minted here, never derived from
		// connection identity, so reconnects are an explicit resume
		var err error
		ch, err = r.registry.Create(r.newID(), branch, name)
		if err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		r.journal(ch, interfaces.ChannelStatusOpen)
	}

	ch.OwnerConnID = connID
	s.role = types.RoleGuest
	s.ownedChannelID = ch.ID
	r.transport.Join(connID, ch.ID)

	r.sendToOne(connID, types.NewEvent(types.EventChannelAssigned, types.ChannelAssignedPayload{
		ChannelID:   ch.ID,
		Branch:      ch.Branch,
		GuestName:   ch.GuestName,
		ManagerName: r.opts.ManagerName,
		Resumed:     resumed,
	}))
	r.sendToOne(connID, r.historyEvent(ch, r.opts.HistoryLimit))

	r.presence.PushList()
	verb := "connected"
	if resumed {
		verb = "reconnected"
	}
	r.presence.Notice(fmt.Sprintf("Guest %s: %s / %s", verb, ch.Branch, ch.GuestName))

	r.log.Info("guest bound", "conn", connID, "channel", ch.ID, "resumed", resumed)
	return nil
}

// resumable returns the channel a reconnecting guest may take over: it must
// exist, be open, and have no live owner
func (r *Router) resumable(channelID string) (*types.Channel, bool) {
	if channelID == "" {
		return nil, false
	}
	ch, ok := r.registry.Get(channelID)
	if !ok || ch.Closed || ch.OwnerConnID != "" {
		return nil, false
	}
	return ch, true
}

func (r *Router) handleAdminDeclare(connID string, s *session) error {
	switch s.role {
	case types.RoleGuest:
		return ErrAlreadyBound
	case types.RoleAdmin:
		r.presence.SendList(connID)
		return nil
	}

	// FUNCTIONAL DISCOVERY: Single admin slot; a second declarer is told
	// explicitly instead of silently displacing the current admin
	if r.adminConnID != "" && r.adminConnID != connID {
		r.sendToOne(connID, types.NewEvent(types.EventAdminError, types.ErrorPayload{
			Code:    types.ErrorCodeAdminConflict,
			Message: "another admin is already connected",
		}))
		return ErrAdminConflict
	}

	r.adminConnID = connID
	s.role = types.RoleAdmin
	r.transport.Join(connID, types.AdminGroup)
	r.presence.SendList(connID)

	r.log.Info("admin bound", "conn", connID)
	return nil
}

func (r *Router) handleSelect(connID string, s *session, env types.Envelope) error {
	if !r.isAdmin(connID, s) {
		return ErrNotAdmin
	}

	var p types.ChannelPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}

	ch, ok := r.registry.Get(p.ChannelID)
	if !ok {
		r.sendNotFound(connID, p.ChannelID)
		return ErrChannelNotFound
	}

	// FUNCTIONAL DISCOVERY: The admin always receives the full log of the channel
	s.activeChannelID = ch.ID
	r.sendToOne(connID, r.historyEvent(ch, 0))
	r.sendToOne(connID, types.NewEvent(types.EventChannelSelected, types.ChannelSelectedPayload{
		ChannelID: ch.ID,
		Branch:    ch.Branch,
		GuestName: ch.GuestName,
		CreatedAt: ch.CreatedAt,
		Closed:    ch.Closed,
	}))
	return nil
}

func (r *Router) handleSend(connID string, s *session, env types.Envelope) error {
	var p types.MessageSendPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}

	// ARCHITECTURAL DISCOVERY: Fail-closed authorization; anything other than
	// the admin or the owning guest is dropped without a reply
	var senderName string
	switch {
	case r.isAdmin(connID, s):
		senderName = types.NormalizeName(p.SenderName, r.opts.Limits.SenderNameMax, r.opts.ManagerName)
	case s.role == types.RoleGuest && s.ownedChannelID == p.ChannelID:
		senderName = "" // resolved from the channel record below
	default:
		return ErrUnauthorizedSend
	}

	ch, ok := r.registry.Get(p.ChannelID)
	if !ok {
		return ErrChannelNotFound
	}
	if ch.Closed {
		return ErrChannelClosed
	}

	text, err := types.NormalizeText(p.Text, r.opts.Limits.TextMax)
	if err != nil {
		return err
	}

	if !r.rateLimiter.Allow(connID) {
		return ErrRateLimitExceeded
	}

	if s.role == types.RoleGuest {
		senderName = ch.GuestName
	}

	msg := types.Message{
		ID:         r.newID(),
		ChannelID:  ch.ID,
		Sender:     s.role,
		SenderName: senderName,
		Text:       text,
		SentAt:     r.stampSentAt(ch, p.SentAt),
	}

	r.registry.Touch(ch.ID)
	ch.Messages = append(ch.Messages, msg)

	// FUNCTIONAL DISCOVERY: Admin is not a member of channel groups, so the two
	// group sends never deliver the same frame twice to one connection
	delivered := types.NewEvent(types.EventMessageDelivered, types.MessageDeliveredPayload{
		ChannelID:  ch.ID,
		ID:         msg.ID,
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Branch:     ch.Branch,
		GuestName:  ch.GuestName,
		Text:       msg.Text,
		SentAt:     msg.SentAt,
	})
	r.transport.SendToGroup(ch.ID, delivered)
	r.transport.SendToGroup(types.AdminGroup, delivered)
	r.presence.PushList()

	if r.persister != nil {
		record := interfaces.MessageRecord{
			ID:         msg.ID,
			ChannelID:  ch.ID,
			Sender:     msg.Sender,
			SenderName: msg.SenderName,
			Branch:     ch.Branch,
			Text:       msg.Text,
			SentAt:     msg.SentAt,
		}
		if err := r.persister.EnqueueMessage(record); err != nil {
			r.log.Warn("message not queued for persistence", "channel", ch.ID, "message", msg.ID, "error", err)
		}
	}
	return nil
}

// stampSentAt picks the message timestamp: the client's value when it is not in
// the future, never earlier than the channel creation or its previous message
func (r *Router) stampSentAt(ch *types.Channel, requested *time.Time) time.Time {
	now := r.now()
	at := now
	if requested != nil && !requested.IsZero() && requested.Before(now) {
		at = *requested
	}
	if at.Before(ch.CreatedAt) {
		at = ch.CreatedAt
	}
	if last, ok := ch.LastMessage(); ok && at.Before(last.SentAt) {
		at = last.SentAt
	}
	return at
}

func (r *Router) handleEnd(connID string, s *session, env types.Envelope) error {
	if !r.isAdmin(connID, s) {
		return ErrNotAdmin
	}

	var p types.ChannelPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}

	ch, ok := r.registry.Get(p.ChannelID)
	if !ok {
		r.sendNotFound(connID, p.ChannelID)
		return ErrChannelNotFound
	}

	if r.registry.Close(ch.ID) {
		r.transport.SendToGroup(ch.ID, types.NewEvent(types.EventSessionEnded, types.SessionEndedPayload{ChannelID: ch.ID}))
		r.journal(ch, interfaces.ChannelStatusClosed)
		r.log.Info("channel closed", "channel", ch.ID)
	}
	r.presence.PushList()
	return nil
}

func (r *Router) handleDelete(connID string, s *session, env types.Envelope) error {
	if !r.isAdmin(connID, s) {
		return ErrNotAdmin
	}

	var p types.ChannelPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}

	ch, ok := r.registry.Get(p.ChannelID)
	if !ok {
		r.sendNotFound(connID, p.ChannelID)
		return ErrChannelNotFound
	}

	// FUNCTIONAL DISCOVERY: Deleting an open channel also ends it for the guest;
	// persisted messages are left untouched
	if !ch.Closed {
		r.transport.SendToGroup(ch.ID, types.NewEvent(types.EventSessionEnded, types.SessionEndedPayload{ChannelID: ch.ID}))
	}
	if ch.OwnerConnID != "" {
		r.transport.Leave(ch.OwnerConnID, ch.ID)
	}
	r.registry.Delete(ch.ID)
	r.journal(ch, interfaces.ChannelStatusDeleted)

	for _, other := range r.sessions {
		if other.activeChannelID == ch.ID {
			other.activeChannelID = ""
		}
	}

	r.presence.PushList()
	r.log.Info("channel deleted", "channel", ch.ID)
	return nil
}

// Restore rebuilds the registry from a journaled store
// FUNCTIONAL DISCOVERY: Restored channels have no owner; their guests may
// resume them by declaring with the channel id
func (r *Router) Restore(ctx context.Context, journal interfaces.ChannelJournal, store interfaces.Store) (int, error) {
	records, err := journal.LoadChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("load channels: %w", err)
	}

	restored := 0
	for _, rec := range records {
		history, err := store.FetchHistory(ctx, rec.ID, r.opts.HistoryLimit)
		if err != nil {
			r.log.Warn("history unavailable for restored channel", "channel", rec.ID, "error", err)
		}

		ch := &types.Channel{
			ID:           rec.ID,
			Branch:       rec.Branch,
			GuestName:    rec.GuestName,
			CreatedAt:    rec.CreatedAt,
			LastActiveAt: rec.LastActiveAt,
			Closed:       rec.Status == interfaces.ChannelStatusClosed,
			Messages: lo.Map(history, func(m interfaces.MessageRecord, _ int) types.Message {
				return m.ToMessage()
			}),
		}
		if last, ok := ch.LastMessage(); ok && last.SentAt.After(ch.LastActiveAt) {
			ch.LastActiveAt = last.SentAt
		}

		if err := r.registry.Restore(ch); err != nil {
			r.log.Warn("channel not restored", "channel", rec.ID, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

// Sweep drops rate limiter state of idle connections
func (r *Router) Sweep() {
	r.rateLimiter.Cleanup()
}

// Channels returns the current admin list
func (r *Router) Channels() []types.ChannelSummary {
	return r.registry.List()
}

// Role returns the declared role of a connection
func (r *Router) Role(connID string) types.Role {
	if s, ok := r.sessions[connID]; ok {
		return s.role
	}
	return types.RoleNone
}

// ActiveChannel returns the channel an admin connection is viewing
func (r *Router) ActiveChannel(connID string) string {
	if s, ok := r.sessions[connID]; ok {
		return s.activeChannelID
	}
	return ""
}

func (r *Router) isAdmin(connID string, s *session) bool {
	return s.role == types.RoleAdmin && r.adminConnID == connID
}

func (r *Router) historyEvent(ch *types.Channel, limit int) types.Event {
	messages := ch.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)
	return types.NewEvent(types.EventHistory, types.HistoryPayload{ChannelID: ch.ID, Messages: out})
}

func (r *Router) journal(ch *types.Channel, status string) {
	if r.persister == nil {
		return
	}
	record := interfaces.ChannelRecord{
		ID:           ch.ID,
		Branch:       ch.Branch,
		GuestName:    ch.GuestName,
		CreatedAt:    ch.CreatedAt,
		LastActiveAt: ch.LastActiveAt,
		Status:       status,
	}
	if err := r.persister.EnqueueChannel(record); err != nil {
		r.log.Warn("channel record not queued", "channel", ch.ID, "status", status, "error", err)
	}
}

func (r *Router) sendNotFound(connID, channelID string) {
	r.sendToOne(connID, types.NewEvent(types.EventChannelError, types.ErrorPayload{
		Code:      types.ErrorCodeNotFound,
		Message:   "channel not found",
		ChannelID: channelID,
	}))
}

func (r *Router) sendToOne(connID string, event types.Event) {
	if err := r.transport.SendToOne(connID, event); err != nil {
		r.log.Warn("event delivery failed", "conn", connID, "type", event.Type, "error", err)
	}
}
