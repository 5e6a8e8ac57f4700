package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/conversation"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/events"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/repository"
)

const notificationPreviewLength = 80

// Notifier creates overlay notifications; *NotificationService implements it.
type Notifier interface {
	Send(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
}

type ChatDeps struct {
	Store     repository.MessageStore
	Users     repository.UserDirectory
	Hub       *hub.Hub
	Publisher events.Publisher
	Notifier  Notifier
	Typing    *TypingTracker
	Recorder  Recorder
	Log       *zap.SugaredLogger
}

type ChatService struct {
	store    repository.MessageStore
	users    repository.UserDirectory
	hub      *hub.Hub
	pub      events.Publisher
	notifier Notifier
	typing   *TypingTracker
	rec      Recorder
	log      *zap.SugaredLogger
}

func NewChatService(d ChatDeps) *ChatService {
	s := &ChatService{
		store:    d.Store,
		users:    d.Users,
		hub:      d.Hub,
		pub:      d.Publisher,
		notifier: d.Notifier,
		typing:   d.Typing,
		rec:      d.Recorder,
		log:      d.Log,
	}
	if s.pub == nil {
		s.pub = events.Nop{}
	}
	if s.typing == nil {
		s.typing = NewTypingTracker(DefaultTypingIdle)
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

// Send persists a message and fans it out. origin is the sending socket, nil
// for REST; when set it always gets exactly one of message:sent or message:error.
func (s *ChatService) Send(ctx context.Context, sender domain.Identity, origin *hub.Client, req SendMessageRequest) (*domain.Message, error) {
	msg, err := s.send(ctx, sender, req)
	if err != nil {
		if origin != nil {
			s.hub.EmitTo(origin, EventMessageError, NewMessageErrorPayload(err))
		}
		return nil, err
	}

	if origin != nil {
		s.hub.EmitTo(origin, EventMessageSent, MessageSentPayload{Success: true, Message: msg})
	}
	s.hub.Emit(ctx, hub.PersonalRoom(msg.Receiver), EventMessageReceived, MessagePayload{Message: msg})
	s.hub.Emit(ctx, hub.ConversationRoom(msg.ConversationID), EventMessageNew, MessagePayload{Message: msg})
	s.rec.OnMessageSent()

	s.publish(ctx, events.New(events.TypeMessageSent, msg.ConversationID, msg))
	s.notifyIfAway(ctx, msg)
	return msg, nil
}

func (s *ChatService) send(ctx context.Context, sender domain.Identity, req SendMessageRequest) (*domain.Message, error) {
	receiver := strings.TrimSpace(req.ReceiverID)
	if receiver == "" {
		return nil, apperr.Validation("receiverId is required")
	}
	exists, err := s.users.Exists(ctx, receiver)
	if err != nil {
		return nil, apperr.Normalize(err, "user lookup failed")
	}
	if !exists {
		return nil, apperr.NotFound("receiver not found")
	}
	active, err := s.users.IsActive(ctx, receiver)
	if err != nil {
		return nil, apperr.Normalize(err, "user lookup failed")
	}
	if !active {
		return nil, apperr.NotFound("receiver not found")
	}
	if _, err := conversation.ID(sender.UserID, receiver); err != nil {
		return nil, err
	}

	msg, err := s.store.Append(ctx, domain.NewMessage{
		Sender:      sender.UserID,
		Receiver:    receiver,
		Body:        req.Message,
		Kind:        req.MessageType,
		Attachments: req.Attachments,
	})
	if err != nil {
		return nil, apperr.Normalize(err, "message store unavailable")
	}
	return msg, nil
}

// notifyIfAway leaves a new_message notification when the receiver has no
// socket on this instance viewing the conversation.
func (s *ChatService) notifyIfAway(ctx context.Context, msg *domain.Message) {
	if s.notifier == nil || s.hub.HasUserIn(hub.ConversationRoom(msg.ConversationID), msg.Receiver) {
		return
	}
	sender := msg.Sender
	preview := []rune(msg.Body)
	if len(preview) > notificationPreviewLength {
		preview = append(preview[:notificationPreviewLength], '…')
	}
	_, err := s.notifier.Send(ctx, &domain.Notification{
		Recipient: msg.Receiver,
		Sender:    &sender,
		Type:      domain.NotifyNewMessage,
		Title:     "New message",
		Message:   string(preview),
		Data: map[string]any{
			"conversationId": msg.ConversationID,
			"messageId":      msg.ID,
		},
		Link:     "/chat?conversation=" + msg.ConversationID,
		Priority: domain.PriorityMedium,
	})
	if err != nil {
		s.log.Warnw("new message notification failed", "message_id", msg.ID, "user_id", msg.Receiver, "error", err)
	}
}

func (s *ChatService) publish(ctx context.Context, ev events.Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warnw("domain event publish failed", "event", ev.Type, "key", ev.Key, "error", err)
	}
}

// Join puts a socket in a conversation room it participates in.
func (s *ChatService) Join(c *hub.Client, convID string) error {
	if !conversation.IsParticipant(convID, c.UserID) {
		return apperr.Authorization("not a participant of this conversation")
	}
	return s.hub.Join(c, hub.ConversationRoom(convID))
}

func (s *ChatService) Leave(c *hub.Client, convID string) {
	s.hub.Leave(c, hub.ConversationRoom(convID))
}

// Typing relays a transient indicator to the peer's personal room.
func (s *ChatService) Typing(ctx context.Context, c *hub.Client, req TypingRequest, start bool) error {
	receiver := strings.TrimSpace(req.ReceiverID)
	convID, err := conversation.ID(c.UserID, receiver)
	if err != nil {
		return err
	}
	if req.ConversationID != "" && req.ConversationID != convID {
		return apperr.Validation("conversationId does not match receiver")
	}
	receiverRoom := hub.PersonalRoom(receiver)
	emit := func(typing bool) {
		s.hub.Emit(ctx, receiverRoom, EventTypingUser, TypingPayload{
			UserID:         c.UserID,
			ConversationID: convID,
			IsTyping:       typing,
		})
	}
	if start {
		emit(true)
		// the timer outlives the inbound event, so it must not use its context
		s.typing.Arm(c.ID, convID, func() {
			s.hub.Emit(context.Background(), receiverRoom, EventTypingUser, TypingPayload{
				UserID:         c.UserID,
				ConversationID: convID,
				IsTyping:       false,
			})
		})
		return nil
	}
	s.typing.Disarm(c.ID, convID)
	emit(false)
	return nil
}

// ConnectionClosed flushes pending typing stops for a socket.
func (s *ChatService) ConnectionClosed(c *hub.Client) {
	s.typing.Flush(c.ID)
}

// MarkMessagesRead acknowledges specific messages and tells each sender once.
func (s *ChatService) MarkMessagesRead(ctx context.Context, reader domain.Identity, req ReadRequest) (int, error) {
	if !conversation.IsParticipant(req.ConversationID, reader.UserID) {
		return 0, apperr.Authorization("not a participant of this conversation")
	}
	if len(req.MessageIDs) == 0 {
		return 0, nil
	}
	// a store failure can still return the messages it already flipped
	changed, err := s.store.MarkRead(ctx, dedupe(req.MessageIDs), reader.UserID)
	s.fanOutRead(ctx, reader.UserID, changed)
	if err != nil {
		return len(changed), apperr.Normalize(err, "message store unavailable")
	}
	return len(changed), nil
}

// MarkConversationRead acknowledges everything addressed to reader in convID.
func (s *ChatService) MarkConversationRead(ctx context.Context, reader domain.Identity, convID string) (int, error) {
	changed, err := s.store.MarkConversationRead(ctx, convID, reader.UserID)
	s.fanOutRead(ctx, reader.UserID, changed)
	if err != nil {
		return len(changed), apperr.Normalize(err, "message store unavailable")
	}
	return len(changed), nil
}

func (s *ChatService) fanOutRead(ctx context.Context, readBy string, changed []*domain.Message) {
	type group struct {
		sender string
		conv   string
	}
	order := []group{}
	ids := map[group][]string{}
	for _, m := range changed {
		g := group{sender: m.Sender, conv: m.ConversationID}
		if _, ok := ids[g]; !ok {
			order = append(order, g)
		}
		ids[g] = append(ids[g], m.ID)
	}
	for _, g := range order {
		payload := MessagesReadPayload{ConversationID: g.conv, MessageIDs: ids[g], ReadBy: readBy}
		s.hub.Emit(ctx, hub.PersonalRoom(g.sender), EventMessagesRead, payload)
		s.publish(ctx, events.New(events.TypeMessagesRead, g.conv, payload))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *ChatService) History(ctx context.Context, requester domain.Identity, convID string, page, limit int) (*domain.Page, error) {
	p, err := s.store.ListByConversation(ctx, convID, requester.UserID, page, limit)
	return p, apperr.Normalize(err, "message store unavailable")
}

// Conversations builds the summaries with the other participant's profile.
func (s *ChatService) Conversations(ctx context.Context, requester domain.Identity) ([]domain.ConversationSummary, error) {
	digests, err := s.store.Conversations(ctx, requester.UserID)
	if err != nil {
		return nil, apperr.Normalize(err, "message store unavailable")
	}
	out := make([]domain.ConversationSummary, 0, len(digests))
	for _, d := range digests {
		other, err := conversation.Other(d.ConversationID, requester.UserID)
		if err != nil {
			continue
		}
		profile, err := s.users.Profile(ctx, other)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				s.log.Warnw("profile lookup failed", "user_id", other, "error", err)
			}
			profile = &domain.UserProfile{ID: other}
		}
		out = append(out, domain.ConversationSummary{
			ConversationID: d.ConversationID,
			OtherUser:      profile,
			LastMessage:    d.LastMessage,
			UnreadCount:    d.UnreadCount,
		})
	}
	return out, nil
}

func (s *ChatService) UnreadTotal(ctx context.Context, requester domain.Identity) (int64, error) {
	n, err := s.store.UnreadTotal(ctx, requester.UserID)
	return n, apperr.Normalize(err, "message store unavailable")
}

// Delete hides a message for the requester and syncs their other sockets.
func (s *ChatService) Delete(ctx context.Context, requester domain.Identity, messageID string) (*domain.Message, error) {
	m, err := s.store.SoftDelete(ctx, messageID, requester.UserID)
	if err != nil {
		return nil, apperr.Normalize(err, "message store unavailable")
	}
	s.hub.Emit(ctx, hub.PersonalRoom(requester.UserID), EventMessageDeleted, MessageDeletedPayload{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
	})
	s.publish(ctx, events.New(events.TypeMessageDeleted, m.ConversationID, map[string]any{
		"messageId": m.ID, "deletedBy": requester.UserID, "isDeleted": m.IsDeleted,
	}))
	return m, nil
}

func (s *ChatService) Report(ctx context.Context, reporter domain.Identity, messageID, reason string) (*domain.Message, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("report reason is required")
	}
	m, err := s.store.Report(ctx, messageID, reporter.UserID, reason)
	if err != nil {
		return nil, apperr.Normalize(err, "message store unavailable")
	}
	s.log.Infow("message reported", "message_id", m.ID, "user_id", reporter.UserID)
	s.publish(ctx, events.New(events.TypeMessageReported, m.ConversationID, map[string]any{
		"messageId": m.ID, "reportedBy": reporter.UserID, "reason": reason,
	}))
	return m, nil
}
