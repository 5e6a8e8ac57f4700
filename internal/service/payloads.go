package service

import (
	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// Outbound socket events.
const (
	EventMessageSent        = "message:sent"
	EventMessageReceived    = "message:received"
	EventMessageNew         = "message:new"
	EventMessageError       = "message:error"
	EventMessageDeleted     = "message:deleted"
	EventTypingUser         = "typing:user"
	EventMessagesRead       = "messages:read"
	EventNotificationNew    = "notification:new"
	EventNotificationUpdate = "notification:updated"
	EventNotificationsRead  = "notifications:all:read"
	EventUnreadCount        = "notifications:unread:count"
	EventError              = "error"
	EventPong               = "pong"
)

type SendMessageRequest struct {
	ReceiverID  string              `json:"receiverId"`
	Message     string              `json:"message"`
	MessageType string              `json:"messageType,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type TypingRequest struct {
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
}

type ReadRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type MessageSentPayload struct {
	Success bool            `json:"success"`
	Message *domain.Message `json:"message"`
}

type MessagePayload struct {
	Message *domain.Message `json:"message"`
}

type MessageErrorPayload struct {
	Success bool        `json:"success"`
	Reason  string      `json:"reason"`
	Kind    apperr.Kind `json:"kind"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

type NotificationPayload struct {
	Notification *domain.Notification `json:"notification"`
}

type AllReadPayload struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

type UnreadCountPayload struct {
	Count int64 `json:"count"`
}

// ErrorPayload reports a failed inbound event other than message:send.
type ErrorPayload struct {
	Event  string      `json:"event"`
	Reason string      `json:"reason"`
	Kind   apperr.Kind `json:"kind"`
}

func errorReason(err error) string {
	if r := apperr.Reason(err); r != "" {
		return r
	}
	return err.Error()
}

func NewMessageErrorPayload(err error) MessageErrorPayload {
	return MessageErrorPayload{Success: false, Reason: errorReason(err), Kind: apperr.KindOf(err)}
}

func NewErrorPayload(event string, err error) ErrorPayload {
	return ErrorPayload{Event: event, Reason: errorReason(err), Kind: apperr.KindOf(err)}
}

// Recorder receives business counters; *metrics.Metrics implements it.
type Recorder interface {
	OnMessageSent()
	OnNotificationSent(typ string)
}

type nopRecorder struct{}

func (nopRecorder) OnMessageSent()            {}
func (nopRecorder) OnNotificationSent(string) {}
