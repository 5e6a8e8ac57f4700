package ws

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
)

// Inbound socket events.
const (
	EventJoinConversation  = "join:conversation"
	EventLeaveConversation = "leave:conversation"
	EventSendMessage       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMarkRead          = "messages:read"
	EventReadNotification  = "notification:read"
	EventReadAll           = "notifications:read:all"
	EventCountUnread       = "notifications:unread:count"
	EventPing              = "ping"
)

// Inbound is the closed set of events a client may send.
type Inbound interface {
	Name() string
	inbound()
}

type JoinConversation struct{ ConversationID string }
type LeaveConversation struct{ ConversationID string }
type SendMessage struct{ service.SendMessageRequest }
type TypingStart struct{ service.TypingRequest }
type TypingStop struct{ service.TypingRequest }
type MarkMessagesRead struct{ service.ReadRequest }
type ReadNotification struct{ NotificationID string }
type ReadAllNotifications struct{}
type CountUnreadNotifications struct{}
type Ping struct{}

func (JoinConversation) Name() string         { return EventJoinConversation }
func (LeaveConversation) Name() string        { return EventLeaveConversation }
func (SendMessage) Name() string              { return EventSendMessage }
func (TypingStart) Name() string              { return EventTypingStart }
func (TypingStop) Name() string               { return EventTypingStop }
func (MarkMessagesRead) Name() string         { return EventMarkRead }
func (ReadNotification) Name() string         { return EventReadNotification }
func (ReadAllNotifications) Name() string     { return EventReadAll }
func (CountUnreadNotifications) Name() string { return EventCountUnread }
func (Ping) Name() string                     { return EventPing }

func (JoinConversation) inbound()         {}
func (LeaveConversation) inbound()        {}
func (SendMessage) inbound()              {}
func (TypingStart) inbound()              {}
func (TypingStop) inbound()               {}
func (MarkMessagesRead) inbound()         {}
func (ReadNotification) inbound()         {}
func (ReadAllNotifications) inbound()     {}
func (CountUnreadNotifications) inbound() {}
func (Ping) inbound()                     {}

// Decode parses one frame. The returned event name is set whenever the
// envelope itself was readable, so callers can label the error reply.
func Decode(raw []byte) (Inbound, string, error) {
	var f hub.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", apperr.Validation("malformed frame")
	}
	event := strings.TrimSpace(f.Event)
	switch event {
	case EventJoinConversation:
		id, err := idField(f.Data, "conversationId")
		return JoinConversation{ConversationID: id}, event, err
	case EventLeaveConversation:
		id, err := idField(f.Data, "conversationId")
		return LeaveConversation{ConversationID: id}, event, err
	case EventSendMessage:
		var req service.SendMessageRequest
		err := decodeData(f.Data, &req)
		return SendMessage{req}, event, err
	case EventTypingStart, EventTypingStop:
		var req service.TypingRequest
		if err := decodeData(f.Data, &req); err != nil {
			return nil, event, err
		}
		if req.ReceiverID == "" {
			return nil, event, apperr.Validation("receiverId is required")
		}
		if event == EventTypingStart {
			return TypingStart{req}, event, nil
		}
		return TypingStop{req}, event, nil
	case EventMarkRead:
		var req service.ReadRequest
		err := decodeData(f.Data, &req)
		return MarkMessagesRead{req}, event, err
	case EventReadNotification:
		id, err := idField(f.Data, "notificationId")
		return ReadNotification{NotificationID: id}, event, err
	case EventReadAll:
		return ReadAllNotifications{}, event, nil
	case EventCountUnread:
		return CountUnreadNotifications{}, event, nil
	case EventPing:
		return Ping{}, event, nil
	case "":
		return nil, "", apperr.Validation("event is required")
	}
	return nil, event, apperr.Validation("unknown event " + event)
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return apperr.Validation("data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed data")
	}
	return nil
}

// idField accepts either a bare JSON string or an object carrying key.
func idField(data json.RawMessage, key string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", apperr.Validation(key + " is required")
	}
	var id string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", apperr.Validation("malformed " + key)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", apperr.Validation("malformed " + key)
		}
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &id); err != nil {
				return "", apperr.Validation("malformed " + key)
			}
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.Validation(key + " is required")
	}
	return id, nil
}
