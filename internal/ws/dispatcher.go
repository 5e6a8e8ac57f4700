package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
)

// InboundRecorder counts inbound events; *metrics.Metrics implements it.
type InboundRecorder interface {
	OnInboundEvent(event string)
}

type nopInbound struct{}

func (nopInbound) OnInboundEvent(string) {}

type Dispatcher struct {
	chat   *service.ChatService
	notify *service.NotificationService
	hub    *hub.Hub
	rec    InboundRecorder
	log    *zap.SugaredLogger
}

func NewDispatcher(chat *service.ChatService, notify *service.NotificationService, h *hub.Hub, rec InboundRecorder, log *zap.SugaredLogger) *Dispatcher {
	if rec == nil {
		rec = nopInbound{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{chat: chat, notify: notify, hub: h, rec: rec, log: log}
}

// Dispatch decodes and runs one inbound frame for c. Failures are reported to
// c only; message:send reports its own failures as message:error.
func (d *Dispatcher) Dispatch(ctx context.Context, c *hub.Client, raw []byte) {
	in, event, err := Decode(raw)
	if err != nil {
		d.rec.OnInboundEvent("invalid")
		if event == EventSendMessage {
			d.hub.EmitTo(c, service.EventMessageError, service.NewMessageErrorPayload(err))
			return
		}
		d.fail(c, event, err)
		return
	}
	d.rec.OnInboundEvent(event)

	if err := d.handle(ctx, c, in); err != nil {
		if _, ok := in.(SendMessage); ok {
			return
		}
		d.fail(c, event, err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, c *hub.Client, in Inbound) error {
	identity := c.Identity()
	switch ev := in.(type) {
	case JoinConversation:
		return d.chat.Join(c, ev.ConversationID)
	case LeaveConversation:
		d.chat.Leave(c, ev.ConversationID)
		return nil
	case SendMessage:
		_, err := d.chat.Send(ctx, identity, c, ev.SendMessageRequest)
		return err
	case TypingStart:
		return d.chat.Typing(ctx, c, ev.TypingRequest, true)
	case TypingStop:
		return d.chat.Typing(ctx, c, ev.TypingRequest, false)
	case MarkMessagesRead:
		_, err := d.chat.MarkMessagesRead(ctx, identity, ev.ReadRequest)
		return err
	case ReadNotification:
		_, err := d.notify.MarkRead(ctx, identity, c, ev.NotificationID)
		return err
	case ReadAllNotifications:
		_, err := d.notify.MarkAllRead(ctx, identity, c)
		return err
	case CountUnreadNotifications:
		_, err := d.notify.UnreadCount(ctx, identity, c)
		return err
	case Ping:
		d.hub.EmitTo(c, service.EventPong, map[string]int64{"timestamp": time.Now().UnixMilli()})
		return nil
	}
	return apperr.Validation("unsupported event " + in.Name())
}

func (d *Dispatcher) fail(c *hub.Client, event string, err error) {
	if apperr.KindOf(err) == apperr.KindUnavailable {
		d.log.Warnw("inbound event failed", "event", event, "user_id", c.UserID, "error", err)
	}
	d.hub.EmitTo(c, service.EventError, service.NewErrorPayload(event, err))
}
