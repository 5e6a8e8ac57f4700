package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/repository"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
)

type inboundCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *inboundCounter) OnInboundEvent(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[event]++
}

type harness struct {
	hub      *hub.Hub
	dispatch *Dispatcher
	notes    *repository.MemoryNotificationStore
	counter  *inboundCounter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop().Sugar()
	h := hub.New(log)
	notes := repository.NewMemoryNotificationStore()
	users := repository.NewMemoryUserDirectory(
		domain.UserProfile{ID: "alice", IsActive: true},
		domain.UserProfile{ID: "bob", IsActive: true},
	)
	notify := service.NewNotificationService(notes, h, nil, nil, log)
	chat := service.NewChatService(service.ChatDeps{
		Store:    repository.NewMemoryMessageStore(),
		Users:    users,
		Hub:      h,
		Notifier: notify,
		Log:      log,
	})
	counter := &inboundCounter{}
	return &harness{hub: h, dispatch: NewDispatcher(chat, notify, h, counter, log), notes: notes, counter: counter}
}

func (h *harness) connect(t *testing.T, userID string) *hub.Client {
	t.Helper()
	c := hub.NewClient(domain.Identity{UserID: userID, Role: domain.RoleUser}, 32)
	require.NoError(t, h.hub.Register(c))
	return c
}

func frames(c *hub.Client) []hub.Frame {
	var out []hub.Frame
	for {
		select {
		case b := <-c.Send():
			var f hub.Frame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path - join then send reaches the joined room", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "alice")
		b := h.connect(t, "bob")

		h.dispatch.Dispatch(ctx, b, []byte(`{"event":"join:conversation","data":"alice_bob"}`))
		assert.Empty(t, frames(b))

		h.dispatch.Dispatch(ctx, a, []byte(`{"event":"message:send","data":{"receiverId":"bob","message":"hello"}}`))
		require.Len(t, frames(a), 1)

		got := frames(b)
		require.Len(t, got, 2)
		assert.Equal(t, service.EventMessageReceived, got[0].Event)
		assert.Equal(t, service.EventMessageNew, got[1].Event)
		assert.Equal(t, 1, h.counter.counts[EventSendMessage])
	})

	t.Run("sad path - send failure is reported once as message:error", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "alice")

		h.dispatch.Dispatch(ctx, a, []byte(`{"event":"message:send","data":{"receiverId":"ghost","message":"hello"}}`))
		got := frames(a)
		require.Len(t, got, 1)
		assert.Equal(t, service.EventMessageError, got[0].Event)
	})

	t.Run("sad path - malformed send frames still get message:error", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "alice")
		b := h.connect(t, "bob")

		for _, raw := range []string{
			`{"event":"message:send","data":{"receiverId":"bob","message":123}}`,
			`{"event":"message:send"}`,
		} {
			h.dispatch.Dispatch(ctx, a, []byte(raw))
			got := frames(a)
			require.Len(t, got, 1, raw)
			assert.Equal(t, service.EventMessageError, got[0].Event)
			var p service.MessageErrorPayload
			require.NoError(t, json.Unmarshal(got[0].Data, &p))
			assert.False(t, p.Success)
			assert.Equal(t, apperr.KindValidation, p.Kind)
			assert.NotEmpty(t, p.Reason)
		}
		assert.Empty(t, frames(b))
		assert.Equal(t, 2, h.counter.counts["invalid"])
	})

	t.Run("sad path - other failures go to an error frame on the initiator", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "alice")
		b := h.connect(t, "bob")

		h.dispatch.Dispatch(ctx, a, []byte(`{"event":"join:conversation","data":"bob_carol"}`))
		got := frames(a)
		require.Len(t, got, 1)
		assert.Equal(t, service.EventError, got[0].Event)
		var p service.ErrorPayload
		require.NoError(t, json.Unmarshal(got[0].Data, &p))
		assert.Equal(t, EventJoinConversation, p.Event)
		assert.Equal(t, apperr.KindAuthorization, p.Kind)
		assert.Empty(t, frames(b))
	})

	t.Run("sad path - unknown event", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "alice")

		h.dispatch.Dispatch(ctx, a, []byte(`{"event":"admin:shutdown"}`))
		got := frames(a)
		require.Len(t, got, 1)
		var p service.ErrorPayload
		require.NoError(t, json.Unmarshal(got[0].Data, &p))
		assert.Equal(t, "admin:shutdown", p.Event)
		assert.Equal(t, apperr.KindValidation, p.Kind)
		assert.Equal(t, 1, h.counter.counts["invalid"])
	})

	t.Run("happy path - notification events reply on the socket", func(t *testing.T) {
		h := newHarness(t)
		b := h.connect(t, "bob")
		n, err := h.notes.Create(ctx, &domain.Notification{Recipient: "bob", Type: domain.NotifyGeneral, Title: "t", Message: "m"})
		require.NoError(t, err)

		h.dispatch.Dispatch(ctx, b, []byte(`{"event":"notifications:unread:count"}`))
		h.dispatch.Dispatch(ctx, b, []byte(`{"event":"notification:read","data":"`+n.ID+`"}`))
		h.dispatch.Dispatch(ctx, b, []byte(`{"event":"notifications:read:all"}`))
		h.dispatch.Dispatch(ctx, b, []byte(`{"event":"ping"}`))

		var names []string
		for _, f := range frames(b) {
			names = append(names, f.Event)
		}
		assert.Equal(t, []string{
			service.EventUnreadCount,
			service.EventNotificationUpdate,
			service.EventNotificationsRead,
			service.EventPong,
		}, names)
	})
}
