package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/conversation"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/events"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/repository"
	"github.com/fathima-sithara/tiffin-realtime/internal/service/mocks"
)

type fixture struct {
	hub      *hub.Hub
	messages *repository.MemoryMessageStore
	notes    *repository.MemoryNotificationStore
	users    *repository.MemoryUserDirectory
	notify   *NotificationService
	chat     *ChatService
	pub      *capturePublisher
}

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) Close(context.Context) error { return nil }

func (p *capturePublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// brokenReadStore flips only the first id, then fails like a dropped connection.
type brokenReadStore struct {
	*repository.MemoryMessageStore
}

func (s brokenReadStore) MarkRead(ctx context.Context, ids []string, reader string) ([]*domain.Message, error) {
	changed, err := s.MemoryMessageStore.MarkRead(ctx, ids[:1], reader)
	if err != nil {
		return changed, err
	}
	return changed, apperr.Unavailable("mark message read failed", nil)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	f := &fixture{
		hub:      hub.New(log),
		messages: repository.NewMemoryMessageStore(),
		notes:    repository.NewMemoryNotificationStore(),
		users: repository.NewMemoryUserDirectory(
			domain.UserProfile{ID: "alice", Name: "Alice", Role: domain.RoleUser, IsActive: true},
			domain.UserProfile{ID: "bob", Name: "Bob", Role: domain.RoleProvider, IsActive: true},
			domain.UserProfile{ID: "carol", Name: "Carol", Role: domain.RoleUser, IsActive: true},
			domain.UserProfile{ID: "dave", Name: "Dave", Role: domain.RoleUser, IsActive: false},
		),
		pub: &capturePublisher{},
	}
	f.notify = NewNotificationService(f.notes, f.hub, f.pub, nil, log)
	f.chat = NewChatService(ChatDeps{
		Store:     f.messages,
		Users:     f.users,
		Hub:       f.hub,
		Publisher: f.pub,
		Notifier:  f.notify,
		Log:       log,
	})
	return f
}

func (f *fixture) connect(t *testing.T, userID string) *hub.Client {
	t.Helper()
	c := hub.NewClient(domain.Identity{UserID: userID, Role: domain.RoleUser}, 64)
	require.NoError(t, f.hub.Register(c))
	return c
}

func drain(c *hub.Client) []hub.Frame {
	var out []hub.Frame
	for {
		select {
		case b, ok := <-c.Send():
			if !ok {
				return out
			}
			var fr hub.Frame
			_ = json.Unmarshal(b, &fr)
			out = append(out, fr)
		default:
			return out
		}
	}
}

func names(frames []hub.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, fr := range frames {
		out = append(out, fr.Event)
	}
	return out
}

func decode[T any](t *testing.T, fr hub.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(fr.Data, &v))
	return v
}

func TestChatService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path - sender, receiver and conversation room each get one frame", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		b := f.connect(t, "bob")
		conv := conversation.MustID("alice", "bob")
		require.NoError(t, f.chat.Join(b, conv))

		msg, err := f.chat.Send(ctx, a.Identity(), a, SendMessageRequest{ReceiverID: "bob", Message: "  hello  "})
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, conv, msg.ConversationID)

		assert.Equal(t, []string{EventMessageSent}, names(drain(a)))
		got := drain(b)
		assert.Equal(t, []string{EventMessageReceived, EventMessageNew}, names(got))
		assert.Equal(t, msg.ID, decode[MessagePayload](t, got[0]).Message.ID)

		// bob is viewing the conversation, so no overlay notification
		n, err := f.notes.UnreadCount(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, []string{events.TypeMessageSent}, f.pub.types())
	})

	t.Run("happy path - receiver away gets a new_message notification", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		b := f.connect(t, "bob")

		_, err := f.chat.Send(ctx, a.Identity(), a, SendMessageRequest{ReceiverID: "bob", Message: strings.Repeat("x", 120)})
		require.NoError(t, err)

		frames := drain(b)
		assert.Equal(t, []string{EventMessageReceived, EventNotificationNew}, names(frames))
		note := decode[NotificationPayload](t, frames[1]).Notification
		assert.Equal(t, domain.NotifyNewMessage, note.Type)
		assert.Equal(t, "alice", *note.Sender)
		assert.Len(t, []rune(note.Message), notificationPreviewLength+1)
		assert.Equal(t, conversation.MustID("alice", "bob"), note.Data["conversationId"])
	})

	t.Run("happy path - REST caller without a socket", func(t *testing.T) {
		f := newFixture(t)
		b := f.connect(t, "bob")

		_, err := f.chat.Send(ctx, domain.Identity{UserID: "alice"}, nil, SendMessageRequest{ReceiverID: "bob", Message: "hi"})
		require.NoError(t, err)
		assert.Contains(t, names(drain(b)), EventMessageReceived)
	})

	t.Run("sad path - validation failures reach only the origin", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		b := f.connect(t, "bob")

		cases := []struct {
			name string
			req  SendMessageRequest
			kind apperr.Kind
		}{
			{"empty receiver", SendMessageRequest{Message: "hi"}, apperr.KindValidation},
			{"unknown receiver", SendMessageRequest{ReceiverID: "zed", Message: "hi"}, apperr.KindNotFound},
			{"inactive receiver", SendMessageRequest{ReceiverID: "dave", Message: "hi"}, apperr.KindNotFound},
			{"self", SendMessageRequest{ReceiverID: "alice", Message: "hi"}, apperr.KindValidation},
			{"blank body", SendMessageRequest{ReceiverID: "bob", Message: "   "}, apperr.KindValidation},
			{"too long", SendMessageRequest{ReceiverID: "bob", Message: strings.Repeat("a", domain.MaxBodyLength+1)}, apperr.KindValidation},
			{"bad type", SendMessageRequest{ReceiverID: "bob", Message: "hi", MessageType: "video"}, apperr.KindValidation},
		}
		for _, tc := range cases {
			_, err := f.chat.Send(ctx, a.Identity(), a, tc.req)
			require.Error(t, err, tc.name)
			assert.Equal(t, tc.kind, apperr.KindOf(err), tc.name)

			frames := drain(a)
			require.Len(t, frames, 1, tc.name)
			assert.Equal(t, EventMessageError, frames[0].Event, tc.name)
			p := decode[MessageErrorPayload](t, frames[0])
			assert.False(t, p.Success)
			assert.Equal(t, tc.kind, p.Kind)
		}
		assert.Empty(t, drain(b))
		total, err := f.messages.UnreadTotal(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, f.pub.events)
	})

	t.Run("sad path - directory outage is unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserDirectory(ctrl)
		users.EXPECT().Exists(gomock.Any(), "bob").Return(false, errors.New("connection refused"))

		h := hub.New(zap.NewNop().Sugar())
		svc := NewChatService(ChatDeps{Store: repository.NewMemoryMessageStore(), Users: users, Hub: h})
		a := hub.NewClient(domain.Identity{UserID: "alice"}, 8)
		require.NoError(t, h.Register(a))

		_, err := svc.Send(ctx, a.Identity(), a, SendMessageRequest{ReceiverID: "bob", Message: "hi"})
		require.Error(t, err)
		assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
		assert.Equal(t, []string{EventMessageError}, names(drain(a)))
	})

	t.Run("sad path - publish failure does not fail the send", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		pub := mocks.NewMockPublisher(ctrl)
		pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(apperr.Unavailable("broker down", nil))

		h := hub.New(zap.NewNop().Sugar())
		users := repository.NewMemoryUserDirectory(domain.UserProfile{ID: "bob", IsActive: true})
		svc := NewChatService(ChatDeps{Store: repository.NewMemoryMessageStore(), Users: users, Hub: h, Publisher: pub})

		msg, err := svc.Send(ctx, domain.Identity{UserID: "alice"}, nil, SendMessageRequest{ReceiverID: "bob", Message: "hi"})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
	})
}

func TestChatService_Join(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "alice")
	c := f.connect(t, "carol")
	conv := conversation.MustID("alice", "bob")

	t.Run("happy path - participant joins", func(t *testing.T) {
		require.NoError(t, f.chat.Join(a, conv))
		assert.True(t, f.hub.HasUserIn(hub.ConversationRoom(conv), "alice"))
		f.chat.Leave(a, conv)
		assert.False(t, f.hub.HasUserIn(hub.ConversationRoom(conv), "alice"))
	})

	t.Run("sad path - outsider is refused", func(t *testing.T) {
		err := f.chat.Join(c, conv)
		assert.True(t, errors.Is(err, apperr.ErrAuthorization))
		assert.Zero(t, f.hub.RoomSize(hub.ConversationRoom(conv)))
	})
}

func TestChatService_MarkMessagesRead(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path - one notice per sender and idempotent", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		b := f.connect(t, "bob")
		conv := conversation.MustID("alice", "bob")

		var ids []string
		for i := 0; i < 3; i++ {
			m, err := f.chat.Send(ctx, a.Identity(), nil, SendMessageRequest{ReceiverID: "bob", Message: "m"})
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}
		drain(a)
		drain(b)
		f.pub.events = nil

		n, err := f.chat.MarkMessagesRead(ctx, b.Identity(), ReadRequest{ConversationID: conv, MessageIDs: append(ids, ids[0])})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		frames := drain(a)
		require.Equal(t, []string{EventMessagesRead}, names(frames))
		p := decode[MessagesReadPayload](t, frames[0])
		assert.ElementsMatch(t, ids, p.MessageIDs)
		assert.Equal(t, "bob", p.ReadBy)
		assert.Equal(t, []string{events.TypeMessagesRead}, f.pub.types())

		n, err = f.chat.MarkMessagesRead(ctx, b.Identity(), ReadRequest{ConversationID: conv, MessageIDs: ids})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, drain(a))
	})

	t.Run("happy path - sender cannot mark their own message read", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		conv := conversation.MustID("alice", "bob")
		m, err := f.chat.Send(ctx, a.Identity(), nil, SendMessageRequest{ReceiverID: "bob", Message: "m"})
		require.NoError(t, err)
		drain(a)

		n, err := f.chat.MarkMessagesRead(ctx, a.Identity(), ReadRequest{ConversationID: conv, MessageIDs: []string{m.ID}})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, drain(a))
	})

	t.Run("happy path - whole conversation", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "alice")
		conv := conversation.MustID("alice", "bob")
		for i := 0; i < 2; i++ {
			_, err := f.chat.Send(ctx, a.Identity(), nil, SendMessageRequest{ReceiverID: "bob", Message: "m"})
			require.NoError(t, err)
		}
		drain(a)

		n, err := f.chat.MarkConversationRead(ctx, domain.Identity{UserID: "bob"}, conv)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{EventMessagesRead}, names(drain(a)))

		total, err := f.chat.UnreadTotal(ctx, domain.Identity{UserID: "bob"})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("sad path - store failure still announces what was read", func(t *testing.T) {
		f := newFixture(t)
		f.chat.store = brokenReadStore{f.messages}
		a := f.connect(t, "alice")
		conv := conversation.MustID("alice", "bob")
		var ids []string
		for i := 0; i < 2; i++ {
			m, err := f.chat.Send(ctx, a.Identity(), nil, SendMessageRequest{ReceiverID: "bob", Message: "m"})
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}
		drain(a)

		n, err := f.chat.MarkMessagesRead(ctx, domain.Identity{UserID: "bob"}, ReadRequest{ConversationID: conv, MessageIDs: ids})
		assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
		assert.Equal(t, 1, n)

		frames := drain(a)
		require.Equal(t, []string{EventMessagesRead}, names(frames))
		assert.Equal(t, []string{ids[0]}, decode[MessagesReadPayload](t, frames[0]).MessageIDs)
	})

	t.Run("sad path - outsider", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.chat.MarkMessagesRead(ctx, domain.Identity{UserID: "carol"}, ReadRequest{
			ConversationID: conversation.MustID("alice", "bob"),
			MessageIDs:     []string{"x"},
		})
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})
}

func TestChatService_DeleteAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.connect(t, "alice")
	a2 := f.connect(t, "alice")
	conv := conversation.MustID("alice", "bob")

	m, err := f.chat.Send(ctx, a.Identity(), a, SendMessageRequest{ReceiverID: "bob", Message: "oops"})
	require.NoError(t, err)
	drain(a)
	drain(a2)

	t.Run("happy path - delete syncs every socket of the requester", func(t *testing.T) {
		got, err := f.chat.Delete(ctx, a.Identity(), m.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDeleted)
		assert.Equal(t, []string{EventMessageDeleted}, names(drain(a)))
		assert.Equal(t, []string{EventMessageDeleted}, names(drain(a2)))

		mine, err := f.chat.History(ctx, a.Identity(), conv, 1, 50)
		require.NoError(t, err)
		assert.Empty(t, mine.Messages)

		theirs, err := f.chat.History(ctx, domain.Identity{UserID: "bob"}, conv, 1, 50)
		require.NoError(t, err)
		assert.Len(t, theirs.Messages, 1)
	})

	t.Run("sad path - outsider cannot delete or read", func(t *testing.T) {
		_, err := f.chat.Delete(ctx, domain.Identity{UserID: "carol"}, m.ID)
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
		_, err = f.chat.History(ctx, domain.Identity{UserID: "carol"}, conv, 1, 50)
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})

	t.Run("sad path - report needs a reason", func(t *testing.T) {
		_, err := f.chat.Report(ctx, domain.Identity{UserID: "bob"}, m.ID, " ")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

		got, err := f.chat.Report(ctx, domain.Identity{UserID: "bob"}, m.ID, "spam")
		require.NoError(t, err)
		assert.True(t, got.IsReported)
	})
}

func TestChatService_Conversations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.chat.Send(ctx, domain.Identity{UserID: "alice"}, nil, SendMessageRequest{ReceiverID: "bob", Message: "hi bob"})
	require.NoError(t, err)
	_, err = f.chat.Send(ctx, domain.Identity{UserID: "carol"}, nil, SendMessageRequest{ReceiverID: "bob", Message: "hi from carol"})
	require.NoError(t, err)

	got, err := f.chat.Conversations(ctx, domain.Identity{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Carol", got[0].OtherUser.Name)
	assert.Equal(t, int64(1), got[0].UnreadCount)
	assert.Equal(t, "Alice", got[1].OtherUser.Name)
}
