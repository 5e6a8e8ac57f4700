package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

func TestDecode(t *testing.T) {
	t.Run("happy path - join accepts a bare string or an object", func(t *testing.T) {
		in, event, err := Decode([]byte(`{"event":"join:conversation","data":"alice_bob"}`))
		require.NoError(t, err)
		assert.Equal(t, EventJoinConversation, event)
		assert.Equal(t, JoinConversation{ConversationID: "alice_bob"}, in)

		in, _, err = Decode([]byte(`{"event":"leave:conversation","data":{"conversationId":"alice_bob"}}`))
		require.NoError(t, err)
		assert.Equal(t, LeaveConversation{ConversationID: "alice_bob"}, in)
	})

	t.Run("happy path - message send", func(t *testing.T) {
		in, _, err := Decode([]byte(`{"event":"message:send","data":{"receiverId":"bob","message":"hi","messageType":"text"}}`))
		require.NoError(t, err)
		send, ok := in.(SendMessage)
		require.True(t, ok)
		assert.Equal(t, "bob", send.ReceiverID)
		assert.Equal(t, "hi", send.Message)
	})

	t.Run("happy path - typing and reads", func(t *testing.T) {
		in, _, err := Decode([]byte(`{"event":"typing:stop","data":{"receiverId":"bob","conversationId":"alice_bob"}}`))
		require.NoError(t, err)
		assert.IsType(t, TypingStop{}, in)

		in, _, err = Decode([]byte(`{"event":"messages:read","data":{"conversationId":"alice_bob","messageIds":["m1","m2"]}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, in.(MarkMessagesRead).MessageIDs)
	})

	t.Run("happy path - events without data", func(t *testing.T) {
		for raw, want := range map[string]Inbound{
			`{"event":"notifications:read:all"}`:     ReadAllNotifications{},
			`{"event":"notifications:unread:count"}`: CountUnreadNotifications{},
			`{"event":"ping","data":null}`:           Ping{},
		} {
			in, _, err := Decode([]byte(raw))
			require.NoError(t, err, raw)
			assert.Equal(t, want, in)
		}
	})

	t.Run("happy path - notification read by id", func(t *testing.T) {
		in, _, err := Decode([]byte(`{"event":"notification:read","data":{"notificationId":"n1"}}`))
		require.NoError(t, err)
		assert.Equal(t, ReadNotification{NotificationID: "n1"}, in)
	})

	t.Run("sad path - unknown or malformed frames", func(t *testing.T) {
		cases := map[string]string{
			`not json`:    "",
			`{"data":{}}`: "",
			`{"event":"notification:send","data":{}}`:      "notification:send",
			`{"event":"join:conversation"}`:                EventJoinConversation,
			`{"event":"join:conversation","data":{"x":1}}`: EventJoinConversation,
			`{"event":"join:conversation","data":42}`:      EventJoinConversation,
			`{"event":"message:send","data":"hi"}`:         EventSendMessage,
			`{"event":"typing:start","data":{}}`:           EventTypingStart,
			`{"event":"notification:read","data":"   "}`:   EventReadNotification,
		}
		for raw, wantEvent := range cases {
			_, event, err := Decode([]byte(raw))
			require.Error(t, err, raw)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), raw)
			assert.Equal(t, wantEvent, event, raw)
		}
	})
}
