package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/conversation"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
)

func TestTypingTracker(t *testing.T) {
	t.Run("happy path - idle timer fires the stop once", func(t *testing.T) {
		tr := NewTypingTracker(20 * time.Millisecond)
		var fired int32
		tr.Arm("c1", "conv", func() { atomic.AddInt32(&fired, 1) })
		assert.Equal(t, 1, tr.Pending("c1"))

		assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, tr.Pending("c1"))
		assert.False(t, tr.Disarm("c1", "conv"))
	})

	t.Run("happy path - rearm replaces the previous timer", func(t *testing.T) {
		tr := NewTypingTracker(30 * time.Millisecond)
		var first, second int32
		tr.Arm("c1", "conv", func() { atomic.AddInt32(&first, 1) })
		tr.Arm("c1", "conv", func() { atomic.AddInt32(&second, 1) })

		assert.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(40 * time.Millisecond)
		assert.Zero(t, atomic.LoadInt32(&first))
	})

	t.Run("happy path - flush fires pending stops immediately", func(t *testing.T) {
		tr := NewTypingTracker(time.Hour)
		var fired int32
		tr.Arm("c1", "a", func() { atomic.AddInt32(&fired, 1) })
		tr.Arm("c1", "b", func() { atomic.AddInt32(&fired, 1) })
		tr.Arm("c2", "a", func() { atomic.AddInt32(&fired, 100) })

		assert.Equal(t, 2, tr.Flush("c1"))
		assert.Equal(t, int32(2), atomic.LoadInt32(&fired))
		assert.Zero(t, tr.Flush("c1"))
		assert.Equal(t, 1, tr.Pending("c2"))
	})

	t.Run("sad path - disarm of unknown entry", func(t *testing.T) {
		tr := NewTypingTracker(0)
		assert.False(t, tr.Disarm("nobody", "conv"))
	})
}

func TestChatService_Typing(t *testing.T) {
	ctx := context.Background()
	conv := conversation.MustID("alice", "bob")

	setup := func(t *testing.T, idle time.Duration) (*ChatService, *hub.Client, *hub.Client) {
		f := newFixture(t)
		f.chat.typing = NewTypingTracker(idle)
		return f.chat, f.connect(t, "alice"), f.connect(t, "bob")
	}

	t.Run("happy path - start without stop auto-stops after idle", func(t *testing.T) {
		svc, a, b := setup(t, 20*time.Millisecond)
		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: "bob", ConversationID: conv}, true))

		var frames []hub.Frame
		assert.Eventually(t, func() bool {
			frames = append(frames, drain(b)...)
			return len(frames) == 2
		}, time.Second, 5*time.Millisecond)
		assert.True(t, decode[TypingPayload](t, frames[0]).IsTyping)
		stop := decode[TypingPayload](t, frames[1])
		assert.False(t, stop.IsTyping)
		assert.Equal(t, "alice", stop.UserID)
		assert.Equal(t, conv, stop.ConversationID)
	})

	t.Run("happy path - explicit stop is not followed by a second stop", func(t *testing.T) {
		svc, a, b := setup(t, 20*time.Millisecond)
		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: "bob"}, true))
		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: "bob"}, false))

		time.Sleep(60 * time.Millisecond)
		frames := drain(b)
		require.Len(t, frames, 2)
		assert.False(t, decode[TypingPayload](t, frames[1]).IsTyping)
	})

	t.Run("happy path - disconnect flushes the stop", func(t *testing.T) {
		svc, a, b := setup(t, time.Hour)
		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: "bob"}, true))
		drain(b)

		svc.ConnectionClosed(a)
		frames := drain(b)
		require.Len(t, frames, 1)
		assert.False(t, decode[TypingPayload](t, frames[0]).IsTyping)
	})

	t.Run("happy path - padded receiver id still reaches the receiver", func(t *testing.T) {
		svc, a, b := setup(t, time.Hour)
		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: " bob ", ConversationID: conv}, true))
		frames := drain(b)
		require.Len(t, frames, 1)
		assert.True(t, decode[TypingPayload](t, frames[0]).IsTyping)

		require.NoError(t, svc.Typing(ctx, a, TypingRequest{ReceiverID: " bob"}, false))
		frames = drain(b)
		require.Len(t, frames, 1)
		assert.False(t, decode[TypingPayload](t, frames[0]).IsTyping)
	})

	t.Run("sad path - mismatched conversation id", func(t *testing.T) {
		svc, a, b := setup(t, time.Hour)
		err := svc.Typing(ctx, a, TypingRequest{ReceiverID: "bob", ConversationID: conversation.MustID("alice", "carol")}, true)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Empty(t, drain(b))
	})

	t.Run("sad path - typing to yourself", func(t *testing.T) {
		svc, a, _ := setup(t, time.Hour)
		err := svc.Typing(ctx, a, TypingRequest{ReceiverID: "alice"}, true)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}
