package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/events"
)

type countingRecorder struct {
	sent  int
	types []string
}

func (r *countingRecorder) OnMessageSent() { r.sent++ }
func (r *countingRecorder) OnNotificationSent(typ string) {
	r.types = append(r.types, typ)
}

func general(recipient, title string) *domain.Notification {
	return &domain.Notification{
		Recipient: recipient,
		Type:      domain.NotifyGeneral,
		Title:     title,
		Message:   "body",
	}
}

func TestNotificationService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path - only the recipient's sockets get it", func(t *testing.T) {
		f := newFixture(t)
		rec := &countingRecorder{}
		f.notify.rec = rec
		b1 := f.connect(t, "bob")
		b2 := f.connect(t, "bob")
		a := f.connect(t, "alice")

		n, err := f.notify.Send(ctx, general("bob", "Welcome"))
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, domain.PriorityMedium, n.Priority)

		assert.Equal(t, []string{EventNotificationNew}, names(drain(b1)))
		assert.Equal(t, []string{EventNotificationNew}, names(drain(b2)))
		assert.Empty(t, drain(a))
		assert.Equal(t, []string{string(domain.NotifyGeneral)}, rec.types)
		assert.Equal(t, []string{events.TypeNotificationCreated}, f.pub.types())
	})

	t.Run("sad path - invalid notification", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.notify.Send(ctx, &domain.Notification{Recipient: "bob", Type: "party", Title: "x", Message: "y"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		_, err = f.notify.Send(ctx, nil)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Empty(t, f.pub.events)
	})
}

func TestNotificationService_ReadFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := domain.Identity{UserID: "bob"}
	b := f.connect(t, "bob")

	first, err := f.notify.Send(ctx, general("bob", "one"))
	require.NoError(t, err)
	_, err = f.notify.Send(ctx, general("bob", "two"))
	require.NoError(t, err)
	other, err := f.notify.Send(ctx, general("alice", "mine"))
	require.NoError(t, err)
	drain(b)

	t.Run("happy path - unread count replies on the socket", func(t *testing.T) {
		n, err := f.notify.UnreadCount(ctx, bob, b)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		frames := drain(b)
		require.Equal(t, []string{EventUnreadCount}, names(frames))
		assert.Equal(t, int64(2), decode[UnreadCountPayload](t, frames[0]).Count)
	})

	t.Run("happy path - mark one read", func(t *testing.T) {
		n, err := f.notify.MarkRead(ctx, bob, b, first.ID)
		require.NoError(t, err)
		assert.True(t, n.IsRead)
		assert.NotNil(t, n.ReadAt)
		assert.Equal(t, []string{EventNotificationUpdate}, names(drain(b)))
	})

	t.Run("sad path - someone else's notification", func(t *testing.T) {
		_, err := f.notify.MarkRead(ctx, bob, b, other.ID)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		_, err = f.notify.MarkRead(ctx, bob, b, "missing")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		_, err = f.notify.MarkRead(ctx, bob, b, "")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Empty(t, drain(b))
	})

	t.Run("happy path - mark all read is scoped and idempotent", func(t *testing.T) {
		count, err := f.notify.MarkAllRead(ctx, bob, b)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		frames := drain(b)
		require.Equal(t, []string{EventNotificationsRead}, names(frames))
		assert.Equal(t, AllReadPayload{Success: true, Count: 1}, decode[AllReadPayload](t, frames[0]))

		count, err = f.notify.MarkAllRead(ctx, bob, nil)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, drain(b))

		n, err := f.notify.UnreadCount(ctx, domain.Identity{UserID: "alice"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("happy path - list pages newest first", func(t *testing.T) {
		p, err := f.notify.List(ctx, bob, 1, 1, false)
		require.NoError(t, err)
		assert.Equal(t, int64(2), p.Total)
		assert.Equal(t, int64(2), p.Pages)
		require.Len(t, p.Notifications, 1)
		assert.Equal(t, "two", p.Notifications[0].Title)

		unread, err := f.notify.List(ctx, bob, 1, 10, true)
		require.NoError(t, err)
		assert.Empty(t, unread.Notifications)
	})
}

func TestNotificationService_Purge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	stale := general("bob", "stale")
	stale.ExpiresAt = &past
	fresh := general("bob", "fresh")
	fresh.ExpiresAt = &future
	_, err := f.notify.Send(ctx, stale)
	require.NoError(t, err)
	_, err = f.notify.Send(ctx, fresh)
	require.NoError(t, err)
	_, err = f.notify.Send(ctx, general("bob", "forever"))
	require.NoError(t, err)

	t.Run("happy path - expired notifications are hidden before purge", func(t *testing.T) {
		n, err := f.notify.UnreadCount(ctx, domain.Identity{UserID: "bob"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("happy path - purge removes only expired", func(t *testing.T) {
		removed, err := f.notify.PurgeOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		removed, err = f.notify.PurgeOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("happy path - loop stops with its context", func(t *testing.T) {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			f.notify.RunPurge(loopCtx, 5*time.Millisecond)
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("purge loop did not stop")
		}
	})
}
