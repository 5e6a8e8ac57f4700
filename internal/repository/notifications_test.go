package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

func notif(recipient string) *domain.Notification {
	return &domain.Notification{
		Recipient: recipient,
		Type:      domain.NotifyGeneral,
		Title:     "Hello",
		Message:   "Welcome",
	}
}

func TestMemoryNotificationStore(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path - create defaults priority", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		n, err := s.Create(ctx, notif("u1"))
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, domain.PriorityMedium, n.Priority)
		assert.False(t, n.IsRead)
	})

	t.Run("sad path - unknown type", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		in := notif("u1")
		in.Type = "party_invite"
		_, err := s.Create(ctx, in)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("happy path - mark read is scoped and idempotent", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		n, err := s.Create(ctx, notif("u1"))
		require.NoError(t, err)

		_, err = s.MarkRead(ctx, n.ID, "u2")
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		out, err := s.MarkRead(ctx, n.ID, "u1")
		require.NoError(t, err)
		assert.True(t, out.IsRead)
		first := *out.ReadAt

		out, err = s.MarkRead(ctx, n.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, first, *out.ReadAt)

		_, err = s.MarkRead(ctx, "missing", "u1")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("happy path - mark all read counts changes", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		for i := 0; i < 3; i++ {
			_, err := s.Create(ctx, notif("u1"))
			require.NoError(t, err)
		}
		_, err := s.Create(ctx, notif("u2"))
		require.NoError(t, err)

		n, err := s.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		n, err = s.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		c, err := s.UnreadCount(ctx, "u2")
		require.NoError(t, err)
		assert.EqualValues(t, 1, c)
	})

	t.Run("happy path - list pages newest first and filters unread", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		var ids []string
		for i := 0; i < 3; i++ {
			n, err := s.Create(ctx, notif("u1"))
			require.NoError(t, err)
			ids = append(ids, n.ID)
			time.Sleep(2 * time.Millisecond)
		}
		_, err := s.MarkRead(ctx, ids[2], "u1")
		require.NoError(t, err)

		p, err := s.List(ctx, "u1", 1, 2, false)
		require.NoError(t, err)
		require.Len(t, p.Notifications, 2)
		assert.Equal(t, ids[2], p.Notifications[0].ID)
		assert.EqualValues(t, 3, p.Total)
		assert.EqualValues(t, 2, p.Pages)

		p, err = s.List(ctx, "u1", 1, 10, true)
		require.NoError(t, err)
		assert.Len(t, p.Notifications, 2)
	})

	t.Run("happy path - expired hidden and purged", func(t *testing.T) {
		s := NewMemoryNotificationStore()
		past := time.Now().Add(-time.Minute)
		in := notif("u1")
		in.ExpiresAt = &past
		_, err := s.Create(ctx, in)
		require.NoError(t, err)
		_, err = s.Create(ctx, notif("u1"))
		require.NoError(t, err)

		c, err := s.UnreadCount(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, c)

		purged, err := s.PurgeExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 1, purged)
	})
}

func TestMemoryUserDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryUserDirectory(
		domain.UserProfile{ID: "u1", Name: "Asha", IsActive: true},
		domain.UserProfile{ID: "u2", Name: "Ravi", IsActive: false},
	)

	ok, err := d.Exists(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := d.IsActive(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, active)

	p, err := d.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", p.Name)

	_, err = d.Profile(ctx, "u3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUserDocProfile(t *testing.T) {
	p := userDoc{ID: "u1"}.profile()
	assert.True(t, p.IsActive)
	assert.Equal(t, domain.RoleUser, p.Role)

	off := false
	assert.False(t, userDoc{ID: "u1", IsActive: &off}.profile().IsActive)
}
