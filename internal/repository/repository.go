package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// MessageStore is the durable message log. Every mutation is atomic per message.
type MessageStore interface {
	Append(ctx context.Context, in domain.NewMessage) (*domain.Message, error)
	Get(ctx context.Context, id string) (*domain.Message, error)
	ListByConversation(ctx context.Context, convID, requester string, page, pageSize int) (*domain.Page, error)
	// MarkRead transitions the given messages addressed to reader and returns only
	// the ones that changed. On error it still returns those already changed.
	MarkRead(ctx context.Context, ids []string, reader string) ([]*domain.Message, error)
	MarkConversationRead(ctx context.Context, convID, reader string) ([]*domain.Message, error)
	SoftDelete(ctx context.Context, id, requester string) (*domain.Message, error)
	Report(ctx context.Context, id, reporter, reason string) (*domain.Message, error)
	Conversations(ctx context.Context, userID string) ([]domain.ConversationDigest, error)
	UnreadTotal(ctx context.Context, userID string) (int64, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	MarkRead(ctx context.Context, id, recipient string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	UnreadCount(ctx context.Context, recipient string) (int64, error)
	List(ctx context.Context, recipient string, page, pageSize int, unreadOnly bool) (*domain.NotificationPage, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	IsActive(ctx context.Context, userID string) (bool, error)
	Profile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// newID returns a time-ordered id so (created_at, _id) sorts in insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// nowUTC is truncated to the millisecond precision Mongo stores.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
