// Package events publishes domain events to the rest of the marketplace.
package events

import (
	"context"
	"time"
)

const (
	TypeMessageSent         = "message.sent"
	TypeMessagesRead        = "messages.read"
	TypeMessageDeleted      = "message.deleted"
	TypeMessageReported     = "message.reported"
	TypeNotificationCreated = "notification.created"
)

// Event is keyed by conversation (or recipient) so consumers see per-key order.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

func New(typ, key string, payload any) Event {
	return Event{Type: typ, Key: key, Payload: payload, OccurredAt: time.Now().UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close(ctx context.Context) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close(context.Context) error          { return nil }
