package domain

import (
	"strings"
	"time"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

type NotificationType string

const (
	NotifySubscriptionCreated  NotificationType = "subscription_created"
	NotifySubscriptionExpiring NotificationType = "subscription_expiring"
	NotifySubscriptionExpired  NotificationType = "subscription_expired"
	NotifySubscriptionRenewed  NotificationType = "subscription_renewed"
	NotifyMealReminder         NotificationType = "meal_reminder"
	NotifyNewMessage           NotificationType = "new_message"
	NotifyNewReview            NotificationType = "new_review"
	NotifyReviewResponse       NotificationType = "review_response"
	NotifyProviderApproved     NotificationType = "provider_approved"
	NotifyProviderRejected     NotificationType = "provider_rejected"
	NotifyPaymentSuccess       NotificationType = "payment_success"
	NotifyPaymentFailed        NotificationType = "payment_failed"
	NotifyGeneral              NotificationType = "general"
)

var notificationTypes = map[NotificationType]struct{}{
	NotifySubscriptionCreated:  {},
	NotifySubscriptionExpiring: {},
	NotifySubscriptionExpired:  {},
	NotifySubscriptionRenewed:  {},
	NotifyMealReminder:         {},
	NotifyNewMessage:           {},
	NotifyNewReview:            {},
	NotifyReviewResponse:       {},
	NotifyProviderApproved:     {},
	NotifyProviderRejected:     {},
	NotifyPaymentSuccess:       {},
	NotifyPaymentFailed:        {},
	NotifyGeneral:              {},
}

func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Notification struct {
	ID        string           `bson:"_id" json:"id"`
	Recipient string           `bson:"recipient" json:"recipient"`
	Sender    *string          `bson:"sender,omitempty" json:"sender,omitempty"`
	Type      NotificationType `bson:"type" json:"type"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message"`
	Data      map[string]any   `bson:"data,omitempty" json:"data,omitempty"`
	Link      string           `bson:"link,omitempty" json:"link,omitempty"`
	Icon      string           `bson:"icon,omitempty" json:"icon,omitempty"`
	IsRead    bool             `bson:"is_read" json:"isRead"`
	ReadAt    *time.Time       `bson:"read_at,omitempty" json:"readAt,omitempty"`
	Priority  Priority         `bson:"priority" json:"priority"`
	ExpiresAt *time.Time       `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	CreatedAt time.Time        `bson:"created_at" json:"createdAt"`
}

// Validate checks the closed enums and required text, defaulting priority to medium.
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Recipient) == "" {
		return apperr.Validation("notification recipient is required")
	}
	if !n.Type.Valid() {
		return apperr.Validation("unknown notification type " + string(n.Type))
	}
	if strings.TrimSpace(n.Title) == "" {
		return apperr.Validation("notification title is required")
	}
	if strings.TrimSpace(n.Message) == "" {
		return apperr.Validation("notification message is required")
	}
	switch n.Priority {
	case "":
		n.Priority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return apperr.Validation("priority must be one of low, medium, high")
	}
	return nil
}

func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

func (n *Notification) Clone() *Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		c.ExpiresAt = &t
	}
	if n.Sender != nil {
		s := *n.Sender
		c.Sender = &s
	}
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

type NotificationPage struct {
	Notifications []*Notification `json:"notifications"`
	Page          int             `json:"page"`
	PageSize      int             `json:"limit"`
	Total         int64           `json:"total"`
	Pages         int64           `json:"pages"`
}
