package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/events"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/repository"
)

// NotificationService persists overlay notifications and pushes them to the
// recipient's personal room. Every query is scoped to the caller.
type NotificationService struct {
	store repository.NotificationStore
	hub   *hub.Hub
	pub   events.Publisher
	rec   Recorder
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewNotificationService(store repository.NotificationStore, h *hub.Hub, pub events.Publisher, rec Recorder, log *zap.SugaredLogger) *NotificationService {
	if pub == nil {
		pub = events.Nop{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NotificationService{store: store, hub: h, pub: pub, rec: rec, log: log, now: time.Now}
}

func (s *NotificationService) Send(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n == nil {
		return nil, apperr.Validation("notification is required")
	}
	created, err := s.store.Create(ctx, n)
	if err != nil {
		return nil, apperr.Normalize(err, "notification store unavailable")
	}
	s.hub.Emit(ctx, hub.PersonalRoom(created.Recipient), EventNotificationNew, NotificationPayload{Notification: created})
	s.rec.OnNotificationSent(string(created.Type))
	if err := s.pub.Publish(ctx, events.New(events.TypeNotificationCreated, created.Recipient, created)); err != nil {
		s.log.Warnw("domain event publish failed", "event", events.TypeNotificationCreated, "user_id", created.Recipient, "error", err)
	}
	return created, nil
}

// MarkRead replies on origin when the request came from a socket.
func (s *NotificationService) MarkRead(ctx context.Context, requester domain.Identity, origin *hub.Client, id string) (*domain.Notification, error) {
	if id == "" {
		return nil, apperr.Validation("notificationId is required")
	}
	n, err := s.store.MarkRead(ctx, id, requester.UserID)
	if err != nil {
		return nil, apperr.Normalize(err, "notification store unavailable")
	}
	if origin != nil {
		s.hub.EmitTo(origin, EventNotificationUpdate, NotificationPayload{Notification: n})
	}
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, requester domain.Identity, origin *hub.Client) (int64, error) {
	count, err := s.store.MarkAllRead(ctx, requester.UserID)
	if err != nil {
		return 0, apperr.Normalize(err, "notification store unavailable")
	}
	if origin != nil {
		s.hub.EmitTo(origin, EventNotificationsRead, AllReadPayload{Success: true, Count: count})
	}
	return count, nil
}

// UnreadCount is computed from the store on every call.
func (s *NotificationService) UnreadCount(ctx context.Context, requester domain.Identity, origin *hub.Client) (int64, error) {
	count, err := s.store.UnreadCount(ctx, requester.UserID)
	if err != nil {
		return 0, apperr.Normalize(err, "notification store unavailable")
	}
	if origin != nil {
		s.hub.EmitTo(origin, EventUnreadCount, UnreadCountPayload{Count: count})
	}
	return count, nil
}

func (s *NotificationService) List(ctx context.Context, requester domain.Identity, page, limit int, unreadOnly bool) (*domain.NotificationPage, error) {
	p, err := s.store.List(ctx, requester.UserID, page, limit, unreadOnly)
	return p, apperr.Normalize(err, "notification store unavailable")
}

func (s *NotificationService) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, apperr.Normalize(err, "notification store unavailable")
	}
	if n > 0 {
		s.log.Infow("purged expired notifications", "count", n)
	}
	return n, nil
}

// RunPurge deletes expired notifications every interval until ctx is done.
func (s *NotificationService) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil {
				s.log.Warnw("notification purge failed", "error", err)
			}
		}
	}
}
