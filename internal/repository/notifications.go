package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

func prepareNotification(n *domain.Notification) (*domain.Notification, error) {
	c := n.Clone()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.ID = newID()
	c.IsRead = false
	c.ReadAt = nil
	c.CreatedAt = nowUTC()
	return c, nil
}

type MongoNotificationStore struct {
	col *mongo.Collection
}

func NewMongoNotificationStore(db *mongo.Database, collection string) *MongoNotificationStore {
	return &MongoNotificationStore{col: db.Collection(collection)}
}

// EnsureIndexes also installs a TTL index so the server drops expired rows
// even when the purge loop is not running.
func (r *MongoNotificationStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "is_read", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return storeErr(err, "create notification indexes")
}

func (r *MongoNotificationStore) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	doc, err := prepareNotification(n)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, storeErr(err, "insert notification")
	}
	return doc, nil
}

func (r *MongoNotificationStore) MarkRead(ctx context.Context, id, recipient string) (*domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var n domain.Notification
	// Other users' notifications are indistinguishable from missing ones.
	err := r.col.FindOne(ctx, bson.M{"_id": id, "recipient": recipient}).Decode(&n)
	if err != nil {
		return nil, storeErr(err, "get notification")
	}
	if n.IsRead {
		return &n, nil
	}
	now := nowUTC()
	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "recipient": recipient},
		bson.M{"$set": bson.M{"is_read": true, "read_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&n)
	if err != nil {
		return nil, storeErr(err, "mark notification read")
	}
	return &n, nil
}

func (r *MongoNotificationStore) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	now := nowUTC()
	res, err := r.col.UpdateMany(ctx,
		bson.M{"recipient": recipient, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": now}},
	)
	if err != nil {
		return 0, storeErr(err, "mark all notifications read")
	}
	return res.ModifiedCount, nil
}

func (r *MongoNotificationStore) liveFilter(recipient string, unreadOnly bool) bson.M {
	f := bson.M{
		"recipient": recipient,
		"$or": []bson.M{
			{"expires_at": bson.M{"$exists": false}},
			{"expires_at": nil},
			{"expires_at": bson.M{"$gt": nowUTC()}},
		},
	}
	if unreadOnly {
		f["is_read"] = false
	}
	return f
}

func (r *MongoNotificationStore) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.col.CountDocuments(ctx, r.liveFilter(recipient, true))
	if err != nil {
		return 0, storeErr(err, "count notifications")
	}
	return n, nil
}

func (r *MongoNotificationStore) List(ctx context.Context, recipient string, page, pageSize int, unreadOnly bool) (*domain.NotificationPage, error) {
	page, pageSize = domain.ClampPage(page, pageSize)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := r.liveFilter(recipient, unreadOnly)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "count notifications")
	}
	cur, err := r.col.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page-1)*pageSize)).
		SetLimit(int64(pageSize)))
	if err != nil {
		return nil, storeErr(err, "find notifications")
	}
	items := []*domain.Notification{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, storeErr(err, "decode notifications")
	}
	return &domain.NotificationPage{
		Notifications: items,
		Page:          page,
		PageSize:      pageSize,
		Total:         total,
		Pages:         domain.PageCount(total, pageSize),
	}, nil
}

func (r *MongoNotificationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.col.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, storeErr(err, "purge notifications")
	}
	return res.DeletedCount, nil
}

// MemoryNotificationStore backs tests and the memory store driver.
type MemoryNotificationStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Notification
	now   func() time.Time
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		items: make(map[string]*domain.Notification),
		now:   nowUTC,
	}
}

func (s *MemoryNotificationStore) Create(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	doc, err := prepareNotification(n)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.items[doc.ID] = doc
	s.mu.Unlock()
	return doc.Clone(), nil
}

func (s *MemoryNotificationStore) MarkRead(_ context.Context, id, recipient string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Recipient != recipient {
		return nil, apperr.NotFound("notification not found")
	}
	if !n.IsRead {
		now := s.now()
		n.IsRead = true
		n.ReadAt = &now
	}
	return n.Clone(), nil
}

func (s *MemoryNotificationStore) MarkAllRead(_ context.Context, recipient string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	now := s.now()
	for _, n := range s.items {
		if n.Recipient == recipient && !n.IsRead {
			n.IsRead = true
			t := now
			n.ReadAt = &t
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryNotificationStore) visible(recipient string, unreadOnly bool) []*domain.Notification {
	now := s.now()
	out := []*domain.Notification{}
	for _, n := range s.items {
		if n.Recipient != recipient || n.Expired(now) {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryNotificationStore) UnreadCount(_ context.Context, recipient string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.visible(recipient, true))), nil
}

func (s *MemoryNotificationStore) List(_ context.Context, recipient string, page, pageSize int, unreadOnly bool) (*domain.NotificationPage, error) {
	page, pageSize = domain.ClampPage(page, pageSize)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.visible(recipient, unreadOnly)
	out := &domain.NotificationPage{
		Notifications: []*domain.Notification{},
		Page:          page,
		PageSize:      pageSize,
		Total:         int64(len(all)),
		Pages:         domain.PageCount(int64(len(all)), pageSize),
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return out, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	for _, n := range all[start:end] {
		out.Notifications = append(out.Notifications, n.Clone())
	}
	return out, nil
}

func (s *MemoryNotificationStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.items {
		if item.Expired(now) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}
