package repository

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// userDoc tolerates documents written before is_active existed.
type userDoc struct {
	ID       string `bson:"_id"`
	Name     string `bson:"name"`
	Avatar   string `bson:"avatar"`
	Role     string `bson:"role"`
	IsActive *bool  `bson:"is_active"`
}

func (d userDoc) profile() *domain.UserProfile {
	active := d.IsActive == nil || *d.IsActive
	role := domain.Role(d.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return &domain.UserProfile{ID: d.ID, Name: d.Name, Avatar: d.Avatar, Role: role, IsActive: active}
}

// MongoUserDirectory reads the users collection owned by the auth service.
type MongoUserDirectory struct {
	col *mongo.Collection
}

func NewMongoUserDirectory(db *mongo.Database, collection string) *MongoUserDirectory {
	return &MongoUserDirectory{col: db.Collection(collection)}
}

// idFilter matches both ObjectID and string primary keys.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func (r *MongoUserDirectory) find(ctx context.Context, id string) (*domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var d userDoc
	err := r.col.FindOne(ctx, idFilter(id),
		options.FindOne().SetProjection(bson.M{"name": 1, "avatar": 1, "role": 1, "is_active": 1}),
	).Decode(&d)
	if err != nil {
		return nil, storeErr(err, "get user")
	}
	return d.profile(), nil
}

func (r *MongoUserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := r.find(ctx, userID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *MongoUserDirectory) IsActive(ctx context.Context, userID string) (bool, error) {
	p, err := r.find(ctx, userID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsActive, nil
}

func (r *MongoUserDirectory) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return r.find(ctx, userID)
}

type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.UserProfile
}

func NewMemoryUserDirectory(users ...domain.UserProfile) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[string]domain.UserProfile)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

func (d *MemoryUserDirectory) Put(u domain.UserProfile) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *MemoryUserDirectory) Exists(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}

func (d *MemoryUserDirectory) IsActive(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return ok && u.IsActive, nil
}

func (d *MemoryUserDirectory) Profile(_ context.Context, userID string) (*domain.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}
