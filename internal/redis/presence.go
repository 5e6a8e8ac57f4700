// Package redis mirrors presence into Redis and relays room frames between instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Keys:
//   - <prefix>:conn:<user>     hash socketID -> ConnMeta
//   - <prefix>:presence:<user> json Presence
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type ConnMeta struct {
	SocketID    string `json:"socket_id"`
	InstanceID  string `json:"instance_id"`
	ConnectedAt int64  `json:"connected_at"`
}

type Presence struct {
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"last_seen"`
	Connections int64  `json:"connections"`
}

func NewStore(r *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{client: r, prefix: prefix, ttl: ttl}
}

func (s *Store) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }
func (s *Store) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *Store) setPresence(ctx context.Context, pipe redis.Pipeliner, userID, status string, ttl time.Duration) {
	b, _ := json.Marshal(Presence{UserID: userID, Status: status, LastSeen: time.Now().Unix()})
	pipe.Set(ctx, s.presenceKey(userID), b, ttl)
}

// AddConnection records one socket and marks the user online.
func (s *Store) AddConnection(ctx context.Context, userID, socketID, instanceID string) error {
	meta, _ := json.Marshal(ConnMeta{SocketID: socketID, InstanceID: instanceID, ConnectedAt: time.Now().Unix()})
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.connKey(userID), socketID, meta)
		pipe.Expire(ctx, s.connKey(userID), s.ttl)
		s.setPresence(ctx, pipe, userID, StatusOnline, s.ttl)
		return nil
	})
	if err != nil {
		return apperr.Unavailable("presence add failed", errors.Wrap(err, "redis.AddConnection"))
	}
	return nil
}

// Touch extends the TTLs while a socket is active.
func (s *Store) Touch(ctx context.Context, userID string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.connKey(userID), s.ttl)
		s.setPresence(ctx, pipe, userID, StatusOnline, s.ttl)
		return nil
	})
	if err != nil {
		return apperr.Unavailable("presence touch failed", errors.Wrap(err, "redis.Touch"))
	}
	return nil
}

// RemoveConnection drops one socket; the user goes offline once none remain.
func (s *Store) RemoveConnection(ctx context.Context, userID, socketID string) error {
	key := s.connKey(userID)
	if err := s.client.HDel(ctx, key, socketID).Err(); err != nil {
		return apperr.Unavailable("presence remove failed", errors.Wrap(err, "redis.RemoveConnection"))
	}
	cnt, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return apperr.Unavailable("presence remove failed", errors.Wrap(err, "redis.RemoveConnection.HLen"))
	}
	if cnt > 0 {
		return nil
	}
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		s.setPresence(ctx, pipe, userID, StatusOffline, 0)
		return nil
	})
	if err != nil {
		return apperr.Unavailable("presence remove failed", errors.Wrap(err, "redis.RemoveConnection.Set"))
	}
	return nil
}

// GetPresence reports offline for users never seen.
func (s *Store) GetPresence(ctx context.Context, userID string) (*Presence, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return &Presence{UserID: userID, Status: StatusOffline}, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("presence lookup failed", errors.Wrap(err, "redis.GetPresence"))
	}
	var p Presence
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, apperr.Unavailable("presence decode failed", err)
	}
	p.UserID = userID
	cnt, err := s.client.HLen(ctx, s.connKey(userID)).Result()
	if err == nil {
		p.Connections = cnt
	}
	return &p, nil
}
