package redis

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

// LocalDeliverer is the hub side of the relay.
type LocalDeliverer interface {
	LocalBroadcast(room string, payload []byte) int
}

type relayFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Relay fans room frames out to every instance over one pub/sub channel.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	log     *zap.SugaredLogger
}

func NewRelay(r *redis.Client, prefix, instanceID string, log *zap.SugaredLogger) *Relay {
	return &Relay{client: r, channel: prefix + ":rooms", origin: instanceID, log: log}
}

func (r *Relay) Channel() string { return r.channel }

func (r *Relay) Publish(ctx context.Context, room string, payload []byte) error {
	b, err := json.Marshal(relayFrame{Origin: r.origin, Room: room, Payload: payload})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return apperr.Unavailable("relay publish failed", errors.Wrap(err, "redis.Relay.Publish"))
	}
	return nil
}

// Run delivers frames from other instances until ctx is done. Frames this
// instance published are skipped, so there is no echo loop.
func (r *Relay) Run(ctx context.Context, local LocalDeliverer) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return apperr.Unavailable("relay subscribe failed", errors.Wrap(err, "redis.Relay.Subscribe"))
	}
	r.log.Infow("relay subscribed", "channel", r.channel, "instance_id", r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, local)
		}
	}
}

func (r *Relay) handle(raw string, local LocalDeliverer) {
	var f relayFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		r.log.Warnw("relay frame decode failed", "error", err)
		return
	}
	if f.Origin == r.origin || f.Room == "" {
		return
	}
	local.LocalBroadcast(f.Room, f.Payload)
}
