package events

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

type BreakerConfig struct {
	Name        string
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, MaxFailures: 5, Interval: time.Minute, Timeout: 30 * time.Second}
}

// Breaker stops calling a broken broker so chat traffic does not wait on it.
type Breaker struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Publisher, cfg BreakerConfig, log *zap.SugaredLogger) *Breaker {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) Publish(ctx context.Context, ev Event) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, ev)
	})
	if err != nil {
		return apperr.Unavailable("event publish failed", err)
	}
	return nil
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Close(ctx context.Context) error { return b.next.Close(ctx) }
