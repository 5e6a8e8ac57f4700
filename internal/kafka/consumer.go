package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// NotificationSender is the overlay entry point the consumer feeds.
type NotificationSender interface {
	Send(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
}

// MessageReader is satisfied by *kafkago.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	MaxRetries int
	Backoff    time.Duration
}

// Consumer ingests notifications produced by other marketplace services.
type Consumer struct {
	reader     MessageReader
	dlq        MessageWriter
	sender     NotificationSender
	maxRetries uint64
	backoff    time.Duration
	log        *zap.SugaredLogger
}

func NewReader(cfg ConsumerConfig) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader MessageReader, dlq MessageWriter, sender NotificationSender, maxRetries int, base time.Duration, log *zap.SugaredLogger) *Consumer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &Consumer{
		reader:     reader,
		dlq:        dlq,
		sender:     sender,
		maxRetries: uint64(maxRetries),
		backoff:    base,
		log:        log,
	}
}

// Start reads until ctx is cancelled. Offsets are committed after a record is
// either delivered or parked on the DLQ.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warnw("kafka read error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := c.Handle(ctx, m.Value); err != nil {
			c.log.Errorw("notification ingress failed", "offset", m.Offset, "error", err)
			if ctx.Err() != nil {
				return nil
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warnw("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// Handle decodes and delivers one record, retrying unavailable errors with
// exponential backoff. Anything that still fails goes to the DLQ.
func (c *Consumer) Handle(ctx context.Context, raw []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		c.log.Warnw("invalid notification record", "error", err)
		return c.pushToDLQ(ctx, raw, "decode")
	}

	attempt := 0
	op := func() error {
		attempt++
		_, err := c.sender.Send(ctx, &n)
		if err == nil {
			return nil
		}
		if apperr.KindOf(err) != apperr.KindUnavailable {
			return backoff.Permanent(err)
		}
		c.log.Warnw("notification send attempt failed", "attempt", attempt, "error", err)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		c.log.Errorw("pushing notification to DLQ", "attempts", attempt, "error", err)
		if dlqErr := c.pushToDLQ(ctx, raw, string(apperr.KindOf(err))); dlqErr != nil {
			return errors.Wrap(dlqErr, "notify failed and dlq push failed")
		}
		return err
	}
	return nil
}

func (c *Consumer) pushToDLQ(ctx context.Context, raw []byte, reason string) error {
	if c.dlq == nil {
		return nil
	}
	return c.dlq.WriteMessages(ctx, kafkago.Message{
		Value:   raw,
		Time:    time.Now(),
		Headers: []kafkago.Header{{Key: "reason", Value: []byte(reason)}},
	})
}

func (c *Consumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlq != nil {
		if cerr := c.dlq.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
