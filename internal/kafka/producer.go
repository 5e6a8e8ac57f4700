package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/fathima-sithara/tiffin-realtime/internal/events"
)

// MessageWriter is satisfied by *kafkago.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes chat domain events keyed by conversation id, so one
// conversation always lands on one partition.
type Producer struct {
	writer MessageWriter
	topic  string
}

func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: NewWriter(brokers, topic), topic: topic}
}

func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(ev.Key),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "kafka write %s", p.topic)
	}
	return nil
}

func (p *Producer) Close(_ context.Context) error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
