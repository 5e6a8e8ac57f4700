package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.SugaredLogger
}

func NewNATSPublisher(url, subjectPrefix string, log *zap.SugaredLogger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tiffin-realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NATSPublisher{nc: nc, prefix: subjectPrefix, log: log}, nil
}

func (p *NATSPublisher) Subject(typ string) string {
	if p.prefix == "" {
		return typ
	}
	return p.prefix + "." + typ
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if p == nil || p.nc == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(ev.Type), b); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	return nil
}

func (p *NATSPublisher) Close(_ context.Context) error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
