package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	MessagesSent      prometheus.Counter
	DeliveryDropped   prometheus.Counter
	InboundEvents     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted and fanned out",
		}),
		DeliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_delivery_dropped_total",
			Help: "Frames dropped because a client buffer was full",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_inbound_events_total",
			Help: "Inbound socket events by name",
		}, []string{"event"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications created by type",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.MessagesSent,
		m.DeliveryDropped,
		m.InboundEvents,
		m.NotificationsSent,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// OnDeliveryDropped and OnConnectionsChanged satisfy hub.Observer.
func (m *Metrics) OnDeliveryDropped(string) { m.DeliveryDropped.Inc() }

func (m *Metrics) OnConnectionsChanged(n int) { m.Connections.Set(float64(n)) }

func (m *Metrics) OnMessageSent() { m.MessagesSent.Inc() }

func (m *Metrics) OnInboundEvent(event string) { m.InboundEvents.WithLabelValues(event).Inc() }

func (m *Metrics) OnNotificationSent(typ string) { m.NotificationsSent.WithLabelValues(typ).Inc() }
