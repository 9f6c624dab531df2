// Package metrics exposes gateway counters and histograms on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

const namespace = "gateway"

// Metrics holds every gateway collector. It implements the observer
// interfaces of the channel, webhook, normalize, and providers packages.
type Metrics struct {
	registry *prometheus.Registry

	WebhookDeliveries  *prometheus.CounterVec
	WebhookLatency     *prometheus.HistogramVec
	MessagesNormalized *prometheus.CounterVec
	ProviderSends      *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	Reconnects         *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg. A nil reg gets a
// fresh registry with the process and Go runtime collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{
		registry: reg,
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event kind and result.",
		}, []string{"kind", "result"}),
		WebhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_duration_seconds",
			Help:      "Webhook delivery latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		MessagesNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "messages_normalized_total",
			Help:      "Normalized messages by channel type and message type.",
		}, []string{"channel_type", "type"}),
		ProviderSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "sends_total",
			Help:      "Outbound sends by provider and result.",
		}, []string{"provider", "result"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "send_duration_seconds",
			Help:      "Outbound send latency by provider.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnects by channel type.",
		}, []string{"channel_type"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "status_transitions_total",
			Help:      "Connection status transitions.",
		}, []string{"channel_type", "from", "to"}),
	}
	reg.MustRegister(
		m.WebhookDeliveries,
		m.WebhookLatency,
		m.MessagesNormalized,
		m.ProviderSends,
		m.ProviderLatency,
		m.Reconnects,
		m.StatusTransitions,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveDelivery(kind webhook.EventKind, success bool, elapsed time.Duration) {
	m.WebhookDeliveries.WithLabelValues(kind.String(), result(success)).Inc()
	m.WebhookLatency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) MessageNormalized(channelType, messageType string) {
	m.MessagesNormalized.WithLabelValues(channelType, messageType).Inc()
}

func (m *Metrics) ObserveSend(provider string, success bool, elapsed time.Duration) {
	m.ProviderSends.WithLabelValues(provider, result(success)).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) StatusChanged(channelType channel.ChannelType, from, to channel.Status) {
	if from == "" {
		from = "none"
	}
	m.StatusTransitions.WithLabelValues(channelType.String(), string(from), string(to)).Inc()
}

func (m *Metrics) ReconnectScheduled(channelType channel.ChannelType) {
	m.Reconnects.WithLabelValues(channelType.String()).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
