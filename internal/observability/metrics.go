package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgewire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	channelsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgewire",
			Subsystem: "channels",
			Name:      "active",
			Help:      "Channels currently registered.",
		},
		[]string{"kind"},
	)
	channelEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "channels",
			Name:      "events_total",
			Help:      "Channel lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	channelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "channels",
			Name:      "bytes_total",
			Help:      "Bytes moved through channel sockets.",
		},
		[]string{"kind", "direction"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Name:      "packets_total",
			Help:      "Whole messages sent or dispatched.",
		},
		[]string{"kind", "direction"},
	)
	fragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Name:      "fragments_total",
			Help:      "Wire fragments emitted for outbound messages.",
		},
		[]string{"kind"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Name:      "framing_errors_total",
			Help:      "Connections closed by protocol or dispatch errors.",
		},
		[]string{"kind", "reason"},
	)
	brokerPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Publish requests handled by the broker.",
		},
		[]string{"source"},
	)
	brokerDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Per-subscriber copies queued by broker fan-out.",
		},
	)
	brokerSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgewire",
			Subsystem: "broker",
			Name:      "subscriptions",
			Help:      "Live topic subscriptions.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			channelsActive,
			channelEvents,
			channelBytes,
			packets,
			fragments,
			framingErrors,
			brokerPublishes,
			brokerDeliveries,
			brokerSubscriptions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordChannelEvent counts open, close and connect_failed events and keeps
// the active gauge in step.
func RecordChannelEvent(kind, event string) {
	RegisterMetrics()
	channelEvents.WithLabelValues(kind, event).Inc()
	switch event {
	case "open":
		channelsActive.WithLabelValues(kind).Inc()
	case "close":
		channelsActive.WithLabelValues(kind).Dec()
	}
}

func RecordChannelBytes(kind, direction string, n int) {
	RegisterMetrics()
	channelBytes.WithLabelValues(kind, direction).Add(float64(n))
}

func RecordPacket(kind, direction string, fragmentCount int) {
	RegisterMetrics()
	packets.WithLabelValues(kind, direction).Inc()
	if direction == "out" && fragmentCount > 0 {
		fragments.WithLabelValues(kind).Add(float64(fragmentCount))
	}
}

func RecordFramingError(kind, reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(kind, reason).Inc()
}

func RecordBrokerPublish(source string, deliveries int) {
	RegisterMetrics()
	brokerPublishes.WithLabelValues(source).Inc()
	brokerDeliveries.Add(float64(deliveries))
}

func RecordBrokerSubscriptions(delta int) {
	RegisterMetrics()
	brokerSubscriptions.Add(float64(delta))
}
