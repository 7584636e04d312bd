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
			Namespace: "hostlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hostlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	linkMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport.",
		},
		[]string{"role", "payload"},
	)
	linkMessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "messages_received_total",
			Help:      "Complete messages delivered to the consumer stream.",
		},
		[]string{"role", "payload"},
	)
	linkMessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "messages_dropped_total",
			Help:      "Sends discarded because the link was not connected.",
		},
		[]string{"role", "payload"},
	)
	linkHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats sent after outbound idleness.",
		},
		[]string{"role"},
	)
	linkTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		},
		[]string{"role", "state"},
	)
	linkDiscoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostlink",
			Subsystem: "discovery",
			Name:      "browse_started_total",
			Help:      "Discovery browse operations started.",
		},
		[]string{"role"},
	)
	linkConnectedSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hostlink",
			Subsystem: "link",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of connected transports.",
			Buckets:   []float64{1, 5, 30, 60, 300, 1800, 3600},
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			linkMessagesSent,
			linkMessagesReceived,
			linkMessagesDropped,
			linkHeartbeats,
			linkTransitions,
			linkDiscoveryRuns,
			linkConnectedSeconds,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// LinkMetrics records link activity for one role.
type LinkMetrics struct {
	role string
}

func NewLinkMetrics(role string) LinkMetrics {
	RegisterMetrics()
	return LinkMetrics{role: role}
}

func (m LinkMetrics) Sent(payload string) {
	linkMessagesSent.WithLabelValues(m.role, payload).Inc()
}

func (m LinkMetrics) Received(payload string) {
	linkMessagesReceived.WithLabelValues(m.role, payload).Inc()
}

func (m LinkMetrics) Dropped(payload string) {
	linkMessagesDropped.WithLabelValues(m.role, payload).Inc()
}

func (m LinkMetrics) Heartbeat() {
	linkHeartbeats.WithLabelValues(m.role).Inc()
}

func (m LinkMetrics) Transition(state string) {
	linkTransitions.WithLabelValues(m.role, state).Inc()
}

func (m LinkMetrics) BrowseStarted() {
	linkDiscoveryRuns.WithLabelValues(m.role).Inc()
}

func (m LinkMetrics) ConnectionClosed(lifetime time.Duration) {
	linkConnectedSeconds.WithLabelValues(m.role).Observe(lifetime.Seconds())
}
