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
			Namespace: "blockbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blockbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	channelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockbridge",
			Subsystem: "channel",
			Name:      "calls_total",
			Help:      "Calls issued by blocks, by whether they were queued before the handshake.",
		},
		[]string{"method", "queued"},
	)
	channelResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockbridge",
			Subsystem: "channel",
			Name:      "results_total",
			Help:      "Call results delivered to consumers, by result kind.",
		},
		[]string{"kind"},
	)
	channelDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockbridge",
			Subsystem: "channel",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages silently dropped, by reason.",
		},
		[]string{"reason"},
	)
	hostMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockbridge",
			Subsystem: "host",
			Name:      "messages_total",
			Help:      "Messages handled by the host, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, channelCalls, channelResults, channelDrops, hostMessages)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCall(method string, queued bool) {
	RegisterMetrics()
	channelCalls.WithLabelValues(method, strconv.FormatBool(queued)).Inc()
}

func RecordResult(kind string) {
	RegisterMetrics()
	channelResults.WithLabelValues(kind).Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	channelDrops.WithLabelValues(reason).Inc()
}

func RecordHostMessage(method, outcome string) {
	RegisterMetrics()
	hostMessages.WithLabelValues(method, outcome).Inc()
}
