package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "elanbridge"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	hubRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "requests_total",
			Help:      "Hub REST requests by method and result.",
		},
		[]string{"method", "result"},
	)
	hubRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "request_duration_seconds",
			Help:      "Hub REST request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	hubLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "logins_total",
			Help:      "Hub login attempts by result.",
		},
		[]string{"result"},
	)
	hubStreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "stream_events_total",
			Help:      "Hub stream messages by result.",
		},
		[]string{"result"},
	)
	busPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "publishes_total",
			Help:      "Bus publish attempts by result.",
		},
		[]string{"result"},
	)
	busQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Publish jobs waiting for the bus publisher.",
		},
	)
	bridgeCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Bus commands forwarded to the hub by result.",
		},
		[]string{"result"},
	)
	bridgeRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "restarts_total",
			Help:      "Bridge runs restarted after a fatal error.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			hubRequests, hubRequestDuration, hubLogins, hubStreamEvents,
			busPublishes, busQueueDepth,
			bridgeCommands, bridgeRestarts,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHubRequest(method string, ok bool, duration time.Duration) {
	RegisterMetrics()
	hubRequests.WithLabelValues(method, result(ok)).Inc()
	hubRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordHubLogin(ok bool) {
	RegisterMetrics()
	hubLogins.WithLabelValues(result(ok)).Inc()
}

// RecordStreamEvent counts one stream message; result is "ok" or "dropped".
func RecordStreamEvent(result string) {
	RegisterMetrics()
	hubStreamEvents.WithLabelValues(result).Inc()
}

func RecordBusPublish(ok bool) {
	RegisterMetrics()
	busPublishes.WithLabelValues(result(ok)).Inc()
}

func SetBusQueueDepth(n int) {
	RegisterMetrics()
	busQueueDepth.Set(float64(n))
}

// RecordCommand counts one forwarded command; result is "ok", "failed" or
// "unknown_device".
func RecordCommand(result string) {
	RegisterMetrics()
	bridgeCommands.WithLabelValues(result).Inc()
}

func RecordRestart() {
	RegisterMetrics()
	bridgeRestarts.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
