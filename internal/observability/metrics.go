package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	commandsEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "commands_encoded_total",
			Help:      "Control commands encoded and submitted.",
		},
		[]string{"nukleus", "kind"},
	)
	commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "command_failures_total",
			Help:      "Control commands that failed before reaching a transport, or at submit.",
		},
		[]string{"nukleus", "kind", "stage"},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "replies_total",
			Help:      "Replies matched to pending commands by outcome.",
		},
		[]string{"outcome"},
	)
	unknownCorrelations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "unknown_total",
			Help:      "Replies discarded for unknown, duplicate or late correlation ids.",
		},
	)
	pendingCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "pending",
			Help:      "Commands awaiting a reply.",
		},
	)
	nukleusCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nukleus",
			Name:      "commands_total",
			Help:      "Commands handled by the reference nukleus.",
		},
		[]string{"nukleus", "kind", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			commandsEncoded,
			commandFailures,
			replies,
			unknownCorrelations,
			pendingCommands,
			nukleusCommands,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"node":   node,
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	httpRequests.With(labels).Inc()
	httpDuration.With(labels).Observe(duration.Seconds())
}

func RecordCommandEncoded(nukleus, kind string) {
	commandsEncoded.WithLabelValues(nukleus, kind).Inc()
}

// RecordCommandFailure counts a failed command. stage is "encode",
// "register" or "submit".
func RecordCommandFailure(nukleus, kind, stage string) {
	commandFailures.WithLabelValues(nukleus, kind, stage).Inc()
}

// RecordReply counts a resolved completion. outcome is "succeeded",
// "failed" or "abandoned".
func RecordReply(outcome string) {
	replies.WithLabelValues(outcome).Inc()
}

func RecordUnknownCorrelation() {
	unknownCorrelations.Inc()
}

func AddPending(delta int) {
	pendingCommands.Add(float64(delta))
}

func RecordNukleusCommand(nukleus, kind string, ok bool) {
	nukleusCommands.WithLabelValues(nukleus, kind, strconv.FormatBool(ok)).Inc()
}
