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
			Namespace: "lightmesh",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lightmesh",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "node",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		},
		[]string{"from", "to"},
	)
	datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "mesh",
			Name:      "datagrams_total",
			Help:      "Mesh datagrams by direction and message type.",
		},
		[]string{"direction", "type", "ack"},
	)
	droppedDatagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "mesh",
			Name:      "dropped_datagrams_total",
			Help:      "Inbound datagrams dropped before dispatch.",
		},
		[]string{"reason"},
	)
	deliveryResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "delivery",
			Name:      "results_total",
			Help:      "Reliable delivery outcomes.",
		},
		[]string{"result"},
	)
	retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "delivery",
			Name:      "retransmissions_total",
			Help:      "Reliable message retransmissions.",
		},
	)
	pendingDeliveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Subsystem: "delivery",
			Name:      "pending",
			Help:      "Reliable messages awaiting acknowledgment.",
		},
	)
	joiners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Subsystem: "directory",
			Name:      "joiners",
			Help:      "Joiners currently held in the leader directory.",
		},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "directory",
			Name:      "evictions_total",
			Help:      "Joiner records evicted from the directory.",
		},
		[]string{"reason"},
	)
	storageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Subsystem: "storage",
			Name:      "failures_total",
			Help:      "Failed storage operations.",
		},
		[]string{"op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			stateTransitions,
			datagrams,
			droppedDatagrams,
			deliveryResults,
			retransmissions,
			pendingDeliveries,
			joiners,
			evictions,
			storageFailures,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransition(from, to string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(from, to).Inc()
}

func RecordDatagram(direction, typ, ack string) {
	RegisterMetrics()
	datagrams.WithLabelValues(direction, typ, ack).Inc()
}

func RecordDroppedDatagram(reason string) {
	RegisterMetrics()
	droppedDatagrams.WithLabelValues(reason).Inc()
}

func RecordDeliveryResult(result string) {
	RegisterMetrics()
	deliveryResults.WithLabelValues(result).Inc()
}

func RecordRetransmission() {
	RegisterMetrics()
	retransmissions.Inc()
}

func SetPendingDeliveries(n int) {
	RegisterMetrics()
	pendingDeliveries.Set(float64(n))
}

func SetJoiners(n int) {
	RegisterMetrics()
	joiners.Set(float64(n))
}

func RecordEviction(reason string) {
	RegisterMetrics()
	evictions.WithLabelValues(reason).Inc()
}

func RecordStorageFailure(op string) {
	RegisterMetrics()
	storageFailures.WithLabelValues(op).Inc()
}
