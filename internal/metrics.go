package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "droproom"

// Metrics holds the server's Prometheus collectors. Each instance owns
// its registry so tests can build as many servers as they like.
type Metrics struct {
	registry *prometheus.Registry

	roomsCreated      prometheus.Counter
	messagesAppended  *prometheus.CounterVec
	uploads           prometheus.Counter
	uploadBytes       prometheus.Counter
	activeConns       prometheus.Gauge
	broadcastDropped  prometheus.Counter
	publishTimeouts   prometheus.Counter
	cleanupRuns       *prometheus.CounterVec
	cleanupRooms      prometheus.Counter
	cleanupFileErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "build_info",
		Help:      "Running server version.",
	}, []string{"version"}).WithLabelValues(Version).Set(1)
	return &Metrics{
		registry: reg,
		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_created_total",
			Help:      "Rooms allocated.",
		}),
		messagesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to rooms, by type.",
		}, []string{"type"}),
		uploads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Files stored through the upload endpoint.",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes stored through the upload endpoint.",
		}),
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Open realtime connections.",
		}),
		broadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_dropped_total",
			Help:      "Subscribers disconnected for not keeping up.",
		}),
		publishTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_timeouts_total",
			Help:      "Broadcasts that could not be queued in time.",
		}),
		cleanupRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_runs_total",
			Help:      "Cleanup sweeps, by outcome.",
		}, []string{"outcome"}),
		cleanupRooms: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_rooms_deleted_total",
			Help:      "Expired rooms removed by cleanup.",
		}),
		cleanupFileErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_file_delete_failures_total",
			Help:      "File deletions that failed during cleanup.",
		}),
	}
}

func (m *Metrics) IncRoomCreated() { m.roomsCreated.Inc() }

func (m *Metrics) IncMessage(kind string) { m.messagesAppended.WithLabelValues(kind).Inc() }

func (m *Metrics) AddUpload(size int64) {
	m.uploads.Inc()
	m.uploadBytes.Add(float64(size))
}

func (m *Metrics) IncConn() { m.activeConns.Inc() }

func (m *Metrics) DecConn() { m.activeConns.Dec() }

func (m *Metrics) IncDropped() { m.broadcastDropped.Inc() }

func (m *Metrics) IncPublishTimeout() { m.publishTimeouts.Inc() }

// SweepFinished records a cleanup pass.
func (m *Metrics) SweepFinished(rooms, fileFailures int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cleanupRuns.WithLabelValues(outcome).Inc()
	m.cleanupRooms.Add(float64(rooms))
	m.cleanupFileErrors.Add(float64(fileFailures))
}

// Registry exposes the collectors, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
