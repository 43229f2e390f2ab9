package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds the Prometheus metrics owned by the engine. They are
// registered against the Registerer passed in Config so tests can use an
// isolated registry.
type engineMetrics struct {
	// buildsTotal counts corpus builds by outcome: "success" or "failure".
	buildsTotal *prometheus.CounterVec

	// buildDurationSeconds records the wall-clock time of each build.
	buildDurationSeconds prometheus.Histogram

	// chunks is the number of chunks in the installed collection.
	chunks prometheus.Gauge

	// state is the numeric engine state (0 uninitialized, 1 loading, 2 ready).
	state prometheus.Gauge

	// embeddingFailuresTotal counts segments dropped during builds.
	embeddingFailuresTotal prometheus.Counter

	// snapshotLoadsTotal counts snapshot loads by result: "hit", "miss",
	// "corrupt", "mismatch", or "error".
	snapshotLoadsTotal *prometheus.CounterVec

	// snapshotSavesTotal counts snapshot writes by result: "success" or "failure".
	snapshotSavesTotal *prometheus.CounterVec

	// mirrorPublishTotal counts mirror publishes by result.
	mirrorPublishTotal *prometheus.CounterVec

	// retrievalsTotal counts Retrieve calls by outcome: "ok", "not_ready",
	// "empty_question", "embedding_failed", or "error".
	retrievalsTotal *prometheus.CounterVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)

	return &engineMetrics{
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "builds_total",
			Help:      "Total number of corpus builds, partitioned by outcome.",
		}, []string{"outcome"}),

		buildDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of corpus builds, including embedding.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		chunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "chunks",
			Help:      "Number of chunks in the installed collection.",
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "state",
			Help:      "Engine state: 0 uninitialized, 1 loading, 2 ready.",
		}),

		embeddingFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "embedding_failures_total",
			Help:      "Total number of segments dropped because their embedding failed.",
		}),

		snapshotLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "snapshot",
			Name:      "loads_total",
			Help:      "Total number of snapshot load attempts, partitioned by result.",
		}, []string{"result"}),

		snapshotSavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "snapshot",
			Name:      "saves_total",
			Help:      "Total number of snapshot writes, partitioned by result.",
		}, []string{"result"}),

		mirrorPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "mirror",
			Name:      "publish_total",
			Help:      "Total number of collection publishes to the vector mirror, partitioned by result.",
		}, []string{"result"}),

		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profilerag",
			Subsystem: "engine",
			Name:      "retrievals_total",
			Help:      "Total number of retrieval calls, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}
