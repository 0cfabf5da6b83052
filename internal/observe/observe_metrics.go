package observe

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the observation pipeline.
type Metrics struct {
	CapturesTotal      *prometheus.CounterVec
	CaptureDuration    *prometheus.HistogramVec
	SignificanceScore  prometheus.Histogram
	EntitiesExtracted  prometheus.Histogram
	ClusterAssignments *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemon_captures_total",
			Help: "Total capture attempts by terminal outcome.",
		}, []string{"outcome"}),
		CaptureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mnemon_capture_duration_seconds",
			Help:    "Duration of capture runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~200s
		}, []string{"outcome"}),
		SignificanceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemon_significance_score",
			Help:    "Significance score of scored events.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		EntitiesExtracted: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemon_entities_extracted",
			Help:    "Entities extracted per captured observation.",
			Buckets: prometheus.LinearBuckets(0, 5, 8), // 0 .. 35
		}),
		ClusterAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemon_cluster_assignments_total",
			Help: "Cluster assignments by result (joined or created).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CapturesTotal,
		m.CaptureDuration,
		m.SignificanceScore,
		m.EntitiesExtracted,
		m.ClusterAssignments,
	)

	return m
}
