package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the notification stage.
type Metrics struct {
	DispatchTotal   *prometheus.CounterVec
	WorthinessScore prometheus.Histogram
}

// NewMetrics registers and returns notification metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemon_notify_dispatch_total",
			Help: "Notification dispatch attempts by outcome.",
		}, []string{"outcome"}),
		WorthinessScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemon_notify_worthiness_score",
			Help:    "Worthiness score of classified completion events.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
	}

	reg.MustRegister(m.DispatchTotal, m.WorthinessScore)

	return m
}
