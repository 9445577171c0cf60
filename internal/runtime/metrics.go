package runtime

import "github.com/prometheus/client_golang/prometheus"

var (
	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_runtime_launches_total",
			Help: "Total task launches issued.",
		},
		[]string{"task", "variant"},
	)

	pointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_runtime_points_total",
			Help: "Total point tasks spawned.",
		},
		[]string{"variant"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskgrid_runtime_task_duration_seconds",
			Help:    "Handler execution time per point.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	fencesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgrid_runtime_fences_total",
			Help: "Total execution fences completed.",
		},
	)

	delinearizationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgrid_runtime_delinearizations_total",
			Help: "Total future map reshapes.",
		},
	)

	memoHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgrid_runtime_memo_hits_total",
			Help: "Single launches served from the memo cache.",
		},
	)

	inflightPoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskgrid_runtime_inflight_points",
			Help: "Point tasks currently scheduled or running.",
		},
	)
)

func init() {
	prometheus.MustRegister(launchesTotal)
	prometheus.MustRegister(pointsTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(fencesTotal)
	prometheus.MustRegister(delinearizationsTotal)
	prometheus.MustRegister(memoHitsTotal)
	prometheus.MustRegister(inflightPoints)
}
