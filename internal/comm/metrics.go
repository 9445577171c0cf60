package comm

import "github.com/prometheus/client_golang/prometheus"

var (
	initializedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_comm_initialized_total",
			Help: "Communicator groups initialized, by backend.",
		},
		[]string{"backend"},
	)

	finalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_comm_finalized_total",
			Help: "Communicator groups finalized, by backend.",
		},
		[]string{"backend"},
	)

	reshapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_comm_reshapes_total",
			Help: "Communicator handles reshaped to a multi-dimensional domain.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(initializedTotal)
	prometheus.MustRegister(finalizedTotal)
	prometheus.MustRegister(reshapesTotal)
}
