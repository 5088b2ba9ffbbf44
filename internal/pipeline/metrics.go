package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	definitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "model_server",
			Subsystem: "pipeline",
			Name:      "definitions_registered_total",
			Help:      "Total pipeline definition registration attempts",
		},
		[]string{"result"},
	)

	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "model_server",
			Subsystem: "pipeline",
			Name:      "builds_total",
			Help:      "Total per-request Pipeline builds from a registered definition",
		},
		[]string{"pipeline", "result"},
	)
)

func init() {
	prometheus.MustRegister(definitionsTotal, buildsTotal)
}
