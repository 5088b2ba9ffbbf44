package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	versionOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "model_server",
			Subsystem: "registry",
			Name:      "version_ops_total",
			Help:      "Total load/reload/retire operations against model versions",
		},
		[]string{"model", "op", "result"},
	)

	guardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "model_server",
			Subsystem: "registry",
			Name:      "instance_guards_total",
			Help:      "Total ModelInstanceUnloadGuard acquisitions and denials",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(versionOpsTotal, guardsTotal)
}
