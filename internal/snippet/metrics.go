package snippet

import "github.com/prometheus/client_golang/prometheus"

var compileDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "livehub",
		Subsystem: "snippet",
		Name:      "compile_duration_seconds",
		Help:      "Duration of snippet checks by outcome",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(compileDuration)
}
