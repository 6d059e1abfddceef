package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit and checkout flow.",
	},
	[]string{"version", "commit", "flow"},
)

func SetBuildInfo(version, commit, flow string) {
	buildInfo.WithLabelValues(version, commit, norm(flow)).Set(1)
}
