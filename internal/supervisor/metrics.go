package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "petalsmon",
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "1 for the current supervisor state, 0 otherwise",
		},
		[]string{"state"},
	)

	startsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petalsmon",
			Subsystem: "supervisor",
			Name:      "starts_total",
			Help:      "Start attempts by result",
		},
		[]string{"result"},
	)

	exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "petalsmon",
			Subsystem: "supervisor",
			Name:      "exits_total",
			Help:      "Child exits by reason",
		},
		[]string{"reason"},
	)

	outputBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "petalsmon",
			Subsystem: "supervisor",
			Name:      "output_bytes_total",
			Help:      "Bytes read from the child's console",
		},
	)

	stopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "petalsmon",
			Subsystem: "supervisor",
			Name:      "stop_duration_seconds",
			Help:      "Time from stop request until the child exited",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(stateGauge, startsTotal, exitsTotal, outputBytesTotal, stopDuration)
	setStateMetric(StateIdle)
}

func setStateMetric(cur State) {
	for _, s := range allStates {
		v := 0.0
		if s == cur {
			v = 1
		}
		stateGauge.WithLabelValues(s.String()).Set(v)
	}
}

func exitReason(st ExitStatus) string {
	switch {
	case st.Killed:
		return "killed"
	case st.Requested:
		return "stopped"
	case st.Err != nil:
		return "error"
	default:
		return "clean"
	}
}
