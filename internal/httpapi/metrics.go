package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "petalsmon"

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Control API requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	apiRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Control API latency by route",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"route"},
	)

	apiRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "rejections_total",
			Help:      "Requests answered with a 4xx or 5xx error, by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(apiRequestsTotal, apiRequestSeconds, apiRejectionsTotal)
}

// MetricsMiddleware counts and times requests. The chi route pattern is
// only complete once the handler returned.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := routeLabel(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		apiRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		apiRequestSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded: unmatched paths share one
// label.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func countRejection(status int) {
	apiRejectionsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
