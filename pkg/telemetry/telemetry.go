// Package telemetry instruments the HTTP surface with Prometheus request
// metrics and logs requests that cross the slow threshold.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"campuschat/pkg/logger"
)

var slowThreshold = 200 * time.Millisecond

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuschat_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campuschat_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campuschat_http_requests_in_flight",
		Help: "Requests currently being served.",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware records per-request metrics. The route label is the mux
// template ("/v1/rooms/{roomID}/messages"), not the raw path, to keep
// cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestsInFlight.Inc()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		requestsInFlight.Dec()

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		dur := time.Since(start)
		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(srw.status)).Inc()
		requestDuration.WithLabelValues(route, r.Method).Observe(dur.Seconds())

		if dur > slowThreshold {
			logger.Warn("slow_request", "route", route, "method", r.Method, "status", srw.status, "duration_ms", dur.Milliseconds())
		}
	})
}
