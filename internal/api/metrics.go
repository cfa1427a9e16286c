package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duressvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duressvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	panicsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duressvault_panics_triggered_total",
		Help: "Number of successful panic triggers.",
	})

	recoveriesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duressvault_recoveries_completed_total",
		Help: "Number of vaults claimed after recovery.",
	})

	depositsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duressvault_deposits_total",
		Help: "Number of successful vault deposits.",
	})

	vaultsLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duressvault_vaults_locked",
		Help: "Vaults currently in the triggered, unclaimed state.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, panicsTriggered, recoveriesCompleted, depositsTotal, vaultsLocked)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
