package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for the broadcast service
type Metrics struct {
	DispatchRuns         *prometheus.CounterVec
	DispatchDuration     prometheus.Histogram
	Deliveries           *prometheus.CounterVec
	LogWriteFailures     prometheus.Counter
	RequestCounter       *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	BroadcastJobsRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailblast",
				Name:      "dispatch_runs_total",
				Help:      "Total number of dispatch runs by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mailblast",
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of completed dispatch runs",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailblast",
				Name:      "deliveries_total",
				Help:      "Per-recipient delivery attempts by status",
			},
			[]string{"status"},
		),
		LogWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mailblast",
				Name:      "log_write_failures_total",
				Help:      "Delivery attempts whose log entry could not be written",
			},
		),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailblast",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mailblast",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		BroadcastJobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mailblast",
				Name:      "broadcast_jobs_running",
				Help:      "Queued broadcast jobs currently being processed",
			},
		),
	}

	reg.MustRegister(
		m.DispatchRuns,
		m.DispatchDuration,
		m.Deliveries,
		m.LogWriteFailures,
		m.RequestCounter,
		m.RequestDuration,
		m.BroadcastJobsRunning,
	)
	return m
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
