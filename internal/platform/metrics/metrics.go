package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Save outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry       *prometheus.Registry
	SavesTotal     *prometheus.CounterVec
	SaveDuration   *prometheus.HistogramVec
	AuditFailures  prometheus.Counter
	SessionsActive prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpActive   prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a fresh registry, which
// keeps tests isolated from each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mccd_certificate_saves_total",
			Help: "certificate save attempts by requested status, action and outcome",
		}, []string{"status", "action", "outcome"}),
		SaveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mccd_certificate_save_duration_seconds",
			Help:    "latency of the certificate save orchestration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"action"}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mccd_audit_write_failures_total",
			Help: "audit log writes that failed after a successful primary write",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mccd_wizard_sessions_active",
			Help: "open certificate wizard sessions",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mccd_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mccd_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mccd_http_active_requests",
			Help: "in-flight HTTP requests",
		}),
	}
}

// NewWithRuntime is New plus the Go runtime and process collectors, for the
// server binary.
func NewWithRuntime() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count, latency and in-flight requests. Routes
// are labelled by their pattern, not the concrete path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpActive.Inc()
			defer m.httpActive.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
