package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundingd"

// Recorder exposes the service counters on a private registry. A nil *Recorder is valid
// and records nothing, so components can be built without metrics in tests and CLI runs.
type Recorder struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	venueErrors     *prometheus.CounterVec
	markets         prometheus.Gauge
	lastRefresh     prometheus.Gauge

	alertTicks        *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	alertTickDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		refreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refresh_total",
			Help:      "Cache refresh attempts by outcome",
		}, []string{"outcome"}),
		refreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full aggregation cycle",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		venueErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "errors_total",
			Help:      "Failed venue fetches",
		}, []string{"venue"}),
		markets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "markets",
			Help:      "Markets in the published snapshot",
		}),
		lastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),
		alertTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "ticks_total",
			Help:      "Alert ticks by outcome",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "notifications_total",
			Help:      "Processed alert settings by status",
		}, []string{"status"}),
		alertTickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "tick_duration_seconds",
			Help:      "Duration of an alert tick",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class",
		}, []string{"route", "method", "class"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRefresh records one cache refresh cycle.
func (r *Recorder) ObserveRefresh(outcome string, took time.Duration, markets int, at time.Time) {
	if r == nil {
		return
	}
	r.refreshTotal.WithLabelValues(outcome).Inc()
	r.refreshDuration.Observe(took.Seconds())
	if outcome == "success" {
		r.markets.Set(float64(markets))
		r.lastRefresh.Set(float64(at.Unix()))
	}
}

// VenueError counts a failed venue fetch.
func (r *Recorder) VenueError(venue string) {
	if r == nil {
		return
	}
	r.venueErrors.WithLabelValues(venue).Inc()
}

// ObserveAlertTick records a processed alert tick.
func (r *Recorder) ObserveAlertTick(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.alertTicks.WithLabelValues(outcome).Inc()
	r.alertTickDuration.Observe(took.Seconds())
}

// Notification counts one processed setting by its recorded status.
func (r *Recorder) Notification(status string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(status).Inc()
}

// HTTPRequest counts a served request.
func (r *Recorder) HTTPRequest(route, method string, status int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
