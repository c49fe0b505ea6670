// Package telemetry records service metrics and serves them to Prometheus.
// HTTP request latency and sizes come from MetricsMiddleware; gesture,
// recommendation and session figures are pushed by the session layer.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "dosewise-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.1.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

var defaultSizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000,
}

// Provider holds every metric the service exports on its own registry. It
// is safe for concurrent use.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec // method, route, status_code
	requestSize     prometheus.Histogram
	activeRequests  prometheus.Gauge

	gestures        *prometheus.CounterVec // kind
	recommendations prometheus.Counter
	sessions        prometheus.Gauge

	clientsOnce sync.Once
}

// NewProvider returns a provider with every metric registered at zero.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)

	p := &Provider{cfg: cfg, registry: reg}
	p.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_server_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: defaultDurationBuckets,
	}, []string{"method", "route", "status_code"})
	p.requestSize = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "http_server_request_size_bytes",
		Help:    "Size of HTTP request bodies in bytes.",
		Buckets: defaultSizeBuckets,
	})
	p.activeRequests = factory.NewGauge(prometheus.GaugeOpts{
		Name: "http_server_active_requests",
		Help: "Number of in-flight HTTP requests.",
	})
	p.gestures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gestures_recognized_total",
		Help: "Gestures recognized by kind.",
	}, []string{"kind"})
	p.recommendations = factory.NewCounter(prometheus.CounterOpts{
		Name: "recommendation_changes_total",
		Help: "Changes of derived recommendations across sessions.",
	})
	p.sessions = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Number of live sessions.",
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "service_info",
		Help: "Static service metadata.",
		ConstLabels: prometheus.Labels{
			"service":     cfg.ServiceName,
			"version":     cfg.ServiceVersion,
			"environment": cfg.Environment,
		},
	}, func() float64 { return 1 })
	return p
}

// Resource describes the service the metrics belong to.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// GestureRecognized counts one recognized gesture of kind.
func (p *Provider) GestureRecognized(kind string) {
	p.gestures.WithLabelValues(kind).Inc()
}

// RecommendationsChanged counts one change of a session's recommendations.
func (p *Provider) RecommendationsChanged() {
	p.recommendations.Inc()
}

// SessionsActive sets the live session gauge.
func (p *Provider) SessionsActive(n int) {
	p.sessions.Set(float64(n))
}

// TrackClients registers a websocket client gauge sampled from f at scrape
// time. Only the first call has an effect.
func (p *Provider) TrackClients(f func() int) {
	p.clientsOnce.Do(func() {
		promauto.With(p.registry).NewGaugeFunc(prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected websocket clients.",
		}, func() float64 { return float64(f()) })
	})
}

// MetricsMiddleware records latency, request size and in-flight requests.
// Routes are labelled by their pattern, not the raw path; requests that match
// no route share the "unmatched" label.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			req := c.Request()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			p.requestDuration.
				WithLabelValues(req.Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())

			if req.ContentLength > 0 {
				p.requestSize.Observe(float64(req.ContentLength))
			}
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}
