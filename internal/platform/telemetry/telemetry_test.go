package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	e := echo.New()
	e.GET("/metrics", p.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from scrape, got %d", rec.Code)
	}
	return rec.Body.String()
}

// ---------------------------------------------------------------------------
// Provider tests
// ---------------------------------------------------------------------------

func TestProvider_Defaults(t *testing.T) {
	p := NewProvider(Config{})
	res := p.Resource()
	if res["service.name"] != "dosewise-server" {
		t.Errorf("unexpected service name %q", res["service.name"])
	}
	if res["deployment.environment"] != "development" {
		t.Errorf("unexpected environment %q", res["deployment.environment"])
	}
	out := scrape(t, p)
	if !strings.Contains(out, `service_info{environment="development",service="dosewise-server",version="0.1.0"} 1`) {
		t.Errorf("expected service_info in exposition\n%s", out)
	}
}

func TestProvider_GestureCounters(t *testing.T) {
	p := NewProvider(Config{})
	p.GestureRecognized("tap")
	p.GestureRecognized("tap")
	p.GestureRecognized("swipe")

	if got := testutil.ToFloat64(p.gestures.WithLabelValues("tap")); got != 2 {
		t.Errorf("expected 2 taps, got %v", got)
	}
	if got := testutil.ToFloat64(p.gestures.WithLabelValues("swipe")); got != 1 {
		t.Errorf("expected 1 swipe, got %v", got)
	}
}

func TestProvider_SessionsAndRecommendations(t *testing.T) {
	p := NewProvider(Config{})
	p.SessionsActive(3)
	p.SessionsActive(2)
	p.RecommendationsChanged()

	if got := testutil.ToFloat64(p.sessions); got != 2 {
		t.Errorf("expected sessions gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(p.recommendations); got != 1 {
		t.Errorf("expected 1 recommendation change, got %v", got)
	}
}

func TestProvider_TrackClientsOnce(t *testing.T) {
	p := NewProvider(Config{})
	p.TrackClients(func() int { return 2 })
	// a second registration would panic on a duplicate collector
	p.TrackClients(func() int { return 9 })

	out := scrape(t, p)
	if !strings.Contains(out, "websocket_clients 2") {
		t.Errorf("expected websocket_clients 2\n%s", out)
	}
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_RecordsRouteAndStatus(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/missing/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	})

	for _, path := range []string{"/api/v1/sessions/a/metrics", "/api/v1/sessions/b/metrics", "/missing/x"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t, p)
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/api/v1/sessions/:id/metrics",status_code="200"} 2`,
		`http_server_request_duration_seconds_count{method="GET",route="/missing/:id",status_code="404"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q\n%s", want, out)
		}
	}
	if got := testutil.ToFloat64(p.activeRequests); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}
}

func TestMetricsMiddleware_RequestSizeAndMethodNotAllowed(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/metrics", p.PrometheusHandler())

	req := httptest.NewRequest(http.MethodPost, "/metrics", strings.NewReader(`{"events":[]}`))
	e.ServeHTTP(httptest.NewRecorder(), req)

	out := scrape(t, p)
	for _, want := range []string{
		`http_server_request_size_bytes_bucket{le="100"} 1`,
		`status_code="405"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q\n%s", want, out)
		}
	}
}

func TestMetricsMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/nope/1", "/nope/2", "/random/deep/path"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t, p)
	want := `http_server_request_duration_seconds_count{method="GET",route="unmatched",status_code="404"} 3`
	if !strings.Contains(out, want) {
		t.Errorf("expected %q\n%s", want, out)
	}
	if strings.Contains(out, `route="/nope/1"`) {
		t.Error("raw request path leaked into the route label")
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	p := NewProvider(Config{})
	p.GestureRecognized("swipe")
	p.GestureRecognized("double_tap")

	out := scrape(t, p)
	for _, want := range []string{
		"# TYPE http_server_request_duration_seconds histogram",
		"# TYPE gestures_recognized_total counter",
		`gestures_recognized_total{kind="double_tap"} 1`,
		`gestures_recognized_total{kind="swipe"} 1`,
		"recommendation_changes_total 0",
		"sessions_active 0",
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected exposition to contain %q\n%s", want, out)
		}
	}
	if strings.Index(out, `kind="double_tap"`) > strings.Index(out, `kind="swipe"`) {
		t.Error("expected sorted gesture kinds")
	}
}
