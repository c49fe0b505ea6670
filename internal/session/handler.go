package session

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/310511/V-medithon-sub003/internal/gesture"
	"github.com/310511/V-medithon-sub003/internal/performance"
	"github.com/310511/V-medithon-sub003/internal/platform/openapi"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.CreateSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.POST("/sessions/:id/touches", h.PostTouches)
	api.PUT("/sessions/:id/telemetry", h.PutTelemetry)
	api.PUT("/sessions/:id/online", h.PutOnline)
	api.GET("/sessions/:id/metrics", h.GetMetrics)
	api.GET("/sessions/:id/recommendations", h.GetRecommendations)
	api.GET("/sessions/:id/image", h.GetImage)
}

// Operations documents the routes RegisterRoutes mounts under base.
func (h *Handler) Operations(base string) []openapi.Operation {
	op := func(method, path, summary, body, resp string, status int) openapi.Operation {
		return openapi.Operation{
			Method: method, Path: base + path, Summary: summary, Tag: "sessions",
			RequestBody: body, Response: resp, Status: status,
		}
	}
	return []openapi.Operation{
		op(http.MethodPost, "/sessions", "Create a session", "", "SessionCreated", http.StatusCreated),
		op(http.MethodDelete, "/sessions/:id", "Close a session", "", "", http.StatusNoContent),
		op(http.MethodPost, "/sessions/:id/touches", "Feed a batch of touch events", "TouchBatch", "TouchResult", 0),
		op(http.MethodPut, "/sessions/:id/telemetry", "Report runtime capabilities", "TelemetryReport", "TelemetryResult", 0),
		op(http.MethodPut, "/sessions/:id/online", "Report connectivity", "OnlineStatus", "Recommendations", 0),
		op(http.MethodGet, "/sessions/:id/metrics", "Current performance metrics", "", "Metrics", 0),
		op(http.MethodGet, "/sessions/:id/recommendations", "Current recommendations", "", "Recommendations", 0),
		op(http.MethodGet, "/sessions/:id/image", "Optimized image URL for src", "", "OptimizedImage", 0),
	}
}

type createResponse struct {
	ID string `json:"id"`
}

type touchesRequest struct {
	Events []TouchInput `json:"events"`
}

type touchesResponse struct {
	Gestures []gesture.Event `json:"gestures"`
	State    string          `json:"state"`
}

type telemetryResponse struct {
	Metrics         performance.Metrics         `json:"metrics"`
	Recommendations performance.Recommendations `json:"recommendations"`
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

type imageResponse struct {
	Src string `json:"src"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	s, err := h.mgr.Create()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusCreated, createResponse{ID: s.ID})
}

func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.mgr.Delete(c.Param("id")); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PostTouches(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	var req touchesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	gestures, err := s.Feed(req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, touchesResponse{Gestures: gestures, State: s.State().String()})
}

func (h *Handler) PutTelemetry(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	var report performance.Report
	if err := c.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	metrics, rec := s.Report(report)
	return c.JSON(http.StatusOK, telemetryResponse{Metrics: metrics, Recommendations: rec})
}

func (h *Handler) PutOnline(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	var req onlineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Online == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "online is required")
	}
	return c.JSON(http.StatusOK, s.SetOnline(*req.Online))
}

func (h *Handler) GetMetrics(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s.Metrics())
}

func (h *Handler) GetRecommendations(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s.Recommendations())
}

func (h *Handler) GetImage(c echo.Context) error {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	src := c.QueryParam("src")
	if src == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "src is required")
	}
	return c.JSON(http.StatusOK, imageResponse{Src: s.OptimizeImage(src)})
}

func sessionError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
