package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/310511/V-medithon-sub003/internal/config"
	"github.com/310511/V-medithon-sub003/internal/gesture"
	"github.com/310511/V-medithon-sub003/internal/performance"
	"github.com/310511/V-medithon-sub003/internal/platform/middleware"
	"github.com/310511/V-medithon-sub003/internal/platform/openapi"
	"github.com/310511/V-medithon-sub003/internal/platform/telemetry"
	"github.com/310511/V-medithon-sub003/internal/platform/websocket"
	"github.com/310511/V-medithon-sub003/internal/session"
	"github.com/310511/V-medithon-sub003/internal/timeutil"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dosewise-server",
		Short: "DoseWise gesture and adaptive performance service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(recommendCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the interaction API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <trace.json>",
		Short: "Classify a recorded touch trace and print one gesture per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open trace: %w", err)
			}
			defer f.Close()

			stats, err := replay(f, cmd.OutOrStdout(), gestureConfig(cfg))
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			logger.Info().
				Int("gestures", stats.Gestures).
				Interface("by_kind", stats.ByKind).
				Float64("swipe_velocity_mean", stats.SwipeVelocityMean).
				Float64("swipe_velocity_stddev", stats.SwipeVelocityStdDev).
				Msg("trace replayed")
			return nil
		},
	}
}

func recommendCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "recommend <telemetry.json>",
		Short: "Print metrics and recommendations for a capability report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open telemetry: %w", err)
			}
			defer f.Close()
			return recommend(f, cmd.OutOrStdout(), offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "treat the client as offline")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}
	return logger
}

func gestureConfig(cfg *config.Config) gesture.Config {
	gc := gesture.DefaultConfig()
	gc.LongPressDuration = cfg.LongPressDuration()
	gc.MinSwipeVelocity = cfg.MinSwipeVelocity
	return gc
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	logger := newLogger(cfg)

	hub := websocket.NewHub(logger)
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	tp.TrackClients(hub.ClientCount)

	mgr := session.NewManager(session.Options{
		Gesture:        gestureConfig(cfg),
		Haptics:        cfg.HapticsEnabled,
		MemoryInterval: cfg.MemorySampleInterval,
		IdleTTL:        cfg.SessionIdleTTL,
		SweepInterval:  cfg.SessionSweepInterval,
		Publisher:      hub,
		Metrics:        tp,
		Scheduler:      timeutil.RealScheduler{},
		Logger:         logger,
	})
	mgr.Start()
	defer mgr.Close()

	e := newServer(cfg, logger, mgr, hub, tp)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with every route mounted.
func newServer(cfg *config.Config, logger zerolog.Logger, mgr *session.Manager, hub *websocket.Hub, tp *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"version":  version,
			"sessions": mgr.Len(),
			"clients":  hub.ClientCount(),
			"resource": tp.Resource(),
		})
	})

	// Prometheus scrape endpoint
	e.GET("/metrics", tp.PrometheusHandler())

	sessionHandler := session.NewHandler(mgr)
	sessionHandler.RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// API documentation
	docs := openapi.NewGenerator(version, "http://localhost:"+cfg.Port)
	docs.Add(sessionHandler.Operations("/api/v1")...)
	docs.Add(
		openapi.Operation{Method: http.MethodGet, Path: "/api/v1/ws", Summary: "Subscribe to session events over websocket", Tag: "events", Status: http.StatusSwitchingProtocols},
		openapi.Operation{Method: http.MethodGet, Path: "/health", Summary: "Health check", Tag: "system"},
		openapi.Operation{Method: http.MethodGet, Path: "/metrics", Summary: "Prometheus metrics", Tag: "system"},
	)
	e.GET("/openapi.json", docs.Handler())

	return e
}

type trace struct {
	Events []session.TouchInput `json:"events"`
}

// traceStats summarizes a replayed trace.
type traceStats struct {
	Gestures            int                  `json:"gestures"`
	ByKind              map[gesture.Kind]int `json:"byKind"`
	SwipeVelocityMean   float64              `json:"swipeVelocityMean"`
	SwipeVelocityStdDev float64              `json:"swipeVelocityStdDev"`
}

// replay feeds a recorded trace through a recognizer on a manual clock, so
// long presses fire exactly where the trace timestamps put them, and writes
// each gesture to w as a JSON line.
func replay(r io.Reader, w io.Writer, cfg gesture.Config) (traceStats, error) {
	var t trace
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return traceStats{}, fmt.Errorf("decode trace: %w", err)
	}
	if err := session.ValidateInputs(t.Events); err != nil {
		return traceStats{}, fmt.Errorf("validate trace: %w", err)
	}

	var events []gesture.Event
	sched := timeutil.NewManualScheduler()
	rec := gesture.New(gesture.Handlers{
		OnGesture: func(ev gesture.Event) { events = append(events, ev) },
	}, gesture.WithConfig(cfg), gesture.WithScheduler(sched))
	defer rec.Close()

	for i, in := range t.Events {
		elapsed := time.Duration(in.TimestampMs-t.Events[0].TimestampMs) * time.Millisecond
		if d := elapsed - sched.Now(); d > 0 {
			sched.Advance(d)
		} else if d < 0 {
			return traceStats{}, fmt.Errorf("event %d: timestamp %d goes backwards", i, in.TimestampMs)
		}
		in.ApplyTo(rec)
	}

	stats := traceStats{ByKind: make(map[gesture.Kind]int)}
	var velocities []float64
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return traceStats{}, fmt.Errorf("write gesture: %w", err)
		}
		stats.Gestures++
		stats.ByKind[ev.Kind]++
		if ev.Kind == gesture.KindSwipe {
			velocities = append(velocities, ev.Velocity)
		}
	}
	switch {
	case len(velocities) > 1:
		stats.SwipeVelocityMean, stats.SwipeVelocityStdDev = stat.MeanStdDev(velocities, nil)
	case len(velocities) == 1:
		stats.SwipeVelocityMean = velocities[0]
	}
	return stats, nil
}

type recommendation struct {
	Metrics         performance.Metrics         `json:"metrics"`
	Recommendations performance.Recommendations `json:"recommendations"`
}

// recommend evaluates a single capability report and writes the result to w.
func recommend(r io.Reader, w io.Writer, offline bool) error {
	var report performance.Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	if offline {
		online := false
		report.Online = &online
	}

	engine := performance.NewEngine(performance.NewReported(report))
	engine.Refresh()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recommendation{
		Metrics:         engine.Metrics(),
		Recommendations: engine.Recommendations(),
	})
}
