package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smartslot/smartslot/internal/config"
	"github.com/smartslot/smartslot/internal/domain/queue"
	"github.com/smartslot/smartslot/internal/domain/triage"
	"github.com/smartslot/smartslot/internal/platform/auth"
	"github.com/smartslot/smartslot/internal/platform/db"
	"github.com/smartslot/smartslot/internal/platform/messaging"
	"github.com/smartslot/smartslot/internal/platform/middleware"
	"github.com/smartslot/smartslot/internal/platform/telemetry"
	"github.com/smartslot/smartslot/internal/platform/webhook"
	"github.com/smartslot/smartslot/internal/platform/websocket"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer := newLogger(cfg)
	defer closer.Close()

	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: requests without a bearer token get admin access, do not run this in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open snapshot store")
		return err
	}
	defer st.close()

	classifier, err := newClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc := newService(cfg, st.repo, classifier, logger)
	if err := svc.Open(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load queue snapshot")
		return err
	}

	hub := websocket.NewHub(logger)
	hub.SetInitial(queue.InitialEvents(svc))
	svc.AddPublisher(queue.NewHubPublisher(hub))

	if cfg.NATSURL != "" {
		ncfg := messaging.DefaultConfig()
		ncfg.URL = cfg.NATSURL
		nc, err := messaging.Connect(ncfg, logger)
		if err != nil {
			logger.Error().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable, events will only go to websocket clients")
		} else {
			defer nc.Close()
			svc.AddPublisher(queue.NewNATSPublisher(nc, cfg.NATSSubject))
		}
	}

	hooks := webhook.NewManager(webhook.NewMemoryStore(0), webhook.Config{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
		RetryDelay:  time.Second,
		QueueSize:   cfg.WebhookQueueSize,
	}, logger)
	svc.AddPublisher(queue.NewWebhookPublisher(hooks))

	metrics := newMetrics(svc)
	svc.AddPublisher(queue.NewMetricsPublisher(metrics))

	e := newServer(cfg, logger, &components{svc: svc, hub: hub, hooks: hooks, metrics: metrics, store: st})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hooks.Run(gctx)
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", st.driver).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// components are the long-lived pieces the HTTP server routes to.
type components struct {
	svc     *queue.Service
	hub     *websocket.Hub
	hooks   *webhook.Manager
	metrics *telemetry.Provider
	store   *store
}

// newMetrics declares the queue counters and registers gauges read from the
// published snapshot on every scrape.
func newMetrics(svc *queue.Service) *telemetry.Provider {
	p := telemetry.NewProvider()
	p.DefineCounter(queue.MetricOperations, "Committed queue operations.", "op")
	p.DefineCounter(queue.MetricAdmissions, "Admitted patients by urgency and classifier.", "urgency", "classified_by")
	p.RegisterGauge("queue_patients", "Patients in the queue by status.", func() []telemetry.Sample {
		st := svc.Stats()
		return []telemetry.Sample{
			{Labels: []string{"status", string(queue.StatusWaiting)}, Value: float64(st.Waiting)},
			{Labels: []string{"status", string(queue.StatusCalled)}, Value: float64(st.Called)},
			{Labels: []string{"status", string(queue.StatusServed)}, Value: float64(st.Served)},
			{Labels: []string{"status", string(queue.StatusMissed)}, Value: float64(st.Missed)},
		}
	})
	p.RegisterGauge("queue_waiting_patients", "Waiting patients by urgency.", func() []telemetry.Sample {
		st := svc.Stats()
		out := make([]telemetry.Sample, 0, len(st.WaitingByUrgency))
		for _, u := range []triage.Urgency{triage.UrgencyHigh, triage.UrgencyMedium, triage.UrgencyLow} {
			out = append(out, telemetry.Sample{Labels: []string{"urgency", string(u)}, Value: float64(st.WaitingByUrgency[u])})
		}
		return out
	})
	p.RegisterGauge("queue_average_wait_minutes", "Average estimated wait of waiting patients.", func() []telemetry.Sample {
		return []telemetry.Sample{{Value: float64(svc.Stats().AverageWaitMinutes)}}
	})
	return p
}

// newServer assembles the echo instance: global middleware, health checks,
// metrics, the websocket endpoint, the queue API under /api/v1 and webhook
// management for administrators.
func newServer(cfg *config.Config, logger zerolog.Logger, app *components) *echo.Echo {
	svc, hub, st := app.svc, app.hub, app.store

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(app.metrics.Middleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}))
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"store":      st.driver,
			"ws_clients": hub.ClientCount(),
			"time":       time.Now().UTC(),
		})
	})
	e.GET("/health/db", db.HealthHandler(st.driver, st.pinger, cfg.StoreTimeout))
	e.GET("/metrics", app.metrics.Handler())

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)}
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}

	api := e.Group("/api/v1")
	staff := api.Group("", authMW)
	queue.NewHandler(svc).RegisterRoutes(api, staff)
	webhook.NewHandler(app.hooks).RegisterRoutes(staff.Group("", auth.RequireRole("admin")))
	return e
}
