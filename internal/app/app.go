package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/handler"
	"github.com/xenking/oolio-orders/internal/idempotency"
	"github.com/xenking/oolio-orders/pkg/health"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

const serviceName = "orders-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	st, err := OpenStorage(ctx, lg, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer st.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, health.PingCheck(st.Pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// Idempotency keys: shared through Redis when configured.
	var keys idempotency.Store = idempotency.NewMemoryStore(cfg.Idempotency.PendingTTL, cfg.Idempotency.TTL)
	if cfg.Idempotency.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		defer func() { _ = client.Close() }()

		redisKeys := idempotency.NewRedisStore(client, "orders:idempotency", cfg.Idempotency.PendingTTL, cfg.Idempotency.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisKeys))
		keys = redisKeys
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain service.
	orderService, err := order.NewService(st.Customers, st.Products, st.Tx,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithCommitTimeout(cfg.Placement.CommitTimeout),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(orderService, st.Orders, st.Products, keys)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: NewRouter(RouterConfig{
			Logger:         lg,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
			Health:         healthSvc,
			Handler:        h,
			RateLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Name:   "api",
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			PlacementLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Name:   "placement",
				Max:    cfg.RateLimit.Placement.Max,
				Window: cfg.RateLimit.Placement.Window,
			}),
		}),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// RouterConfig holds what NewRouter mounts.
type RouterConfig struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Health         *health.Health
	Handler        *handler.Handler
	// RateLimit applies to API routes only; nil disables it.
	RateLimit httpmiddleware.Middleware
	// PlacementLimit applies to POST /api/order on top of RateLimit; nil
	// disables it.
	PlacementLimit httpmiddleware.Middleware
}

// NewRouter builds the HTTP handler: health probes plus the API, behind
// recovery, request ids, logging and telemetry.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(cfg.Logger),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, cfg.TracerProvider, cfg.MeterProvider),
		httpmiddleware.Labeler(),
		httpmiddleware.LogRequests(),
	)

	r.Get("/livez", cfg.Health.LiveEndpoint)
	r.Get("/readyz", cfg.Health.ReadyEndpoint)

	r.Group(func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}
		var placement []httpmiddleware.Middleware
		if cfg.PlacementLimit != nil {
			placement = append(placement, cfg.PlacementLimit)
		}
		cfg.Handler.Register(r, placement...)
	})

	return r
}
