package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/checkout"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/health"
	"github.com/noah-isme/backend-pos/internal/lock"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "backend-pos",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, "backend-pos")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if cfg.TracingEnabled {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			logger.Warn().Err(err).Msg("instrument redis tracing")
		}
	}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithLogger(logger.With().Str("component", "mpesa_breaker").Logger())
	gatewayHTTP := resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.MpesaHTTPTimeout,
		},
		Breaker:     breaker,
		BaseBackoff: cfg.MpesaBaseBackoff,
		MaxAttempts: cfg.MpesaMaxAttempts,
		Timeout:     cfg.MpesaHTTPTimeout,
	}
	daraja := payment.NewDaraja(payment.Credentials{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		ShortCode:      cfg.MpesaShortCode,
		Passkey:        cfg.MpesaPasskey,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, gatewayHTTP, cfg.MpesaTokenTTL, logger.With().Str("component", "daraja").Logger())

	catalogStore := catalog.NewStore(pool)
	catalogSvc := &catalog.Service{Store: catalogStore}
	catalogHandler := &catalog.Handler{Svc: catalogSvc}

	cartStore := cart.NewStore(pool)
	cartSvc := &cart.Service{Store: cartStore, Products: catalogStore}
	cartHandler := &cart.Handler{Svc: cartSvc}

	checkoutStore := checkout.NewStore(pool)
	checkoutSvc := &checkout.Service{Pool: pool, Catalog: catalogStore, TaxBps: int64(cfg.TaxBps)}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Store: checkoutStore}

	paymentStore := payment.NewStore(pool)
	locker := lock.Locker{R: rdb}
	paymentSvc := payment.NewService(daraja, paymentStore, checkoutStore, locker,
		logger.With().Str("component", "payment").Logger(), cfg.CallbackLockTTL)
	paymentHandler := &payment.Handler{Svc: paymentSvc, ListLimit: int32(cfg.PaymentListLimit)}

	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}
	healthHandler := health.Handler{Checker: probes{pool: pool, rdb: rdb}}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/categories", catalogHandler.Categories)
		r.Get("/products", catalogHandler.Products)
		r.Get("/products/{id}", catalogHandler.ProductDetail)
		r.Post("/products/{id}/stock", catalogHandler.AdjustStock)
		r.Get("/products/{id}/movements", catalogHandler.Movements)

		r.Post("/carts", cartHandler.Create)
		r.Get("/carts/{id}", cartHandler.Get)
		r.Post("/carts/{id}/items", cartHandler.AddItem)
		r.Put("/carts/{id}/items/{itemId}", cartHandler.UpdateItem)
		r.Delete("/carts/{id}/items/{itemId}", cartHandler.RemoveItem)

		r.With(idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		r.Get("/sales/{id}", checkoutHandler.Sale)

		r.With(idem.Middleware).Post("/payments/push", paymentHandler.Push)
		r.Get("/payments", paymentHandler.List)
		r.Get("/payments/{correlationId}", paymentHandler.Status)
	})

	r.Post("/webhooks/mpesa/callback", paymentHandler.Callback)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

// probes adapts the database pool and redis client to the health checker.
type probes struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (p probes) PingDB(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
