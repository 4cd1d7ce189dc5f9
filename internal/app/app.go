package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/admin"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/idempotency"
	"github.com/xenking/storefront/internal/shipping"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.NewStore(pool)

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", health.PingCheck(store), health.WithTimeout(5*time.Second))
	healthSvc.Add(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	healthSvc.Add(health.Liveness, "gc", health.GCMaxPauseCheck(time.Second), health.WithTimeout(time.Second))

	// Order events.
	var notifier order.Notifier = order.NopNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		if err := health.KafkaCheck(cfg.Kafka.Brokers)(ctx); err != nil {
			lg.Warn("Kafka unreachable, order events are dropped until it recovers", zap.Error(err))
		}
		kn := events.NewKafkaNotifier(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := kn.Close(); err != nil {
				lg.Error("Close kafka writer", zap.Error(err))
			}
		}()
		notifier = kn
	} else {
		lg.Info("Kafka brokers not configured, order events disabled")
	}

	// Domain services.
	ledger := order.NewLedger(store, notifier)
	gateway := payment.NewHTTPGateway(payment.HTTPGatewayConfig{
		BaseURL:        cfg.Payment.APIURL,
		Token:          cfg.Payment.Token,
		SellerToken:    cfg.Payment.SellerToken,
		CallbackURL:    cfg.Payment.CallbackURL,
		ReturnURL:      cfg.Payment.ReturnURL,
		Timeout:        cfg.Payment.Timeout,
		TracerProvider: m.TracerProvider(),
	})
	orchestrator := checkout.New(store, ledger, gateway,
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithTracerProvider(m.TracerProvider()),
	)
	reconciler := payment.NewReconciler(cfg.Payment.CallbackSecret, ledger,
		payment.WithMeterProvider(m.MeterProvider()),
	)

	deps := handler.Deps{
		Auth:      auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName),
		Checkout:  orchestrator,
		Orders:    ledger,
		Callbacks: reconciler,
		Admin:     admin.NewConsole(ledger),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		deps.Idempotency = idempotency.NewStore(rdb, cfg.Redis.TTL)
		healthSvc.Add(health.Readiness, "redis", health.RedisCheck(rdb), health.WithTimeout(2*time.Second))
	} else {
		lg.Info("Redis not configured, Idempotency-Key header ignored")
	}

	if cfg.Shipping.URL != "" {
		freeMin, err := decimal.NewFromString(cfg.Shipping.FreeShippingMin)
		if err != nil {
			return errors.Wrap(err, "parse free shipping minimum")
		}
		deps.Shipping = shipping.NewClient(shipping.Config{
			URL:             cfg.Shipping.URL,
			OriginZip:       cfg.Shipping.OriginZipCode,
			FreeShippingMin: freeMin,
			Timeout:         cfg.Shipping.Timeout,
			TracerProvider:  m.TracerProvider(),
		})
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Router: health endpoints at the root, API under /api.
	root := healthSvc.Routes()
	root.Mount("/api", handler.New(deps).Routes())
	routeFinder := httpmiddleware.MakeRouteFinder(root)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				Expose:           []string{httpmiddleware.RequestIDHeader, "Idempotent-Replayed"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           24 * time.Hour,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   unlimited,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
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

// unlimited exempts probes and provider webhooks from client rate limits.
func unlimited(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz", "/api/payments/callback":
		return true
	}
	return false
}
