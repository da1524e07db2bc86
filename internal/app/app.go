package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/events"
	"github.com/xenking/bookstore/internal/handler"
	"github.com/xenking/bookstore/internal/identity"
	"github.com/xenking/bookstore/internal/repository"
	"github.com/xenking/bookstore/internal/session"
	"github.com/xenking/bookstore/internal/web"
	"github.com/xenking/bookstore/pkg/health"
	"github.com/xenking/bookstore/pkg/httpmiddleware"
)

const (
	serviceName     = "bookstore-api"
	janitorInterval = time.Minute
)

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	if cfg.AutoMigrate {
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Health check service.
	healthSvc := health.New()
	healthSvc.Add(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(pool),
	})
	healthSvc.Add(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})
	healthSvc.Add(health.Liveness, health.Check{
		Name: "gc_pause",
		Func: health.GCPauseCheck(time.Second),
	})

	// Sessions and rate limits share Redis when it is configured.
	var (
		sessions session.Store
		limiter  httpmiddleware.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := session.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.Add(health.Readiness, health.Check{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Func:    health.RedisCheck(rdb),
		})
		sessions = session.NewRedisStore(rdb, cfg.Session.TTL)
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Using redis sessions")
	} else {
		mem := session.NewMemoryStore(cfg.Session.TTL)
		memLimiter := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error { return mem.Run(ctx, janitorInterval) })
		g.Go(func() error { return memLimiter.Run(ctx, janitorInterval) })
		sessions, limiter = mem, memLimiter
		lg.Warn("REDIS_URL not set, keeping sessions in memory")
	}

	// Order events.
	var publisher order.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(lg.Named("events"), cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer)
		g.Go(func() error { return kp.Run(ctx) })
		publisher = kp
	}

	// Repositories.
	bookRepo := repository.NewBookRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	reviewRepo := repository.NewReviewRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Domain services.
	provider, err := identity.New(userRepo, identity.Options{
		ResetSecret: []byte(cfg.Auth.ResetSecret),
		ResetTTL:    cfg.Auth.ResetTTL,
	})
	if err != nil {
		return errors.Wrap(err, "create identity provider")
	}
	orderService := order.NewService(bookRepo, orderRepo, publisher,
		order.WithMaxAttachment(int(cfg.Upload.MaxBytes)),
	)

	pages, err := web.NewRenderer()
	if err != nil {
		return errors.Wrap(err, "parse templates")
	}

	// HTTP handlers.
	h, err := handler.NewHandler(
		handler.Config{
			CookieName:     cfg.Session.CookieName,
			CookieSecure:   cfg.Session.Secure,
			SessionTTL:     cfg.Session.TTL,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		},
		handler.Services{
			Catalog:  catalog.NewService(bookRepo),
			Cart:     cart.NewService(bookRepo, cart.NewSessionStore(sessions)),
			Orders:   orderService,
			Reviews:  review.NewService(reviewRepo, orderService),
			Accounts: auth.NewService(provider, identity.NewLogMailer(lg.Named("mail")), cfg.Auth.BaseURL),
			Sessions: sessions,
		},
		pages,
		m.MeterProvider(),
	)
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Router: health endpoints, storefront and staff API on one server.
	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(r)
	h.Admin(r, handler.APIKeyVerifier(apikeyRepo, []byte(cfg.APIKeyPepper), auth.ScopeOrdersWrite))

	routeFinder := httpmiddleware.MakeRouteFinder(r)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           24 * time.Hour,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
			httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
				Skip: safeMethod,
			}),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
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
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// safeMethod exempts reads from rate limiting.
func safeMethod(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
