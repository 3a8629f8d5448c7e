package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saborly/saborly-backend/internal/api"
	"github.com/saborly/saborly-backend/internal/cache"
	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/domain/order"
	"github.com/saborly/saborly-backend/internal/storage/postgres"
	"github.com/saborly/saborly-backend/pkg/health"
	"github.com/saborly/saborly-backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	deliveryFee, err := decimal.NewFromString(cfg.DeliveryFee)
	if err != nil {
		return errors.Wrapf(err, "parse delivery fee %q", cfg.DeliveryFee)
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	healthSvc := health.New(5 * time.Second)
	healthSvc.AddReadiness("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLiveness("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Offer storage, with catalog reads cached in Redis or process memory.
	offerStore := postgres.NewOfferStore(pool)
	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer r.Close()
		c = r
	} else {
		c = cache.NewMemory()
	}
	catalog := cache.NewCatalogStore(offerStore, c, cfg.Cache.TTL)

	// Coupon code prefilter, reloaded on an interval so codes created by
	// other instances become visible.
	codes := cache.NewCodeFilter()
	if list, err := offerStore.ListActiveCodes(ctx); err != nil {
		lg.Warn("Initial code filter load failed", zap.Error(err))
	} else {
		codes.Rebuild(list)
	}
	go rebuildCodes(ctx, offerStore, codes, cfg.Offers.CodeFilterRebuild)

	// Repositories and domain services.
	menuRepo := postgres.NewMenuRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	engine := offer.NewEngine(catalog, catalog)
	manager := offer.NewManager(catalog)
	orderSvc := order.NewService(menuRepo, engine, orderRepo, deliveryFee)

	// HTTP surface: health endpoints + API routes on one server.
	h := api.NewHandler(api.Deps{
		Menu:    menuRepo,
		Offers:  engine,
		Admin:   manager,
		Orders:  orderSvc,
		History: orderRepo,
		Codes:   codes,
		Meter:   m.MeterProvider(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			// InjectLogger runs first so every inner middleware and handler
			// sees the real logger in its request context.
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("saborly-api", m),
			httpmiddleware.LogRequests(),
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// rebuildCodes periodically reloads the coupon code filter from the store.
func rebuildCodes(ctx context.Context, store *postgres.OfferStore, codes *cache.CodeFilter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			list, err := store.ListActiveCodes(ctx)
			if err != nil {
				zctx.From(ctx).Warn("Code filter rebuild failed", zap.Error(err))
				continue
			}
			codes.Rebuild(list)
		}
	}
}
