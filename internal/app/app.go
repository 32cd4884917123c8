package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/cache"
	"github.com/techshop/storefront/internal/domain/category"
	"github.com/techshop/storefront/internal/domain/coupon"
	"github.com/techshop/storefront/internal/domain/order"
	"github.com/techshop/storefront/internal/handler"
	"github.com/techshop/storefront/internal/imagehost"
	"github.com/techshop/storefront/internal/notify"
	"github.com/techshop/storefront/internal/payment"
	"github.com/techshop/storefront/internal/storage/mongodb"
	"github.com/techshop/storefront/pkg/health"
	"github.com/techshop/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// Document store + indexes.
	store, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return errors.Wrap(err, "connect store")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			lg.Warn("Store close failed", zap.Error(err))
		}
	}()
	if err := store.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("mongo", 5*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Redis is optional; without it the category tree is always read from
	// the store.
	var treeCache category.TreeCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		treeCache = cache.NewTreeCache(rdb, cfg.Redis.TreeTTL)
		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	productRepo := store.Products()
	couponRepo := store.Coupons()
	orderRepo := store.Orders()
	categoryRepo := store.Categories()
	notificationStore := store.Notifications()

	// Notifications: AMQP when a broker is configured, stored-only
	// otherwise.
	var dispatcher notify.Dispatcher = notify.NewStoreDispatcher(notificationStore)
	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return errors.Wrap(err, "connect amqp")
		}
		defer conn.Close()
		amqpDispatcher, err := notify.NewAMQPDispatcher(conn, cfg.AMQP.Exchange, notificationStore)
		if err != nil {
			return errors.Wrap(err, "create dispatcher")
		}
		dispatcher = amqpDispatcher
	}

	// Domain services.
	resolver := coupon.NewResolver(couponRepo)
	if err := resolver.Warm(ctx); err != nil {
		// Cold filter only disables the negative-lookup shortcut.
		lg.Warn("Coupon filter warmup failed", zap.Error(err))
	}
	orderService := order.NewService(productRepo, resolver, orderRepo, dispatcher)
	categoryService := category.NewService(categoryRepo, treeCache)

	var images *imagehost.Client
	if cfg.ImageHost.UploadURL != "" {
		images = imagehost.NewClient(cfg.ImageHost)
	}

	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		couponRepo,
		resolver,
		orderService,
		categoryService,
		payment.NewClient(cfg.Payment),
		images,
		handler.NewAuthenticator(cfg.JWT.Secret),
	)

	// Router.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
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
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Metrics(),
		httpmiddleware.LogRequests(),
	)
	router.GET("/livez", gin.WrapF(healthSvc.LiveEndpoint))
	router.GET("/readyz", gin.WrapF(healthSvc.ReadyEndpoint))
	h.Register(router)

	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(router, "storefront-api", otelhttp.WithTracerProvider(m.TracerProvider())),
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
