package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fulfillment/internal/bootstrap"
	"fulfillment/internal/config"
	"fulfillment/internal/database"
	"fulfillment/internal/handler"
	"fulfillment/internal/middleware"
	"fulfillment/internal/model"
	"fulfillment/internal/provider"
	"fulfillment/internal/redis"
	"fulfillment/internal/service/currency"
	"fulfillment/internal/service/order"
	"fulfillment/internal/service/payment"
	"fulfillment/internal/service/product"
	"fulfillment/internal/service/reconcile"
	"fulfillment/internal/utils"
	"fulfillment/pkg/limiter"
	"fulfillment/pkg/lock"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
	pkgutils "fulfillment/pkg/utils"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	if err := bootstrap.Logging(cfg, "api"); err != nil {
		log.WithError(err).Fatal("Failed to initialize logger")
	}

	infra, err := bootstrap.Connect(cfg, "api")
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize infrastructure")
	}
	defer infra.Close()

	// the API keeps serving without a broker; webhooks are then processed inline,
	// follow-ups are stored for the sweep and publishes redial until it is back
	broker, err := bootstrap.PublishingBroker(cfg)
	if err != nil {
		log.WithError(err).Error("Broker unavailable at start, webhooks will be processed inline until it is reachable")
	}
	defer broker.Close()

	paymentProvider, err := bootstrap.PaymentProvider(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create payment provider")
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	pkgutils.RegisterCustomValidators()

	router, err := setupRouter(infra, broker, broker, paymentProvider)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up routes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.Enabled {
		// the lease outlives a sweep by at most one interval if this instance dies mid-sweep
		lease := lock.NewLease(infra.Redis, cfg.Reconcile.LeaseKey, cfg.Reconcile.Interval)
		sweeper := reconcile.NewSweeper(broker, infra.Stores.Pending, cfg.Reconcile, infra.Metrics).WithLease(lease)
		go sweeper.Run(ctx, cfg.Reconcile.Interval)
		log.WithField("interval", cfg.Reconcile.Interval.String()).Info("Reconciliation sweep started")
	}

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":        server.Addr,
			"mode":        cfg.Server.Mode,
			"webhook_url": cfg.WebhookURL(),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func setupRouter(infra *bootstrap.Infra, publisher queue.Publisher, broker queue.Broker, paymentProvider provider.PaymentProvider) (*gin.Engine, error) {
	cfg := infra.Config
	stores := infra.Stores

	currencyService, err := currency.NewService(currency.StaticSource{}, infra.Cache, cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := reconcile.NewDispatcher(publisher, stores.Pending, infra.Metrics)
	processor := payment.NewProcessor(paymentProvider, stores.Orders, dispatcher, infra.Metrics)
	orderService := order.NewService(stores.Orders, stores.Products, paymentProvider, dispatcher, infra.Metrics, cfg.Order.TaxRate)
	productService := product.NewService(stores.Products, stores.StockLogs, infra.Cache, cfg.Cache)

	webhookHandler := handler.NewWebhookHandler(publisher, processor, infra.Metrics)
	orderHandler := handler.NewOrderHandler(orderService)
	productHandler := handler.NewProductHandler(productService)
	currencyHandler := handler.NewCurrencyHandler(currencyService)

	jwtManager := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, cfg.Security.JWT.Expire)
	auth := middleware.Auth(middleware.JWTValidator(jwtManager))
	staff := middleware.RequireRoles(model.RoleAdmin, model.RoleSalesManager)
	admin := middleware.RequireRoles(model.RoleAdmin)

	// checkouts call the payment provider; Limit 0 disables the per-user cap
	checkout := []gin.HandlerFunc{orderHandler.CreateOrder}
	if cfg.RateLimit.Checkout.Limit > 0 {
		throttle := limiter.NewSlidingWindow(infra.Redis, "fulfillment:throttle:checkout",
			cfg.RateLimit.Checkout.Limit, cfg.RateLimit.Checkout.Window)
		checkout = append([]gin.HandlerFunc{middleware.Throttle(throttle)}, checkout...)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.Security.CORS.AllowOrigins, cfg.Security.CORS.AllowCredentials))
	if infra.Metrics != nil {
		router.Use(middleware.Metrics(infra.Metrics))
		router.GET(cfg.Metrics.Path, gin.WrapH(infra.Metrics.Handler()))
	}

	health := healthCheck(infra, broker)
	router.GET("/health", health)
	router.GET("/ping", ping)

	api := router.Group("/api")

	// the provider posts here; never rate limited and never authenticated
	api.POST("/orders/webhook", webhookHandler.Receive)
	api.POST("/v1/webhooks/payment", webhookHandler.Receive)

	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	registerRoutes := func(g *gin.RouterGroup) {
		products := g.Group("/products")
		{
			products.GET("", productHandler.ListProducts)
			products.GET("/:id", productHandler.GetProduct)
			products.POST("", auth, staff, productHandler.CreateProduct)
			products.PUT("/:id", auth, staff, productHandler.UpdateProduct)
			products.DELETE("/:id", auth, staff, productHandler.DeleteProduct)
			products.GET("/:id/stock-logs", auth, staff, productHandler.StockHistory)
		}

		orders := g.Group("/orders", auth)
		{
			orders.POST("", checkout...)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/cancel", orderHandler.CancelOrder)
			orders.PUT("/:id/status", admin, orderHandler.UpdateStatus)
		}

		rates := g.Group("/currency")
		{
			rates.GET("/rates", currencyHandler.Rates)
			rates.GET("/symbols", currencyHandler.Symbols)
			rates.GET("/convert", currencyHandler.Convert)
		}
	}

	registerRoutes(api)

	v1 := api.Group("/v1")
	v1.GET("/health", health)
	v1.GET("/ping", ping)
	registerRoutes(v1)

	return router, nil
}

func healthCheck(infra *bootstrap.Infra, broker queue.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		services := map[string]interface{}{
			"database": status(database.Health(ctx, infra.DB)),
			"redis":    status(redis.Health(ctx, infra.Redis)),
		}
		healthy := services["database"].(map[string]interface{})["healthy"].(bool) &&
			services["redis"].(map[string]interface{})["healthy"].(bool)

		// a missing broker degrades the API but does not take it down
		services["broker"] = status(broker.Health())

		health := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"services":  services,
		}
		if !healthy {
			health["status"] = "error"
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
		c.JSON(http.StatusOK, health)
	}
}

func status(err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{
			"healthy": false,
			"error":   err.Error(),
		}
	}
	return map[string]interface{}{
		"healthy": true,
		"status":  "connected",
	}
}

func ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}
