// Package bootstrap wires configuration into the shared infrastructure both
// binaries start from.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"fulfillment/internal/cache"
	"fulfillment/internal/config"
	"fulfillment/internal/database"
	"fulfillment/internal/monitor"
	"fulfillment/internal/provider"
	"fulfillment/internal/redis"
	"fulfillment/internal/repository"
	"fulfillment/pkg/breaker"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// Stores groups the gorm repositories
type Stores struct {
	Orders    repository.OrderRepository
	Products  repository.ProductRepository
	StockLogs repository.StockLogRepository
	Pending   repository.PendingJobRepository
}

// Infra is the connected infrastructure of a process
type Infra struct {
	Config  *config.Config
	Metrics *monitor.MetricsCollector
	Tracer  *monitor.Tracer
	Cache   *cache.Cache
	DB      *gorm.DB
	Redis   *goredis.Client
	Stores  Stores
}

// Logging initializes the logger for service and follows level changes in the config file
func Logging(cfg *config.Config, service string) error {
	err := log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Service:    service,
	})
	if err != nil {
		return err
	}

	config.WatchConfig(func(next *config.Config) {
		log.SetLevel(next.Log.Level)
		log.WithField("level", next.Log.Level).Info("Configuration reloaded")
	})
	return nil
}

// Connect opens the database and Redis and builds the repositories and cache.
// Close releases them.
func Connect(cfg *config.Config, service string) (*Infra, error) {
	var metrics *monitor.MetricsCollector
	if cfg.Metrics.Enabled {
		metrics = monitor.NewMetricsCollector(cfg.Metrics.Namespace)
	}

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = cfg.Tracing.ServiceName + "-" + service
	tracer, err := monitor.NewTracer(tracingCfg, config.Env())
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			database.Close(db)
			return nil, err
		}
	}

	rdb, err := redis.Open(cfg)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	var opts []cache.Option
	if metrics != nil {
		opts = append(opts, cache.WithRecorder(metrics))
	}

	return &Infra{
		Config:  cfg,
		Metrics: metrics,
		Tracer:  tracer,
		Cache:   cache.New(rdb, opts...),
		DB:      db,
		Redis:   rdb,
		Stores: Stores{
			Orders:    repository.NewOrderRepository(db),
			Products:  repository.NewProductRepository(db),
			StockLogs: repository.NewStockLogRepository(db),
			Pending:   repository.NewPendingJobRepository(db),
		},
	}, nil
}

// Close releases the connections opened by Connect
func (i *Infra) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := i.Tracer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Tracer shutdown failed")
	}
	if err := i.Redis.Close(); err != nil {
		log.WithError(err).Warn("Redis close failed")
	}
	if err := database.Close(i.DB); err != nil {
		log.WithError(err).Warn("Database close failed")
	}
}

func rabbitConfig(cfg *config.Config) queue.RabbitConfig {
	return queue.RabbitConfig{
		URL:            cfg.Broker.URL,
		PublishTimeout: cfg.Broker.PublishTimeout,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
		SettleTimeout:  cfg.Broker.SettleTimeout,
	}
}

// Broker dials RabbitMQ and declares the topology
func Broker(cfg *config.Config) (*queue.RabbitBroker, error) {
	return queue.DialRabbitMQ(rabbitConfig(cfg))
}

// PublishingBroker returns a broker even when the first dial fails, along
// with that error. Publish redials at most once per broker.reconnect_delay,
// so a process started during an outage recovers once RabbitMQ is back.
func PublishingBroker(cfg *config.Config) (*queue.RabbitBroker, error) {
	b := queue.NewRabbitBroker(rabbitConfig(cfg))
	return b, b.Connect()
}

// PaymentProvider returns the MercadoPago adapter behind a circuit breaker,
// or the local stub when preferences are skipped.
func PaymentProvider(cfg *config.Config) (provider.PaymentProvider, error) {
	if cfg.Payment.SkipPreferences {
		log.Warn("Payment preferences skipped, using the local payment stub")
		return provider.NewStub(cfg.Server.BaseURL + "/checkout"), nil
	}
	if cfg.Payment.AccessToken == "" {
		return nil, errors.New("payment access token is required unless payment.skip_preferences is set")
	}

	bc := breaker.Config{
		MaxRequests:  cfg.CircuitBreak.MaxRequests,
		Interval:     cfg.CircuitBreak.Interval,
		Timeout:      cfg.CircuitBreak.Timeout,
		FailureRatio: cfg.CircuitBreak.FailureRatio,
		MinRequests:  cfg.CircuitBreak.MinRequestCount,
		OnStateChange: func(name string, from, to breaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("Circuit breaker state changed")
		},
	}
	if !cfg.CircuitBreak.Enabled {
		// never trips
		bc.ReadyToTrip = func(breaker.Counts) bool { return false }
	}

	return provider.NewMercadoPago(cfg, breaker.NewCircuitBreaker("mercadopago", bc))
}

// MetricsServer serves the collector on the metrics port, for processes without an HTTP API
func MetricsServer(cfg *config.Config, mc *monitor.MetricsCollector) *http.Server {
	if mc == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, mc.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return srv
}
