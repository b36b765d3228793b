package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fulfillment/internal/bootstrap"
	"fulfillment/internal/config"
	"fulfillment/internal/consumer"
	"fulfillment/internal/mailer"
	"fulfillment/internal/service/currency"
	"fulfillment/internal/service/inventory"
	"fulfillment/internal/service/notification"
	"fulfillment/internal/service/payment"
	"fulfillment/internal/service/reconcile"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// handlerFactory builds the job handler of one worker from the connected infrastructure
type handlerFactory func(infra *bootstrap.Infra, broker queue.Broker) (consumer.Handler, error)

func paymentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payment",
		Short: "Apply payment notifications from the webhook queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker("payment", queue.WebhookQueue, func(infra *bootstrap.Infra, broker queue.Broker) (consumer.Handler, error) {
				paymentProvider, err := bootstrap.PaymentProvider(infra.Config)
				if err != nil {
					return nil, err
				}
				dispatcher := reconcile.NewDispatcher(broker, infra.Stores.Pending, infra.Metrics)
				processor := payment.NewProcessor(paymentProvider, infra.Stores.Orders, dispatcher, infra.Metrics)
				return consumer.NewPaymentHandler(processor), nil
			})
		},
	}
}

func notificationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notification",
		Short: "Send order emails from the email queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker("notification", queue.EmailQueue, func(infra *bootstrap.Infra, _ queue.Broker) (consumer.Handler, error) {
				cfg := infra.Config
				sender, err := mailer.NewSMTPSender(cfg.Mail)
				if err != nil {
					return nil, err
				}
				rates, err := currency.NewService(currency.StaticSource{}, infra.Cache, cfg)
				if err != nil {
					return nil, err
				}
				service := notification.NewService(
					mailer.NewRenderer(cfg.Order.TaxRate),
					sender,
					rates,
					cfg.Currency.Display,
					mailer.BaseDisplay(cfg.Currency.Base, currency.Sign(cfg.Currency.Base)),
					infra.Metrics,
				)
				return consumer.NewNotificationHandler(service), nil
			})
		},
	}
}

func inventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Decrement stock for completed orders from the stock queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker("inventory", queue.StockQueue, func(infra *bootstrap.Infra, _ queue.Broker) (consumer.Handler, error) {
				return consumer.NewInventoryHandler(inventory.NewService(infra.Stores.Products, infra.Cache, infra.Metrics)), nil
			})
		},
	}
}

// runWorker consumes queueName until a signal arrives. Losing the broker is
// fatal: the process exits non-zero and is restarted by its supervisor.
func runWorker(name, queueName string, build handlerFactory) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := bootstrap.Logging(cfg, "worker-"+name); err != nil {
		return err
	}

	infra, err := bootstrap.Connect(cfg, "worker-"+name)
	if err != nil {
		return err
	}
	defer infra.Close()

	broker, err := bootstrap.Broker(cfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()

	h, err := build(infra, broker)
	if err != nil {
		return err
	}

	metricsSrv := bootstrap.MetricsServer(cfg, infra.Metrics)
	defer func() {
		if metricsSrv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := consumer.NewRunner(broker, queueName, h, infra.Metrics, infra.Tracer)
	err = runner.Run(ctx)
	if errors.Is(err, consumer.ErrStreamClosed) {
		log.WithField("queue", queueName).Error("Broker connection lost, exiting")
	}
	if err != nil {
		return err
	}

	log.WithField("worker", name).Info("Worker exited")
	return nil
}
