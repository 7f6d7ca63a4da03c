// Package app builds the engine's service graph from configuration. The api,
// task-worker and cron-worker binaries share it so every process sees the same
// gateways, breakers and repositories.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/commerce-engine/internal/inventory"
	"github.com/angelmondragon/commerce-engine/internal/orders"
	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways/bkash"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways/paypal"
	squaregw "github.com/angelmondragon/commerce-engine/internal/payments/gateways/square"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways/sslcommerz"
	stripegw "github.com/angelmondragon/commerce-engine/internal/payments/gateways/stripe"
	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/internal/reconciler"
	"github.com/angelmondragon/commerce-engine/internal/shipping"
	"github.com/angelmondragon/commerce-engine/internal/tasks"
	"github.com/angelmondragon/commerce-engine/internal/vendorledger"
	"github.com/angelmondragon/commerce-engine/internal/webhooks"
	"github.com/angelmondragon/commerce-engine/pkg/breaker"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/metrics"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/redis"
	pkgsquare "github.com/angelmondragon/commerce-engine/pkg/square"
	pkgstripe "github.com/angelmondragon/commerce-engine/pkg/stripe"
)

// TransferBreakerName guards Stripe Connect payout transfers.
const TransferBreakerName = "stripe:transfers"

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// App holds the wired services. Fields are safe for concurrent use.
type App struct {
	Config     *config.Config
	Breakers   *breaker.Registry
	Gateways   *gateways.Registry
	Queue      *tasks.Queue
	TaskRepo   tasks.Repository
	OutboxRepo *outbox.Repository
	Outbox     *outbox.Service

	Inventory  *inventory.Service
	Orders     *orders.Service
	Ledger     *vendorledger.Service
	Reconciler *reconciler.Reconciler
	Payments   *payments.Service
	Payouts    *payouts.Service
	Shipping   *shipping.Service
}

func New(ctx context.Context, params Params) (*App, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg := params.Config
	logg := params.Logger
	conn := params.DB.DB()

	currency, err := enums.ParseCurrency(cfg.Commerce.Currency)
	if err != nil {
		return nil, err
	}

	breakers := breaker.NewRegistry(breaker.SettingsFromConfig(cfg.Breaker), metrics.NewBreakerMetrics(reg))

	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	taskRepo := tasks.NewRepository(conn)
	queue, err := tasks.NewQueue(taskRepo, cfg.Tasks.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("task queue: %w", err)
	}

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo:                inventory.NewRepository(conn),
		TxRunner:            params.DB,
		Outbox:              outboxSvc,
		Logger:              logg,
		DefaultReorderLevel: cfg.Commerce.LowStockThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:           orders.NewRepository(conn),
		TxRunner:       params.DB,
		Outbox:         outboxSvc,
		Inventory:      inventorySvc,
		Logger:         logg,
		ReservationTTL: cfg.Commerce.ReservationTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	ledgerSvc, err := vendorledger.NewService(vendorledger.NewRepository(conn), logg)
	if err != nil {
		return nil, fmt.Errorf("vendor ledger: %w", err)
	}

	paymentRepo := payments.NewRepository(conn)
	rec, err := reconciler.New(reconciler.Params{
		Payments:       paymentRepo,
		Orders:         ordersSvc,
		Inventory:      inventorySvc,
		Ledger:         ledgerSvc,
		Vendors:        reconciler.NewVendorRates(conn),
		Queue:          queue,
		Outbox:         outboxSvc,
		Logger:         logg,
		CommissionRate: cfg.Commerce.CommissionRate(),
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	stripeClient, gws, err := buildGateways(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	gatewayRegistry := gateways.NewRegistry(gws...)

	guard, err := webhooks.NewIdempotencyGuard(params.Redis, cfg.Commerce.WebhookDedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:       paymentRepo,
		TxRunner:   params.DB,
		Gateways:   gatewayRegistry,
		Breakers:   breakers,
		Orders:     ordersSvc,
		Reconciler: rec,
		Outbox:     outboxSvc,
		Logger:     logg,
		Guard:      guard,
		Metrics:    metrics.NewWebhookMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	ordersSvc.SetPaymentFailer(paymentsSvc)

	var transferer payouts.Transferer
	if stripeClient != nil {
		transferer = payouts.NewStripeConnectTransferer(stripeClient, breakers.Get(TransferBreakerName))
	}
	payoutsSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:       payouts.NewRepository(conn),
		TxRunner:   params.DB,
		Ledger:     ledgerSvc,
		Queue:      queue,
		Outbox:     outboxSvc,
		Transferer: transferer,
		Logger:     logg,
		Currency:   currency,
	})
	if err != nil {
		return nil, fmt.Errorf("payouts service: %w", err)
	}

	courierHTTP := gateways.NewHTTPClient(cfg.Breaker.CallTimeout)
	shippingSvc, err := shipping.NewService(shipping.ServiceParams{
		Repo:          shipping.NewRepository(conn),
		TxRunner:      params.DB,
		Courier:       shipping.NewSteadfast(cfg.Courier, courierHTTP),
		Breaker:       breakers.Get(shipping.BreakerName(cfg.Courier.Name)),
		Orders:        ordersSvc,
		Outbox:        outboxSvc,
		Logger:        logg,
		WebhookSecret: cfg.Courier.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("shipping service: %w", err)
	}

	return &App{
		Config:     cfg,
		Breakers:   breakers,
		Gateways:   gatewayRegistry,
		Queue:      queue,
		TaskRepo:   taskRepo,
		OutboxRepo: outboxRepo,
		Outbox:     outboxSvc,
		Inventory:  inventorySvc,
		Orders:     ordersSvc,
		Ledger:     ledgerSvc,
		Reconciler: rec,
		Payments:   paymentsSvc,
		Payouts:    payoutsSvc,
		Shipping:   shippingSvc,
	}, nil
}

// buildGateways registers every provider with credentials configured. The
// stripe client is returned separately because payouts reuse it.
func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*pkgstripe.Client, []gateways.Gateway, error) {
	httpClient := gateways.NewHTTPClient(cfg.Breaker.CallTimeout)
	var (
		out          []gateways.Gateway
		stripeClient *pkgstripe.Client
	)

	if cfg.SSLCommerz.Enabled() {
		gw, err := sslcommerz.New(cfg.SSLCommerz, httpClient, "")
		if err != nil {
			return nil, nil, fmt.Errorf("sslcommerz gateway: %w", err)
		}
		out = append(out, gw)
	}
	if cfg.Stripe.Enabled() {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, nil, fmt.Errorf("stripe client: %w", err)
		}
		gw, err := stripegw.New(client, client.SigningSecret())
		if err != nil {
			return nil, nil, fmt.Errorf("stripe gateway: %w", err)
		}
		stripeClient = client
		out = append(out, gw)
	}
	if cfg.PayPal.Enabled() {
		gw, err := paypal.New(cfg.PayPal, httpClient, "")
		if err != nil {
			return nil, nil, fmt.Errorf("paypal gateway: %w", err)
		}
		out = append(out, gw)
	}
	if cfg.Bkash.Enabled() {
		gw, err := bkash.New(cfg.Bkash, httpClient, "")
		if err != nil {
			return nil, nil, fmt.Errorf("bkash gateway: %w", err)
		}
		out = append(out, gw)
	}
	if cfg.Square.Enabled() {
		client, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, nil, fmt.Errorf("square client: %w", err)
		}
		gw, err := squaregw.NewFromClient(client)
		if err != nil {
			return nil, nil, fmt.Errorf("square gateway: %w", err)
		}
		out = append(out, gw)
	}

	if len(out) == 0 {
		logg.Warn(ctx, "no payment gateways configured")
	}
	return stripeClient, out, nil
}

// Workers returns the task registrations this app serves.
func (a *App) Workers() []tasks.Registration {
	return []tasks.Registration{
		a.Shipping.Registration(),
		a.Payouts.Registration(),
	}
}
