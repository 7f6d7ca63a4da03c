package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/commerce-engine/api/controllers"
	webhookcontrollers "github.com/angelmondragon/commerce-engine/api/controllers/webhooks"
	"github.com/angelmondragon/commerce-engine/api/middleware"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/redis"
)

// PaymentService is the slice of payments used by the HTTP surface.
type PaymentService interface {
	controllers.PaymentInitiator
	controllers.PaymentRefunder
	webhookcontrollers.PaymentWebhookService
}

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    redis.Pinger
	Store    redis.IdempotencyStore
	Gatherer prometheus.Gatherer

	Payments  PaymentService
	Orders    controllers.OrderService
	Inventory controllers.StockManager
	Ledger    controllers.VendorLedger
	Payouts   controllers.PayoutService
	Shipping  webhookcontrollers.ShippingWebhookService
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})
	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payment/{gateway}", webhookcontrollers.PaymentWebhook(p.Payments, logg))
		r.Post("/shipping/{courier}", webhookcontrollers.ShippingWebhook(p.Shipping, logg))
	})

	r.Post("/payments/initiate", controllers.InitiatePayment(p.Payments, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Idempotency(p.Store, logg))
		r.Post("/orders", controllers.PlaceOrder(p.Orders, logg))
		r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(p.Orders, logg))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.InternalToken(cfg.App.InternalToken, logg))
		r.Use(middleware.Idempotency(p.Store, logg))
		r.Post("/payments/{paymentId}/refund", controllers.RefundPayment(p.Payments, logg))
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/stock", controllers.AddStock(p.Inventory, logg))
			r.Post("/adjust", controllers.AdjustStock(p.Inventory, logg))
		})
		r.Get("/vendors/{vendorId}/balance", controllers.VendorBalance(p.Ledger, logg))
		r.Route("/payouts", func(r chi.Router) {
			r.Post("/run", controllers.RunPayouts(p.Payouts, cfg.Commerce.MinPayoutCents, logg))
			r.Post("/{payoutId}/complete", controllers.CompletePayout(p.Payouts, logg))
			r.Post("/{payoutId}/fail", controllers.FailPayout(p.Payouts, logg))
		})
	})

	return r
}
