package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-settlement/api/controllers"
	commissioncontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/commission"
	ordercontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/webhooks"
	withdrawalcontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/withdrawals"
	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/commission"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/refunds"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/internal/withdrawals"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-settlement/pkg/redis"
)

// Cache is the redis surface the HTTP layer needs for idempotency and rate limits.
type Cache interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type stripeSigner interface {
	SigningSecret() string
}

type stripeGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// RouterParams carries every dependency the API surface routes to. A nil
// service answers its routes with an internal error.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger
	Cache  Cache
	Probes map[string]controllers.Pinger
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler

	Checkout    checkoutsvc.Service
	Orders      orders.Service
	Payments    payments.Service
	Refunds     refunds.Service
	Wallet      wallet.Service
	Withdrawals withdrawals.Service
	Commission  commission.ConfigService
	Engine      commission.Engine

	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeClient       stripeSigner
	StripeWebhookGuard stripeGuard
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		limiterStore     middleware.RateLimitStore
	)
	if p.Cache != nil {
		idempotencyStore = p.Cache
		limiterStore = p.Cache
	}
	moneyPolicy := middleware.NewRateLimitPolicy("money", cfg.RateLimit)
	moneyLimit := middleware.RateLimit(moneyPolicy, limiterStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Probes))
	})

	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhook, p.StripeClient, p.StripeWebhookGuard, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.With(moneyLimit).Post("/checkout", controllers.Checkout(p.Checkout, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Use(moneyLimit)
			r.Post("/", controllers.CreatePayment(p.Payments, logg))
			r.Post("/verify", controllers.VerifyPayment(p.Payments, logg))
			r.Post("/cod", controllers.ConfirmCOD(p.Payments, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(p.Orders, logg))
				r.Get("/tracking", ordercontrollers.Tracking(p.Orders, logg))
				r.Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
				r.Post("/return", ordercontrollers.RequestReturn(p.Orders, logg))
				r.With(moneyLimit).Post("/refund", controllers.RequestRefund(p.Refunds, logg))
				r.Get("/refund", controllers.RefundStatus(p.Refunds, logg))
			})
		})

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireVendor(logg))
			r.Get("/orders", ordercontrollers.VendorList(p.Orders, logg))
			r.Patch("/orders/{orderId}/status", ordercontrollers.AdvanceStatus(p.Orders, logg))
			r.Post("/orders/{orderId}/return/approve", ordercontrollers.ApproveReturn(p.Orders, logg))
			r.Get("/wallet", controllers.WalletSummary(p.Wallet, logg))
			r.Get("/wallet/transactions", controllers.WalletTransactions(p.Wallet, logg))
			r.With(moneyLimit).Post("/withdrawals", withdrawalcontrollers.Request(p.Withdrawals, logg))
			r.Get("/withdrawals", withdrawalcontrollers.VendorList(p.Withdrawals, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireOperator(logg))
			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Patch("/status", ordercontrollers.AdvanceStatus(p.Orders, logg))
				r.Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
				r.Post("/return/approve", ordercontrollers.ApproveReturn(p.Orders, logg))
				r.Post("/return/pickup", ordercontrollers.MarkPickupCompleted(p.Orders, logg))
				r.Post("/return/complete", ordercontrollers.CompleteReturn(p.Orders, logg))
				r.Post("/commission", commissioncontrollers.ProcessOrder(p.Engine, logg))
				r.Post("/refund", controllers.InitiateRefund(p.Refunds, logg))
				r.Post("/refund/complete", controllers.CompleteRefund(p.Refunds, logg))
			})
			r.Route("/commission", func(r chi.Router) {
				r.Get("/", commissioncontrollers.GetConfig(p.Commission, logg))
				r.Put("/", commissioncontrollers.UpdateGlobalRate(p.Commission, logg))
				r.Put("/vendors/{vendorId}", commissioncontrollers.SetVendorOverride(p.Commission, logg))
				r.Delete("/vendors/{vendorId}", commissioncontrollers.ClearVendorOverride(p.Commission, logg))
			})
			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", withdrawalcontrollers.AdminList(p.Withdrawals, logg))
				r.Post("/{withdrawalId}/approve", withdrawalcontrollers.Approve(p.Withdrawals, logg))
				r.Post("/{withdrawalId}/pay", withdrawalcontrollers.Pay(p.Withdrawals, logg))
				r.Post("/{withdrawalId}/reject", withdrawalcontrollers.Reject(p.Withdrawals, logg))
			})
		})
	})

	return r
}
