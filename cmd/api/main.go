package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-settlement/api/controllers"
	"github.com/angelmondragon/marketplace-settlement/api/routes"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/commission"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/internal/refunds"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	stripewebhook "github.com/angelmondragon/marketplace-settlement/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-settlement/internal/withdrawals"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/migrate"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
	"github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

const stripeEventScope = "stripe-event"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var stripeClient *stripe.Client
	if cfg.Stripe.APIKey != "" {
		stripeClient, err = stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe client", err)
			os.Exit(1)
		}
	}

	paymentGateway, err := gateway.New(cfg.Payments, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	publisher := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())
	paymentsRepo := payments.NewRepository(dbClient.DB())

	walletService, err := wallet.NewService(wallet.NewRepository(dbClient.DB()), settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	commissionConfig, err := commission.NewConfigService(
		commission.NewRepository(dbClient.DB()),
		dbClient,
		publisher,
		redisClient,
		logg,
		cfg.Commission.Rate(),
		cfg.Commission.CacheTTL,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create commission config service", err)
		os.Exit(1)
	}

	commissionEngine, err := commission.NewEngine(ordersRepo, walletService, commissionConfig, dbClient, publisher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create commission engine", err)
		os.Exit(1)
	}

	refundService, err := refunds.NewService(
		ordersRepo,
		paymentsRepo,
		walletService,
		paymentGateway,
		dbClient,
		publisher,
		logg,
		settlementMetrics,
		cfg.Payments.GatewayTimeout,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create refund service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(
		ordersRepo,
		dbClient,
		publisher,
		reservation.NewReleaser(),
		commissionEngine,
		refundService,
		logg,
		settlementMetrics,
		cfg.Orders.ReturnWindowDays,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		paymentsRepo,
		ordersRepo,
		ordersService,
		refundService,
		paymentGateway,
		dbClient,
		publisher,
		logg,
		cfg.Payments,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	withdrawalService, err := withdrawals.NewService(
		withdrawals.NewRepository(dbClient.DB()),
		walletService,
		dbClient,
		publisher,
		logg,
		cfg.Withdrawals.MinAmountCents,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create withdrawal service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(
		dbClient,
		checkout.NewRepository(dbClient.DB()),
		ordersRepo,
		nil,
		publisher,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: paymentsService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	stripeWebhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL, stripeEventScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	params := routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Cache:  redisClient,
		Probes: map[string]controllers.Pinger{
			"postgres": dbClient,
			"redis":    redisClient,
		},
		Metrics:            promhttp.Handler(),
		Checkout:           checkoutService,
		Orders:             ordersService,
		Payments:           paymentsService,
		Refunds:            refundService,
		Wallet:             walletService,
		Withdrawals:        withdrawalService,
		Commission:         commissionConfig,
		Engine:             commissionEngine,
		StripeWebhook:      stripeWebhookService,
		StripeWebhookGuard: stripeWebhookGuard,
	}
	if stripeClient != nil {
		params.StripeClient = stripeClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"gateway":  paymentGateway.Name(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(params),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
