package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/orderflow-settlement/internal/authz"
	"github.com/joao-fontenele/orderflow-settlement/internal/cart"
	"github.com/joao-fontenele/orderflow-settlement/internal/checkout"
	"github.com/joao-fontenele/orderflow-settlement/internal/config"
	"github.com/joao-fontenele/orderflow-settlement/internal/httpx"
	"github.com/joao-fontenele/orderflow-settlement/internal/inventory"
	"github.com/joao-fontenele/orderflow-settlement/internal/messaging"
	"github.com/joao-fontenele/orderflow-settlement/internal/notify"
	"github.com/joao-fontenele/orderflow-settlement/internal/orders"
	"github.com/joao-fontenele/orderflow-settlement/internal/payment"
	"github.com/joao-fontenele/orderflow-settlement/internal/promotions"
	"github.com/joao-fontenele/orderflow-settlement/internal/requests"
	"github.com/joao-fontenele/orderflow-settlement/internal/telemetry"
	"github.com/joao-fontenele/orderflow-settlement/internal/wallet"
)

const serviceName = "marketplace"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadMarketplace()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	telemetryOpts := telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetryOpts)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(telemetryOpts)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Error("failed to create business metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var publisher notify.Publisher
	if brokers := cfg.Kafka.BrokerList(); brokers != nil {
		producer := messaging.NewProducer(brokers, cfg.Kafka.OrderEventsTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}
	dispatcher := notify.NewDispatcher(publisher, logger)

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var (
		gateway  payment.Gateway
		refunder orders.Refunder
	)
	if cfg.PaymentGatewayURL != "" {
		g := payment.NewHTTPGateway(cfg.PaymentGatewayURL, httpClient)
		gateway, refunder = g, g
	} else {
		logger.Warn("PAYMENT_GATEWAY_URL not set, online payments will not be registered")
	}

	walletLedger := wallet.NewLedger(db, metrics, logger)
	promotionLedger := promotions.NewLedger(db, metrics)
	machine := orders.NewMachine(db, walletLedger, refunder, dispatcher, metrics,
		orders.MachineConfig{BonusPointsPercent: cfg.BonusPointsPercent}, logger)
	orchestrator := checkout.NewOrchestrator(db, promotionLedger, gateway, dispatcher, metrics,
		checkout.Config{PriceTolerancePercent: cfg.PriceTolerancePercent}, logger)
	workflow := requests.NewWorkflow(db, machine, walletLedger,
		requests.Config{ReturnWindow: cfg.ReturnWindow}, logger)

	inventoryHandler := inventory.NewHandler(inventory.NewRepository(db), logger)
	cartHandler := cart.NewHandler(cart.NewService(db), logger)
	checkoutHandler := checkout.NewHandler(orchestrator, logger)
	orderHandler := orders.NewHandler(machine, cfg.WebhookSecret, logger)
	requestHandler := requests.NewHandler(workflow, logger)
	promotionHandler := promotions.NewHandler(promotionLedger, logger)
	walletHandler := wallet.NewHandler(walletLedger, cfg.CoolingOffPeriod, cfg.ReleaseBatchSize, logger)
	checkoutLimiter := httpx.NewRateLimiter(cfg.CheckoutRatePerMinute, logger)

	api := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, telemetry.WithHTTPRoute(h))
	}

	route("GET /stores/{storeId}/products", inventoryHandler.HandleListStore)
	route("GET /products/{productId}", inventoryHandler.HandleGetProduct)

	route("GET /stores/{storeId}/cart", cartHandler.HandleGetForStore)
	route("POST /cart/items", cartHandler.HandleAddItem)
	route("GET /carts/{cartId}", cartHandler.HandleGet)
	route("DELETE /carts/{cartId}/items/{productId}", cartHandler.HandleRemoveItem)
	route("DELETE /carts/{cartId}", cartHandler.HandleClear)

	api.Handle("POST /checkout", checkoutLimiter.Middleware(telemetry.WithHTTPRoute(http.HandlerFunc(checkoutHandler.HandleCheckout))))
	route("GET /promotions/{code}/preview", promotionHandler.HandlePreview)

	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("POST /orders/{id}/confirm", orderHandler.HandleConfirm)
	route("POST /orders/{id}/prepare", orderHandler.HandlePrepare)
	route("POST /orders/{id}/ship", orderHandler.HandleShip)
	route("POST /orders/{id}/deliver", orderHandler.HandleDeliver)
	route("POST /orders/{id}/cancel", orderHandler.HandleCancel)

	route("POST /orders/{id}/requests", requestHandler.HandleSubmit)
	route("GET /orders/{id}/requests", requestHandler.HandleListForOrder)
	route("GET /requests/{requestId}", requestHandler.HandleGet)
	route("POST /requests/{requestId}/review", requestHandler.HandleReview)

	route("POST /wallets", walletHandler.HandleCreate)
	route("GET /wallets/{supplierId}", walletHandler.HandleGet)
	route("GET /wallets/{supplierId}/transactions", walletHandler.HandleTransactions)
	route("GET /wallets/{supplierId}/reconcile", walletHandler.HandleReconcile)
	route("PUT /wallets/{supplierId}/status", walletHandler.HandleSetStatus)
	route("POST /wallets/{supplierId}/adjustments", walletHandler.HandleAdjust)
	route("POST /wallets/{supplierId}/payout", walletHandler.HandlePayout)
	route("POST /settlement/payouts", walletHandler.HandleMonthlyPayout)
	route("POST /settlement/release", walletHandler.HandleRelease)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("POST /payments/webhook", telemetry.WithHTTPRoute(http.HandlerFunc(orderHandler.HandlePaymentWebhook)))
	mux.Handle("/", authz.Middleware(authz.NewVerifier([]byte(cfg.JWTSecret)), logger)(api))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting marketplace service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
