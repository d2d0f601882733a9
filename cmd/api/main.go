package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/catalog"
	"github.com/noor-atelier/backend/internal/checkout"
	"github.com/noor-atelier/backend/internal/config"
	"github.com/noor-atelier/backend/internal/httpx"
	kafkax "github.com/noor-atelier/backend/internal/kafka"
	"github.com/noor-atelier/backend/internal/notify"
	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/payment"
	"github.com/noor-atelier/backend/internal/postgres"
	"github.com/noor-atelier/backend/internal/redisx"
	"github.com/noor-atelier/backend/internal/stock"
	"github.com/noor-atelier/backend/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for confirmation messages
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmed, 1024)
	prod.Start(ctx)

	// Payment provider, one client for the whole process
	provider := payment.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, 10*time.Second)

	catalogRepo := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	ledger := &stock.Ledger{DB: db}
	sink := &notify.Sink{Producer: prod, Service: cfg.ServiceName, Log: logger}

	checkoutSvc := &checkout.Service{
		Catalog:  catalogRepo,
		Orders:   orderRepo,
		Provider: provider,
		Log:      logger,
	}
	processor := &webhook.Processor{
		Orders: orderRepo,
		Ledger: ledger,
		Notify: sink,
		Dedup:  &redisx.Dedup{Client: rdb, Service: cfg.ServiceName},
		Secret: cfg.WebhookSecret,
		Log:    logger,
	}

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Service: checkoutSvc, Orders: orderRepo, Provider: provider, Processor: processor, Log: logger}).Register(router)
	(&httpx.WebhookHandler{Processor: processor, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Repo: orderRepo, Redis: rdb, Provider: provider, Log: logger}).Register(router)
	(&httpx.CatalogHandler{Repo: catalogRepo, Ledger: ledger, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
