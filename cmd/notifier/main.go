// The notifier worker consumes order.confirmed events and dispatches the
// customer-facing confirmation. Delivery mechanics live behind this worker;
// the API process only publishes.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/config"
	kafkax "github.com/noor-atelier/backend/internal/kafka"
	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/redisx"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	dedup := &redisx.Dedup{Client: rdb, Service: cfg.ServiceName + "-notifier"}

	handler := func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			logger.Warn("undecodable envelope", zap.Error(err))
			return nil // poison message, do not block the partition
		}
		if env.EventType != orders.EventOrderConfirmed {
			return nil
		}
		if dedup.Seen(ctx, env.EventID) {
			return nil
		}

		p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
		if err != nil {
			logger.Warn("undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}

		// Delivery is a stand-in: downstream mail/SMS integration hangs off
		// this log line. Failures stay inside the worker either way.
		logger.Info("order confirmation dispatched",
			zap.String("order_id", p.OrderID),
			zap.String("email", p.Email),
			zap.Int64("total_cents", p.TotalCents),
			zap.String("currency", p.Currency))

		dedup.Mark(ctx, env.EventID)
		return nil
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderConfirmed, workers)

	go func() {
		logger.Info("notifier consumer started",
			zap.String("group", group),
			zap.String("topic", orders.TopicOrderConfirmed),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, handler); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
