package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderflow/fulfillment/pkg/idempotency"
	"github.com/orderflow/fulfillment/pkg/logging"
	"github.com/orderflow/fulfillment/pkg/shutdown"
	"github.com/orderflow/fulfillment/pkg/tracing"

	sagakafka "github.com/orderflow/fulfillment/internal/saga/infrastructure/kafka"
	"github.com/orderflow/fulfillment/internal/saga/process"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	// Configuration
	kafkaBrokers := []string{env("KAFKA_ADDR", "localhost:9092")}
	redisAddr := env("REDIS_ADDR", "localhost:6379")
	otelAddr := env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	orderEvents := env("ORDER_EVENTS_TOPIC", "order.events")
	productEvents := env("PRODUCT_EVENTS_TOPIC", "product.events")
	orderCommands := env("ORDER_COMMANDS_TOPIC", "order.commands")
	productCommands := env("PRODUCT_COMMANDS_TOPIC", "product.commands")
	reservationTimeout := envDuration("RESERVATION_TIMEOUT", 2*time.Minute, log)

	tp, err := tracing.Init(ctx, "saga-service", otelAddr, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	// Kafka producer for saga commands
	writer := sagakafka.NewWriter(kafkaBrokers)
	defer writer.Close()
	dispatch := sagakafka.NewDispatcher(log, writer, productCommands, orderCommands)

	registry := process.NewRegistry(log, dispatch)

	// One consumer per event topic, both feeding the shared registry.
	orderConsumer := sagakafka.NewConsumer(log, kafkaBrokers, orderEvents, "saga-service", registry, idem)
	productConsumer := sagakafka.NewConsumer(log, kafkaBrokers, productEvents, "saga-service", registry, idem)

	go func() {
		if err := orderConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("order event consumer stopped with error", "err", err)
			cancel()
		}
	}()
	go func() {
		if err := productConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("product event consumer stopped with error", "err", err)
			cancel()
		}
	}()

	// Force-fail reservations that never resolved.
	go func() {
		ticker := time.NewTicker(reservationTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := registry.ExpireStalled(ctx, reservationTimeout); n > 0 {
					log.Warn("expired stalled orders", "count", n)
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info("saga-service shutdown complete")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration, log *slog.Logger) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn("invalid duration, using default", "key", k, "value", v)
		return def
	}
	return d
}
