package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/order/application"
	sagadom "github.com/orderflow/fulfillment/internal/saga/domain"
	"github.com/orderflow/fulfillment/pkg/idempotency"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

// Consumer applies saga commands to the order aggregate.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("order-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		commandType := headerValue(msg.Headers, "command_type")
		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "Handle"+commandType)

		headers := map[string]string{"source": "order-service"}
		traceparent := headerValue(msg.Headers, "traceparent")

		if err := c.handle(msgCtx, commandType, msg.Value, headers, traceparent); err != nil {
			c.log.Error("command handling failed", "command_type", commandType, "err", err)
			span.End()
			// Unmarked and uncommitted, so the redelivery is handled again.
			continue
		}
		span.End()
		if err := c.idem.Mark(ctx, key); err != nil {
			c.log.Error("idempotency mark failed", "key", key, "err", err)
		}
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, commandType string, payload []byte, headers map[string]string, traceparent string) error {
	switch commandType {
	case sagadom.CommandConfirmOrder:
		var cmd sagadom.ConfirmOrder
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.log.Error("unmarshal failed", "command_type", commandType, "err", err)
			return nil
		}
		return c.svc.Confirm(ctx, cmd.OrderID, headers, traceparent)

	case sagadom.CommandCancelOrder:
		var cmd sagadom.CancelOrder
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.log.Error("unmarshal failed", "command_type", commandType, "err", err)
			return nil
		}
		return c.svc.Cancel(ctx, cmd.OrderID, headers, traceparent)

	default:
		c.log.Warn("unknown command type skipped", "command_type", commandType)
		return nil
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
