package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/projection"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

// Consumer feeds one event topic into the projector. The projector
// service runs one Consumer per event topic.
type Consumer struct {
	log       *slog.Logger
	reader    *kafka.Reader
	projector *projection.Projector
	tracer    trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, projector *projection.Projector) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:       log,
		reader:    r,
		projector: projector,
		tracer:    otel.Tracer("projection-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		eventType := headerValue(msg.Headers, "event_type")

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "Project"+eventType)

		if err := c.projector.Handle(msgCtx, eventType, msg.Value); err != nil {
			c.log.Error("projection failed", "event_type", eventType, "err", err)
			span.End()
			continue
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
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
