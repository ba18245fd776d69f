package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/orderflow/fulfillment/internal/saga/domain"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes saga commands to the aggregate command topics.
// Product commands are keyed by product id, order commands by order id, so
// commands for the same aggregate land on the same partition.
type Dispatcher struct {
	log          *slog.Logger
	producer     Producer
	productTopic string
	orderTopic   string
}

func NewDispatcher(log *slog.Logger, producer Producer, productTopic, orderTopic string) *Dispatcher {
	return &Dispatcher{
		log:          log,
		producer:     producer,
		productTopic: productTopic,
		orderTopic:   orderTopic,
	}
}

func (d *Dispatcher) ReserveProduct(ctx context.Context, orderID, productID string, amount int) error {
	cmd := domain.ReserveProduct{OrderID: orderID, ProductID: productID, Amount: amount}
	return d.send(ctx, d.productTopic, productID, domain.CommandReserveProduct, cmd)
}

func (d *Dispatcher) ReleaseReservation(ctx context.Context, orderID, productID string, amount int) error {
	cmd := domain.ReleaseReservation{OrderID: orderID, ProductID: productID, Amount: amount}
	return d.send(ctx, d.productTopic, productID, domain.CommandReleaseReservation, cmd)
}

func (d *Dispatcher) ConfirmOrder(ctx context.Context, orderID string) error {
	return d.send(ctx, d.orderTopic, orderID, domain.CommandConfirmOrder, domain.ConfirmOrder{OrderID: orderID})
}

func (d *Dispatcher) CancelOrder(ctx context.Context, orderID string) error {
	return d.send(ctx, d.orderTopic, orderID, domain.CommandCancelOrder, domain.CancelOrder{OrderID: orderID})
}

func (d *Dispatcher) send(ctx context.Context, topic, key, commandType string, cmd any) error {
	value, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: "command_type", Value: []byte(commandType)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("command dispatch failed", "command_type", commandType, "key", key, "err", err)
		return err
	}
	d.log.Info("command dispatched", "command_type", commandType, "key", key)
	return nil
}
