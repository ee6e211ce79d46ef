// internal/infra/kafka/payment_consumer.go
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/usecase"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// paymentEvent mirrors the webhook payload, delivered over the broker.
type paymentEvent struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
}

// PaymentConsumer feeds payment outcomes from kafka into the payment
// service. It offers the same semantics as the webhook; providers that
// publish to the broker skip the HTTP callback entirely.
type PaymentConsumer struct {
	reader   *kafka.Reader
	payments *usecase.PaymentService
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewPaymentConsumer creates a consumer-group reader on the payment topic.
func NewPaymentConsumer(brokers []string, topic, groupID string, payments *usecase.PaymentService, logger *slog.Logger) *PaymentConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &PaymentConsumer{
		reader:   reader,
		payments: payments,
		logger:   logger.With("component", "payment-consumer"),
		tracer:   otel.Tracer("inventory-reserve-kafka"),
	}
}

// Run consumes payment events until ctx is cancelled. Offsets commit only
// after an event is applied; the outcome handlers are idempotent, so the
// resulting at-least-once delivery is safe.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("payment consumer started",
		"topic", c.reader.Config().Topic, "group_id", c.reader.Config().GroupID)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.Info("payment consumer stopped")
				return nil
			}
			c.logger.Error("failed to fetch payment event", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			// Uncommitted; the event comes back on the next rebalance.
			c.logger.Error("failed to apply payment event", "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit payment event offset", "error", err)
		}
	}
}

// handle applies one event. A nil return commits the offset, including the
// poison cases that will never become processable.
func (c *PaymentConsumer) handle(ctx context.Context, value []byte) error {
	ctx, span := c.tracer.Start(ctx, "consumer.PaymentEvent")
	defer span.End()

	var event paymentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		span.RecordError(err)
		c.logger.Warn("dropping malformed payment event", "error", err)
		return nil
	}
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("payment.outcome", event.Outcome),
	)

	var err error
	switch event.Outcome {
	case "confirmed":
		_, err = c.payments.OnConfirmed(ctx, event.OrderID)
	case "failed":
		_, err = c.payments.OnFailed(ctx, event.OrderID)
	default:
		c.logger.Warn("dropping payment event with unknown outcome",
			"order_id", event.OrderID, "outcome", event.Outcome)
		return nil
	}

	if errors.Is(err, domain.ErrOrderNotFound) {
		c.logger.Warn("dropping payment event for unknown order", "order_id", event.OrderID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to apply payment outcome")
	}
	return err
}
