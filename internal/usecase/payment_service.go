package usecase

import (
	"context"
	"errors"
	"log/slog"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PaymentService applies payment outcomes reported by the payment
// provider, over the webhook or the kafka feed.
//
// Both handlers are idempotent: the status flip runs as a CAS in the order
// store, so replays and events arriving after expiry degrade to ignored
// no-ops instead of double-applying.
type PaymentService struct {
	orders    domain.OrderStore
	inventory domain.InventoryStore
	locks     domain.LockStore
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewPaymentService creates a new PaymentService instance.
func NewPaymentService(orders domain.OrderStore, inventory domain.InventoryStore, locks domain.LockStore, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		orders:    orders,
		inventory: inventory,
		locks:     locks,
		logger:    logger,
		tracer:    otel.Tracer("inventory-reserve-usecase"),
	}
}

// OnConfirmed flips a pendingPayment order to inProgress, deducts retail
// stock and frees the item locks. The returned order is nil when the event
// was ignored because the order had already left pendingPayment.
func (s *PaymentService) OnConfirmed(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "service.PaymentConfirmed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.MarkInProgress(ctx, orderID)
	if errors.Is(err, domain.ErrInvalidTransition) {
		metrics.PaymentEventsTotal.WithLabelValues("confirmed", "ignored").Inc()
		s.logger.Info("payment confirmation ignored, order not awaiting payment", "order_id", orderID)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark order in progress")
		return nil, err
	}

	if err := s.inventory.DeductStock(ctx, order.VendorID, orderLines(order)); err != nil {
		// The order stays paid; stock counts are reconciled out of band.
		span.RecordError(err)
		s.logger.Error("failed to deduct stock for confirmed order",
			"order_id", order.ID, "vendor_id", order.VendorID, "error", err)
	}

	released := releaseLocks(ctx, s.locks, s.logger, order.ID, itemKeys(order.Items))
	metrics.PaymentEventsTotal.WithLabelValues("confirmed", "applied").Inc()
	s.logger.Info("payment confirmed", "order_id", order.ID, "released", released)
	return order, nil
}

// OnFailed finalizes a pendingPayment order as failed and frees its item
// locks. The returned order is nil when the event was ignored.
func (s *PaymentService) OnFailed(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "service.PaymentFailed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.FinalizeFailed(ctx, orderID)
	if errors.Is(err, domain.ErrInvalidTransition) {
		metrics.PaymentEventsTotal.WithLabelValues("failed", "ignored").Inc()
		s.logger.Info("payment failure ignored, order not awaiting payment", "order_id", orderID)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finalize order")
		return nil, err
	}

	released := releaseLocks(ctx, s.locks, s.logger, order.ID, itemKeys(order.Items))
	metrics.PaymentEventsTotal.WithLabelValues("failed", "applied").Inc()
	s.logger.Info("payment failed, order finalized", "order_id", order.ID, "released", released)
	return order, nil
}
