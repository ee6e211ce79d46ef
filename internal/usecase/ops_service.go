package usecase

import (
	"context"
	"log/slog"
	"time"

	"inventory-reserve/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stats is an operator's snapshot of the reservation core.
type Stats struct {
	LiveLocks      int `json:"live_locks"`
	PendingOrders  int `json:"pending_orders"`
	ExpiredPending int `json:"expired_pending"`
}

// OpsService backs the admin surface: introspection and the manual
// escape hatches.
type OpsService struct {
	locks  domain.LockStore
	orders domain.OrderStore
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOpsService creates a new OpsService instance.
func NewOpsService(locks domain.LockStore, orders domain.OrderStore, logger *slog.Logger) *OpsService {
	return &OpsService{
		locks:  locks,
		orders: orders,
		logger: logger,
		tracer: otel.Tracer("inventory-reserve-usecase"),
	}
}

// Stats reports the live lock count and the pending-order backlog.
func (s *OpsService) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "service.Stats")
	defer span.End()

	live, err := s.locks.LiveCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count live locks")
		return nil, err
	}
	pending, expired, err := s.orders.CountPending(ctx, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count pending orders")
		return nil, err
	}

	return &Stats{
		LiveLocks:      live,
		PendingOrders:  pending,
		ExpiredPending: expired,
	}, nil
}

// ForceRelease frees every item lock held under the given order without
// touching the order's status. Meant for operators unwedging a stuck
// reservation; the sweeper or a payment event still finalizes the order.
func (s *OpsService) ForceRelease(ctx context.Context, orderID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.ForceRelease")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get order")
		return 0, err
	}

	released := releaseLocks(ctx, s.locks, s.logger, order.ID, itemKeys(order.Items))
	span.SetAttributes(attribute.Int("locks.released", released))
	s.logger.Warn("force-released order locks", "order_id", orderID, "released", released)
	return released, nil
}
