package usecase

import (
	"context"
	"log/slog"
	"time"

	"inventory-reserve/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderService drives an order from checkout through fulfillment.
type OrderService struct {
	orders       domain.OrderStore
	inventory    domain.InventoryStore
	locks        domain.LockStore
	reservations *ReservationService
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewOrderService creates a new OrderService instance.
func NewOrderService(orders domain.OrderStore, inventory domain.InventoryStore, locks domain.LockStore, reservations *ReservationService, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders:       orders,
		inventory:    inventory,
		locks:        locks,
		reservations: reservations,
		logger:       logger,
		tracer:       otel.Tracer("inventory-reserve-usecase"),
	}
}

// Checkout reserves the cart and persists the resulting pendingPayment
// order. The new order's ID doubles as the lock owner token, so the locks
// and the order are tied together from the first acquire.
//
// A blocked reservation is not an error: the caller gets the result with
// the blocked lines and no order. Failures after a successful reservation
// release every held lock before returning.
func (s *OrderService) Checkout(ctx context.Context, ownerID, vendorID string, lines []domain.CartLine, ttl time.Duration) (*domain.Order, *domain.ReservationResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.Checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.owner_id", ownerID),
		attribute.String("order.vendor_id", vendorID),
	)

	orderID := uuid.New().String()
	res, err := s.reservations.ReserveCart(ctx, orderID, vendorID, lines, ttl)
	if err != nil {
		return nil, nil, err
	}
	if !res.Reserved {
		return nil, res, nil
	}

	prices, err := s.inventory.UnitPrices(ctx, vendorID, lines)
	if err != nil {
		s.abortCheckout(ctx, orderID, res)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to price cart")
		return nil, nil, err
	}

	// Duplicate lines were folded into one lock; fold their quantities
	// into one order item as well.
	items := make([]domain.OrderItem, 0, len(lines))
	index := make(map[domain.ItemKey]int, len(lines))
	for _, line := range lines {
		key := line.Key()
		if i, ok := index[key]; ok {
			items[i].Quantity += line.Quantity
			continue
		}
		index[key] = len(items)
		items = append(items, domain.OrderItem{
			ItemID:    line.ItemID,
			Kind:      line.Kind,
			Quantity:  line.Quantity,
			UnitPrice: prices[key],
		})
	}

	order, err := domain.NewOrder(orderID, ownerID, vendorID, items, res.LatestExpiry())
	if err != nil {
		s.abortCheckout(ctx, orderID, res)
		return nil, nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.abortCheckout(ctx, orderID, res)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		return nil, nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	s.logger.Info("order checked out",
		"order_id", order.ID, "owner_id", ownerID, "vendor_id", vendorID,
		"items", len(order.Items), "total", order.Total.String(),
		"reservation_expires_at", order.ReservationExpiresAt)
	return order, res, nil
}

// abortCheckout gives back the locks of a reservation whose order never
// made it to the store.
func (s *OrderService) abortCheckout(ctx context.Context, orderID string, res *domain.ReservationResult) {
	released := releaseLocks(ctx, s.locks, s.logger, orderID, lockKeys(res.Locks))
	s.logger.Warn("checkout aborted, reservation rolled back",
		"order_id", orderID, "released", released)
}

// CancelOrder finalizes an unpaid order at the buyer's request and frees
// its item locks. Orders already paid or finalized come back with
// domain.ErrInvalidTransition untouched.
func (s *OrderService) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "service.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	order, err := s.orders.FinalizeFailed(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel order")
		return nil, err
	}

	released := releaseLocks(ctx, s.locks, s.logger, order.ID, itemKeys(order.Items))
	s.logger.Info("order cancelled", "order_id", order.ID, "released", released)
	return order, nil
}

// Advance moves a paid order to a later fulfillment stage.
func (s *OrderService) Advance(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "service.AdvanceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", id),
		attribute.String("order.to_status", string(to)),
	)

	order, err := s.orders.Advance(ctx, id, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to advance order")
		return nil, err
	}

	s.logger.Info("order advanced", "order_id", order.ID, "status", order.Status)
	return order, nil
}

// Get retrieves an order.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get order")
	}
	return order, err
}

// releaseLocks frees the given item locks held under owner. Misses are
// expected after expiry or a restart and only logged.
func releaseLocks(ctx context.Context, locks domain.LockStore, logger *slog.Logger, owner string, keys []domain.ItemKey) int {
	released := 0
	for _, key := range keys {
		ok, err := locks.Release(ctx, key, owner)
		if err != nil {
			logger.Warn("failed to release item lock", "owner", owner, "key", key.String(), "error", err)
			continue
		}
		if !ok {
			logger.Debug("item lock already gone", "owner", owner, "key", key.String())
			continue
		}
		released++
	}
	return released
}

func itemKeys(items []domain.OrderItem) []domain.ItemKey {
	keys := make([]domain.ItemKey, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key())
	}
	return keys
}

func lockKeys(locks []domain.Lock) []domain.ItemKey {
	keys := make([]domain.ItemKey, 0, len(locks))
	for _, l := range locks {
		keys = append(keys, l.Key)
	}
	return keys
}

func orderLines(order *domain.Order) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, domain.CartLine{ItemID: it.ItemID, Kind: it.Kind, Quantity: it.Quantity})
	}
	return lines
}
