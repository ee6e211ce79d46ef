package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReservationService turns a cart into an all-or-nothing set of item locks.
type ReservationService struct {
	locks      domain.LockStore
	inventory  domain.InventoryStore
	orders     domain.OrderStore
	defaultTTL time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewReservationService creates a new ReservationService instance.
func NewReservationService(locks domain.LockStore, inventory domain.InventoryStore, orders domain.OrderStore, defaultTTL time.Duration, logger *slog.Logger) *ReservationService {
	return &ReservationService{
		locks:      locks,
		inventory:  inventory,
		orders:     orders,
		defaultTTL: defaultTTL,
		logger:     logger,
		tracer:     otel.Tracer("inventory-reserve-usecase"),
	}
}

// ReserveCart claims a lock on every distinct item in the cart, or on none
// of them. owner is the token the claims are held under; checkout passes
// the new order's ID. A ttl of zero falls back to the configured default.
//
// The returned result separates business failure from infra failure: stock
// shortfalls and lock contention come back as Blocked entries with Reserved
// false, while an error return means nothing could be decided. In every
// non-reserved outcome no locks remain held.
func (s *ReservationService) ReserveCart(ctx context.Context, owner, vendorID string, lines []domain.CartLine, ttl time.Duration) (*domain.ReservationResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.ReserveCart")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.owner", owner),
		attribute.String("vendor.id", vendorID),
		attribute.Int("cart.lines", len(lines)),
	)

	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	blocked, err := s.inventory.CheckStock(ctx, vendorID, lines)
	if err != nil {
		if !errors.Is(err, domain.ErrVendorNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to check vendor stock")
		}
		return nil, err
	}
	if len(blocked) > 0 {
		metrics.ReservationsTotal.WithLabelValues("blocked").Inc()
		s.logger.Info("reservation blocked by stock",
			"owner", owner, "vendor_id", vendorID, "blocked_items", len(blocked))
		return &domain.ReservationResult{Blocked: blocked}, nil
	}

	acquired := make([]domain.Lock, 0, len(lines))
	seen := make(map[domain.ItemKey]bool, len(lines))
	for i, line := range lines {
		key := line.Key()
		if seen[key] {
			// Duplicate lines fold into the single claim already held.
			continue
		}

		lock, err := s.locks.Acquire(ctx, key, owner, ttl)
		if err == nil {
			seen[key] = true
			acquired = append(acquired, *lock)
			continue
		}
		if !errors.Is(err, domain.ErrItemLocked) {
			s.rollback(ctx, acquired, owner)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to acquire item lock")
			return nil, err
		}

		// Contention: give everything back first, then report every line
		// that would still block a retry.
		s.rollback(ctx, acquired, owner)
		blocked := s.probeBlocked(ctx, key, line, lines[i+1:], seen)
		metrics.ReservationsTotal.WithLabelValues("blocked").Inc()
		s.logger.Info("reservation blocked by lock contention",
			"owner", owner, "vendor_id", vendorID, "blocked_items", len(blocked))
		return &domain.ReservationResult{Blocked: blocked}, nil
	}

	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("cart reserved",
		"owner", owner, "vendor_id", vendorID, "locks", len(acquired))
	return &domain.ReservationResult{Reserved: true, Locks: acquired}, nil
}

// probeBlocked builds the blocked list after a contention hit: the line
// that lost, plus any later line whose lock is live right now. Lines whose
// keys we had acquired ourselves were just rolled back and are not probed.
func (s *ReservationService) probeBlocked(ctx context.Context, hit domain.ItemKey, hitLine domain.CartLine, rest []domain.CartLine, ours map[domain.ItemKey]bool) []domain.BlockedItem {
	blocked := []domain.BlockedItem{{ItemID: hitLine.ItemID, Kind: hitLine.Kind, Reason: domain.BlockReasonLocked}}
	probed := map[domain.ItemKey]bool{hit: true}
	for _, line := range rest {
		key := line.Key()
		if probed[key] || ours[key] {
			continue
		}
		probed[key] = true
		live, err := s.locks.IsLive(ctx, key)
		if err != nil {
			s.logger.Warn("failed to probe item lock", "key", key.String(), "error", err)
			continue
		}
		if live {
			blocked = append(blocked, domain.BlockedItem{ItemID: line.ItemID, Kind: line.Kind, Reason: domain.BlockReasonLocked})
		}
	}
	return blocked
}

// rollback releases acquired locks in reverse order. Misses are logged and
// ignored.
func (s *ReservationService) rollback(ctx context.Context, locks []domain.Lock, owner string) {
	for i := len(locks) - 1; i >= 0; i-- {
		key := locks[i].Key
		if ok, err := s.locks.Release(ctx, key, owner); err != nil {
			s.logger.Warn("failed to roll back lock", "key", key.String(), "error", err)
		} else if !ok {
			s.logger.Debug("rollback found lock already gone", "key", key.String())
		}
	}
}

// RestoreLocks re-claims item locks for every pendingPayment order whose
// reservation window is still open. It runs once at startup, where a
// restart has emptied the in-memory lock table while orders persist.
func (s *ReservationService) RestoreLocks(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.RestoreLocks")
	defer span.End()

	orders, err := s.orders.LivePending(ctx, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list live pending orders")
		return 0, err
	}

	restored := 0
	for _, order := range orders {
		ttl := time.Until(order.ReservationExpiresAt)
		if ttl <= 0 {
			continue
		}
		for _, item := range order.Items {
			if _, err := s.locks.Acquire(ctx, item.Key(), order.ID, ttl); err != nil {
				s.logger.Warn("failed to restore item lock",
					"order_id", order.ID, "key", item.Key().String(), "error", err)
				continue
			}
			restored++
		}
	}

	span.SetAttributes(
		attribute.Int("orders.pending", len(orders)),
		attribute.Int("locks.restored", restored),
	)
	if len(orders) > 0 {
		s.logger.Info("restored item locks for pending orders",
			"orders", len(orders), "locks", restored)
	}
	return restored, nil
}
