// internal/infra/etcd/etcd_order_store.go
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"inventory-reserve/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	OrderDir  = "/reserve/orders/"
	UserDir   = "/reserve/users/"
	VendorDir = "/reserve/vendors/"
)

// accountDoc is the per-actor order index stored next to the orders
// themselves: one document per buyer and one per vendor.
type accountDoc struct {
	ActiveOrders []string `json:"active_orders"`
	PastOrders   []string `json:"past_orders"`
}

type etcdOrderStore struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOrderStore creates an order store backed by etcd. Status flips and the
// matching active/past list moves run inside a single STM transaction, so
// racing finalizers see exactly one winner.
func NewOrderStore(client *clientv3.Client, logger *slog.Logger) domain.OrderStore {
	return &etcdOrderStore{
		client: client,
		logger: logger,
		tracer: otel.Tracer("inventory-reserve-etcd-store"),
	}
}

func orderKey(id string) string {
	return path.Join(OrderDir, id)
}

func userOrdersKey(userID string) string {
	return path.Join(UserDir, userID, "orders")
}

func vendorOrdersKey(vendorID string) string {
	return path.Join(VendorDir, vendorID, "orders")
}

// isDomainErr tells expected business outcomes apart from etcd failures, so
// callers get sentinels bare and infra errors wrapped.
func isDomainErr(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrOrderExists) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

func getOrderSTM(stm concurrency.STM, id string) (*domain.Order, error) {
	raw := stm.Get(orderKey(id))
	if raw == "" {
		return nil, domain.ErrOrderNotFound
	}
	var order domain.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return &order, nil
}

func putOrderSTM(stm concurrency.STM, order *domain.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", order.ID, err)
	}
	stm.Put(orderKey(order.ID), string(raw))
	return nil
}

func getAccountSTM(stm concurrency.STM, key string) accountDoc {
	raw := stm.Get(key)
	if raw == "" {
		return accountDoc{}
	}
	var doc accountDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// A mangled index is rebuilt from scratch rather than blocking
		// the order flow.
		return accountDoc{}
	}
	return doc
}

func putAccountSTM(stm concurrency.STM, key string, doc accountDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal account doc %s: %w", key, err)
	}
	stm.Put(key, string(raw))
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, cur := range ids {
		if cur != id {
			out = append(out, cur)
		}
	}
	return out
}

func appendOnce(ids []string, id string) []string {
	for _, cur := range ids {
		if cur == id {
			return ids
		}
	}
	return append(ids, id)
}

// moveToPastSTM takes the order off both actors' active lists and records it
// on their past lists. appendOnce keeps the move idempotent.
func moveToPastSTM(stm concurrency.STM, order *domain.Order) error {
	uKey := userOrdersKey(order.OwnerID)
	user := getAccountSTM(stm, uKey)
	user.ActiveOrders = removeID(user.ActiveOrders, order.ID)
	user.PastOrders = appendOnce(user.PastOrders, order.ID)
	if err := putAccountSTM(stm, uKey, user); err != nil {
		return err
	}

	vKey := vendorOrdersKey(order.VendorID)
	vendor := getAccountSTM(stm, vKey)
	vendor.ActiveOrders = removeID(vendor.ActiveOrders, order.ID)
	vendor.PastOrders = appendOnce(vendor.PastOrders, order.ID)
	return putAccountSTM(stm, vKey, vendor)
}

// Create writes a new order and registers it on the owner's and vendor's
// active lists in one transaction.
func (s *etcdOrderStore) Create(ctx context.Context, order *domain.Order) error {
	ctx, span := s.tracer.Start(ctx, "store.etcd.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.vendor_id", order.VendorID),
	)

	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		if stm.Get(orderKey(order.ID)) != "" {
			return domain.ErrOrderExists
		}
		if err := putOrderSTM(stm, order); err != nil {
			return err
		}

		uKey := userOrdersKey(order.OwnerID)
		user := getAccountSTM(stm, uKey)
		user.ActiveOrders = appendOnce(user.ActiveOrders, order.ID)
		if err := putAccountSTM(stm, uKey, user); err != nil {
			return err
		}

		vKey := vendorOrdersKey(order.VendorID)
		vendor := getAccountSTM(stm, vKey)
		vendor.ActiveOrders = appendOnce(vendor.ActiveOrders, order.ID)
		return putAccountSTM(stm, vKey, vendor)
	}, concurrency.WithAbortContext(ctx))

	if err != nil {
		if isDomainErr(err) {
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create order in etcd")
		return fmt.Errorf("failed to create order %s in etcd: %w", order.ID, err)
	}
	return nil
}

// Get retrieves an order from etcd.
func (s *etcdOrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	resp, err := s.client.Get(ctx, orderKey(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get order from etcd")
		return nil, fmt.Errorf("failed to get order %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrOrderNotFound
	}

	var order domain.Order
	if err := json.Unmarshal(resp.Kvs[0].Value, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s from JSON: %w", id, err)
	}
	return &order, nil
}

// scanPending reads every order under the prefix and keeps the ones still
// awaiting payment. Orders that fail to decode are skipped with a warning.
func (s *etcdOrderStore) scanPending(ctx context.Context) ([]*domain.Order, error) {
	resp, err := s.client.Get(ctx, OrderDir, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list orders from etcd: %w", err)
	}

	pending := make([]*domain.Order, 0)
	for _, kv := range resp.Kvs {
		var order domain.Order
		if err := json.Unmarshal(kv.Value, &order); err != nil {
			s.logger.Warn("failed to unmarshal order from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		if order.Status == domain.StatusPendingPayment {
			pending = append(pending, &order)
		}
	}
	return pending, nil
}

// ExpiredPending lists pendingPayment orders whose deadline has passed.
func (s *etcdOrderStore) ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.ExpiredPending")
	defer span.End()

	pending, err := s.scanPending(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan pending orders from etcd")
		return nil, err
	}

	expired := make([]*domain.Order, 0, len(pending))
	for _, order := range pending {
		if order.Expired(now) {
			expired = append(expired, order)
		}
	}
	span.SetAttributes(attribute.Int("orders.expired", len(expired)))
	return expired, nil
}

// LivePending lists pendingPayment orders whose deadline lies ahead.
func (s *etcdOrderStore) LivePending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.LivePending")
	defer span.End()

	pending, err := s.scanPending(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan pending orders from etcd")
		return nil, err
	}

	live := make([]*domain.Order, 0, len(pending))
	for _, order := range pending {
		if !order.Expired(now) {
			live = append(live, order)
		}
	}
	return live, nil
}

// CountPending reports how many orders await payment and how many of those
// have already run out their reservation window.
func (s *etcdOrderStore) CountPending(ctx context.Context, now time.Time) (int, int, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.CountPending")
	defer span.End()

	pending, err := s.scanPending(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan pending orders from etcd")
		return 0, 0, err
	}

	expired := 0
	for _, order := range pending {
		if order.Expired(now) {
			expired++
		}
	}
	span.SetAttributes(
		attribute.Int("orders.pending", len(pending)),
		attribute.Int("orders.expired", expired),
	)
	return len(pending), expired, nil
}

// MarkInProgress flips a pendingPayment order to inProgress. The status
// check runs inside the transaction, so a concurrent finalizer cannot
// flip the same order twice.
func (s *etcdOrderStore) MarkInProgress(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.MarkInProgress")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	var out *domain.Order
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		order, err := getOrderSTM(stm, id)
		if err != nil {
			return err
		}
		if err := order.MarkInProgress(); err != nil {
			return err
		}
		out = order
		return putOrderSTM(stm, order)
	}, concurrency.WithAbortContext(ctx))

	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark order in progress in etcd")
		return nil, fmt.Errorf("failed to mark order %s in progress in etcd: %w", id, err)
	}
	return out, nil
}

// FinalizeFailed flips a pendingPayment order to failed and moves it from
// the active lists to the past lists, all in one transaction.
func (s *etcdOrderStore) FinalizeFailed(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.FinalizeFailed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	var out *domain.Order
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		order, err := getOrderSTM(stm, id)
		if err != nil {
			return err
		}
		if err := order.MarkFailed(); err != nil {
			return err
		}
		if err := putOrderSTM(stm, order); err != nil {
			return err
		}
		out = order
		return moveToPastSTM(stm, order)
	}, concurrency.WithAbortContext(ctx))

	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finalize order in etcd")
		return nil, fmt.Errorf("failed to finalize order %s in etcd: %w", id, err)
	}
	return out, nil
}

// Advance moves a paid order to a later fulfillment stage. Reaching
// delivered also moves the order onto the past lists.
func (s *etcdOrderStore) Advance(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.AdvanceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", id),
		attribute.String("order.to_status", string(to)),
	)

	var out *domain.Order
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		order, err := getOrderSTM(stm, id)
		if err != nil {
			return err
		}
		if err := order.Advance(to); err != nil {
			return err
		}
		if err := putOrderSTM(stm, order); err != nil {
			return err
		}
		out = order
		if to == domain.StatusDelivered {
			return moveToPastSTM(stm, order)
		}
		return nil
	}, concurrency.WithAbortContext(ctx))

	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to advance order in etcd")
		return nil, fmt.Errorf("failed to advance order %s in etcd: %w", id, err)
	}
	return out, nil
}
