// internal/infra/etcd/etcd_inventory_store.go
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"inventory-reserve/internal/domain"

	"github.com/shopspring/decimal"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const InventoryDir = "/reserve/inventory/"

// InventoryItem is one published item. Retail items use Quantity, produce
// items use Available; the key path carries the kind.
type InventoryItem struct {
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity,omitempty"`
	Available bool            `json:"available,omitempty"`
}

type etcdInventoryStore struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewInventoryStore creates an inventory store backed by etcd.
func NewInventoryStore(client *clientv3.Client, logger *slog.Logger) domain.InventoryStore {
	return &etcdInventoryStore{
		client: client,
		logger: logger,
		tracer: otel.Tracer("inventory-reserve-etcd-store"),
	}
}

func vendorInventoryPrefix(vendorID string) string {
	return path.Join(InventoryDir, vendorID) + "/"
}

func itemInventoryKey(vendorID string, key domain.ItemKey) string {
	return path.Join(InventoryDir, vendorID, string(key.Kind), key.ID)
}

// loadVendorInventory reads the vendor's full menu in one round trip. A
// vendor with zero published items is treated as unknown.
func (s *etcdInventoryStore) loadVendorInventory(ctx context.Context, vendorID string) (map[domain.ItemKey]InventoryItem, error) {
	prefix := vendorInventoryPrefix(vendorID)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory for vendor %s from etcd: %w", vendorID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrVendorNotFound
	}

	items := make(map[domain.ItemKey]InventoryItem, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rel := strings.TrimPrefix(string(kv.Key), prefix)
		kind, id, ok := strings.Cut(rel, "/")
		if !ok || !domain.ItemKind(kind).Valid() {
			s.logger.Warn("skipping malformed inventory key", "key", string(kv.Key))
			continue
		}
		var doc InventoryItem
		if err := json.Unmarshal(kv.Value, &doc); err != nil {
			s.logger.Warn("failed to unmarshal inventory item from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		items[domain.ItemKey{ID: id, Kind: domain.ItemKind(kind)}] = doc
	}
	return items, nil
}

// CheckStock reports the cart lines the vendor cannot currently fill.
func (s *etcdInventoryStore) CheckStock(ctx context.Context, vendorID string, lines []domain.CartLine) ([]domain.BlockedItem, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.CheckStock")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor.id", vendorID),
		attribute.Int("cart.lines", len(lines)),
	)

	items, err := s.loadVendorInventory(ctx, vendorID)
	if err != nil {
		if errors.Is(err, domain.ErrVendorNotFound) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load vendor inventory from etcd")
		return nil, err
	}

	var blocked []domain.BlockedItem
	for _, line := range lines {
		doc, ok := items[line.Key()]
		short := !ok
		if ok {
			switch line.Kind {
			case domain.ItemKindRetail:
				short = doc.Quantity < line.Quantity
			case domain.ItemKindProduce:
				short = !doc.Available
			}
		}
		if short {
			blocked = append(blocked, domain.BlockedItem{
				ItemID: line.ItemID,
				Kind:   line.Kind,
				Reason: domain.BlockReasonOutOfStock,
			})
		}
	}
	return blocked, nil
}

// UnitPrices returns the current unit price for every line's item.
func (s *etcdInventoryStore) UnitPrices(ctx context.Context, vendorID string, lines []domain.CartLine) (map[domain.ItemKey]decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.UnitPrices")
	defer span.End()
	span.SetAttributes(attribute.String("vendor.id", vendorID))

	items, err := s.loadVendorInventory(ctx, vendorID)
	if err != nil {
		if errors.Is(err, domain.ErrVendorNotFound) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load vendor inventory from etcd")
		return nil, err
	}

	prices := make(map[domain.ItemKey]decimal.Decimal, len(lines))
	for _, line := range lines {
		doc, ok := items[line.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, line.Key())
		}
		prices[line.Key()] = doc.Price
	}
	return prices, nil
}

// DeductStock subtracts confirmed retail quantities from the vendor's
// on-hand counts inside one transaction, flooring at zero. Items that
// vanished since checkout are skipped.
func (s *etcdInventoryStore) DeductStock(ctx context.Context, vendorID string, lines []domain.CartLine) error {
	ctx, span := s.tracer.Start(ctx, "store.etcd.DeductStock")
	defer span.End()
	span.SetAttributes(attribute.String("vendor.id", vendorID))

	var missing []string
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		missing = missing[:0]
		for _, line := range lines {
			if line.Kind != domain.ItemKindRetail {
				continue
			}
			key := itemInventoryKey(vendorID, line.Key())
			raw := stm.Get(key)
			if raw == "" {
				missing = append(missing, line.ItemID)
				continue
			}
			var doc InventoryItem
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return fmt.Errorf("failed to unmarshal inventory item %s: %w", key, err)
			}
			doc.Quantity -= line.Quantity
			if doc.Quantity < 0 {
				doc.Quantity = 0
			}
			out, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to marshal inventory item %s: %w", key, err)
			}
			stm.Put(key, string(out))
		}
		return nil
	}, concurrency.WithAbortContext(ctx))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deduct stock in etcd")
		return fmt.Errorf("failed to deduct stock for vendor %s in etcd: %w", vendorID, err)
	}
	for _, id := range missing {
		s.logger.Warn("retail item missing during stock deduction", "vendor_id", vendorID, "item_id", id)
	}
	return nil
}

// PublishInventory writes or replaces items on a vendor's menu. Only the
// seeding tool publishes; the serving path writes inventory exclusively
// through DeductStock.
func PublishInventory(ctx context.Context, client *clientv3.Client, vendorID string, items map[domain.ItemKey]InventoryItem) error {
	for key, doc := range items {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal inventory item %s: %w", key, err)
		}
		if _, err := client.Put(ctx, itemInventoryKey(vendorID, key), string(raw)); err != nil {
			return fmt.Errorf("failed to put inventory item %s in etcd: %w", key, err)
		}
	}
	return nil
}
