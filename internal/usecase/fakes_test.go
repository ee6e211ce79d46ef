package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"inventory-reserve/internal/domain"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOrderStore keeps orders in a mutex-guarded map and applies status
// flips through the domain entity, so the CAS semantics match the real
// store.
type fakeOrderStore struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	createErr error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*domain.Order)}
}

func (f *fakeOrderStore) Create(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.orders[order.ID]; ok {
		return domain.ErrOrderExists
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderStore) ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Order
	for _, order := range f.orders {
		if order.Expired(now) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) LivePending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Order
	for _, order := range f.orders {
		if order.Status == domain.StatusPendingPayment && !order.Expired(now) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) CountPending(ctx context.Context, now time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending, expired := 0, 0
	for _, order := range f.orders {
		if order.Status != domain.StatusPendingPayment {
			continue
		}
		pending++
		if order.Expired(now) {
			expired++
		}
	}
	return pending, expired, nil
}

func (f *fakeOrderStore) MarkInProgress(ctx context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if err := order.MarkInProgress(); err != nil {
		return nil, err
	}
	return order, nil
}

func (f *fakeOrderStore) FinalizeFailed(ctx context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if err := order.MarkFailed(); err != nil {
		return nil, err
	}
	return order, nil
}

func (f *fakeOrderStore) Advance(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if err := order.Advance(to); err != nil {
		return nil, err
	}
	return order, nil
}

// stockEntry is one published item in the fake inventory.
type stockEntry struct {
	price     decimal.Decimal
	quantity  int
	available bool
}

type deduction struct {
	vendorID string
	lines    []domain.CartLine
}

type fakeInventory struct {
	mu         sync.Mutex
	vendors    map[string]map[domain.ItemKey]stockEntry
	deductions []deduction
	deductErr  error
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{vendors: make(map[string]map[domain.ItemKey]stockEntry)}
}

func (f *fakeInventory) addRetail(vendorID, itemID string, quantity int, price string) {
	f.add(vendorID, domain.ItemKey{ID: itemID, Kind: domain.ItemKindRetail}, stockEntry{
		price:    decimal.RequireFromString(price),
		quantity: quantity,
	})
}

func (f *fakeInventory) addProduce(vendorID, itemID string, available bool, price string) {
	f.add(vendorID, domain.ItemKey{ID: itemID, Kind: domain.ItemKindProduce}, stockEntry{
		price:     decimal.RequireFromString(price),
		available: available,
	})
}

func (f *fakeInventory) add(vendorID string, key domain.ItemKey, entry stockEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vendors[vendorID] == nil {
		f.vendors[vendorID] = make(map[domain.ItemKey]stockEntry)
	}
	f.vendors[vendorID][key] = entry
}

func (f *fakeInventory) CheckStock(ctx context.Context, vendorID string, lines []domain.CartLine) ([]domain.BlockedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.vendors[vendorID]
	if !ok {
		return nil, domain.ErrVendorNotFound
	}
	var blocked []domain.BlockedItem
	for _, line := range lines {
		entry, ok := items[line.Key()]
		short := !ok
		if ok {
			if line.Kind == domain.ItemKindRetail {
				short = entry.quantity < line.Quantity
			} else {
				short = !entry.available
			}
		}
		if short {
			blocked = append(blocked, domain.BlockedItem{ItemID: line.ItemID, Kind: line.Kind, Reason: domain.BlockReasonOutOfStock})
		}
	}
	return blocked, nil
}

func (f *fakeInventory) UnitPrices(ctx context.Context, vendorID string, lines []domain.CartLine) (map[domain.ItemKey]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.vendors[vendorID]
	if !ok {
		return nil, domain.ErrVendorNotFound
	}
	prices := make(map[domain.ItemKey]decimal.Decimal, len(lines))
	for _, line := range lines {
		entry, ok := items[line.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, line.Key())
		}
		prices[line.Key()] = entry.price
	}
	return prices, nil
}

func (f *fakeInventory) DeductStock(ctx context.Context, vendorID string, lines []domain.CartLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deductErr != nil {
		return f.deductErr
	}
	f.deductions = append(f.deductions, deduction{vendorID: vendorID, lines: lines})
	items := f.vendors[vendorID]
	for _, line := range lines {
		if line.Kind != domain.ItemKindRetail {
			continue
		}
		entry, ok := items[line.Key()]
		if !ok {
			continue
		}
		entry.quantity -= line.Quantity
		if entry.quantity < 0 {
			entry.quantity = 0
		}
		items[line.Key()] = entry
	}
	return nil
}
