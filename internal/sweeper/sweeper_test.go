package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/infra/memory"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOrderStore applies status flips through the domain entity so the
// CAS semantics match the real store. stale, when set, is served as the
// ExpiredPending snapshot to simulate a scan racing a writer.
type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[string]*domain.Order
	stale       []*domain.Order
	finalizeErr map[string]error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:      make(map[string]*domain.Order),
		finalizeErr: make(map[string]error),
	}
}

func (f *fakeOrderStore) Create(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	if f.stale != nil {
		return f.stale, nil
	}
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
	if err := f.finalizeErr[id]; err != nil {
		return nil, err
	}
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

func makeOrder(t *testing.T, id string, expiresAt time.Time) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, "user-1", "v1", []domain.OrderItem{
		{ItemID: "samosa", Kind: domain.ItemKindRetail, Quantity: 1, UnitPrice: decimal.RequireFromString("15.00")},
	}, expiresAt)
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	return order
}

func newTestSweeper(orders domain.OrderStore, locks domain.LockStore, at time.Time) *Sweeper {
	s := New(orders, locks, time.Minute, 2, testLogger())
	s.now = func() time.Time { return at }
	return s
}

func TestRunOnceExpiresOrders(t *testing.T) {
	base := time.Date(2025, 4, 12, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := newFakeOrderStore()
	locks := memory.NewLockTable()

	overdueA := makeOrder(t, "ord-a", base.Add(-time.Minute))
	overdueB := makeOrder(t, "ord-b", base.Add(-time.Hour))
	fresh := makeOrder(t, "ord-c", base.Add(time.Hour))
	for _, order := range []*domain.Order{overdueA, overdueB, fresh} {
		store.orders[order.ID] = order
		for _, item := range order.Items {
			if _, err := locks.Acquire(ctx, item.Key(), order.ID, 20*time.Minute); err != nil {
				t.Fatalf("lock setup for %s failed: %v", order.ID, err)
			}
		}
	}

	report, err := newTestSweeper(store, locks, base).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Scanned != 2 || report.Expired != 2 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 2 scanned and 2 expired", report)
	}

	for _, id := range []string{"ord-a", "ord-b"} {
		order, _ := store.Get(ctx, id)
		if order.Status != domain.StatusFailed {
			t.Fatalf("order %s status = %s, want failed", id, order.Status)
		}
	}
	if fresh.Status != domain.StatusPendingPayment {
		t.Fatalf("fresh order status = %s, want pendingPayment untouched", fresh.Status)
	}

	// Only the fresh order's lock survives the pass.
	if n, _ := locks.LiveCount(ctx); n != 1 {
		t.Fatalf("%d live locks after sweep, want 1", n)
	}
	if ok, _ := locks.IsLive(ctx, fresh.Items[0].Key()); !ok {
		t.Fatal("fresh order's lock was released by the sweep")
	}
}

func TestRunOnceSkipsAlreadyFinalized(t *testing.T) {
	base := time.Date(2025, 4, 12, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := newFakeOrderStore()
	locks := memory.NewLockTable()

	// The scan snapshot still lists the order, but a payment confirmation
	// won the CAS in between.
	order := makeOrder(t, "ord-raced", base.Add(-time.Minute))
	store.orders[order.ID] = order
	store.stale = []*domain.Order{order}
	if _, err := store.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}

	report, err := newTestSweeper(store, locks, base).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Scanned != 1 || report.Expired != 0 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want the raced order skipped", report)
	}
	if order.Status != domain.StatusInProgress {
		t.Fatalf("order status = %s, want inProgress preserved", order.Status)
	}
}

func TestRunOnceReportsPerOrderFailures(t *testing.T) {
	base := time.Date(2025, 4, 12, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := newFakeOrderStore()
	locks := memory.NewLockTable()

	good := makeOrder(t, "ord-good", base.Add(-time.Minute))
	bad := makeOrder(t, "ord-bad", base.Add(-time.Minute))
	store.orders[good.ID] = good
	store.orders[bad.ID] = bad
	store.finalizeErr[bad.ID] = errors.New("etcd unavailable")
	for _, order := range []*domain.Order{good, bad} {
		for _, item := range order.Items {
			if _, err := locks.Acquire(ctx, item.Key(), order.ID, 20*time.Minute); err != nil {
				t.Fatalf("lock setup failed: %v", err)
			}
		}
	}

	report, err := newTestSweeper(store, locks, base).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Expired != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want one expired and one failed", report)
	}

	// The failed order keeps its status and its lock for the next pass.
	if bad.Status != domain.StatusPendingPayment {
		t.Fatalf("failed order status = %s, want pendingPayment", bad.Status)
	}
	if ok, _ := locks.IsLive(ctx, bad.Items[0].Key()); !ok {
		t.Fatal("failed order's lock was released")
	}
}

func TestRunOnceSweepsExpiredLocks(t *testing.T) {
	ctx := context.Background()
	store := newFakeOrderStore()
	locks := memory.NewLockTable()

	// A negative TTL yields a lock that is already past its expiry.
	if _, err := locks.Acquire(ctx, domain.ItemKey{ID: "samosa", Kind: domain.ItemKindRetail}, "ord-gone", -time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	report, err := newTestSweeper(store, locks, time.Now()).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.LocksSwept != 1 {
		t.Fatalf("swept %d locks, want 1", report.LocksSwept)
	}
	if n, _ := locks.LiveCount(ctx); n != 0 {
		t.Fatalf("%d live locks after sweep, want 0", n)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(newFakeOrderStore(), memory.NewLockTable(), time.Minute, 1, testLogger())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}
