package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/infra/memory"
)

func retailLine(id string, qty int) domain.CartLine {
	return domain.CartLine{ItemID: id, Kind: domain.ItemKindRetail, Quantity: qty}
}

func retailKey(id string) domain.ItemKey {
	return domain.ItemKey{ID: id, Kind: domain.ItemKindRetail}
}

func newReservationFixture() (*ReservationService, *memory.LockTable, *fakeInventory, *fakeOrderStore) {
	locks := memory.NewLockTable()
	inv := newFakeInventory()
	orders := newFakeOrderStore()
	svc := NewReservationService(locks, inv, orders, 20*time.Minute, testLogger())
	return svc, locks, inv, orders
}

func TestReserveCartAllOrNothing(t *testing.T) {
	svc, locks, inv, _ := newReservationFixture()
	ctx := context.Background()
	inv.addRetail("v1", "samosa", 5, "15.00")
	inv.addProduce("v1", "chai", true, "10.00")

	res, err := svc.ReserveCart(ctx, "ord-1", "v1", []domain.CartLine{
		retailLine("samosa", 2),
		{ItemID: "chai", Kind: domain.ItemKindProduce, Quantity: 1},
	}, 0)
	if err != nil {
		t.Fatalf("ReserveCart failed: %v", err)
	}
	if !res.Reserved {
		t.Fatalf("cart not reserved, blocked: %v", res.Blocked)
	}
	if len(res.Locks) != 2 {
		t.Fatalf("got %d locks, want 2", len(res.Locks))
	}
	for _, lock := range res.Locks {
		if lock.Owner != "ord-1" {
			t.Fatalf("lock %s owned by %q, want ord-1", lock.Key, lock.Owner)
		}
		live, _ := locks.IsLive(ctx, lock.Key)
		if !live {
			t.Fatalf("lock %s not live after reservation", lock.Key)
		}
	}
	if res.LatestExpiry().IsZero() {
		t.Fatal("reservation has no expiry")
	}
}

func TestReserveCartContentionRollsBack(t *testing.T) {
	svc, locks, inv, _ := newReservationFixture()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		inv.addRetail("v1", id, 10, "20.00")
	}

	// Another order already holds c; d stays free.
	if _, err := locks.Acquire(ctx, retailKey("c"), "other-order", time.Minute); err != nil {
		t.Fatalf("pre-hold failed: %v", err)
	}

	res, err := svc.ReserveCart(ctx, "ord-1", "v1", []domain.CartLine{
		retailLine("a", 1), retailLine("b", 1), retailLine("c", 1), retailLine("d", 1),
	}, 0)
	if err != nil {
		t.Fatalf("ReserveCart failed: %v", err)
	}
	if res.Reserved {
		t.Fatal("cart reserved despite contention")
	}
	if len(res.Blocked) != 1 || res.Blocked[0].ItemID != "c" || res.Blocked[0].Reason != domain.BlockReasonLocked {
		t.Fatalf("blocked = %v, want only c/locked", res.Blocked)
	}

	// a and b must have been rolled back, c keeps its original owner.
	for _, id := range []string{"a", "b", "d"} {
		if live, _ := locks.IsLive(ctx, retailKey(id)); live {
			t.Fatalf("item %s still locked after failed reservation", id)
		}
	}
	if _, err := locks.Acquire(ctx, retailKey("c"), "other-order", time.Minute); err != nil {
		t.Fatalf("original owner lost its lock on c: %v", err)
	}
}

func TestReserveCartReportsEveryContendedLine(t *testing.T) {
	svc, locks, inv, _ := newReservationFixture()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		inv.addRetail("v1", id, 10, "20.00")
	}
	for _, id := range []string{"b", "d"} {
		if _, err := locks.Acquire(ctx, retailKey(id), "other-order", time.Minute); err != nil {
			t.Fatalf("pre-hold failed: %v", err)
		}
	}

	res, err := svc.ReserveCart(ctx, "ord-1", "v1", []domain.CartLine{
		retailLine("a", 1), retailLine("b", 1), retailLine("c", 1), retailLine("d", 1),
	}, 0)
	if err != nil {
		t.Fatalf("ReserveCart failed: %v", err)
	}
	if res.Reserved {
		t.Fatal("cart reserved despite contention")
	}

	want := []string{"b", "d"}
	if len(res.Blocked) != len(want) {
		t.Fatalf("blocked = %v, want %v", res.Blocked, want)
	}
	for i, id := range want {
		if res.Blocked[i].ItemID != id || res.Blocked[i].Reason != domain.BlockReasonLocked {
			t.Fatalf("blocked[%d] = %v, want %s/locked", i, res.Blocked[i], id)
		}
	}
}

func TestReserveCartStockBlocked(t *testing.T) {
	svc, locks, inv, _ := newReservationFixture()
	ctx := context.Background()
	inv.addRetail("v1", "samosa", 1, "15.00")
	inv.addProduce("v1", "dosa", false, "40.00")

	res, err := svc.ReserveCart(ctx, "ord-1", "v1", []domain.CartLine{
		retailLine("samosa", 2),
		{ItemID: "dosa", Kind: domain.ItemKindProduce, Quantity: 1},
	}, 0)
	if err != nil {
		t.Fatalf("ReserveCart failed: %v", err)
	}
	if res.Reserved {
		t.Fatal("cart reserved despite stock shortfall")
	}
	if len(res.Blocked) != 2 {
		t.Fatalf("blocked = %v, want both lines", res.Blocked)
	}
	for _, b := range res.Blocked {
		if b.Reason != domain.BlockReasonOutOfStock {
			t.Fatalf("blocked reason = %s, want outOfStock", b.Reason)
		}
	}

	// Stock shortfalls are decided before any lock is taken.
	if n, _ := locks.LiveCount(ctx); n != 0 {
		t.Fatalf("%d locks held after stock-blocked reservation, want 0", n)
	}
}

func TestReserveCartDuplicateLineFolds(t *testing.T) {
	svc, locks, inv, _ := newReservationFixture()
	ctx := context.Background()
	inv.addRetail("v1", "samosa", 10, "15.00")

	res, err := svc.ReserveCart(ctx, "ord-1", "v1", []domain.CartLine{
		retailLine("samosa", 1), retailLine("samosa", 2),
	}, 0)
	if err != nil {
		t.Fatalf("ReserveCart failed: %v", err)
	}
	if !res.Reserved || len(res.Locks) != 1 {
		t.Fatalf("reserved=%v locks=%d, want one folded lock", res.Reserved, len(res.Locks))
	}
	if n, _ := locks.LiveCount(ctx); n != 1 {
		t.Fatalf("%d locks held, want 1", n)
	}
}

func TestReserveCartEmptyCart(t *testing.T) {
	svc, _, _, _ := newReservationFixture()
	if _, err := svc.ReserveCart(context.Background(), "ord-1", "v1", nil, 0); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
}

func TestReserveCartUnknownVendor(t *testing.T) {
	svc, _, _, _ := newReservationFixture()
	_, err := svc.ReserveCart(context.Background(), "ord-1", "ghost", []domain.CartLine{retailLine("a", 1)}, 0)
	if !errors.Is(err, domain.ErrVendorNotFound) {
		t.Fatalf("err = %v, want ErrVendorNotFound", err)
	}
}

func TestRestoreLocks(t *testing.T) {
	svc, locks, _, orders := newReservationFixture()
	ctx := context.Background()

	pendingItems := []domain.OrderItem{
		{ItemID: "samosa", Kind: domain.ItemKindRetail, Quantity: 2},
		{ItemID: "chai", Kind: domain.ItemKindProduce, Quantity: 1},
	}
	pending, err := domain.NewOrder("ord-live", "u1", "v1", pendingItems, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	if err := orders.Create(ctx, pending); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	paid, _ := domain.NewOrder("ord-paid", "u2", "v1", pendingItems[:1], time.Now().Add(10*time.Minute))
	_ = paid.MarkInProgress()
	orders.orders[paid.ID] = paid

	stale, _ := domain.NewOrder("ord-stale", "u3", "v1", pendingItems[:1], time.Now().Add(-time.Minute))
	orders.orders[stale.ID] = stale

	restored, err := svc.RestoreLocks(ctx)
	if err != nil {
		t.Fatalf("RestoreLocks failed: %v", err)
	}
	if restored != 2 {
		t.Fatalf("restored %d locks, want 2 (live pending order only)", restored)
	}
	for _, item := range pendingItems {
		if live, _ := locks.IsLive(ctx, item.Key()); !live {
			t.Fatalf("lock %s not restored", item.Key())
		}
	}

	// The restored claim belongs to the pending order.
	if _, err := locks.Acquire(ctx, pendingItems[0].Key(), "someone-else", time.Minute); !errors.Is(err, domain.ErrItemLocked) {
		t.Fatalf("restored lock not enforced, err = %v", err)
	}
}
