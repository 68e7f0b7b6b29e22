package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
)

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// fakeStockRepo keeps items and reservations in memory with the same guard
// semantics as the SQL repository.
type fakeStockRepo struct {
	items        map[uuid.UUID]*models.StockItem
	reservations []*models.StockReservation
}

func newFakeStockRepo() *fakeStockRepo {
	return &fakeStockRepo{items: map[uuid.UUID]*models.StockItem{}}
}

func (r *fakeStockRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *fakeStockRepo) CreateItem(ctx context.Context, item *models.StockItem) error {
	r.items[item.ProductID] = item
	return nil
}

func (r *fakeStockRepo) FindItem(ctx context.Context, productID uuid.UUID) (*models.StockItem, error) {
	item, ok := r.items[productID]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (r *fakeStockRepo) DecrementAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	item, ok := r.items[productID]
	if !ok || item.AvailableQty < qty {
		return false, nil
	}
	item.AvailableQty -= qty
	item.ReservedQty += qty
	return true, nil
}

func (r *fakeStockRepo) ReturnReserved(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	item, ok := r.items[productID]
	if !ok || item.ReservedQty < qty {
		return false, nil
	}
	item.ReservedQty -= qty
	item.AvailableQty += qty
	return true, nil
}

func (r *fakeStockRepo) CreateReservation(ctx context.Context, res *models.StockReservation) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.Status == "" {
		res.Status = enums.ReservationStatusActive
	}
	r.reservations = append(r.reservations, res)
	return nil
}

func (r *fakeStockRepo) FindActiveReservation(ctx context.Context, orderID, productID uuid.UUID) (*models.StockReservation, error) {
	for _, res := range r.reservations {
		if res.OrderID == orderID && res.ProductID == productID && res.Status == enums.ReservationStatusActive {
			return res, nil
		}
	}
	return nil, nil
}

func (r *fakeStockRepo) ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var out []models.StockReservation
	for _, res := range r.reservations {
		if res.OrderID == orderID && res.Status == enums.ReservationStatusActive {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (r *fakeStockRepo) MarkReleased(ctx context.Context, reservationID uuid.UUID, at time.Time) error {
	for _, res := range r.reservations {
		if res.ID == reservationID && res.Status == enums.ReservationStatusActive {
			res.Status = enums.ReservationStatusReleased
			released := at
			res.ReleasedAt = &released
		}
	}
	return nil
}

func stockOrder(items ...models.OrderItem) *models.Order {
	return &models.Order{
		ID:                    uuid.New(),
		RetailerStoreID:       uuid.New(),
		PreferredWholesalerID: uuid.New(),
		TotalAmount:           decimal.NewFromInt(1000),
		Status:                enums.OrderStatusCreditApproved,
		Items:                 items,
	}
}

func TestReserveItemsHoldsEveryLine(t *testing.T) {
	repo := newFakeStockRepo()
	svc, err := NewService(passthroughTxRunner{}, repo, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	productA := uuid.New()
	productB := uuid.New()
	repo.items[productA] = &models.StockItem{ProductID: productA, AvailableQty: 10}
	repo.items[productB] = &models.StockItem{ProductID: productB, AvailableQty: 4}

	order := stockOrder(
		models.OrderItem{ProductID: productA, Qty: 3},
		models.OrderItem{ProductID: productB, Qty: 4},
	)

	if err := svc.ReserveItemsInTx(context.Background(), nil, order); err != nil {
		t.Fatalf("reserve items: %v", err)
	}
	if repo.items[productA].AvailableQty != 7 || repo.items[productB].AvailableQty != 0 {
		t.Fatalf("unexpected availability: %d, %d", repo.items[productA].AvailableQty, repo.items[productB].AvailableQty)
	}
	if len(repo.reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(repo.reservations))
	}
}

func TestReserveItemsShortStockIsConflict(t *testing.T) {
	repo := newFakeStockRepo()
	svc, _ := NewService(passthroughTxRunner{}, repo, nil)

	productID := uuid.New()
	repo.items[productID] = &models.StockItem{ProductID: productID, AvailableQty: 2}

	order := stockOrder(models.OrderItem{ProductID: productID, Qty: 5})
	err := svc.ReserveItemsInTx(context.Background(), nil, order)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if repo.items[productID].AvailableQty != 2 {
		t.Fatal("failed reservation must not consume stock")
	}
}

func TestReserveItemsReplayIsIdempotent(t *testing.T) {
	repo := newFakeStockRepo()
	svc, _ := NewService(passthroughTxRunner{}, repo, nil)

	productID := uuid.New()
	repo.items[productID] = &models.StockItem{ProductID: productID, AvailableQty: 10}

	order := stockOrder(models.OrderItem{ProductID: productID, Qty: 4})
	if err := svc.ReserveItemsInTx(context.Background(), nil, order); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := svc.ReserveItemsInTx(context.Background(), nil, order); err != nil {
		t.Fatalf("replayed reserve: %v", err)
	}

	if repo.items[productID].AvailableQty != 6 {
		t.Fatalf("replay must not double-decrement, available %d", repo.items[productID].AvailableQty)
	}
	if len(repo.reservations) != 1 {
		t.Fatalf("expected one reservation, got %d", len(repo.reservations))
	}
}

func TestReleaseForOrderReturnsStock(t *testing.T) {
	repo := newFakeStockRepo()
	svc, _ := NewService(passthroughTxRunner{}, repo, nil)

	productID := uuid.New()
	repo.items[productID] = &models.StockItem{ProductID: productID, AvailableQty: 10}

	order := stockOrder(models.OrderItem{ProductID: productID, Qty: 4})
	if err := svc.ReserveItemsInTx(context.Background(), nil, order); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	released, err := svc.ReleaseForOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}
	if repo.items[productID].AvailableQty != 10 || repo.items[productID].ReservedQty != 0 {
		t.Fatalf("stock not returned: %+v", repo.items[productID])
	}

	// No active holds left: a second release is a zero no-op.
	released, err = svc.ReleaseForOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected 0 released on replay, got %d", released)
	}
}
