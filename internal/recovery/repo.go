package recovery

import (
	"context"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository finds the inconsistencies the reconciliation pass repairs. The
// queries are read-only; repairs always go through the domain services so
// every fix takes the same locks as the live path.
type Repository interface {
	ExpiredBidOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	WinnerAssignedLagging(ctx context.Context, assignedBefore time.Time, limit int) ([]models.Order, error)
	DeliveredMissingDebit(ctx context.Context, limit int) ([]models.Order, error)
	OrphanActiveReservations(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a recovery query repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// ExpiredBidOrders finds orders whose bid window has lapsed with no winner
// assigned.
func (r *repository) ExpiredBidOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var candidates []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND wholesaler_store_id IS NULL AND bid_expires_at IS NOT NULL AND bid_expires_at < ?",
			enums.OrderStatusStockReserved, now).
		Order("bid_expires_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// WinnerAssignedLagging finds orders where a winner was assigned but the
// status never advanced, the footprint of a crash between the guarded
// winner update and the lifecycle transition.
func (r *repository) WinnerAssignedLagging(ctx context.Context, assignedBefore time.Time, limit int) ([]models.Order, error) {
	var candidates []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND wholesaler_store_id IS NOT NULL AND updated_at < ?",
			enums.OrderStatusStockReserved, assignedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// DeliveredMissingDebit finds delivered orders with no debit on the ledger.
func (r *repository) DeliveredMissingDebit(ctx context.Context, limit int) ([]models.Order, error) {
	var candidates []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusDelivered).
		Where("NOT EXISTS (SELECT 1 FROM ledger_entries le WHERE le.order_id = orders.id AND le.type = ?)",
			enums.LedgerEntryTypeDebit).
		Order("updated_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// OrphanActiveReservations finds orders that reached a final or failed state
// while still holding active stock reservations.
func (r *repository) OrphanActiveReservations(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var orderIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Distinct("stock_reservations.order_id").
		Joins("JOIN orders ON orders.id = stock_reservations.order_id").
		Where("stock_reservations.status = ?", enums.ReservationStatusActive).
		Where("orders.status IN ?", []enums.OrderStatus{
			enums.OrderStatusDelivered,
			enums.OrderStatusCancelled,
			enums.OrderStatusFailed,
		}).
		Limit(limit).
		Pluck("stock_reservations.order_id", &orderIDs).Error
	if err != nil {
		return nil, err
	}
	return orderIDs, nil
}
