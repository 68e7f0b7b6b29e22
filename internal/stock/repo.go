package stock

import (
	"context"
	"errors"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages stock items and per-order reservations. The quantity
// mutations are guarded raw updates so oversell is impossible regardless of
// how many workers race on the same product row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateItem(ctx context.Context, item *models.StockItem) error
	FindItem(ctx context.Context, productID uuid.UUID) (*models.StockItem, error)
	DecrementAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	ReturnReserved(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	CreateReservation(ctx context.Context, res *models.StockReservation) error
	FindActiveReservation(ctx context.Context, orderID, productID uuid.UUID) (*models.StockReservation, error)
	ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	MarkReleased(ctx context.Context, reservationID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateItem(ctx context.Context, item *models.StockItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) FindItem(ctx context.Context, productID uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// DecrementAvailable moves qty from available to reserved. The WHERE guard
// refuses the update when stock is short; callers get false, not an oversold
// row.
func (r *repository) DecrementAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE stock_items
		SET available_qty = available_qty - ?,
		    reserved_qty = reserved_qty + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND available_qty >= ?`,
		qty, qty, productID, qty)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReturnReserved moves qty back from reserved to available.
func (r *repository) ReturnReserved(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE stock_items
		SET reserved_qty = reserved_qty - ?,
		    available_qty = available_qty + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?`,
		qty, qty, productID, qty)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CreateReservation(ctx context.Context, res *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *repository) FindActiveReservation(ctx context.Context, orderID, productID uuid.UUID) (*models.StockReservation, error) {
	var res models.StockReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ? AND status = ?", orderID, productID, enums.ReservationStatusActive).
		First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (r *repository) ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusActive).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) MarkReleased(ctx context.Context, reservationID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", reservationID, enums.ReservationStatusActive).
		Updates(map[string]any{
			"status":      enums.ReservationStatusReleased,
			"released_at": at,
		}).Error
}
