package orders

import (
	"context"
	"errors"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages order persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	AssignWinner(ctx context.Context, orderID, wholesalerID uuid.UUID) (bool, error)
	SetBidWindow(ctx context.Context, orderID uuid.UUID, expiresAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, orderID, false)
}

func (r *repository) FindForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, orderID, true)
}

func (r *repository) find(ctx context.Context, orderID uuid.UUID, lock bool) (*models.Order, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var order models.Order
	err := query.Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Items load separately; FOR UPDATE cannot span the join.
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// AssignWinner sets the winning wholesaler if and only if none is set yet.
// The guarded update is what makes winner selection single-shot under
// concurrency: exactly one caller sees true.
func (r *repository) AssignWinner(ctx context.Context, orderID, wholesalerID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND wholesaler_store_id IS NULL", orderID).
		Update("wholesaler_store_id", wholesalerID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetBidWindow(ctx context.Context, orderID uuid.UUID, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("bid_expires_at", expiresAt).Error
}
