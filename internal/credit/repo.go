package credit

import (
	"context"
	"errors"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages credit relationship rows. The relationship row doubles
// as the serialization point for balance checks: FindForUpdate takes a row
// lock that every concurrent reservation for the same pair queues behind.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rel *models.CreditRelationship) error
	Find(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*models.CreditRelationship, error)
	FindForUpdate(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*models.CreditRelationship, error)
	ListActiveWholesalers(ctx context.Context, retailerID uuid.UUID) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit relationship repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, rel *models.CreditRelationship) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *repository) Find(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*models.CreditRelationship, error) {
	return r.find(ctx, retailerID, wholesalerID, false)
}

func (r *repository) FindForUpdate(ctx context.Context, retailerID, wholesalerID uuid.UUID) (*models.CreditRelationship, error) {
	return r.find(ctx, retailerID, wholesalerID, true)
}

func (r *repository) find(ctx context.Context, retailerID, wholesalerID uuid.UUID, lock bool) (*models.CreditRelationship, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rel models.CreditRelationship
	err := query.
		Where("retailer_store_id = ? AND wholesaler_store_id = ?", retailerID, wholesalerID).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

func (r *repository) ListActiveWholesalers(ctx context.Context, retailerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CreditRelationship{}).
		Where("retailer_store_id = ? AND active = ?", retailerID, true).
		Order("created_at ASC").
		Pluck("wholesaler_store_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
