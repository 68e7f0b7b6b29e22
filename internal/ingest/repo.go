package ingest

import (
	"context"
	"errors"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository manages the inbound message dedup records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, msg *models.InboundMessage) error
	FindByProviderID(ctx context.Context, providerMessageID string) (*models.InboundMessage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inbound message repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, msg *models.InboundMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *repository) FindByProviderID(ctx context.Context, providerMessageID string) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	err := r.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}
