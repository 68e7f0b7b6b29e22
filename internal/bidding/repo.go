package bidding

import (
	"context"
	"errors"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages vendor offers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, offer *models.VendorOffer) error
	FindByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.VendorOffer, error)
	FindPendingByWholesaler(ctx context.Context, orderID, wholesalerID uuid.UUID) (*models.VendorOffer, error)
	FindAccepted(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error)
	ListPendingRanked(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error)
	Resolve(ctx context.Context, offerID uuid.UUID, status enums.OfferStatus, at time.Time) error
	ResolvePendingExcept(ctx context.Context, orderID, winnerOfferID uuid.UUID, status enums.OfferStatus, at time.Time) error
	ExpirePendingOnSettledOrders(ctx context.Context, now time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an offer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, offer *models.VendorOffer) error {
	return r.db.WithContext(ctx).Create(offer).Error
}

func (r *repository) FindByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.VendorOffer, error) {
	var offer models.VendorOffer
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, idempotencyKey).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (r *repository) FindPendingByWholesaler(ctx context.Context, orderID, wholesalerID uuid.UUID) (*models.VendorOffer, error) {
	var offer models.VendorOffer
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND wholesaler_store_id = ? AND status = ?", orderID, wholesalerID, enums.OfferStatusPending).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (r *repository) FindAccepted(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error) {
	var offer models.VendorOffer
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.OfferStatusAccepted).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

// ListPendingRanked returns pending offers best-first: lowest price, then
// earliest submission, then id. The ordering is the entire winner-selection
// policy; SelectWinner just takes the head.
func (r *repository) ListPendingRanked(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error) {
	var offers []models.VendorOffer
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.OfferStatusPending).
		Order("price ASC, submitted_at ASC, id ASC").
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error) {
	var offers []models.VendorOffer
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("submitted_at ASC").
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *repository) Resolve(ctx context.Context, offerID uuid.UUID, status enums.OfferStatus, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.VendorOffer{}).
		Where("id = ?", offerID).
		Updates(map[string]any{
			"status":      status,
			"resolved_at": at,
		}).Error
}

func (r *repository) ResolvePendingExcept(ctx context.Context, orderID, winnerOfferID uuid.UUID, status enums.OfferStatus, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.VendorOffer{}).
		Where("order_id = ? AND id <> ? AND status = ?", orderID, winnerOfferID, enums.OfferStatusPending).
		Updates(map[string]any{
			"status":      status,
			"resolved_at": at,
		}).Error
}

// ExpirePendingOnSettledOrders marks pending offers expired when their round
// can no longer resolve them: the window lapsed and the order reached a
// terminal state without a winner, or a winner is already assigned and the
// offer was never resolved with the rest of the round.
func (r *repository) ExpirePendingOnSettledOrders(ctx context.Context, now time.Time, limit int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE vendor_offers SET status = ?, resolved_at = ?
WHERE id IN (
  SELECT vo.id FROM vendor_offers vo
  JOIN orders o ON o.id = vo.order_id
  WHERE vo.status = ?
    AND (
      (o.status IN (?, ?) AND o.bid_expires_at IS NOT NULL AND o.bid_expires_at < ?)
      OR o.wholesaler_store_id IS NOT NULL
    )
  LIMIT ?
)`, enums.OfferStatusExpired, now, enums.OfferStatusPending,
		enums.OrderStatusFailed, enums.OrderStatusCancelled, now, limit)
	return res.RowsAffected, res.Error
}
