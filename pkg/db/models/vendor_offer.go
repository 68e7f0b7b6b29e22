package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/pkg/enums"
)

// VendorOffer is a wholesaler's bid on an order. At most one offer per order
// ever reaches accepted; the idempotency key makes a retried submission
// resolve to the original row.
type VendorOffer struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_vendor_offers_idempotency"`
	WholesalerStoreID uuid.UUID         `gorm:"column:wholesaler_store_id;type:uuid;not null"`
	Price             decimal.Decimal   `gorm:"column:price;type:numeric(14,2);not null"`
	TermsDays         int               `gorm:"column:terms_days;not null;default:0"`
	Status            enums.OfferStatus `gorm:"column:status;type:offer_status;not null;default:'pending'"`
	IdempotencyKey    string            `gorm:"column:idempotency_key;not null;uniqueIndex:ux_vendor_offers_idempotency"`
	SubmittedAt       time.Time         `gorm:"column:submitted_at;autoCreateTime"`
	ResolvedAt        *time.Time        `gorm:"column:resolved_at"`
}
