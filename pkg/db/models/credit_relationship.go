package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditRelationship is the agreed borrowing limit between one retailer and
// one wholesaler. The current balance is always derived from the ledger and
// never stored here.
type CreditRelationship struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RetailerStoreID   uuid.UUID       `gorm:"column:retailer_store_id;type:uuid;not null;uniqueIndex:ux_credit_relationships_pair"`
	WholesalerStoreID uuid.UUID       `gorm:"column:wholesaler_store_id;type:uuid;not null;uniqueIndex:ux_credit_relationships_pair"`
	CreditLimit       decimal.Decimal `gorm:"column:credit_limit;type:numeric(14,2);not null"`
	PaymentTermsDays  int             `gorm:"column:payment_terms_days;not null;default:30"`
	Active            bool            `gorm:"column:active;not null;default:true"`
	BlockedReason     *string         `gorm:"column:blocked_reason"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
