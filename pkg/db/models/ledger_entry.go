package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/pkg/enums"
)

// LedgerEntry records an immutable financial posting between a retailer and a
// wholesaler. Corrections are additive compensating entries, never edits.
type LedgerEntry struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RetailerStoreID   uuid.UUID             `gorm:"column:retailer_store_id;type:uuid;not null"`
	WholesalerStoreID uuid.UUID             `gorm:"column:wholesaler_store_id;type:uuid;not null"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Type              enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	Amount            decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	DueDate           *time.Time            `gorm:"column:due_date"`
	Metadata          json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}
