package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/pkg/enums"
)

// Order is a retailer's purchase request flowing through the lifecycle
// state machine. WholesalerStoreID stays NULL until winner selection and is
// set at most once.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RetailerStoreID       uuid.UUID         `gorm:"column:retailer_store_id;type:uuid;not null"`
	PreferredWholesalerID uuid.UUID         `gorm:"column:preferred_wholesaler_id;type:uuid;not null"`
	WholesalerStoreID     *uuid.UUID        `gorm:"column:wholesaler_store_id;type:uuid"`
	TotalAmount           decimal.Decimal   `gorm:"column:total_amount;type:numeric(14,2);not null"`
	Status                enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'created'"`
	FailureReason         *string           `gorm:"column:failure_reason"`
	BidExpiresAt          *time.Time        `gorm:"column:bid_expires_at"`
	Items                 []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is a single product line on an order.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Qty       int             `gorm:"column:qty;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
