package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukalink/dukalink-backend/pkg/enums"
)

// StockItem tracks available/reserved counts per wholesaler product.
type StockItem struct {
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	WholesalerStoreID uuid.UUID `gorm:"column:wholesaler_store_id;type:uuid;not null"`
	AvailableQty      int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty       int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// StockReservation is a hold placed on stock for one order line. No active
// reservation may outlive its order's terminal state.
type StockReservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID  uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	Qty        int                     `gorm:"column:qty;not null"`
	Status     enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'active'"`
	ReleasedAt *time.Time              `gorm:"column:released_at"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
}
