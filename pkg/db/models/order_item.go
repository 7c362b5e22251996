package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem captures per-product demand within an order. ReservedQty drops
// to zero exactly when CommittedQty rises by the same amount (commit) or
// when the item's reservation is released.
type OrderItem struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity     int       `gorm:"column:quantity;not null"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	CommittedQty int       `gorm:"column:committed_qty;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
