package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRow tracks on-hand/reserved counters per (vendor, product).
// Invariant: 0 <= Reserved <= OnHand.
type InventoryRow struct {
	VendorID  uuid.UUID `gorm:"column:vendor_id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	OnHand    int       `gorm:"column:on_hand;not null;default:0"`
	Reserved  int       `gorm:"column:reserved;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the quantity still open to new reservations.
func (r InventoryRow) Available() int {
	available := r.OnHand - r.Reserved
	if available < 0 {
		return 0
	}
	return available
}
