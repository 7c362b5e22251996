package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/pkg/enums"
)

// StockMovement is the append-only audit entry for every ledger delta.
// Rows are immutable once written.
type StockMovement struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID      uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null"`
	ProductID     uuid.UUID          `gorm:"column:product_id;type:uuid;not null"`
	Type          enums.MovementType `gorm:"column:type;type:movement_type;not null"`
	Quantity      int                `gorm:"column:quantity;not null"`
	ReferenceType string             `gorm:"column:reference_type;not null"`
	ReferenceID   uuid.UUID          `gorm:"column:reference_id;type:uuid;not null"`
	Reason        string             `gorm:"column:reason;not null;default:''"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
}
