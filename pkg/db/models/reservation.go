package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/pkg/enums"
)

// Reservation is a temporary hold against a vendor's on-hand stock. It
// transitions exactly once from active to one terminal state and is never
// reused.
type Reservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	VendorID  uuid.UUID               `gorm:"column:vendor_id;type:uuid;not null"`
	OrderID   uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	Quantity  int                     `gorm:"column:quantity;not null"`
	Status    enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'active'"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
