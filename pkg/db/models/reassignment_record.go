package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/pkg/enums"
)

// ReassignmentRecord is the append-only audit of every vendor migration.
// ToVendorID is nil when no alternate vendor could take the order.
type ReassignmentRecord struct {
	ID           uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID                `gorm:"column:order_id;type:uuid;not null"`
	FromVendorID uuid.UUID                `gorm:"column:from_vendor_id;type:uuid;not null"`
	ToVendorID   *uuid.UUID               `gorm:"column:to_vendor_id;type:uuid"`
	Reason       enums.ReassignmentReason `gorm:"column:reason;type:reassignment_reason;not null"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
}
