package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/pkg/enums"
)

// Order is the fulfillment aggregate. VendorID is mutable: the SLA monitor
// may move the order to another vendor while it is still placed.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID    uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null"`
	Zone        string            `gorm:"column:zone;not null"`
	CustomerLat float64           `gorm:"column:customer_lat;not null"`
	CustomerLng float64           `gorm:"column:customer_lng;not null"`
	Status      enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'placed'"`
	SLADeadline time.Time         `gorm:"column:sla_deadline;not null"`
	Items       []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
