package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/pkg/enums"
)

// Vendor is the read model of the vendor profile owned by the onboarding
// subsystem. The core only consumes it; approval, rating, and coordinates
// are written elsewhere.
type Vendor struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name       string             `gorm:"column:name;not null"`
	Status     enums.VendorStatus `gorm:"column:status;type:vendor_status;not null;default:'pending'"`
	Lat        float64            `gorm:"column:lat;not null"`
	Lng        float64            `gorm:"column:lng;not null"`
	Rating     float64            `gorm:"column:rating;not null;default:0"`
	SLAMinutes int                `gorm:"column:sla_minutes;not null;default:30"`
	Zones      []VendorZone       `gorm:"foreignKey:VendorID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// VendorZone marks a delivery zone the vendor covers.
type VendorZone struct {
	VendorID uuid.UUID `gorm:"column:vendor_id;type:uuid;primaryKey"`
	Zone     string    `gorm:"column:zone;primaryKey"`
}
