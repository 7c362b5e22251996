package vendors

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
)

// Repository manages persistence for vendors and their delivery zones.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	ListApprovedInZone(ctx context.Context, zone string) ([]models.Vendor, error)
	Create(ctx context.Context, vendor *models.Vendor) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a vendor repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).
		Preload("Zones").
		First(&vendor, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) ListApprovedInZone(ctx context.Context, zone string) ([]models.Vendor, error) {
	var result []models.Vendor
	err := r.db.WithContext(ctx).
		Joins("JOIN vendor_zones ON vendor_zones.vendor_id = vendors.id").
		Where("vendor_zones.zone = ?", zone).
		Where("vendors.status = ?", enums.VendorStatusApproved).
		Preload("Zones").
		Order("vendors.id ASC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) Create(ctx context.Context, vendor *models.Vendor) error {
	return r.db.WithContext(ctx).Create(vendor).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}
	return nil
}
