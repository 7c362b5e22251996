package reassign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
)

// Repository persists the reassignment audit trail.
type Repository interface {
	CreateTx(ctx context.Context, tx *gorm.DB, record *models.ReassignmentRecord) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ReassignmentRecord, error)
	// RecentBreachedVendors returns vendors that lost an order to an SLA
	// breach since the cutoff. They sit out reassignment until the
	// cooldown passes.
	RecentBreachedVendors(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	CountByOrderSince(ctx context.Context, orderID uuid.UUID, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reassignment record repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateTx(ctx context.Context, tx *gorm.DB, record *models.ReassignmentRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reassignment record")
	}
	return nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ReassignmentRecord, error) {
	var records []models.ReassignmentRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reassignment records")
	}
	return records, nil
}

func (r *repository) RecentBreachedVendors(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.ReassignmentRecord{}).
		Distinct("from_vendor_id").
		Where("reason = ? AND created_at >= ?", enums.ReassignmentReasonSLABreach, since).
		Pluck("from_vendor_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "query breached vendors")
	}
	return ids, nil
}

func (r *repository) CountByOrderSince(ctx context.Context, orderID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReassignmentRecord{}).
		Where("order_id = ? AND created_at >= ?", orderID, since).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count reassignment records")
	}
	return count, nil
}
