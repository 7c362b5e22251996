package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
)

// Repository manages persistence for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	Reassign(ctx context.Context, id, newVendorID uuid.UUID, newDeadline time.Time) error
	ListPlacedPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	MarkItemsCommitted(ctx context.Context, orderID uuid.UUID) error
	MarkItemsReleased(ctx context.Context, orderID uuid.UUID) error
	ResetItemsReserved(ctx context.Context, orderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionStatus flips the order's status only from the expected current
// value, so concurrent transition attempts cannot both apply.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Reassign moves the order to a new vendor with a fresh deadline. The
// status stays whatever it was; reassignment is invisible to the state
// machine's forward path.
func (r *repository) Reassign(ctx context.Context, id, newVendorID uuid.UUID, newDeadline time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"vendor_id":    newVendorID,
			"sla_deadline": newDeadline,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (r *repository) ListPlacedPastDeadline(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND sla_deadline < ?", enums.OrderStatusPlaced, now).
		Order("sla_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var result []models.Order
	if err := query.Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) MarkItemsCommitted(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND reserved_qty > 0", orderID).
		Updates(map[string]any{
			"committed_qty": gorm.Expr("committed_qty + reserved_qty"),
			"reserved_qty":  0,
		}).Error
}

func (r *repository) MarkItemsReleased(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Update("reserved_qty", 0).Error
}

// ResetItemsReserved restores reserved_qty to the full item quantity after
// a reassignment re-reserved the order on another vendor.
func (r *repository) ResetItemsReserved(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Update("reserved_qty", gorm.Expr("quantity - committed_qty")).Error
}
