package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
)

// Repository manages persistence for inventory rows and the movement log.
//
// The counter mutations are single conditional UPDATE statements: the
// guard rides in the WHERE clause, so the check and the write are one
// atomic operation under the row lock the UPDATE itself acquires.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetRow(ctx context.Context, vendorID, productID uuid.UUID) (*models.InventoryRow, error)
	EnsureRow(ctx context.Context, vendorID, productID uuid.UUID) (*models.InventoryRow, error)
	AddReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error)
	CommitReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error)
	SubtractReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error)
	SetOnHandFrom(ctx context.Context, vendorID, productID uuid.UUID, fromOnHand, newOnHand int) (bool, error)
	ListRowsByProduct(ctx context.Context, productID uuid.UUID, vendorIDs []uuid.UUID) ([]models.InventoryRow, error)
	RecordMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, vendorID, productID uuid.UUID) ([]models.StockMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetRow(ctx context.Context, vendorID, productID uuid.UUID) (*models.InventoryRow, error) {
	var row models.InventoryRow
	err := r.db.WithContext(ctx).
		First(&row, "vendor_id = ? AND product_id = ?", vendorID, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureRow creates the (vendor, product) row with zero counters when it
// does not exist yet. Rows appear lazily on the first reservation attempt.
func (r *repository) EnsureRow(ctx context.Context, vendorID, productID uuid.UUID) (*models.InventoryRow, error) {
	row, err := r.GetRow(ctx, vendorID, productID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}
	fresh := models.InventoryRow{VendorID: vendorID, ProductID: productID}
	if err := r.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

func (r *repository) AddReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryRow{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Where("on_hand - reserved >= ?", qty).
		Update("reserved", gorm.Expr("reserved + ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CommitReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryRow{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Where("reserved >= ?", qty).
		Updates(map[string]any{
			"on_hand":  gorm.Expr("on_hand - ?", qty),
			"reserved": gorm.Expr("reserved - ?", qty),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SubtractReserved(ctx context.Context, vendorID, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryRow{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Where("reserved >= ?", qty).
		Update("reserved", gorm.Expr("reserved - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetOnHandFrom applies an absolute stock level. The write only lands when
// on_hand still equals fromOnHand, so the caller's delta stays truthful,
// and the reserved guard keeps reserved <= on_hand.
func (r *repository) SetOnHandFrom(ctx context.Context, vendorID, productID uuid.UUID, fromOnHand, newOnHand int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryRow{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Where("on_hand = ?", fromOnHand).
		Where("reserved <= ?", newOnHand).
		Update("on_hand", newOnHand)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListRowsByProduct(ctx context.Context, productID uuid.UUID, vendorIDs []uuid.UUID) ([]models.InventoryRow, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if len(vendorIDs) > 0 {
		query = query.Where("vendor_id IN ?", vendorIDs)
	}
	var rows []models.InventoryRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) RecordMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, vendorID, productID uuid.UUID) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Order("created_at ASC").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}
