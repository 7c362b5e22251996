package reservation

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

// Repository manages persistence for reservation rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error)
	ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error)
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SumActiveQuantity(ctx context.Context, vendorID, productID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reservation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.db.WithContext(ctx).First(&reservation, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusActive).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// TransitionStatus flips the reservation's status only when it currently
// holds the expected value. Exactly one concurrent caller wins the flip;
// the rest see false and treat the operation as already done.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.ReservationStatusActive, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reservations []models.Reservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

// PurgeTerminalBefore removes released/expired reservations older than the
// cutoff. Committed rows are kept as the record of permanent deductions,
// and the movement log retains full history regardless.
func (r *repository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.ReservationStatus{
			enums.ReservationStatusReleased,
			enums.ReservationStatusExpired,
		}, cutoff).
		Delete(&models.Reservation{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) SumActiveQuantity(ctx context.Context, vendorID, productID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("vendor_id = ? AND product_id = ? AND status = ?", vendorID, productID, enums.ReservationStatusActive).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
