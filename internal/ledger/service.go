package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
)

// Service exposes the transactional stock counter operations. Every method
// expects to run inside the caller's transaction so the counter change and
// the movement record land atomically with whatever else the caller writes.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, input MovementInput) error
	Commit(ctx context.Context, tx *gorm.DB, input MovementInput) error
	Release(ctx context.Context, tx *gorm.DB, input MovementInput) error
	Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (int, error)
	Availability(ctx context.Context, productID uuid.UUID, vendorIDs []uuid.UUID) (map[uuid.UUID]int, error)
	Movements(ctx context.Context, vendorID, productID uuid.UUID) ([]models.StockMovement, error)
}

// MovementInput identifies the counter to mutate and the audit reference.
type MovementInput struct {
	VendorID      uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	ReferenceType string
	ReferenceID   uuid.UUID
	Reason        string
}

// AdjustInput carries an administrative absolute stock set. Reason is kept
// on the movement row so the audit trail explains the correction.
type AdjustInput struct {
	VendorID      uuid.UUID
	ProductID     uuid.UUID
	NewOnHand     int
	Reason        string
	ReferenceType string
	ReferenceID   uuid.UUID
}

// adjustAttempts bounds the optimistic retry loop in Adjust.
const adjustAttempts = 3

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (i MovementInput) validate() error {
	if i.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if i.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if i.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if i.ReferenceType == "" || i.ReferenceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "movement reference is required")
	}
	return nil
}

// Reserve places a hold of input.Quantity against the vendor's available
// stock. The row is created lazily on the first attempt for a pairing.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	if err := input.validate(); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	if _, err := repo.EnsureRow(ctx, input.VendorID, input.ProductID); err != nil {
		return err
	}
	ok, err := repo.AddReserved(ctx, input.VendorID, input.ProductID, input.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough available stock").
			WithDetails(map[string]any{
				"vendor_id":  input.VendorID.String(),
				"product_id": input.ProductID.String(),
				"quantity":   input.Quantity,
			})
	}
	return s.record(ctx, repo, enums.MovementReservation, input, input.Quantity)
}

// Commit converts a hold into a permanent deduction: both on_hand and
// reserved drop by the quantity. A failed guard here means the counters
// disagree with the reservation records, which is never expected.
func (s *service) Commit(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	if err := input.validate(); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.CommitReserved(ctx, input.VendorID, input.ProductID, input.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeReservedMismatch, "reserved counter below commit quantity").
			WithDetails(map[string]any{
				"vendor_id":  input.VendorID.String(),
				"product_id": input.ProductID.String(),
				"quantity":   input.Quantity,
			})
	}
	return s.record(ctx, repo, enums.MovementCommit, input, input.Quantity)
}

// Release returns a hold to the available pool without touching on_hand.
func (s *service) Release(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	if err := input.validate(); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.SubtractReserved(ctx, input.VendorID, input.ProductID, input.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeReservedMismatch, "reserved counter below release quantity").
			WithDetails(map[string]any{
				"vendor_id":  input.VendorID.String(),
				"product_id": input.ProductID.String(),
				"quantity":   input.Quantity,
			})
	}
	return s.record(ctx, repo, enums.MovementRelease, input, input.Quantity)
}

// Adjust sets an absolute on_hand level and logs the signed delta. It
// refuses to drop on_hand below the currently reserved quantity.
func (s *service) Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (int, error) {
	if input.VendorID == uuid.Nil || input.ProductID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "vendor id and product id are required")
	}
	if input.NewOnHand < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "on-hand quantity cannot be negative")
	}
	if input.ReferenceType == "" || input.ReferenceID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "movement reference is required")
	}
	if input.Reason == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}

	repo := s.repo.WithTx(tx)

	// re-read and retry so the logged delta matches the write that landed
	for attempt := 0; attempt < adjustAttempts; attempt++ {
		row, err := repo.EnsureRow(ctx, input.VendorID, input.ProductID)
		if err != nil {
			return 0, err
		}
		if row.Reserved > input.NewOnHand {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, "adjustment would drop on-hand below reserved").
				WithDetails(map[string]any{
					"vendor_id":   input.VendorID.String(),
					"product_id":  input.ProductID.String(),
					"new_on_hand": input.NewOnHand,
					"reserved":    row.Reserved,
				})
		}
		delta := input.NewOnHand - row.OnHand
		if delta == 0 {
			return 0, nil
		}
		ok, err := repo.SetOnHandFrom(ctx, input.VendorID, input.ProductID, row.OnHand, input.NewOnHand)
		if err != nil {
			return 0, err
		}
		if !ok {
			// a concurrent writer moved the row; start over from a fresh read
			continue
		}
		movement := MovementInput{
			VendorID:      input.VendorID,
			ProductID:     input.ProductID,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Reason:        input.Reason,
		}
		if err := s.record(ctx, repo, enums.MovementAdjustment, movement, delta); err != nil {
			return 0, err
		}
		return delta, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeConflict, "concurrent stock activity, retry the adjustment").
		WithDetails(map[string]any{
			"vendor_id":  input.VendorID.String(),
			"product_id": input.ProductID.String(),
		})
}

// Availability reports available = on_hand - reserved per vendor. Vendors
// without a row for the product are simply absent from the result.
func (s *service) Availability(ctx context.Context, productID uuid.UUID, vendorIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	rows, err := s.repo.ListRowsByProduct(ctx, productID, vendorIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		result[row.VendorID] = row.Available()
	}
	return result, nil
}

func (s *service) Movements(ctx context.Context, vendorID, productID uuid.UUID) ([]models.StockMovement, error) {
	return s.repo.ListMovements(ctx, vendorID, productID)
}

func (s *service) record(ctx context.Context, repo Repository, movementType enums.MovementType, input MovementInput, quantity int) error {
	movement := &models.StockMovement{
		ID:            uuid.New(),
		VendorID:      input.VendorID,
		ProductID:     input.ProductID,
		Type:          movementType,
		Quantity:      quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Reason:        input.Reason,
	}
	return repo.RecordMovement(ctx, movement)
}
