package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	rows := `
CREATE TABLE IF NOT EXISTS inventory_rows (
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
  reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
  updated_at DATETIME,
  PRIMARY KEY (vendor_id, product_id),
  CHECK (reserved <= on_hand)
);`
	movements := `
CREATE TABLE IF NOT EXISTS stock_movements (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  type TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  reference_type TEXT NOT NULL,
  reference_id TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);`
	require.NoError(t, db.Exec(rows).Error)
	require.NoError(t, db.Exec(movements).Error)
	return db
}

func newLedgerService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	return svc
}

func seedRow(t *testing.T, db *gorm.DB, vendorID, productID uuid.UUID, onHand, reserved int) {
	t.Helper()
	row := models.InventoryRow{VendorID: vendorID, ProductID: productID, OnHand: onHand, Reserved: reserved}
	require.NoError(t, db.Create(&row).Error)
}

func loadRow(t *testing.T, db *gorm.DB, vendorID, productID uuid.UUID) models.InventoryRow {
	t.Helper()
	var row models.InventoryRow
	require.NoError(t, db.First(&row, "vendor_id = ? AND product_id = ?", vendorID, productID).Error)
	return row
}

func movementInput(vendorID, productID uuid.UUID, qty int) MovementInput {
	return MovementInput{
		VendorID:      vendorID,
		ProductID:     productID,
		Quantity:      qty,
		ReferenceType: "reservation",
		ReferenceID:   uuid.New(),
	}
}

func TestReserveHoldsStockAndLogsMovement(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 0)

	require.NoError(t, svc.Reserve(ctx, db, movementInput(vendor, product, 4)))

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 10, row.OnHand)
	assert.Equal(t, 4, row.Reserved)
	assert.Equal(t, 6, row.Available())

	movements, err := svc.Movements(ctx, vendor, product)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, enums.MovementReservation, movements[0].Type)
	assert.Equal(t, 4, movements[0].Quantity)
}

func TestReserveCreatesRowLazily(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	vendor, product := uuid.New(), uuid.New()

	err := svc.Reserve(context.Background(), db, movementInput(vendor, product, 1))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	// the row now exists with zero counters
	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 0, row.OnHand)
	assert.Equal(t, 0, row.Reserved)
}

func TestReserveInsufficientStockLeavesCountersUntouched(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 5, 3)

	err := svc.Reserve(ctx, db, movementInput(vendor, product, 3))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 3, row.Reserved)

	movements, err := svc.Movements(ctx, vendor, product)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestCommitDecrementsBothCounters(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 0)

	require.NoError(t, svc.Reserve(ctx, db, movementInput(vendor, product, 4)))
	before := loadRow(t, db, vendor, product)

	require.NoError(t, svc.Commit(ctx, db, movementInput(vendor, product, 4)))

	after := loadRow(t, db, vendor, product)
	assert.Equal(t, 6, after.OnHand)
	assert.Equal(t, 0, after.Reserved)
	// commit leaves available unchanged
	assert.Equal(t, before.Available(), after.Available())
}

func TestCommitBeyondReservedFailsFatal(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 2)

	err := svc.Commit(context.Background(), db, movementInput(vendor, product, 3))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeReservedMismatch))

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 10, row.OnHand)
	assert.Equal(t, 2, row.Reserved)
}

func TestReleaseRestoresAvailable(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 0)

	require.NoError(t, svc.Reserve(ctx, db, movementInput(vendor, product, 4)))
	require.NoError(t, svc.Release(ctx, db, movementInput(vendor, product, 4)))

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 10, row.OnHand)
	assert.Equal(t, 0, row.Reserved)
}

func TestReleaseBeyondReservedFailsFatal(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 1)

	err := svc.Release(context.Background(), db, movementInput(vendor, product, 2))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeReservedMismatch))
}

func TestAdjustSetsAbsoluteLevelAndLogsDelta(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 2)

	delta, err := svc.Adjust(ctx, db, AdjustInput{
		VendorID:      vendor,
		ProductID:     product,
		NewOnHand:     4,
		Reason:        "cycle count correction",
		ReferenceType: "admin",
		ReferenceID:   uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, -6, delta)

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 4, row.OnHand)

	movements, err := svc.Movements(ctx, vendor, product)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, enums.MovementAdjustment, movements[0].Type)
	assert.Equal(t, -6, movements[0].Quantity)
	assert.Equal(t, "cycle count correction", movements[0].Reason)
}

// racingRepo lands a concurrent on_hand write between Adjust's read and
// its guarded update, once.
type racingRepo struct {
	Repository
	db    *gorm.DB
	raced bool
}

func (r *racingRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *racingRepo) EnsureRow(ctx context.Context, vendorID, productID uuid.UUID) (*models.InventoryRow, error) {
	row, err := r.Repository.EnsureRow(ctx, vendorID, productID)
	if err != nil || r.raced {
		return row, err
	}
	r.raced = true
	stale := *row
	err = r.db.Model(&models.InventoryRow{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Update("on_hand", row.OnHand-2).Error
	if err != nil {
		return nil, err
	}
	return &stale, nil
}

func TestAdjustRetriesOnConcurrentWriteAndLogsTrueDelta(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	repo := &racingRepo{Repository: NewRepository(db), db: db}
	svc, err := NewService(repo)
	require.NoError(t, err)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 0)

	// first attempt reads 10, the racer drops it to 8, the guarded write
	// misses and the retry computes the delta from the fresh read
	delta, err := svc.Adjust(ctx, db, AdjustInput{
		VendorID:      vendor,
		ProductID:     product,
		NewOnHand:     4,
		Reason:        "cycle count correction",
		ReferenceType: "admin",
		ReferenceID:   uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, -4, delta)

	row := loadRow(t, db, vendor, product)
	assert.Equal(t, 4, row.OnHand)

	movements, err := svc.Movements(ctx, vendor, product)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -4, movements[0].Quantity)
}

func TestAdjustCannotUndercutReserved(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 10, 5)

	_, err := svc.Adjust(context.Background(), db, AdjustInput{
		VendorID:      vendor,
		ProductID:     product,
		NewOnHand:     3,
		Reason:        "cycle count correction",
		ReferenceType: "admin",
		ReferenceID:   uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestAvailabilityListsOnlyVendorsWithRows(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	product := uuid.New()
	vendorA, vendorB, vendorC := uuid.New(), uuid.New(), uuid.New()
	seedRow(t, db, vendorA, product, 10, 4)
	seedRow(t, db, vendorB, product, 3, 3)

	got, err := svc.Availability(ctx, product, []uuid.UUID{vendorA, vendorB, vendorC})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{vendorA: 6, vendorB: 0}, got)
}

func TestReservedNeverExceedsOnHandAcrossOperations(t *testing.T) {
	t.Parallel()

	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()
	vendor, product := uuid.New(), uuid.New()
	seedRow(t, db, vendor, product, 6, 0)

	steps := []func() error{
		func() error { return svc.Reserve(ctx, db, movementInput(vendor, product, 2)) },
		func() error { return svc.Reserve(ctx, db, movementInput(vendor, product, 4)) },
		func() error { return svc.Reserve(ctx, db, movementInput(vendor, product, 1)) },
		func() error { return svc.Commit(ctx, db, movementInput(vendor, product, 2)) },
		func() error { return svc.Release(ctx, db, movementInput(vendor, product, 4)) },
	}
	for _, step := range steps {
		_ = step()
		row := loadRow(t, db, vendor, product)
		require.GreaterOrEqual(t, row.Reserved, 0)
		require.LessOrEqual(t, row.Reserved, row.OnHand)
	}
}
