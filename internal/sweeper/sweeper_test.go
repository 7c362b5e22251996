package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	"github.com/vendornet/stockcore/pkg/logger"
)

func setupSweeperTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:sweeper_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS inventory_rows (
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
  reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
  updated_at DATETIME,
  PRIMARY KEY (vendor_id, product_id),
  CHECK (reserved <= on_hand)
);`, `
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
);`, `
CREATE TABLE IF NOT EXISTS reservations (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  expires_at DATETIME NOT NULL,
  updated_at DATETIME
);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type serialTxRunner struct {
	mu sync.Mutex
	db *gorm.DB
}

func (r *serialTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Transaction(fn)
}

type noopSelector struct{}

func (noopSelector) Rank(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return nil, nil
}

func (noopSelector) RankCached(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return nil, nil
}

func (noopSelector) Availability(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return nil, nil
}

type sweeperFixture struct {
	db      *gorm.DB
	sweeper *Sweeper
	repo    reservation.Repository
	engine  reservation.Engine
	clock   *time.Time
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	db := setupSweeperTestDB(t)
	runner := &serialTxRunner{db: db}
	stock, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	repo := reservation.NewRepository(db)
	eng, err := reservation.NewEngine(reservation.EngineConfig{
		Tx:       runner,
		Repo:     repo,
		Stock:    stock,
		Selector: noopSelector{},
		TTL:      30 * time.Minute,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	clock := &now
	sw, err := NewSweeper(SweeperParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Repo:      repo,
		Engine:    eng,
		Retention: 168 * time.Hour,
		Now:       func() time.Time { return *clock },
	})
	require.NoError(t, err)

	return &sweeperFixture{db: db, sweeper: sw, repo: repo, engine: eng, clock: clock}
}

func (f *sweeperFixture) seedReservation(t *testing.T, status enums.ReservationStatus, expiresIn time.Duration, qty int) (models.Reservation, uuid.UUID, uuid.UUID) {
	t.Helper()

	vendorID := uuid.New()
	productID := uuid.New()
	require.NoError(t, f.db.Create(&models.InventoryRow{
		VendorID:  vendorID,
		ProductID: productID,
		OnHand:    10,
		Reserved:  qty,
	}).Error)

	resv := models.Reservation{
		ID:        uuid.New(),
		ProductID: productID,
		VendorID:  vendorID,
		OrderID:   uuid.New(),
		Quantity:  qty,
		Status:    status,
		ExpiresAt: f.clock.Add(expiresIn),
	}
	require.NoError(t, f.db.Create(&resv).Error)
	return resv, vendorID, productID
}

func (f *sweeperFixture) row(t *testing.T, vendorID, productID uuid.UUID) models.InventoryRow {
	t.Helper()
	var row models.InventoryRow
	require.NoError(t, f.db.First(&row, "vendor_id = ? AND product_id = ?", vendorID, productID).Error)
	return row
}

func TestSweeperExpiresOverdueReservations(t *testing.T) {
	f := newSweeperFixture(t)
	resv, vendorID, productID := f.seedReservation(t, enums.ReservationStatusActive, -5*time.Minute, 4)

	require.NoError(t, f.sweeper.Run(context.Background()))

	var got models.Reservation
	require.NoError(t, f.db.First(&got, "id = ?", resv.ID).Error)
	assert.Equal(t, enums.ReservationStatusExpired, got.Status)

	row := f.row(t, vendorID, productID)
	assert.Zero(t, row.Reserved)
	assert.Equal(t, 10, row.OnHand)
}

func TestSweeperLeavesLiveReservationsAlone(t *testing.T) {
	f := newSweeperFixture(t)
	resv, vendorID, productID := f.seedReservation(t, enums.ReservationStatusActive, 10*time.Minute, 3)

	require.NoError(t, f.sweeper.Run(context.Background()))

	var got models.Reservation
	require.NoError(t, f.db.First(&got, "id = ?", resv.ID).Error)
	assert.Equal(t, enums.ReservationStatusActive, got.Status)
	assert.Equal(t, 3, f.row(t, vendorID, productID).Reserved)
}

func TestSweeperRunIsIdempotent(t *testing.T) {
	f := newSweeperFixture(t)
	_, vendorID, productID := f.seedReservation(t, enums.ReservationStatusActive, -5*time.Minute, 4)

	require.NoError(t, f.sweeper.Run(context.Background()))
	require.NoError(t, f.sweeper.Run(context.Background()))

	// stock was returned exactly once
	row := f.row(t, vendorID, productID)
	assert.Zero(t, row.Reserved)
	assert.Equal(t, 10, row.OnHand)
}

func TestSweeperPurgesOldTerminalReservations(t *testing.T) {
	f := newSweeperFixture(t)

	released, _, _ := f.seedReservation(t, enums.ReservationStatusReleased, -time.Hour, 1)
	committed, _, _ := f.seedReservation(t, enums.ReservationStatusCommitted, -time.Hour, 1)
	recent, _, _ := f.seedReservation(t, enums.ReservationStatusReleased, -time.Hour, 1)

	// age two of them past retention
	old := f.clock.Add(-200 * time.Hour)
	require.NoError(t, f.db.Model(&models.Reservation{}).
		Where("id IN ?", []uuid.UUID{released.ID, committed.ID}).
		Update("updated_at", old).Error)

	require.NoError(t, f.sweeper.Run(context.Background()))

	var remaining []models.Reservation
	require.NoError(t, f.db.Find(&remaining).Error)
	ids := make(map[uuid.UUID]bool, len(remaining))
	for _, r := range remaining {
		ids[r.ID] = true
	}
	assert.False(t, ids[released.ID], "old released reservation should be purged")
	assert.True(t, ids[committed.ID], "committed reservations are never purged")
	assert.True(t, ids[recent.ID], "recent terminal reservation stays within retention")
}
