package reassign

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
	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	"github.com/vendornet/stockcore/pkg/logger"
)

func setupMonitorTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:reassign_" + uuid.NewString() + "?mode=memory&cache=shared"
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
);`, `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  zone TEXT NOT NULL,
  customer_lat REAL NOT NULL,
  customer_lng REAL NOT NULL,
  status TEXT NOT NULL DEFAULT 'placed',
  sla_deadline DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  reserved_qty INTEGER NOT NULL DEFAULT 0,
  committed_qty INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS reassignment_records (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_vendor_id TEXT NOT NULL,
  to_vendor_id TEXT,
  reason TEXT NOT NULL,
  created_at DATETIME
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

type staticSelector struct {
	candidates []selector.Candidate
}

func (s *staticSelector) Rank(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return s.candidates, nil
}

func (s *staticSelector) RankCached(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return s.candidates, nil
}

func (s *staticSelector) Availability(ctx context.Context, query selector.RankQuery) ([]selector.Candidate, error) {
	return s.candidates, nil
}

type monitorFixture struct {
	db      *gorm.DB
	monitor *Monitor
	engine  reservation.Engine
	orders  orders.Repository
	records Repository
	sel     *staticSelector
	clock   *time.Time
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	db := setupMonitorTestDB(t)
	runner := &serialTxRunner{db: db}
	stock, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	sel := &staticSelector{}
	eng, err := reservation.NewEngine(reservation.EngineConfig{
		Tx:       runner,
		Repo:     reservation.NewRepository(db),
		Stock:    stock,
		Selector: sel,
		TTL:      30 * time.Minute,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	clock := &now
	ordersRepo := orders.NewRepository(db)
	records := NewRepository(db)
	monitor, err := NewMonitor(MonitorParams{
		Logger:          logger.New(logger.Options{ServiceName: "test"}),
		Tx:              runner,
		Orders:          ordersRepo,
		Records:         records,
		Engine:          eng,
		Selector:        sel,
		ExtensionWindow: 30 * time.Minute,
		BreachCooldown:  2 * time.Hour,
		Now:             func() time.Time { return *clock },
	})
	require.NoError(t, err)

	return &monitorFixture{db: db, monitor: monitor, engine: eng, orders: ordersRepo, records: records, sel: sel, clock: clock}
}

func (f *monitorFixture) seedStock(t *testing.T, vendorID, productID uuid.UUID, onHand int) {
	t.Helper()
	row := models.InventoryRow{VendorID: vendorID, ProductID: productID, OnHand: onHand}
	require.NoError(t, f.db.Create(&row).Error)
}

func (f *monitorFixture) row(t *testing.T, vendorID, productID uuid.UUID) models.InventoryRow {
	t.Helper()
	var row models.InventoryRow
	require.NoError(t, f.db.First(&row, "vendor_id = ? AND product_id = ?", vendorID, productID).Error)
	return row
}

func (f *monitorFixture) rankAs(vendors ...uuid.UUID) {
	candidates := make([]selector.Candidate, 0, len(vendors))
	for i, id := range vendors {
		candidates = append(candidates, selector.Candidate{VendorID: id, DistanceKm: float64(i), Available: 100})
	}
	f.sel.candidates = candidates
}

// seedPlacedOrder creates a placed order with a live reservation held at
// the given vendor, deadline already in the past unless offset says
// otherwise.
func (f *monitorFixture) seedPlacedOrder(t *testing.T, vendorID, productID uuid.UUID, qty int, deadlineOffset time.Duration) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:          uuid.New(),
		VendorID:    vendorID,
		Zone:        "north",
		Status:      enums.OrderStatusPlaced,
		SLADeadline: f.clock.Add(deadlineOffset),
		Items: []models.OrderItem{{
			ID:          uuid.New(),
			ProductID:   productID,
			Quantity:    qty,
			ReservedQty: qty,
		}},
	}
	order.Items[0].OrderID = order.ID
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		demands := []reservation.ItemDemand{{ProductID: productID, Quantity: qty}}
		_, err := f.engine.ReserveItemsTx(context.Background(), tx, vendorID, order.ID, demands)
		return err
	}))
	return order
}

func TestMonitorReassignsBreachedOrder(t *testing.T) {
	f := newMonitorFixture(t)
	slow := uuid.New()
	alternate := uuid.New()
	f.rankAs(slow, alternate)

	product := uuid.New()
	f.seedStock(t, slow, product, 5)
	f.seedStock(t, alternate, product, 5)
	order := f.seedPlacedOrder(t, slow, product, 4, -10*time.Minute)

	require.NoError(t, f.monitor.Run(context.Background()))

	moved, err := f.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, alternate, moved.VendorID)
	assert.Equal(t, enums.OrderStatusPlaced, moved.Status)
	assert.True(t, moved.SLADeadline.After(*f.clock))
	require.Len(t, moved.Items, 1)
	assert.Equal(t, 4, moved.Items[0].ReservedQty)

	assert.Zero(t, f.row(t, slow, product).Reserved)
	assert.Equal(t, 4, f.row(t, alternate, product).Reserved)

	records, err := f.records.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, enums.ReassignmentReasonSLABreach, records[0].Reason)
	assert.Equal(t, slow, records[0].FromVendorID)
	require.NotNil(t, records[0].ToVendorID)
	assert.Equal(t, alternate, *records[0].ToVendorID)
}

func TestMonitorLeavesHealthyOrdersAlone(t *testing.T) {
	f := newMonitorFixture(t)
	vendor := uuid.New()
	f.rankAs(vendor)

	product := uuid.New()
	f.seedStock(t, vendor, product, 5)
	order := f.seedPlacedOrder(t, vendor, product, 2, 20*time.Minute)

	require.NoError(t, f.monitor.Run(context.Background()))

	got, err := f.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, vendor, got.VendorID)
	assert.Equal(t, 2, f.row(t, vendor, product).Reserved)

	records, err := f.records.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMonitorStrandsOrderWithoutAlternate(t *testing.T) {
	f := newMonitorFixture(t)
	only := uuid.New()
	f.rankAs(only)

	product := uuid.New()
	f.seedStock(t, only, product, 5)
	order := f.seedPlacedOrder(t, only, product, 3, -5*time.Minute)

	require.NoError(t, f.monitor.Run(context.Background()))

	got, err := f.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, only, got.VendorID)
	assert.Equal(t, enums.OrderStatusPlaced, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].ReservedQty)

	// the stranded order keeps its backing hold
	assert.Equal(t, 3, f.row(t, only, product).Reserved)
	var hold models.Reservation
	require.NoError(t, f.db.First(&hold, "order_id = ?", order.ID).Error)
	assert.Equal(t, enums.ReservationStatusActive, hold.Status)

	records, err := f.records.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].ToVendorID)

	// a second sweep within the cooldown does not pile on more records
	require.NoError(t, f.monitor.Run(context.Background()))
	records, err = f.records.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMonitorSkipsVendorsInBreachCooldown(t *testing.T) {
	f := newMonitorFixture(t)
	slow := uuid.New()
	repeatOffender := uuid.New()
	f.rankAs(slow, repeatOffender)

	product := uuid.New()
	f.seedStock(t, slow, product, 5)
	f.seedStock(t, repeatOffender, product, 5)
	order := f.seedPlacedOrder(t, slow, product, 2, -5*time.Minute)

	// the only alternate breached another order minutes ago
	require.NoError(t, f.db.Create(&models.ReassignmentRecord{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		FromVendorID: repeatOffender,
		Reason:       enums.ReassignmentReasonSLABreach,
	}).Error)

	require.NoError(t, f.monitor.Run(context.Background()))

	got, err := f.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, slow, got.VendorID)
	assert.Zero(t, f.row(t, repeatOffender, product).Reserved)
}

func TestMonitorOnlyMovesOutstandingQuantity(t *testing.T) {
	f := newMonitorFixture(t)
	slow := uuid.New()
	alternate := uuid.New()
	f.rankAs(slow, alternate)

	product := uuid.New()
	f.seedStock(t, slow, product, 10)
	f.seedStock(t, alternate, product, 10)
	order := f.seedPlacedOrder(t, slow, product, 5, -5*time.Minute)

	// part of the item already committed at the original vendor
	require.NoError(t, f.db.Model(&models.OrderItem{}).
		Where("order_id = ?", order.ID).
		Updates(map[string]any{"committed_qty": 2, "quantity": 5}).Error)

	require.NoError(t, f.monitor.Run(context.Background()))

	assert.Equal(t, 3, f.row(t, alternate, product).Reserved)
}
