package reassign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/outbox"
)

const (
	defaultExtensionWindow = 30 * time.Minute
	defaultBreachCooldown  = 2 * time.Hour
	defaultMaxAlternates   = 5
	defaultBatchSize       = 100
)

// MonitorParams configure the SLA breach monitor.
type MonitorParams struct {
	Logger          *logger.Logger
	Tx              reservation.TxRunner
	Orders          orders.Repository
	Records         Repository
	Engine          reservation.Engine
	Selector        selector.Service
	Events          *outbox.Service
	ExtensionWindow time.Duration
	BreachCooldown  time.Duration
	MaxAlternates   int
	BatchSize       int
	Now             func() time.Time
}

// Monitor sweeps placed orders whose SLA deadline has passed and moves
// each one to an alternate vendor. Orders with no viable alternate are
// flagged stranded and stay with their vendor, holds intact, until an
// operator steps in or a later sweep finds an alternate.
type Monitor struct {
	logg            *logger.Logger
	tx              reservation.TxRunner
	orders          orders.Repository
	records         Repository
	engine          reservation.Engine
	selector        selector.Service
	events          *outbox.Service
	extensionWindow time.Duration
	breachCooldown  time.Duration
	maxAlternates   int
	batchSize       int
	now             func() time.Time
}

// NewMonitor builds an SLA monitor.
func NewMonitor(params MonitorParams) (*Monitor, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if params.Selector == nil {
		return nil, fmt.Errorf("selector service required")
	}
	if params.ExtensionWindow <= 0 {
		params.ExtensionWindow = defaultExtensionWindow
	}
	if params.BreachCooldown <= 0 {
		params.BreachCooldown = defaultBreachCooldown
	}
	if params.MaxAlternates <= 0 {
		params.MaxAlternates = defaultMaxAlternates
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Monitor{
		logg:            params.Logger,
		tx:              params.Tx,
		orders:          params.Orders,
		records:         params.Records,
		engine:          params.Engine,
		selector:        params.Selector,
		events:          params.Events,
		extensionWindow: params.ExtensionWindow,
		breachCooldown:  params.BreachCooldown,
		maxAlternates:   params.MaxAlternates,
		batchSize:       params.BatchSize,
		now:             params.Now,
	}, nil
}

func (m *Monitor) Name() string { return "sla-monitor" }

// Run performs one sweep. Each breached order gets its own transaction so
// one stuck order cannot poison the rest of the batch.
func (m *Monitor) Run(ctx context.Context) error {
	now := m.now().UTC()
	breached, err := m.orders.ListPlacedPastDeadline(ctx, now, m.batchSize)
	if err != nil {
		return fmt.Errorf("query breached orders: %w", err)
	}
	if len(breached) == 0 {
		return nil
	}

	excluded, err := m.records.RecentBreachedVendors(ctx, now.Add(-m.breachCooldown))
	if err != nil {
		return fmt.Errorf("query breached vendors: %w", err)
	}
	cooldown := make(map[uuid.UUID]bool, len(excluded))
	for _, id := range excluded {
		cooldown[id] = true
	}

	var errs []error
	for _, order := range breached {
		if err := m.reassignOrder(ctx, order.ID, cooldown); err != nil {
			orderCtx := m.logg.WithOrderID(ctx, order.ID.String())
			m.logg.Error(orderCtx, "reassignment failed", err)
			errs = append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		}
	}
	return multierr.Combine(errs...)
}

func (m *Monitor) reassignOrder(ctx context.Context, orderID uuid.UUID, cooldown map[uuid.UUID]bool) error {
	return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.orders.WithTx(tx)
		order, err := repo.GetByID(ctx, orderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil
			}
			return err
		}
		// re-check under the transaction: the order may have moved on
		// or already been reassigned since the batch query ran.
		now := m.now().UTC()
		if order.Status != enums.OrderStatusPlaced || order.SLADeadline.After(now) {
			return nil
		}

		demands := outstandingDemands(order)
		if len(demands) == 0 {
			return nil
		}

		// reserve on an alternate before touching the current holds: a
		// stranded order must keep its backing reservation.
		alt, err := m.findAlternate(ctx, tx, order, demands, cooldown)
		if err != nil {
			return err
		}
		if alt == uuid.Nil {
			return m.strand(ctx, tx, order)
		}

		if _, err := m.engine.ReleaseOrderItemsTx(ctx, tx, order.ID, order.VendorID); err != nil {
			return err
		}

		newDeadline := now.Add(m.extensionWindow)
		if err := repo.Reassign(ctx, order.ID, alt, newDeadline); err != nil {
			return err
		}
		if err := repo.ResetItemsReserved(ctx, order.ID); err != nil {
			return err
		}
		record := &models.ReassignmentRecord{
			ID:           uuid.New(),
			OrderID:      order.ID,
			FromVendorID: order.VendorID,
			ToVendorID:   &alt,
			Reason:       enums.ReassignmentReasonSLABreach,
		}
		if err := m.records.CreateTx(ctx, tx, record); err != nil {
			return err
		}
		cooldown[order.VendorID] = true

		orderCtx := m.logg.WithOrderID(ctx, order.ID.String())
		m.logg.Info(m.logg.WithVendorID(orderCtx, alt.String()), "order reassigned after sla breach")

		return m.emit(ctx, tx, enums.EventOrderReassigned, order, map[string]any{
			"from_vendor_id": order.VendorID.String(),
			"to_vendor_id":   alt.String(),
			"reason":         enums.ReassignmentReasonSLABreach.String(),
			"sla_deadline":   newDeadline,
		})
	})
}

func (m *Monitor) findAlternate(ctx context.Context, tx *gorm.DB, order *models.Order, demands []reservation.ItemDemand, cooldown map[uuid.UUID]bool) (uuid.UUID, error) {
	candidates, err := m.selector.Rank(ctx, selector.RankQuery{
		ProductID: demands[0].ProductID,
		Zone:      order.Zone,
		Customer:  geo.Point{Lat: order.CustomerLat, Lng: order.CustomerLng},
	})
	if err != nil {
		return uuid.Nil, err
	}

	tried := 0
	for _, candidate := range candidates {
		if candidate.VendorID == order.VendorID || cooldown[candidate.VendorID] {
			continue
		}
		if tried >= m.maxAlternates {
			break
		}
		tried++
		alt := candidate.VendorID
		attemptErr := tx.Transaction(func(inner *gorm.DB) error {
			_, err := m.engine.ReserveItemsTx(ctx, inner, alt, order.ID, demands)
			return err
		})
		if attemptErr == nil {
			return alt, nil
		}
		if pkgerrors.IsCode(attemptErr, pkgerrors.CodeInsufficientStock) {
			continue
		}
		return uuid.Nil, attemptErr
	}
	return uuid.Nil, nil
}

// strand records the failed sweep and raises order_stranded at most once
// per order; the partial unique index on outbox_events absorbs replays.
func (m *Monitor) strand(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	since := m.now().UTC().Add(-m.breachCooldown)
	already, err := m.records.CountByOrderSince(ctx, order.ID, since)
	if err != nil {
		return err
	}
	if already == 0 {
		record := &models.ReassignmentRecord{
			ID:           uuid.New(),
			OrderID:      order.ID,
			FromVendorID: order.VendorID,
			Reason:       enums.ReassignmentReasonSLABreach,
		}
		if err := m.records.CreateTx(ctx, tx, record); err != nil {
			return err
		}
	}

	m.logg.Warn(m.logg.WithOrderID(ctx, order.ID.String()), "no alternate vendor; order stranded")

	if m.events == nil {
		return nil
	}
	return m.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStranded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: map[string]any{
			"order_id":  order.ID.String(),
			"vendor_id": order.VendorID.String(),
			"zone":      order.Zone,
		},
		Version:    1,
		OccurredAt: m.now(),
	})
}

func (m *Monitor) emit(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, order *models.Order, data map[string]any) error {
	if m.events == nil {
		return nil
	}
	payload := map[string]any{
		"order_id": order.ID.String(),
		"zone":     order.Zone,
	}
	for k, v := range data {
		payload[k] = v
	}
	return m.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          payload,
		Version:       1,
		OccurredAt:    m.now(),
	})
}

func outstandingDemands(order *models.Order) []reservation.ItemDemand {
	demands := make([]reservation.ItemDemand, 0, len(order.Items))
	for _, item := range order.Items {
		outstanding := item.Quantity - item.CommittedQty
		if outstanding > 0 {
			demands = append(demands, reservation.ItemDemand{ProductID: item.ProductID, Quantity: outstanding})
		}
	}
	return demands
}
