package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/metrics"
	"github.com/vendornet/stockcore/pkg/outbox"
	"github.com/vendornet/stockcore/pkg/redis"
)

const movementRefReservation = "reservation"

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LockFactory builds a short-lived lock for the given key. The lock is an
// optimization to cut wasted fallback contention: a nil factory, a failed
// acquisition, or a lock service outage all degrade to relying solely on
// the ledger's transactional guard.
type LockFactory func(key string) (redis.Lock, error)

// ReserveInput describes one reservation request.
type ReserveInput struct {
	ProductID uuid.UUID
	Quantity  int
	Zone      string
	OrderID   uuid.UUID
	Customer  geo.Point
}

// ReserveResult reports the vendor that won the reservation.
type ReserveResult struct {
	VendorID      uuid.UUID `json:"vendor_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
}

// ReservedPart is one vendor's contribution to a split reservation.
type ReservedPart struct {
	VendorID      uuid.UUID `json:"vendor_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	Quantity      int       `json:"quantity"`
}

// PartialResult reports a split reservation. Remainder is the demand no
// vendor could absorb; callers decide whether that is acceptable.
type PartialResult struct {
	Parts     []ReservedPart `json:"parts"`
	Remainder int            `json:"remainder"`
}

// ItemDemand is one order item's stock requirement.
type ItemDemand struct {
	ProductID uuid.UUID
	Quantity  int
}

// Engine orchestrates pick-a-vendor-then-reserve with fallback, and owns
// the commit/release/expire lifecycle of reservation rows.
//
// The *Tx methods run inside a transaction the caller already holds, so an
// order's multi-item bookkeeping and its reservations land atomically.
type Engine interface {
	ReserveStock(ctx context.Context, input ReserveInput) (*ReserveResult, error)
	ReservePartial(ctx context.Context, input ReserveInput) (*PartialResult, error)
	CommitReservation(ctx context.Context, reservationID uuid.UUID) error
	ReleaseReservation(ctx context.Context, reservationID uuid.UUID) error
	ExpireReservation(ctx context.Context, reservationID uuid.UUID) error
	ReserveItemsTx(ctx context.Context, tx *gorm.DB, vendorID, orderID uuid.UUID, items []ItemDemand) ([]models.Reservation, error)
	CommitOrderItemsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Reservation, error)
	ReleaseOrderItemsTx(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (int, error)
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Tx            TxRunner
	Repo          Repository
	Stock         ledger.Service
	Selector      selector.Service
	Events        *outbox.Service
	Metrics       *metrics.ReservationMetrics
	Locks         LockFactory
	LockTTL       time.Duration
	TTL           time.Duration
	MaxCandidates int
	Logger        *logger.Logger
	Now           func() time.Time
}

type engine struct {
	tx            TxRunner
	repo          Repository
	stock         ledger.Service
	selector      selector.Service
	events        *outbox.Service
	metrics       *metrics.ReservationMetrics
	locks         LockFactory
	lockTTL       time.Duration
	ttl           time.Duration
	maxCandidates int
	logg          *logger.Logger
	now           func() time.Time
}

// NewEngine wires a reservation engine.
func NewEngine(cfg EngineConfig) (Engine, error) {
	if cfg.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if cfg.Stock == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("selector service required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &engine{
		tx:            cfg.Tx,
		repo:          cfg.Repo,
		stock:         cfg.Stock,
		selector:      cfg.Selector,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		locks:         cfg.Locks,
		lockTTL:       cfg.LockTTL,
		ttl:           cfg.TTL,
		maxCandidates: cfg.MaxCandidates,
		logg:          cfg.Logger,
		now:           cfg.Now,
	}, nil
}

func (i ReserveInput) validate() error {
	if i.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if i.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if i.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if i.Zone == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "zone is required")
	}
	return nil
}

// ReserveStock walks the ranked candidate list and reserves the full
// quantity against the first vendor whose ledger row can absorb it.
// Losing a candidate to a concurrent order is expected, not an error.
func (e *engine) ReserveStock(ctx context.Context, input ReserveInput) (*ReserveResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	release := e.acquireLock(ctx, input.ProductID, input.Zone)
	defer release()

	candidates, err := e.selector.Rank(ctx, selector.RankQuery{
		ProductID: input.ProductID,
		Zone:      input.Zone,
		Customer:  input.Customer,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}

	for idx, candidate := range candidates {
		reservation, err := e.reserveAgainst(ctx, candidate.VendorID, input, input.Quantity)
		if err == nil {
			if idx > 0 {
				e.metrics.IncFallback()
			}
			e.metrics.IncAttempt("fulfilled")
			return &ReserveResult{VendorID: candidate.VendorID, ReservationID: reservation.ID}, nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			continue
		}
		e.metrics.IncAttempt("error")
		return nil, err
	}

	e.metrics.IncAttempt("no_vendor")
	return nil, pkgerrors.New(pkgerrors.CodeNoVendor, "no vendor can cover the requested quantity").
		WithDetails(map[string]any{
			"product_id": input.ProductID.String(),
			"zone":       input.Zone,
			"quantity":   input.Quantity,
		})
}

// ReservePartial splits the requested quantity across the ranked vendors,
// one reservation per contributing vendor. Unmet demand is reported back
// as Remainder, never dropped.
func (e *engine) ReservePartial(ctx context.Context, input ReserveInput) (*PartialResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	release := e.acquireLock(ctx, input.ProductID, input.Zone)
	defer release()

	candidates, err := e.selector.Rank(ctx, selector.RankQuery{
		ProductID: input.ProductID,
		Zone:      input.Zone,
		Customer:  input.Customer,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}

	result := &PartialResult{Parts: []ReservedPart{}, Remainder: input.Quantity}
	for _, candidate := range candidates {
		if result.Remainder == 0 {
			break
		}
		take := candidate.Available
		if take > result.Remainder {
			take = result.Remainder
		}
		if take <= 0 {
			continue
		}
		reservation, err := e.reserveAgainst(ctx, candidate.VendorID, input, take)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
				continue
			}
			return nil, err
		}
		result.Parts = append(result.Parts, ReservedPart{
			VendorID:      candidate.VendorID,
			ReservationID: reservation.ID,
			Quantity:      take,
		})
		result.Remainder -= take
	}

	if result.Remainder > 0 {
		e.metrics.IncAttempt("partial")
	} else {
		e.metrics.IncAttempt("fulfilled")
	}
	return result, nil
}

// CommitReservation permanently deducts a reservation's stock. Committing
// an already-committed reservation is a no-op success so retries and
// repeated fulfillment milestones never double-decrement on_hand.
func (e *engine) CommitReservation(ctx context.Context, reservationID uuid.UUID) error {
	if reservationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		reservation, err := repo.GetByID(ctx, reservationID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				// purged rows count as already settled
				return nil
			}
			return err
		}
		flipped, err := repo.TransitionStatus(ctx, reservationID, enums.ReservationStatusActive, enums.ReservationStatusCommitted)
		if err != nil {
			return err
		}
		if !flipped {
			current, err := repo.GetByID(ctx, reservationID)
			if err != nil {
				return err
			}
			if current.Status == enums.ReservationStatusCommitted {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is no longer active").
				WithDetails(map[string]any{"status": current.Status})
		}
		if err := e.stock.Commit(ctx, tx, e.movement(reservation)); err != nil {
			return err
		}
		return e.emit(ctx, tx, enums.EventStockCommitted, reservation)
	})
}

// ReleaseReservation returns a reservation's hold to the pool. Terminal
// and purged reservations are a no-op success: cancellation paths and
// the expiry sweeper may race to release the same row.
func (e *engine) ReleaseReservation(ctx context.Context, reservationID uuid.UUID) error {
	return e.releaseTo(ctx, reservationID, enums.ReservationStatusReleased, enums.EventStockReleased)
}

// ExpireReservation force-releases an overdue active reservation, marking
// it expired rather than released so the audit trail distinguishes the two.
func (e *engine) ExpireReservation(ctx context.Context, reservationID uuid.UUID) error {
	return e.releaseTo(ctx, reservationID, enums.ReservationStatusExpired, enums.EventReservationExpired)
}

func (e *engine) releaseTo(ctx context.Context, reservationID uuid.UUID, terminal enums.ReservationStatus, event enums.OutboxEventType) error {
	if reservationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		reservation, err := repo.GetByID(ctx, reservationID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				// the sweeper may have purged the row after it went terminal
				return nil
			}
			return err
		}
		flipped, err := repo.TransitionStatus(ctx, reservationID, enums.ReservationStatusActive, terminal)
		if err != nil {
			return err
		}
		if !flipped {
			// already terminal; the first caller did the ledger work
			return nil
		}
		if err := e.stock.Release(ctx, tx, e.movement(reservation)); err != nil {
			return err
		}
		return e.emit(ctx, tx, event, reservation)
	})
}

// ReserveItemsTx reserves every item against one vendor inside the
// caller's transaction. Items are processed sequentially; any failure
// rolls the whole transaction back, unwinding earlier items with it.
func (e *engine) ReserveItemsTx(ctx context.Context, tx *gorm.DB, vendorID, orderID uuid.UUID, items []ItemDemand) ([]models.Reservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if vendorID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id and order id are required")
	}
	repo := e.repo.WithTx(tx)
	reservations := make([]models.Reservation, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		reservation := models.Reservation{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			VendorID:  vendorID,
			OrderID:   orderID,
			Quantity:  item.Quantity,
			Status:    enums.ReservationStatusActive,
			ExpiresAt: e.now().Add(e.ttl),
		}
		if err := e.stock.Reserve(ctx, tx, ledger.MovementInput{
			VendorID:      vendorID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			ReferenceType: movementRefReservation,
			ReferenceID:   reservation.ID,
		}); err != nil {
			return nil, err
		}
		if err := repo.Create(ctx, &reservation); err != nil {
			return nil, err
		}
		if err := e.emit(ctx, tx, enums.EventStockReserved, &reservation); err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

// CommitOrderItemsTx commits every still-active reservation of the order
// and returns the reservations it actually flipped. Already-committed
// reservations are skipped, so repeated fulfillment milestones decrement
// on_hand exactly once per item.
func (e *engine) CommitOrderItemsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Reservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	repo := e.repo.WithTx(tx)
	active, err := repo.ListActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	committed := make([]models.Reservation, 0, len(active))
	for i := range active {
		reservation := active[i]
		flipped, err := repo.TransitionStatus(ctx, reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusCommitted)
		if err != nil {
			return committed, err
		}
		if !flipped {
			continue
		}
		if err := e.stock.Commit(ctx, tx, e.movement(&reservation)); err != nil {
			return committed, err
		}
		if err := e.emit(ctx, tx, enums.EventStockCommitted, &reservation); err != nil {
			return committed, err
		}
		committed = append(committed, reservation)
	}
	return committed, nil
}

// ReleaseOrderItemsTx releases the order's active reservations. A non-nil
// vendorID restricts the release to that vendor's holds, which is what a
// reassignment wants: free the old vendor, leave the new one alone.
func (e *engine) ReleaseOrderItemsTx(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	repo := e.repo.WithTx(tx)
	active, err := repo.ListActiveByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range active {
		reservation := active[i]
		if vendorID != uuid.Nil && reservation.VendorID != vendorID {
			continue
		}
		flipped, err := repo.TransitionStatus(ctx, reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusReleased)
		if err != nil {
			return released, err
		}
		if !flipped {
			continue
		}
		if err := e.stock.Release(ctx, tx, e.movement(&reservation)); err != nil {
			return released, err
		}
		if err := e.emit(ctx, tx, enums.EventStockReleased, &reservation); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (e *engine) reserveAgainst(ctx context.Context, vendorID uuid.UUID, input ReserveInput, qty int) (*models.Reservation, error) {
	reservation := &models.Reservation{
		ID:        uuid.New(),
		ProductID: input.ProductID,
		VendorID:  vendorID,
		OrderID:   input.OrderID,
		Quantity:  qty,
		Status:    enums.ReservationStatusActive,
		ExpiresAt: e.now().Add(e.ttl),
	}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.stock.Reserve(ctx, tx, ledger.MovementInput{
			VendorID:      vendorID,
			ProductID:     input.ProductID,
			Quantity:      qty,
			ReferenceType: movementRefReservation,
			ReferenceID:   reservation.ID,
		}); err != nil {
			return err
		}
		if err := e.repo.WithTx(tx).Create(ctx, reservation); err != nil {
			return err
		}
		return e.emit(ctx, tx, enums.EventStockReserved, reservation)
	})
	if err != nil {
		return nil, err
	}
	if e.logg != nil {
		logCtx := e.logg.WithReservationID(ctx, reservation.ID.String())
		logCtx = e.logg.WithVendorID(logCtx, vendorID.String())
		e.logg.Info(logCtx, "stock reserved")
	}
	return reservation, nil
}

func (e *engine) movement(reservation *models.Reservation) ledger.MovementInput {
	return ledger.MovementInput{
		VendorID:      reservation.VendorID,
		ProductID:     reservation.ProductID,
		Quantity:      reservation.Quantity,
		ReferenceType: movementRefReservation,
		ReferenceID:   reservation.ID,
	}
}

func (e *engine) emit(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, reservation *models.Reservation) error {
	if e.events == nil {
		return nil
	}
	domainEvent := outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		Data: map[string]any{
			"reservation_id": reservation.ID.String(),
			"order_id":       reservation.OrderID.String(),
			"product_id":     reservation.ProductID.String(),
			"vendor_id":      reservation.VendorID.String(),
			"quantity":       reservation.Quantity,
		},
		Version:    1,
		OccurredAt: e.now(),
	}
	if event == enums.EventReservationExpired {
		return e.events.EmitIfNotExists(ctx, tx, domainEvent)
	}
	return e.events.Emit(ctx, tx, domainEvent)
}

// acquireLock best-effort grabs the product+zone fallback lock. The
// returned func releases it on every exit path.
func (e *engine) acquireLock(ctx context.Context, productID uuid.UUID, zone string) func() {
	if e.locks == nil {
		return func() {}
	}
	lock, err := e.locks("reserve:" + productID.String() + ":" + zone)
	if err != nil || lock == nil {
		return func() {}
	}
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		if err != nil && e.logg != nil {
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "fallback lock unavailable")
		}
		return func() {}
	}
	return func() {
		if err := lock.Release(ctx); err != nil && e.logg != nil {
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "fallback lock release failed")
		}
	}
}
