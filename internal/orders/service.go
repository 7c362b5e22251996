package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/outbox"
)

// ReasonOutOfStock marks a vendor rejection caused by missing stock. It
// triggers a one-shot reassignment attempt before the order gives up.
const ReasonOutOfStock = "out_of_stock"

// RecordStore appends reassignment audit records. Implemented by the
// reassign package's repository; declared here so orders does not import it.
type RecordStore interface {
	CreateTx(ctx context.Context, tx *gorm.DB, record *models.ReassignmentRecord) error
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// PlaceInput describes a new order.
type PlaceInput struct {
	Zone     string
	Customer geo.Point
	Items    []ItemInput
}

// TransitionInput drives one state machine step.
type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Reason  string
}

// Service owns the order fulfillment state machine.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
}

// ServiceConfig wires the order service's collaborators.
type ServiceConfig struct {
	Tx            reservation.TxRunner
	Repo          Repository
	Engine        reservation.Engine
	Selector      selector.Service
	Records       RecordStore
	Events        *outbox.Service
	Logger        *logger.Logger
	SLAWindow     time.Duration
	MaxCandidates int
	Now           func() time.Time
}

type service struct {
	tx            reservation.TxRunner
	repo          Repository
	engine        reservation.Engine
	selector      selector.Service
	records       RecordStore
	events        *outbox.Service
	logg          *logger.Logger
	slaWindow     time.Duration
	maxCandidates int
	now           func() time.Time
}

// NewService wires an order fulfillment service.
func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("selector service required")
	}
	if cfg.SLAWindow <= 0 {
		cfg.SLAWindow = 30 * time.Minute
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &service{
		tx:            cfg.Tx,
		repo:          cfg.Repo,
		engine:        cfg.Engine,
		selector:      cfg.Selector,
		records:       cfg.Records,
		events:        cfg.Events,
		logg:          cfg.Logger,
		slaWindow:     cfg.SLAWindow,
		maxCandidates: cfg.MaxCandidates,
		now:           cfg.Now,
	}, nil
}

// forwardSteps are the only legal forward transitions; each step is legal
// solely from its immediate predecessor.
var forwardSteps = map[enums.OrderStatus]enums.OrderStatus{
	enums.OrderStatusPlaced:         enums.OrderStatusConfirmed,
	enums.OrderStatusConfirmed:      enums.OrderStatusPacking,
	enums.OrderStatusPacking:        enums.OrderStatusReady,
	enums.OrderStatusReady:          enums.OrderStatusOutForDelivery,
	enums.OrderStatusOutForDelivery: enums.OrderStatusDelivered,
}

// commitPoints are the milestones that convert outstanding holds into
// permanent deductions. Idempotency in the engine makes hitting several
// of them harmless.
var commitPoints = map[enums.OrderStatus]bool{
	enums.OrderStatusConfirmed:      true,
	enums.OrderStatusOutForDelivery: true,
	enums.OrderStatusDelivered:      true,
}

func legalTransition(from, to enums.OrderStatus) bool {
	if forwardSteps[from] == to {
		return true
	}
	if to == enums.OrderStatusRejected {
		return from == enums.OrderStatusPlaced
	}
	if to == enums.OrderStatusCancelled {
		return !from.IsTerminal() && from != enums.OrderStatusDelivered
	}
	return false
}

// Place creates the order together with one reservation per item, all
// against a single vendor, all inside one transaction. If any item cannot
// be reserved the whole attempt rolls back and the next ranked vendor is
// tried; exhausting the ranking fails the order outright.
func (s *service) Place(ctx context.Context, input PlaceInput) (*models.Order, error) {
	if input.Zone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "zone is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each item needs a product id and a positive quantity")
		}
	}

	candidates, err := s.selector.Rank(ctx, selector.RankQuery{
		ProductID: input.Items[0].ProductID,
		Zone:      input.Zone,
		Customer:  input.Customer,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}

	demands := make([]reservation.ItemDemand, 0, len(input.Items))
	for _, item := range input.Items {
		demands = append(demands, reservation.ItemDemand{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	for _, candidate := range candidates {
		order := s.buildOrder(input, candidate.VendorID)
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			if _, err := s.engine.ReserveItemsTx(ctx, tx, candidate.VendorID, order.ID, demands); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventOrderPlaced, order, nil)
		})
		if err == nil {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, order.ID.String())
				s.logg.Info(s.logg.WithVendorID(logCtx, candidate.VendorID.String()), "order placed")
			}
			return s.Get(ctx, order.ID)
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			continue
		}
		return nil, err
	}

	return nil, pkgerrors.New(pkgerrors.CodeNoVendor, "no vendor can fulfill the order").
		WithDetails(map[string]any{"zone": input.Zone})
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.GetByID(ctx, orderID)
}

// Transition applies one state machine step with its ledger side effects.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.GetByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !legalTransition(order.Status, input.To) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal status transition").
				WithDetails(map[string]any{"from": order.Status, "to": input.To})
		}
		if input.To == enums.OrderStatusConfirmed && s.now().After(order.SLADeadline) {
			return pkgerrors.New(pkgerrors.CodeSLAExpired, "confirmation window has passed").
				WithDetails(map[string]any{"sla_deadline": order.SLADeadline})
		}

		if input.To == enums.OrderStatusRejected && input.Reason == ReasonOutOfStock {
			reassigned, err := s.rejectOutOfStock(ctx, tx, order)
			if err != nil {
				return err
			}
			if reassigned {
				return nil
			}
			// no alternate could absorb the order; fall through to reject
		}

		flipped, err := repo.TransitionStatus(ctx, order.ID, order.Status, input.To)
		if err != nil {
			return err
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}

		switch {
		case commitPoints[input.To]:
			committed, err := s.engine.CommitOrderItemsTx(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if err := verifyCommitCoverage(order, committed); err != nil {
				return err
			}
			if err := repo.MarkItemsCommitted(ctx, order.ID); err != nil {
				return err
			}
		case input.To == enums.OrderStatusRejected || input.To == enums.OrderStatusCancelled:
			if _, err := s.engine.ReleaseOrderItemsTx(ctx, tx, order.ID, uuid.Nil); err != nil {
				return err
			}
			if err := repo.MarkItemsReleased(ctx, order.ID); err != nil {
				return err
			}
		}

		return s.emit(ctx, tx, enums.EventOrderStateChanged, order, map[string]any{
			"from":   order.Status,
			"to":     input.To,
			"reason": input.Reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, input.OrderID)
}

// rejectOutOfStock releases the current vendor's holds and tries exactly
// one reassignment pass over the remaining ranked vendors. On success the
// order stays placed under the new vendor with a fresh deadline.
func (s *service) rejectOutOfStock(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	repo := s.repo.WithTx(tx)

	if _, err := s.engine.ReleaseOrderItemsTx(ctx, tx, order.ID, uuid.Nil); err != nil {
		return false, err
	}

	demands := outstandingDemands(order)
	if len(demands) == 0 {
		return false, nil
	}

	candidates, err := s.selector.Rank(ctx, selector.RankQuery{
		ProductID: demands[0].ProductID,
		Zone:      order.Zone,
		Customer:  geo.Point{Lat: order.CustomerLat, Lng: order.CustomerLng},
	})
	if err != nil {
		return false, err
	}

	for _, candidate := range candidates {
		if candidate.VendorID == order.VendorID {
			continue
		}
		alt := candidate.VendorID
		attemptErr := tx.Transaction(func(inner *gorm.DB) error {
			_, err := s.engine.ReserveItemsTx(ctx, inner, alt, order.ID, demands)
			return err
		})
		if attemptErr != nil {
			if pkgerrors.IsCode(attemptErr, pkgerrors.CodeInsufficientStock) {
				continue
			}
			return false, attemptErr
		}

		newDeadline := s.now().Add(s.slaWindow)
		if err := repo.Reassign(ctx, order.ID, alt, newDeadline); err != nil {
			return false, err
		}
		if err := repo.ResetItemsReserved(ctx, order.ID); err != nil {
			return false, err
		}
		if s.records != nil {
			record := &models.ReassignmentRecord{
				ID:           uuid.New(),
				OrderID:      order.ID,
				FromVendorID: order.VendorID,
				ToVendorID:   &alt,
				Reason:       enums.ReassignmentReasonVendorRejection,
			}
			if err := s.records.CreateTx(ctx, tx, record); err != nil {
				return false, err
			}
		}
		if err := s.emit(ctx, tx, enums.EventOrderReassigned, order, map[string]any{
			"from_vendor_id": order.VendorID.String(),
			"to_vendor_id":   alt.String(),
			"reason":         string(enums.ReassignmentReasonVendorRejection),
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	if s.records != nil {
		record := &models.ReassignmentRecord{
			ID:           uuid.New(),
			OrderID:      order.ID,
			FromVendorID: order.VendorID,
			Reason:       enums.ReassignmentReasonVendorRejection,
		}
		if err := s.records.CreateTx(ctx, tx, record); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *service) buildOrder(input PlaceInput, vendorID uuid.UUID) *models.Order {
	now := s.now()
	order := &models.Order{
		ID:          uuid.New(),
		VendorID:    vendorID,
		Zone:        input.Zone,
		CustomerLat: input.Customer.Lat,
		CustomerLng: input.Customer.Lng,
		Status:      enums.OrderStatusPlaced,
		SLADeadline: now.Add(s.slaWindow),
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			ReservedQty: item.Quantity,
		})
	}
	return order
}

// verifyCommitCoverage fails the transition when the engine could not
// commit enough backing stock for the order's outstanding items, which
// happens when the sweeper expired the holds first. The caller's
// transaction rolls back and the order stays put.
func verifyCommitCoverage(order *models.Order, committed []models.Reservation) error {
	byProduct := make(map[uuid.UUID]int, len(committed))
	for i := range committed {
		byProduct[committed[i].ProductID] += committed[i].Quantity
	}
	for _, item := range order.Items {
		outstanding := item.Quantity - item.CommittedQty
		if outstanding > 0 && byProduct[item.ProductID] < outstanding {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "stock hold no longer backs the order").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
	}
	return nil
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

func (s *service) emit(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, order *models.Order, extra map[string]any) error {
	if s.events == nil {
		return nil
	}
	data := map[string]any{
		"order_id":  order.ID.String(),
		"vendor_id": order.VendorID.String(),
		"zone":      order.Zone,
	}
	for k, v := range extra {
		data[k] = v
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          data,
		Version:       1,
		OccurredAt:    s.now(),
	})
}
