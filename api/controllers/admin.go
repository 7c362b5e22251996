package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendornet/stockcore/api/responses"
	"github.com/vendornet/stockcore/api/validators"
	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/outbox"
)

const movementRefAdjustment = "adjustment"

type adjustStockRequest struct {
	VendorID  string `json:"vendor_id" validate:"required,uuid"`
	ProductID string `json:"product_id" validate:"required,uuid"`
	OnHand    *int   `json:"on_hand" validate:"required,min=0"`
	Reason    string `json:"reason" validate:"required,max=255"`
}

// AdminStockAdjust sets an absolute on-hand level for one vendor/product
// pairing and logs the signed delta to the movement log.
func AdminStockAdjust(tx reservation.TxRunner, stock ledger.Service, events *outbox.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req adjustStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		vendorID := uuid.MustParse(req.VendorID)
		productID := uuid.MustParse(req.ProductID)
		referenceID := uuid.New()

		var delta int
		err := tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			delta, err = stock.Adjust(ctx, tx, ledger.AdjustInput{
				VendorID:      vendorID,
				ProductID:     productID,
				NewOnHand:     *req.OnHand,
				Reason:        req.Reason,
				ReferenceType: movementRefAdjustment,
				ReferenceID:   referenceID,
			})
			if err != nil {
				return err
			}
			if events == nil || delta == 0 {
				return nil
			}
			return events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventStockAdjusted,
				AggregateType: enums.AggregateInventory,
				AggregateID:   referenceID,
				Data: map[string]any{
					"vendor_id":  vendorID.String(),
					"product_id": productID.String(),
					"on_hand":    *req.OnHand,
					"delta":      delta,
					"reason":     req.Reason,
				},
				Version:    1,
				OccurredAt: time.Now().UTC(),
			})
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"vendor_id":  vendorID,
			"product_id": productID,
			"on_hand":    *req.OnHand,
			"delta":      delta,
		})
	}
}

// AdminStockMovements lists the audit trail for a vendor/product pairing,
// newest first.
func AdminStockMovements(stock ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vendorRaw, err := validators.ParseQueryString(r, "vendor_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		productRaw, err := validators.ParseQueryString(r, "product_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		vendorID, err := uuid.Parse(vendorRaw)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "vendor_id must be a valid uuid"))
			return
		}
		productID, err := uuid.Parse(productRaw)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product_id must be a valid uuid"))
			return
		}

		movements, err := stock.Movements(ctx, vendorID, productID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"vendor_id":  vendorID,
			"product_id": productID,
			"movements":  movements,
		})
	}
}
