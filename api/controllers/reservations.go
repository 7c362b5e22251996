package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendornet/stockcore/api/responses"
	"github.com/vendornet/stockcore/api/validators"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
)

type createReservationRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	Zone      string  `json:"zone" validate:"required"`
	OrderID   string  `json:"order_id" validate:"required,uuid"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	// AllowPartial lets the hold split across vendors when no single
	// vendor can cover the quantity.
	AllowPartial bool `json:"allow_partial"`
}

func ReservationCreate(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createReservationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := reservation.ReserveInput{
			ProductID: uuid.MustParse(req.ProductID),
			Quantity:  req.Quantity,
			Zone:      req.Zone,
			OrderID:   uuid.MustParse(req.OrderID),
			Customer:  geo.Point{Lat: req.Lat, Lng: req.Lng},
		}

		if req.AllowPartial {
			result, err := engine.ReservePartial(ctx, input)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccessStatus(w, http.StatusCreated, result)
			return
		}

		result, err := engine.ReserveStock(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func ReservationCommit(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "reservationID"), "reservationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := engine.CommitReservation(ctx, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"reservation_id": id.String(), "status": "committed"})
	}
}

func ReservationRelease(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "reservationID"), "reservationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := engine.ReleaseReservation(ctx, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"reservation_id": id.String(), "status": "released"})
	}
}
