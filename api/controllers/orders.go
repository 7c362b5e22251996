package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendornet/stockcore/api/responses"
	"github.com/vendornet/stockcore/api/validators"
	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
)

type placeOrderItem struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type placeOrderRequest struct {
	Zone  string           `json:"zone" validate:"required"`
	Lat   float64          `json:"lat"`
	Lng   float64          `json:"lng"`
	Items []placeOrderItem `json:"items" validate:"required,min=1,dive"`
}

type transitionOrderRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

func OrderPlace(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req placeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.PlaceInput{
			Zone:     req.Zone,
			Customer: geo.Point{Lat: req.Lat, Lng: req.Lng},
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, orders.ItemInput{
				ProductID: uuid.MustParse(item.ProductID),
				Quantity:  item.Quantity,
			})
		}

		order, err := svc.Place(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req transitionOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown order status"))
			return
		}

		order, err := svc.Transition(ctx, orders.TransitionInput{
			OrderID: id,
			To:      status,
			Reason:  req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
