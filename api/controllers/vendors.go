package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendornet/stockcore/api/responses"
	"github.com/vendornet/stockcore/api/validators"
	"github.com/vendornet/stockcore/internal/vendors"
	"github.com/vendornet/stockcore/pkg/db/models"
	"github.com/vendornet/stockcore/pkg/enums"
	pkgerrors "github.com/vendornet/stockcore/pkg/errors"
	"github.com/vendornet/stockcore/pkg/logger"
)

type createVendorRequest struct {
	Name       string   `json:"name" validate:"required"`
	Lat        float64  `json:"lat" validate:"required"`
	Lng        float64  `json:"lng" validate:"required"`
	Rating     float64  `json:"rating" validate:"min=0,max=5"`
	SLAMinutes int      `json:"sla_minutes" validate:"required,gt=0"`
	Zones      []string `json:"zones" validate:"required,min=1,dive,required"`
}

type vendorStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func VendorCreate(repo vendors.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createVendorRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		vendor := &models.Vendor{
			ID:         uuid.New(),
			Name:       req.Name,
			Status:     enums.VendorStatusPending,
			Lat:        req.Lat,
			Lng:        req.Lng,
			Rating:     req.Rating,
			SLAMinutes: req.SLAMinutes,
		}
		for _, zone := range req.Zones {
			vendor.Zones = append(vendor.Zones, models.VendorZone{VendorID: vendor.ID, Zone: zone})
		}

		if err := repo.Create(ctx, vendor); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, vendor)
	}
}

func VendorGet(repo vendors.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "vendorID"), "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		vendor, err := repo.GetByID(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, vendor)
	}
}

func VendorUpdateStatus(repo vendors.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := validators.ParsePathUUID(chi.URLParam(r, "vendorID"), "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req vendorStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := enums.ParseVendorStatus(req.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown vendor status"))
			return
		}

		if err := repo.UpdateStatus(ctx, id, status); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"vendor_id": id.String(), "status": string(status)})
	}
}
