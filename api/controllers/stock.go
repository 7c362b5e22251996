package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendornet/stockcore/api/responses"
	"github.com/vendornet/stockcore/api/validators"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
)

// StockAvailability reports per-vendor availability for a product in a
// zone, including vendors currently at zero.
func StockAvailability(sel selector.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productID"), "productID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		zone, err := validators.ParseQueryString(r, "zone")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lat, err := validators.ParseQueryFloat(r, "lat", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lng, err := validators.ParseQueryFloat(r, "lng", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		candidates, err := sel.Availability(ctx, selector.RankQuery{
			ProductID: productID,
			Zone:      zone,
			Customer:  geo.Point{Lat: lat, Lng: lng},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"product_id": productID,
			"zone":       zone,
			"vendors":    candidates,
		})
	}
}

// StockPriority returns the ranked vendor list used for reservation
// fallback, served from the short-lived cache when possible.
func StockPriority(sel selector.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productID"), "productID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		zone, err := validators.ParseQueryString(r, "zone")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lat, err := validators.ParseQueryFloat(r, "lat", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lng, err := validators.ParseQueryFloat(r, "lng", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		candidates, err := sel.RankCached(ctx, selector.RankQuery{
			ProductID: productID,
			Zone:      zone,
			Customer:  geo.Point{Lat: lat, Lng: lng},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"product_id": productID,
			"zone":       zone,
			"ranking":    candidates,
		})
	}
}
