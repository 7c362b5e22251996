package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendornet/stockcore/api/controllers"
	"github.com/vendornet/stockcore/api/middleware"
	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/internal/vendors"
	"github.com/vendornet/stockcore/pkg/config"
	"github.com/vendornet/stockcore/pkg/db"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/outbox"
	"github.com/vendornet/stockcore/pkg/redis"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       redis.Pinger
	Registry    *prometheus.Registry
	Tx          reservation.TxRunner
	Engine      reservation.Engine
	Orders      orders.Service
	Selector    selector.Service
	Stock       ledger.Service
	Vendors     vendors.Repository
	Events      *outbox.Service
	CORSOrigins []string
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(deps.CORSOrigins...),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", controllers.ReservationCreate(deps.Engine, logg))
			r.Post("/{reservationID}/commit", controllers.ReservationCommit(deps.Engine, logg))
			r.Post("/{reservationID}/release", controllers.ReservationRelease(deps.Engine, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderPlace(deps.Orders, logg))
			r.Get("/{orderID}", controllers.OrderGet(deps.Orders, logg))
			r.Post("/{orderID}/transition", controllers.OrderTransition(deps.Orders, logg))
		})

		r.Route("/products/{productID}", func(r chi.Router) {
			r.Get("/availability", controllers.StockAvailability(deps.Selector, logg))
			r.Get("/priority", controllers.StockPriority(deps.Selector, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/stock/adjust", controllers.AdminStockAdjust(deps.Tx, deps.Stock, deps.Events, logg))
			r.Get("/stock/movements", controllers.AdminStockMovements(deps.Stock, logg))

			r.Route("/vendors", func(r chi.Router) {
				r.Post("/", controllers.VendorCreate(deps.Vendors, logg))
				r.Get("/{vendorID}", controllers.VendorGet(deps.Vendors, logg))
				r.Patch("/{vendorID}/status", controllers.VendorUpdateStatus(deps.Vendors, logg))
			})
		})
	})

	return r
}
