// Package api exposes the storefront and admin HTTP surface: menu reads,
// offer listing, quote preview, claims, order placement, and the offer
// admin CRUD. Handlers stay thin; pricing and ledger rules live in the
// domain packages.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/saborly/saborly-backend/internal/cache"
	"github.com/saborly/saborly-backend/internal/domain/menu"
	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/domain/order"
)

// OrderReader loads placed orders for the read endpoints.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Menu    menu.Repository
	Offers  *offer.Engine
	Admin   *offer.Manager
	Orders  *order.Service
	History OrderReader
	// Codes prefilters coupon codes before they hit the store. Optional;
	// nil disables the prefilter.
	Codes *cache.CodeFilter
	// Meter provides business counters. Optional; nil means no-op.
	Meter metric.MeterProvider
}

// Handler carries the handler dependencies. Build one with NewHandler and
// mount Routes on the server mux.
type Handler struct {
	menu    menu.Repository
	offers  *offer.Engine
	admin   *offer.Manager
	orders  *order.Service
	history OrderReader
	codes   *cache.CodeFilter
	metrics *apiMetrics
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		menu:    d.Menu,
		offers:  d.Offers,
		admin:   d.Admin,
		orders:  d.Orders,
		history: d.History,
		codes:   d.Codes,
		metrics: newAPIMetrics(d.Meter),
	}
}

// Routes builds the chi router for the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(routeLabels)

	// Unmatched paths and methods answer with the same envelope the
	// handlers use, so clients never see a plain-text error.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondJSON(req.Context(), w, http.StatusNotFound,
			errorResponse{Code: http.StatusNotFound, Message: "resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondJSON(req.Context(), w, http.StatusMethodNotAllowed,
			errorResponse{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/menu", h.listMenu)
		r.Get("/menu/{itemID}", h.getMenuItem)

		r.Get("/offers", h.listOffers)
		r.Post("/offers/apply", h.applyOffer)
		r.Post("/offers/{offerID}/claim", h.claimOffer)

		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{orderID}", h.getOrder)

		r.Route("/admin/offers", func(r chi.Router) {
			r.Get("/", h.adminListOffers)
			r.Post("/", h.adminCreateOffer)
			r.Get("/{offerID}", h.adminGetOffer)
			r.Patch("/{offerID}", h.adminUpdateOffer)
			r.Delete("/{offerID}", h.adminDeleteOffer)
			r.Get("/{offerID}/usages", h.adminListUsages)
		})
	})

	return r
}

// routeLabels renames the server span to the matched chi route pattern and
// labels request metrics with it, so telemetry never keys on raw URLs with
// embedded ids.
func routeLabels(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return
		}
		pattern := rctx.RoutePattern()
		if pattern == "" {
			return
		}
		trace.SpanFromContext(r.Context()).SetName(r.Method + " " + pattern)
		if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
			labeler.Add(attribute.String("http.route", pattern))
		}
	})
}
