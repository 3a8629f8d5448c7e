package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/saborly/saborly-backend/internal/domain/offer"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(r.Context(), w, "invalid request body")
		return
	}
	if h.rejectUnknownCode(w, r, req.CouponCode) {
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			h.unknownOffer(w, r)
			return
		}
		respondError(r.Context(), w, err)
		return
	}

	h.metrics.ordersPlaced.Add(r.Context(), 1,
		metric.WithAttributes(attribute.Bool("offer_applied", res.Offer != nil)))

	resp := placeOrderResponse{
		Order: toOrderJSON(res.Order),
		Items: toMenuItemsJSON(res.Items),
	}
	if res.Offer != nil {
		oj := toOfferJSON(res.Offer)
		resp.AppliedOffer = &oj
	}
	respondJSON(r.Context(), w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.history.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toOrderJSON(o))
}
