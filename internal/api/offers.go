package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/saborly/saborly-backend/internal/domain/offer"
)

// listOffers is the storefront listing: active in-window offers matching
// the caller's platform and delivery type, minus offers the caller can no
// longer redeem. Subtotal-dependent checks are left to the apply preview,
// since there is no order to price here.
func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := offer.CandidateQuery{
		Platform:     offer.Platform(params.Get("platform")),
		DeliveryType: offer.DeliveryType(params.Get("deliveryType")),
		UserID:       params.Get("userId"),
		DeviceID:     params.Get("deviceId"),
	}
	offers, err := h.offers.ListCandidateOffers(r.Context(), q)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}

	out := make([]offerJSON, 0, len(offers))
	for i := range offers {
		o := &offers[i]
		if o.UsageLimit > 0 && o.UsageCount >= o.UsageLimit {
			continue
		}
		if q.UserID != "" && o.UserUsageLimit > 0 && o.UserUsageCount(q.UserID) >= o.UserUsageLimit {
			continue
		}
		out = append(out, toOfferJSON(o))
	}
	respondJSON(r.Context(), w, http.StatusOK, out)
}

// applyOffer prices an order without placing it. Eligibility outcomes are
// data, not errors: an ineligible offer yields a 200 with applied=false
// and the refusal reason.
func (h *Handler) applyOffer(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(r.Context(), w, "invalid request body")
		return
	}
	if h.rejectUnknownCode(w, r, req.CouponCode) {
		return
	}

	q, err := h.orders.PriceOrder(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			h.unknownOffer(w, r)
			return
		}
		respondError(r.Context(), w, err)
		return
	}

	attrs := []attribute.KeyValue{attribute.Bool("applied", q.Offer != nil)}
	if q.Reason != "" {
		attrs = append(attrs, attribute.String("reason", string(q.Reason)))
	}
	h.metrics.offersQuoted.Add(r.Context(), 1, metric.WithAttributes(attrs...))

	resp := quoteJSON{
		Applied:     q.Offer != nil,
		Reason:      q.Reason,
		Subtotal:    q.Subtotal,
		DeliveryFee: q.DeliveryFee,
		Discount:    q.Discount,
		Total:       q.Total,
		Items:       toMenuItemsJSON(q.Items),
	}
	if q.Offer != nil {
		oj := toOfferJSON(q.Offer)
		resp.Offer = &oj
	}
	respondJSON(r.Context(), w, http.StatusOK, resp)
}

// claimOffer consumes a one-time offer for a device ahead of checkout.
// Claiming is only meaningful for one-time offers; everything else is
// redeemed implicitly at order time.
func (h *Handler) claimOffer(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(r.Context(), w, "invalid request body")
		return
	}

	offerID := chi.URLParam(r, "offerID")
	o, err := h.offers.GetByID(r.Context(), offerID)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if !o.OneTimePerDevice {
		respondJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: "offer is not claimable",
		})
		return
	}

	if err := h.offers.Claim(r.Context(), offerID, req.DeviceID, req.UserID); err != nil {
		if errors.Is(err, offer.ErrAlreadyClaimed) {
			h.metrics.offerClaims.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("outcome", "already_claimed")))
		}
		respondError(r.Context(), w, err)
		return
	}
	h.metrics.offerClaims.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("outcome", "claimed")))
	respondJSON(r.Context(), w, http.StatusNoContent, nil)
}

// rejectUnknownCode short-circuits order and preview requests whose coupon
// code cannot be in the catalog. The filter never yields false negatives,
// so a rejected code is definitely unknown; a passing one still gets the
// authoritative store lookup.
func (h *Handler) rejectUnknownCode(w http.ResponseWriter, r *http.Request, code string) bool {
	if h.codes == nil || code == "" || h.codes.MightContain(code) {
		return false
	}
	h.unknownOffer(w, r)
	return true
}

// unknownOffer answers a request that named a nonexistent offer. On the
// order paths this is a semantic failure of an otherwise well-formed
// request, hence 422 rather than 404.
func (h *Handler) unknownOffer(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
		Code:    http.StatusUnprocessableEntity,
		Message: offer.ErrNotFound.Error(),
	})
}
