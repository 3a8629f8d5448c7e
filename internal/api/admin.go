package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) adminListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.admin.List(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	out := make([]offerJSON, len(offers))
	for i := range offers {
		out[i] = toOfferJSON(&offers[i])
	}
	respondJSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) adminCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(r.Context(), w, "invalid request body")
		return
	}

	o := req.toOffer()
	if err := h.admin.Create(r.Context(), o); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if h.codes != nil && o.Code != "" {
		h.codes.Add(o.Code)
	}
	respondJSON(r.Context(), w, http.StatusCreated, toOfferJSON(o))
}

// adminGetOffer returns the full admin view: the definition plus its
// hydrated claim and usage ledger.
func (h *Handler) adminGetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := h.admin.Get(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toAdminOfferJSON(o))
}

func (h *Handler) adminUpdateOffer(w http.ResponseWriter, r *http.Request) {
	var req updateOfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(r.Context(), w, "invalid request body")
		return
	}

	o, err := h.admin.Update(r.Context(), chi.URLParam(r, "offerID"), req.toPatch())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if h.codes != nil && o.Code != "" {
		h.codes.Add(o.Code)
	}
	respondJSON(r.Context(), w, http.StatusOK, toOfferJSON(o))
}

func (h *Handler) adminDeleteOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), chi.URLParam(r, "offerID")); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *Handler) adminListUsages(w http.ResponseWriter, r *http.Request) {
	usages, err := h.admin.ListUsages(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	out := make([]usageJSON, len(usages))
	for i, u := range usages {
		out[i] = toUsageJSON(u)
	}
	respondJSON(r.Context(), w, http.StatusOK, out)
}
