package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/saborly/saborly-backend/internal/domain/menu"
	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/domain/order"
)

// maxBodyBytes bounds request bodies; anything larger fails decoding.
const maxBodyBytes = 1 << 20

// errorResponse is the error envelope every non-2xx response uses.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Error("encode response", zap.Error(err))
	}
}

// respondError maps domain errors onto HTTP statuses. Unrecognized errors
// become 500s with the detail kept out of the response body.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("request failed", zap.Error(err))
	}
	respondJSON(ctx, w, status, errorResponse{Code: status, Message: msg})
}

func badRequest(ctx context.Context, w http.ResponseWriter, msg string) {
	respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: msg})
}

func errorStatus(err error) (int, string) {
	var (
		validation  *offer.ValidationError
		quantity    *order.InvalidQuantityError
		missingItem *order.ItemNotFoundError
		offMenu     *order.ItemUnavailableError
		ineligible  *order.IneligibleOfferError
		unavailable *order.OfferUnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &quantity):
		return http.StatusBadRequest, quantity.Error()
	case errors.As(err, &missingItem):
		return http.StatusUnprocessableEntity, missingItem.Error()
	case errors.As(err, &offMenu):
		return http.StatusUnprocessableEntity, offMenu.Error()
	case errors.As(err, &ineligible):
		return http.StatusUnprocessableEntity, ineligible.Error()
	// OfferUnavailableError wraps ledger sentinels, so it goes first.
	case errors.As(err, &unavailable):
		return http.StatusConflict, unavailable.Error()
	case errors.Is(err, offer.ErrAlreadyClaimed):
		return http.StatusConflict, offer.ErrAlreadyClaimed.Error()
	case errors.Is(err, offer.ErrUsageLimitExceeded):
		return http.StatusConflict, offer.ErrUsageLimitExceeded.Error()
	case errors.Is(err, offer.ErrNotFound):
		return http.StatusNotFound, offer.ErrNotFound.Error()
	case errors.Is(err, menu.ErrNotFound):
		return http.StatusNotFound, menu.ErrNotFound.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

// decodeJSON reads a bounded JSON body into dst. The caller answers with
// 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
