package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/idempotency"
	"github.com/xenking/storefront/internal/shipping"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// badRequest is a malformed request detected by the HTTP layer itself.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

// mapError converts an error to its HTTP status and client-facing message.
// 5xx messages never leak internals.
func mapError(err error) (int, string) {
	var (
		br  *badRequest
		ve  *checkout.ValidationError
		qe  *cart.InvalidQuantityError
		pnf *pricing.ProductNotFoundError
		ise *inventory.InsufficientStockError
		ite *order.InvalidTransitionError
		cve *payment.CallbackValidationError
		sve *shipping.ValidationError
		ge  *payment.GatewayError
		ce  *shipping.CarrierError
	)
	switch {
	case errors.As(err, &br),
		errors.As(err, &ve),
		errors.As(err, &qe),
		errors.Is(err, cart.ErrEmpty),
		errors.As(err, &pnf),
		errors.As(err, &ise),
		errors.As(err, &ite),
		errors.As(err, &cve),
		errors.As(err, &sve):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, auth.ErrForbidden.Error()
	case errors.Is(err, payment.ErrInvalidSecret):
		return http.StatusForbidden, payment.ErrInvalidSecret.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, idempotency.ErrInFlight), errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusConflict, err.Error()
	case errors.As(err, &ge):
		return http.StatusInternalServerError, "payment provider unavailable"
	case errors.As(err, &ce):
		return http.StatusBadGateway, "shipping carrier unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes the mapped error. Server-side failures are logged with the
// cause; client errors only at debug.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	httpmiddleware.WriteError(w, status, msg)
}
