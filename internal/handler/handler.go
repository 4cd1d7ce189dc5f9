// Package handler exposes the storefront domain over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/idempotency"
	"github.com/xenking/storefront/internal/shipping"
)

// CallbackSecretHeader carries the payment provider's shared secret.
const CallbackSecretHeader = "X-Picpay-Token"

// IdempotencyKeyHeader optionally de-duplicates POST /orders.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds every decoded request body.
const maxBodyBytes = 1 << 20

// Checkout places orders.
type Checkout interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// Orders reads a customer's own orders.
type Orders interface {
	GetForUser(ctx context.Context, userID, id int64) (*order.Order, error)
	ListForUser(ctx context.Context, userID int64) ([]order.Order, error)
}

// Callbacks applies payment provider notifications.
type Callbacks interface {
	Authenticate(secret string) error
	HandleCallback(ctx context.Context, cb payment.Callback) (*payment.Outcome, error)
}

// Admin is the administrator order console.
type Admin interface {
	List(ctx context.Context, id auth.Identity, f order.Filter) ([]order.Order, error)
	Get(ctx context.Context, id auth.Identity, orderID int64) (*order.Order, error)
	UpdateShipping(ctx context.Context, id auth.Identity, orderID int64, upd order.ShippingUpdate) (*order.Order, error)
	Cancel(ctx context.Context, id auth.Identity, orderID int64) (*order.Order, error)
	Export(ctx context.Context, id auth.Identity, status order.Status, w io.Writer) (int, error)
}

// Quoter quotes shipping.
type Quoter interface {
	Quote(ctx context.Context, req shipping.Request) ([]shipping.Option, error)
}

// Idempotency stores responses of keyed requests for replay.
type Idempotency interface {
	Begin(ctx context.Context, scope, key, fingerprint string) (*idempotency.Record, error)
	Complete(ctx context.Context, scope, key string, rec *idempotency.Record) error
	Abandon(ctx context.Context, scope, key string) error
}

// Deps are the collaborators of Handler. Idempotency and Shipping are
// optional: without them the Idempotency-Key header is ignored and the
// quote route is not registered.
type Deps struct {
	Auth        auth.Authenticator
	Checkout    Checkout
	Orders      Orders
	Callbacks   Callbacks
	Admin       Admin
	Shipping    Quoter
	Idempotency Idempotency
}

// Handler serves the storefront API.
type Handler struct {
	Deps
}

// New creates a Handler.
func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Routes returns the API router. Mount it under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Post("/payments/callback", h.paymentCallback)
	if h.Shipping != nil {
		r.Post("/shipping/quote", h.shippingQuote)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.placeOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/", h.adminListOrders)
			r.Get("/export", h.adminExportOrders)
			r.Get("/{id}", h.adminGetOrder)
			r.Put("/{id}", h.adminUpdateOrder)
			r.Delete("/{id}", h.adminCancelOrder)
		})
	})
	return r
}

// authenticate resolves the caller's identity or answers 401.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.Auth.Authenticate(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if err := id.RequireAdmin(); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
