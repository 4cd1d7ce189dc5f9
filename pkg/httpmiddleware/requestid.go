package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the request id, or "" outside RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDOption configures RequestID.
type RequestIDOption func(*requestIDConfig)

type requestIDConfig struct {
	generate func() string
	trust    bool
}

// WithGenerator replaces the uuid v4 generator.
func WithGenerator(fn func() string) RequestIDOption {
	return func(c *requestIDConfig) { c.generate = fn }
}

// WithTrustIncoming controls whether a well-formed incoming X-Request-ID is
// reused. Enabled by default.
func WithTrustIncoming(trust bool) RequestIDOption {
	return func(c *requestIDConfig) { c.trust = trust }
}

// RequestID assigns every request an id, stores it in the context and echoes
// it in the response header.
func RequestID(opts ...RequestIDOption) Middleware {
	cfg := requestIDConfig{generate: uuid.NewString, trust: true}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !cfg.trust || !validRequestID(id) {
				id = cfg.generate()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// validRequestID accepts 1 to 128 bytes of printable ASCII.
func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
