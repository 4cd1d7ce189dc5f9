// Package payment talks to the external payment provider: it creates payment
// intents at checkout and reconciles the provider's asynchronous callbacks.
package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Intent is a request to collect Amount for an order.
type Intent struct {
	ReferenceID int64
	Amount      decimal.Decimal
	Buyer       Buyer
}

// Buyer identifies the paying customer to the provider.
type Buyer struct {
	UserID int64
	Email  string
}

// Instructions are the provider's payment instructions for an intent.
type Instructions struct {
	ReferenceID string
	PaymentURL  string
	QRCode      string
	ExpiresAt   *time.Time
}

// Gateway creates payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, in Intent) (*Instructions, error)
}

// GatewayError is returned when the provider call fails or times out.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPGatewayConfig configures HTTPGateway.
type HTTPGatewayConfig struct {
	BaseURL     string
	Token       string
	SellerToken string
	CallbackURL string
	ReturnURL   string
	Timeout     time.Duration

	TracerProvider trace.TracerProvider
}

// HTTPGateway creates intents over the provider's REST API. Calls are
// bounded by Timeout and guarded by a circuit breaker so a failing provider
// is not hammered by every checkout.
type HTTPGateway struct {
	cfg    HTTPGatewayConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*Instructions]
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates an HTTPGateway.
func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	return &HTTPGateway{
		cfg: cfg,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
			Timeout:   cfg.Timeout,
		},
		cb: gobreaker.NewCircuitBreaker[*Instructions](gobreaker.Settings{
			Name:        "payment-gateway",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// CreateIntent posts the intent to the provider and returns its payment
// instructions.
func (g *HTTPGateway) CreateIntent(ctx context.Context, in Intent) (*Instructions, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	out, err := g.cb.Execute(func() (*Instructions, error) {
		return g.createIntent(ctx, in)
	})
	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) {
			return nil, ge
		}
		return nil, &GatewayError{Op: "create intent", Err: err}
	}
	return out, nil
}

func (g *HTTPGateway) createIntent(ctx context.Context, in Intent) (*Instructions, error) {
	body := encodeIntent(in, g.cfg.CallbackURL, g.cfg.ReturnURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-picpay-token", g.cfg.Token)
	req.Header.Set("x-seller-token", g.cfg.SellerToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: "send request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{
			Op:  "create intent",
			Err: errors.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 256)),
		}
	}

	out, err := decodeInstructions(data)
	if err != nil {
		return nil, &GatewayError{Op: "decode response", Err: err}
	}
	if out.ReferenceID == "" {
		out.ReferenceID = strconv.FormatInt(in.ReferenceID, 10)
	}
	return out, nil
}

func encodeIntent(in Intent, callbackURL, returnURL string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("referenceId")
	e.Str(strconv.FormatInt(in.ReferenceID, 10))
	e.FieldStart("callbackUrl")
	e.Str(callbackURL)
	e.FieldStart("returnUrl")
	e.Str(returnURL)
	e.FieldStart("value")
	e.Raw([]byte(in.Amount.StringFixed(2)))
	e.FieldStart("buyer")
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(in.Buyer.UserID)
	if in.Buyer.Email != "" {
		e.FieldStart("email")
		e.Str(in.Buyer.Email)
	}
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}

func decodeInstructions(data []byte) (*Instructions, error) {
	var out Instructions
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "referenceId":
			v, err := decodeStringish(d)
			out.ReferenceID = v
			return err
		case "paymentUrl":
			v, err := d.Str()
			out.PaymentURL = v
			return err
		case "qrcode":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "content" {
					return d.Skip()
				}
				v, err := d.Str()
				out.QRCode = v
				return err
			})
		case "expiresAt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "parse expiresAt")
			}
			out.ExpiresAt = &t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeStringish reads a JSON string or number as a string.
func decodeStringish(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
