// Package shipping looks up carrier rates used to populate an order's
// shipping cost.
package shipping

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Carrier minimum parcel dimensions, in centimetres.
const (
	MinLengthCm = 16
	MinHeightCm = 2
	MinWidthCm  = 11
)

// Carrier service codes requested for every quote.
var services = []string{"04510", "04014"}

// Request describes a parcel to quote.
type Request struct {
	DestinationZip string
	WeightKg       decimal.Decimal
	LengthCm       decimal.Decimal
	HeightCm       decimal.Decimal
	WidthCm        decimal.Decimal
	Subtotal       decimal.Decimal
}

// Option is one way to ship the parcel.
type Option struct {
	Service      string
	Type         string
	Cost         decimal.Decimal
	DeliveryTime string
}

// ValidationError reports a malformed quote request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CarrierError is returned when the rate service fails.
type CarrierError struct {
	Err error
}

func (e *CarrierError) Error() string {
	return "carrier rate lookup: " + e.Err.Error()
}

func (e *CarrierError) Unwrap() error {
	return e.Err
}

// Config configures Client.
type Config struct {
	URL             string
	OriginZip       string
	FreeShippingMin decimal.Decimal
	Timeout         time.Duration

	TracerProvider trace.TracerProvider
}

// Client queries the carrier rate service.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	cfg.OriginZip = Digits(cfg.OriginZip)

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
			Timeout:   cfg.Timeout,
		},
	}
}

// Digits strips every non-digit from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Quote returns the shipping options for req. Orders at or above the
// free-shipping threshold get a single free option without a carrier call.
func (c *Client) Quote(ctx context.Context, req Request) ([]Option, error) {
	zip := Digits(req.DestinationZip)
	if len(zip) != 8 {
		return nil, &ValidationError{Field: "destinationZip", Reason: "must have 8 digits"}
	}
	if !req.WeightKg.IsPositive() {
		return nil, &ValidationError{Field: "weightKg", Reason: "must be positive"}
	}

	if c.cfg.FreeShippingMin.IsPositive() && req.Subtotal.GreaterThanOrEqual(c.cfg.FreeShippingMin) {
		return []Option{{
			Service:      "Frete Grátis",
			Type:         "FREE",
			Cost:         decimal.Zero,
			DeliveryTime: "2 a 5 dias úteis",
		}}, nil
	}

	body := c.encode(zip, req)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/rates", bytes.NewReader(body))
	if err != nil {
		return nil, &CarrierError{Err: err}
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(hreq)
	if err != nil {
		return nil, &CarrierError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &CarrierError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CarrierError{Err: errors.Errorf("unexpected status %d", resp.StatusCode)}
	}

	opts, err := decodeOptions(data)
	if err != nil {
		return nil, &CarrierError{Err: errors.Wrap(err, "decode rates")}
	}
	return opts, nil
}

func (c *Client) encode(zip string, req Request) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("originZip")
	e.Str(c.cfg.OriginZip)
	e.FieldStart("destinationZip")
	e.Str(zip)
	e.FieldStart("weightKg")
	e.Raw([]byte(req.WeightKg.StringFixed(2)))
	e.FieldStart("lengthCm")
	e.Raw([]byte(atLeast(req.LengthCm, MinLengthCm).String()))
	e.FieldStart("heightCm")
	e.Raw([]byte(atLeast(req.HeightCm, MinHeightCm).String()))
	e.FieldStart("widthCm")
	e.Raw([]byte(atLeast(req.WidthCm, MinWidthCm).String()))
	e.FieldStart("services")
	e.ArrStart()
	for _, s := range services {
		e.Str(s)
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func atLeast(v decimal.Decimal, min int64) decimal.Decimal {
	m := decimal.NewFromInt(min)
	if v.LessThan(m) {
		return m
	}
	return v
}

// decodeOptions reads the carrier's rate list, dropping entries without a
// price. Costs may arrive as numbers or as strings with a decimal comma.
func decodeOptions(data []byte) ([]Option, error) {
	var out []Option
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var (
			o       Option
			hasCost bool
		)
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "service":
				o.Service, err = d.Str()
			case "type":
				o.Type, err = d.Str()
			case "deliveryTime":
				o.DeliveryTime, err = stringish(d)
			case "cost":
				var s string
				if s, err = stringish(d); err != nil || s == "" {
					return err
				}
				o.Cost, err = decimal.NewFromString(strings.Replace(s, ",", ".", 1))
				hasCost = err == nil
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		if hasCost {
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func stringish(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}
