package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &badRequest{msg: "cannot read request body"}
	}
	return data, nil
}

// objectDecoder returns a decoder positioned at a top-level JSON object.
func objectDecoder(data []byte) (*jx.Decoder, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, &badRequest{msg: "request body must be a JSON object"}
	}
	return d, nil
}

func invalidField(field string, err error) error {
	return &badRequest{msg: field + ": " + err.Error()}
}

// decodeAmount accepts a JSON number, a numeric string or null.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

// decodeText accepts a JSON string or number and returns its text.
func decodeText(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return n.String(), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.New("must be a string or number")
	}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func amountField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(pricing.Format(d))
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func trackingField(e *jx.Encoder, code *string) {
	e.FieldStart("trackingCode")
	if code == nil {
		e.Null()
		return
	}
	e.Str(*code)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("userId")
	e.Int64(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	amountField(e, "subtotal", o.Subtotal)
	amountField(e, "discount", o.Discount)
	amountField(e, "shippingCost", o.ShippingCost)
	amountField(e, "totalAmount", o.Total)
	e.FieldStart("shippingAddress")
	if len(o.ShippingAddress) == 0 {
		e.Null()
	} else {
		e.Raw(o.ShippingAddress)
	}
	trackingField(e, o.TrackingCode)

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		amountField(e, "unitPrice", l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	timeField(e, "createdAt", o.CreatedAt)
	timeField(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func encodeInstructions(e *jx.Encoder, in *payment.Instructions) {
	if in == nil {
		e.Null()
		return
	}
	e.ObjStart()
	e.FieldStart("referenceId")
	e.Str(in.ReferenceID)
	e.FieldStart("paymentUrl")
	e.Str(in.PaymentURL)
	e.FieldStart("qrCode")
	if in.QRCode == "" {
		e.Null()
	} else {
		e.Str(in.QRCode)
	}
	e.FieldStart("expiresAt")
	if in.ExpiresAt == nil {
		e.Null()
	} else {
		e.Str(in.ExpiresAt.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}
