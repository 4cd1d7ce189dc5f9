package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/shipping"
)

// Parcel defaults used when the client sends no measurements.
var (
	defaultItemWeightKg = decimal.RequireFromString("0.2")
	defaultWeightKg     = decimal.RequireFromString("0.5")
	defaultLengthCm     = decimal.NewFromInt(20)
	defaultHeightCm     = decimal.NewFromInt(10)
	defaultWidthCm      = decimal.NewFromInt(15)
)

// decodeQuote parses {destinationCep, subtotal, items: [{weightKg,
// quantity}], lengthCm, heightCm, widthCm}. The parcel weight is the sum of
// the item weights.
func decodeQuote(data []byte) (shipping.Request, error) {
	req := shipping.Request{
		LengthCm: defaultLengthCm,
		HeightCm: defaultHeightCm,
		WidthCm:  defaultWidthCm,
	}
	d, err := objectDecoder(data)
	if err != nil {
		return req, err
	}

	weight := decimal.Zero
	var sawItems bool
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		field := string(key)
		switch field {
		case "destinationCep":
			s, err := decodeText(d)
			if err != nil {
				return invalidField(field, err)
			}
			req.DestinationZip = s
		case "subtotal":
			v, err := decodeAmount(d)
			if err != nil {
				return invalidField(field, err)
			}
			req.Subtotal = v
		case "lengthCm", "heightCm", "widthCm":
			v, err := decodeAmount(d)
			if err != nil {
				return invalidField(field, err)
			}
			if v.IsPositive() {
				switch field {
				case "lengthCm":
					req.LengthCm = v
				case "heightCm":
					req.HeightCm = v
				default:
					req.WidthCm = v
				}
			}
		case "items":
			sawItems = true
			return d.Arr(func(d *jx.Decoder) error {
				w, err := decodeItemWeight(d)
				if err != nil {
					return err
				}
				weight = weight.Add(w)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			return req, br
		}
		return req, &badRequest{msg: "malformed JSON body"}
	}

	if !sawItems || !weight.IsPositive() {
		weight = defaultWeightKg
	}
	req.WeightKg = weight
	return req, nil
}

func decodeItemWeight(d *jx.Decoder) (decimal.Decimal, error) {
	each := defaultItemWeightKg
	qty := int64(1)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "weightKg":
			v, err := decodeAmount(d)
			if err != nil {
				return invalidField("weightKg", err)
			}
			if v.IsPositive() {
				each = v
			}
		case "quantity":
			v, err := d.Int64()
			if err != nil || v < 1 {
				return invalidField("quantity", errors.New("must be a positive integer"))
			}
			qty = v
		default:
			return d.Skip()
		}
		return nil
	})
	return each.Mul(decimal.NewFromInt(qty)), err
}

func (h *Handler) shippingQuote(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeQuote(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts, err := h.Shipping.Quote(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("options")
		e.ArrStart()
		for _, o := range opts {
			e.ObjStart()
			e.FieldStart("service")
			e.Str(o.Service)
			e.FieldStart("type")
			e.Str(o.Type)
			e.FieldStart("cost")
			e.Str(pricing.Format(o.Cost))
			e.FieldStart("deliveryTime")
			e.Str(o.DeliveryTime)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
