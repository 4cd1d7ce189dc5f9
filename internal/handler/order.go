package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/idempotency"
)

// decodeCheckout parses a POST /orders body into a checkout request. Shape
// checks beyond JSON syntax are left to checkout.Request.Validate.
func decodeCheckout(data []byte) (checkout.Request, error) {
	var req checkout.Request
	d, err := objectDecoder(data)
	if err != nil {
		return req, err
	}

	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			if d.Next() != jx.Array {
				return invalidField("items", errors.New("must be an array"))
			}
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		case "shippingAddress":
			raw, err := d.Raw()
			if err != nil {
				return invalidField("shippingAddress", err)
			}
			req.ShippingAddress = json.RawMessage(append([]byte(nil), raw...))
			return nil
		case "shippingCost":
			v, err := decodeAmount(d)
			if err != nil {
				return invalidField("shippingCost", err)
			}
			req.ShippingCost = v
			return nil
		case "paymentMethod":
			s, err := decodeText(d)
			if err != nil {
				return invalidField("paymentMethod", err)
			}
			req.PaymentMethod = order.PaymentMethod(s)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			return req, br
		}
		return req, &badRequest{msg: "malformed JSON body"}
	}
	return req, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	if d.Next() != jx.Object {
		return l, invalidField("items", errors.New("each item must be an object"))
	}
	var hasID, hasQty bool
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			v, err := d.Int64()
			if err != nil {
				return invalidField("productId", errors.New("must be an integer"))
			}
			l.ProductID, hasID = v, true
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return invalidField("quantity", errors.New("must be an integer"))
			}
			l.Quantity, hasQty = v, true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return l, err
	}
	if !hasID || !hasQty {
		return l, invalidField("items", errors.New("productId and quantity are required"))
	}
	return l, nil
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.Idempotency == nil {
		status, resp, err := h.checkout(r, id.UserID, id.Email, body)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeRaw(w, status, resp)
		return
	}

	scope := strconv.FormatInt(id.UserID, 10)
	fingerprint := idempotency.Fingerprint(body)
	rec, err := h.Idempotency.Begin(r.Context(), scope, key, fingerprint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec != nil {
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, rec.StatusCode, rec.Body)
		return
	}

	status, resp, err := h.checkout(r, id.UserID, id.Email, body)
	if err != nil {
		if aerr := h.Idempotency.Abandon(r.Context(), scope, key); aerr != nil {
			zctx.From(r.Context()).Warn("Release idempotency key", zap.Error(aerr))
		}
		h.fail(w, r, err)
		return
	}
	if cerr := h.Idempotency.Complete(r.Context(), scope, key, &idempotency.Record{
		StatusCode:  status,
		Body:        resp,
		Fingerprint: fingerprint,
	}); cerr != nil {
		// The order is committed; a failed store only loses replay.
		zctx.From(r.Context()).Warn("Store idempotent response", zap.Error(cerr))
	}
	writeRaw(w, status, resp)
}

// checkout runs the order placement and renders the 201 body.
func (h *Handler) checkout(r *http.Request, userID int64, email string, body []byte) (int, []byte, error) {
	req, err := decodeCheckout(body)
	if err != nil {
		return 0, nil, err
	}
	req.UserID = userID
	req.Email = email

	res, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		return 0, nil, err
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orderId")
	e.Int64(res.OrderID)
	amountField(&e, "subtotal", res.Subtotal)
	amountField(&e, "discount", res.Discount)
	amountField(&e, "shippingCost", res.ShippingCost)
	amountField(&e, "totalAmount", res.Total)
	e.FieldStart("paymentDetails")
	encodeInstructions(&e, res.PaymentInstructions)
	e.ObjEnd()
	return http.StatusCreated, e.Bytes(), nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.ListForUser(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.GetForUser(r.Context(), identity(r).UserID, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// pathID parses the {id} URL parameter. Ids that cannot exist are reported
// as not found rather than malformed.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, order.ErrNotFound
	}
	return id, nil
}
