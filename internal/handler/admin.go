package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.Admin.List(r.Context(), identity(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

func parseFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()
	var f order.Filter

	if s := q.Get("status"); s != "" {
		st, ok := order.ParseStatus(s)
		if !ok {
			return f, &badRequest{msg: "status: unknown order status " + strconv.Quote(s)}
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return f, &badRequest{msg: p.name + ": must be a non-negative integer"}
		}
		*p.dst = v
	}
	return f, nil
}

func (h *Handler) adminExportOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, ok := order.ParseStatus(s)
		if !ok {
			h.fail(w, r, &badRequest{msg: "status: unknown order status " + strconv.Quote(s)})
			return
		}
		status = st
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv.gz"`)
	if _, err := h.Admin.Export(r.Context(), identity(r), status, w); err != nil {
		// Headers and part of the archive may already be on the wire.
		zctx.From(r.Context()).Error("Export orders", zap.Error(err))
	}
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Admin.Get(r.Context(), identity(r), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// decodeShippingUpdate parses {status, trackingCode?}. An absent or empty
// trackingCode clears the stored code.
func decodeShippingUpdate(data []byte) (order.ShippingUpdate, error) {
	var upd order.ShippingUpdate
	d, err := objectDecoder(data)
	if err != nil {
		return upd, err
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := decodeText(d)
			if err != nil {
				return invalidField("status", err)
			}
			st, ok := order.ParseStatus(s)
			if !ok {
				return &badRequest{msg: "status: unknown order status " + strconv.Quote(s)}
			}
			upd.Status = &st
		case "trackingCode":
			s, err := decodeText(d)
			if err != nil {
				return invalidField("trackingCode", err)
			}
			upd.TrackingCode = s
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			return upd, br
		}
		return upd, &badRequest{msg: "malformed JSON body"}
	}
	if upd.Status == nil {
		return upd, &badRequest{msg: "status: required"}
	}
	return upd, nil
}

func (h *Handler) adminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	upd, err := decodeShippingUpdate(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.Admin.UpdateShipping(r.Context(), identity(r), orderID, upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Int64(o.ID)
		e.FieldStart("status")
		e.Str(string(o.Status))
		trackingField(e, o.TrackingCode)
		e.ObjEnd()
	})
}

func (h *Handler) adminCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Admin.Cancel(r.Context(), identity(r), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Int64(o.ID)
		e.FieldStart("status")
		e.Str(string(o.Status))
		e.ObjEnd()
	})
}
