package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/payment"
)

// paymentCallback receives provider notifications. The secret is checked
// by the reconciler before the body is trusted for any lookup.
//
// Responses: 403 bad secret, 400 missing fields, 200 for every
// authenticated and well-formed callback, 500 when applying it failed so
// the provider retries.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cb := payment.Callback{Secret: r.Header.Get(CallbackSecretHeader)}
	if err := decodeCallback(body, &cb); err != nil {
		// A caller without the secret learns nothing about body validation.
		if aerr := h.Callbacks.Authenticate(cb.Secret); aerr != nil {
			h.fail(w, r, aerr)
			return
		}
		h.fail(w, r, err)
		return
	}

	out, err := h.Callbacks.HandleCallback(r.Context(), cb)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("accepted")
		e.Bool(out.Accepted)
		e.FieldStart("applied")
		e.Bool(out.Applied)
		e.FieldStart("action")
		e.Str(string(out.Action))
		e.ObjEnd()
	})
}

func decodeCallback(data []byte, cb *payment.Callback) error {
	d, err := objectDecoder(data)
	if err != nil {
		return err
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "referenceId":
			s, err := decodeText(d)
			if err != nil {
				return invalidField("referenceId", err)
			}
			cb.ReferenceID = s
		case "status":
			s, err := decodeText(d)
			if err != nil {
				return invalidField("status", err)
			}
			cb.Status = s
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			return br
		}
		return &badRequest{msg: "malformed JSON body"}
	}
	return nil
}
