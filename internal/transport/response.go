// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the console API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/console/model"
)

const (
	maxJSONBody = 1 << 20

	// retryAfterSeconds is advertised on backend outages.
	retryAfterSeconds = "5"
)

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON encodes body with status. Responses are not stored by the
// browser unless the handler already chose a Cache-Control policy.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Debug("response encode failed", zap.Error(err))
	}
}

// WriteError writes the envelope found in err's chain. Anything else is
// logged and reported as INTERNAL_ERROR so no internal detail reaches the
// browser.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		zap.L().Error("unclassified handler error", zap.Error(err))
		ee = model.NewInternalError()
	}
	if ee.Retryable() {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	WriteJSON(w, ee.HTTPStatus(), errorResponse{Error: ee})
}

func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// decodeJSON reads one JSON value from the body into v. An empty body is
// not an error and leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewBadRequestError("invalid request body: " + err.Error())
	}
	if dec.More() {
		return model.NewBadRequestError("invalid request body: unexpected data after the JSON value")
	}
	return nil
}
