package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to the browser.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendRejected    = "BACKEND_REJECTED"

	ErrConfirmationPending = "CONFIRMATION_PENDING"
	ErrNoConfirmation      = "NO_CONFIRMATION"
	ErrSessionExpired      = "SESSION_EXPIRED"
	ErrScreenNotReady      = "SCREEN_NOT_READY"
	ErrScreenClosed        = "SCREEN_CLOSED"
)

type errorKind struct {
	status   int
	fallback string // banner text when the caller supplies none
}

var errorKinds = map[string]errorKind{
	ErrBadRequest:          {http.StatusBadRequest, "The request is malformed"},
	ErrUnauthorized:        {http.StatusUnauthorized, "Please sign in"},
	ErrForbidden:           {http.StatusForbidden, "You are not allowed to do that"},
	ErrNotFound:            {http.StatusNotFound, "Not found"},
	ErrConflict:            {http.StatusConflict, "The record was changed elsewhere"},
	ErrValidationError:     {http.StatusUnprocessableEntity, "One or more fields are invalid"},
	ErrInternalError:       {http.StatusInternalServerError, "An unexpected error occurred"},
	ErrBackendUnavailable:  {http.StatusBadGateway, "The backend service is temporarily unavailable"},
	ErrBackendTimeout:      {http.StatusGatewayTimeout, "The backend service did not respond in time"},
	ErrBackendRejected:     {http.StatusUnprocessableEntity, "The request could not be completed"},
	ErrConfirmationPending: {http.StatusConflict, "Another action is waiting for confirmation"},
	ErrNoConfirmation:      {http.StatusConflict, "There is no action waiting for confirmation"},
	ErrSessionExpired:      {http.StatusUnauthorized, "Your session has expired. Please sign in again."},
	ErrScreenNotReady:      {http.StatusConflict, "Please wait for the current operation to finish"},
	ErrScreenClosed:        {http.StatusGone, "This screen has been closed"},
}

// ErrorEnvelope is the error body the console returns. Message is shown to
// the admin as a banner.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus is the response status for the envelope's code. Unknown codes
// map to 500.
func (e *ErrorEnvelope) HTTPStatus() int {
	if k, ok := errorKinds[e.Code]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether repeating the same request may succeed without
// any change on the admin's side.
func (e *ErrorEnvelope) Retryable() bool {
	return e.Code == ErrBackendUnavailable || e.Code == ErrBackendTimeout
}

// FieldError is a validation failure of a single field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an envelope for code. An empty msg takes the code's
// default banner text.
func NewError(code, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = errorKinds[code].fallback
	}
	return &ErrorEnvelope{Code: code, Message: msg}
}

// AsEnvelope finds the ErrorEnvelope in err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	ok := errors.As(err, &ee)
	return ee, ok
}

// HasCode reports whether err carries an envelope with code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return NewError(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return NewError(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return NewError(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return NewError(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return NewError(ErrConflict, msg) }

// NewValidationError carries per-field details; the banner repeats the
// first field's message.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	var msg string
	if len(details) > 0 {
		msg = details[0].Message
	}
	ee := NewError(ErrValidationError, msg)
	ee.Details = details
	return ee
}

func NewInternalError() *ErrorEnvelope           { return NewError(ErrInternalError, "") }
func NewBackendUnavailableError() *ErrorEnvelope { return NewError(ErrBackendUnavailable, "") }
func NewBackendTimeoutError() *ErrorEnvelope     { return NewError(ErrBackendTimeout, "") }

// NewBackendRejectedError keeps the backend's own message when it sent one.
func NewBackendRejectedError(msg string) *ErrorEnvelope { return NewError(ErrBackendRejected, msg) }

func NewConfirmationPendingError() *ErrorEnvelope { return NewError(ErrConfirmationPending, "") }
func NewNoConfirmationError() *ErrorEnvelope      { return NewError(ErrNoConfirmation, "") }
func NewSessionExpiredError() *ErrorEnvelope      { return NewError(ErrSessionExpired, "") }
func NewScreenNotReadyError(msg string) *ErrorEnvelope {
	return NewError(ErrScreenNotReady, msg)
}
func NewScreenClosedError() *ErrorEnvelope { return NewError(ErrScreenClosed, "") }
