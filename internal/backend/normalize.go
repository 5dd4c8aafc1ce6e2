package backend

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/pitabwire/console/model"
)

// Normalize turns any error produced while talking to the backend into the
// single user-visible envelope shown as a banner. Errors already carrying an
// envelope are returned unchanged.
func Normalize(err error) *model.ErrorEnvelope {
	if err == nil {
		return nil
	}
	if ee, ok := model.AsEnvelope(err); ok {
		return ee
	}
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return model.NewBackendUnavailableError()
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError()
	case errors.Is(err, context.Canceled):
		return &model.ErrorEnvelope{
			Code:    model.ErrBackendTimeout,
			Message: "The request was cancelled",
		}
	case isConnectionError(err):
		return model.NewBackendUnavailableError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	return model.NewInternalError()
}

// statusError maps a non-2xx backend response to an envelope. msg is the
// backend's own message, if it sent one.
func statusError(status int, msg string) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	switch {
	case status == http.StatusUnauthorized:
		ee = model.NewSessionExpiredError()
	case status == http.StatusForbidden:
		ee = model.NewForbiddenError("You do not have permission to perform this action")
	case status == http.StatusNotFound:
		ee = model.NewNotFoundError("The requested record was not found")
	case status == http.StatusConflict:
		ee = model.NewConflictError("The record was changed by someone else")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		ee = model.NewBackendTimeoutError()
	case status >= 500:
		ee = model.NewBackendUnavailableError()
	default:
		return model.NewBackendRejectedError(msg)
	}
	// Server-side failure text is logged by the client, never shown.
	if msg != "" && status != http.StatusUnauthorized && status < 500 {
		ee.Message = msg
	}
	return ee
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
