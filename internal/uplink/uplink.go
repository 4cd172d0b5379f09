// Package uplink delivers readings and status updates to the remote sink.
// Two implementations exist: the HTTP API client and a direct InfluxDB
// writer. The orchestrator decides retry-vs-store from the error taxonomy
// defined here.
package uplink

import (
	"context"
	"errors"
	"net/http"

	"luxagent/internal/model"
)

// Delivery failures, classified so the orchestrator can tell a condition
// worth retrying from one that won't be fixed by trying again.
var (
	// ErrInvalidArgument: the server rejected the payload (HTTP 400).
	ErrInvalidArgument = errors.New("uplink: invalid argument")
	// ErrUnauthorized: bad or expired credential (HTTP 401/403).
	ErrUnauthorized = errors.New("uplink: unauthorized")
	// ErrNotFound: the endpoint does not exist (HTTP 404).
	ErrNotFound = errors.New("uplink: not found")
	// ErrServerError: the server failed (HTTP 5xx).
	ErrServerError = errors.New("uplink: server error")
	// ErrNetworkFailure: the request never completed (DNS, dial, timeout).
	ErrNetworkFailure = errors.New("uplink: network failure")
)

// Sink accepts batches of readings and status updates. A nil return means
// the data was accepted and may be discarded locally.
type Sink interface {
	SendReadings(ctx context.Context, readings []model.Reading) error
	SendStatus(ctx context.Context, status model.StatusUpdate) error
}

// Retryable reports whether a delivery error may succeed on an immediate
// retry. Malformed requests and credential failures will not; they are
// logged loudly and the data kept for later.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnauthorized):
		return false
	}
	return true
}

// classifyStatus maps an HTTP response code to the error taxonomy. 2xx maps
// to nil.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest:
		return ErrInvalidArgument
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrServerError
	default:
		return ErrNetworkFailure
	}
}
