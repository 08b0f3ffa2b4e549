package epayco

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a required gateway credential is absent.
// Configuration errors are fatal for the request; they are never retried
// and never replaced with a silent default.
var ErrNotConfigured = errors.New("epayco credentials are not configured")

// ValidationError rejects a session request before it reaches the gateway
// (amount out of bounds, bad redirect URL). Maps to a 422 response.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Machine-readable ValidationError codes.
const (
	CodeAmountBelowMin = "amount_below_min"
	CodeAmountAboveMax = "amount_above_max"
	CodeInvalidURL     = "invalid_url"
)

// GatewayError reports a transport failure or non-success response from the
// gateway. The upstream body, when available, is carried along so handlers
// can attach it to the 502 response.
type GatewayError struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (gateway status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}
