package transport

import (
	"time"

	"github.com/goccy/go-json"
)

// Code classifies the result of a gateway call.
type Code string

const (
	CodeQueued          Code = "QUEUED"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeVersionOutdated Code = "VERSION_OUTDATED"
	CodeQuotaExceeded   Code = "QUOTA_EXCEEDED"
	CodeConflict        Code = "CONFLICT"
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

// Outcome is the tagged result of a Send. Expected failures are reported here,
// not as Go errors; only genuinely unexpected conditions propagate as errors.
type Outcome struct {
	OK        bool
	Code      Code
	Data      json.RawMessage
	Message   string
	RequestID string

	// RetryAfter is the backend hint attached to QUOTA_EXCEEDED.
	RetryAfter time.Duration
	// MinVersion is the hint attached to VERSION_OUTDATED.
	MinVersion string
}

// Retryable reports whether the outcome should be retried (possibly via the
// durable queue). Conflicts are assumed already-applied and never retried.
func (o Outcome) Retryable() bool {
	switch o.Code {
	case CodeTimeout, CodeNetworkError, CodeQuotaExceeded, CodeInternal:
		return true
	}
	return false
}

// gatewayResponse is the loose shape of the gateway's JSON body.
type gatewayResponse struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details struct {
		RetryAfter int    `json:"retryAfter"`
		MinVersion string `json:"minVersion"`
	} `json:"details"`
}
