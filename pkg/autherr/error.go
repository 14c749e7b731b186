// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package autherr defines the typed failure taxonomy for the authentication
// core and the uniform, low-information surface returned to external
// callers. Internally each verification stage has a distinct code so
// operators can tell them apart; externally every authentication failure
// collapses to the same "InvalidSignature" response to avoid leaking which
// stage rejected the request.
package autherr

import (
	"net/http"
	"strings"
)

// APIError is the external JSON error shape returned by the gateway.
type APIError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"-"`
}

func (e APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// ErrorCode is an enumeration of authentication failure classes.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// Malformed-input errors: rejected locally, never retried.
	ErrMissingAuthHeader
	ErrInvalidAuthFormat
	ErrAccessKeyIDTooLong

	// Resolution-not-found errors: internally distinct, externally
	// indistinguishable from a signature mismatch.
	ErrInvalidAccessKey
	ErrUserNotFound
	ErrAccessKeyNotFound

	// Session token errors.
	ErrMissingSessionToken
	ErrInvalidSessionToken

	// Freshness errors: local, deterministic, clock-dependent.
	ErrMissingTimestamp
	ErrTimestampTooOld

	// Signature comparison failure.
	ErrSignatureMismatch

	// Infrastructure errors: store unreachable; safe for the caller to
	// retry. Must never be conflated with an authentication failure.
	ErrStoreUnavailable
)

// internalLabels gives each code a stable name for logs and metrics.
var internalLabels = map[ErrorCode]string{
	ErrNone:                "None",
	ErrMissingAuthHeader:   "MissingAuthHeader",
	ErrInvalidAuthFormat:   "InvalidAuthFormat",
	ErrAccessKeyIDTooLong:  "AccessKeyIdTooLong",
	ErrInvalidAccessKey:    "InvalidAccessKey",
	ErrUserNotFound:        "UserNotFound",
	ErrAccessKeyNotFound:   "AccessKeyNotFound",
	ErrMissingSessionToken: "MissingSessionToken",
	ErrInvalidSessionToken: "InvalidSessionToken",
	ErrMissingTimestamp:    "MissingTimestamp",
	ErrTimestampTooOld:     "TimestampTooOld",
	ErrSignatureMismatch:   "SignatureMismatch",
	ErrStoreUnavailable:    "StoreUnavailable",
}

// String returns the internal label for the code.
func (e ErrorCode) String() string {
	if label, ok := internalLabels[e]; ok {
		return label
	}
	return "Unknown"
}

// IsAuthFailure reports whether the code is an authentication failure
// (as opposed to success or an infrastructure error).
func (e ErrorCode) IsAuthFailure() bool {
	return e != ErrNone && e != ErrStoreUnavailable
}

// Retryable reports whether the caller may retry the request unchanged.
// Only infrastructure errors qualify; authentication failures are
// deterministic.
func (e ErrorCode) Retryable() bool {
	return e == ErrStoreUnavailable
}

// APIError maps the internal code to the external response. Every
// authentication failure renders as 403 InvalidSignature regardless of
// which stage produced it.
func (e ErrorCode) APIError() APIError {
	switch e {
	case ErrNone:
		return APIError{}
	case ErrStoreUnavailable:
		return APIError{
			Code:           "ServiceUnavailable",
			Message:        "The identity store is temporarily unavailable. Retry the request.",
			HTTPStatusCode: http.StatusServiceUnavailable,
		}
	default:
		return APIError{
			Code:           "InvalidSignature",
			Message:        "The request signature we calculated does not match the signature you provided.",
			HTTPStatusCode: http.StatusForbidden,
		}
	}
}

// LookupAPIError is the external response for direct access-key lookups
// that miss, outside the signing path (404 rather than the uniform 403).
func LookupAPIError() APIError {
	return APIError{
		Code:           "AccessKeyNotFound",
		Message:        "The specified access key does not exist.",
		HTTPStatusCode: http.StatusNotFound,
	}
}
