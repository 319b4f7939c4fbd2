package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/us-weather-agent/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (upstreamErrorsTotal).
const (
	ErrorCategoryTimeout         ErrorCategory = "timeout"
	ErrorCategoryCanceled        ErrorCategory = "canceled"
	ErrorCategoryNetwork         ErrorCategory = "network"
	ErrorCategoryCircuitOpen     ErrorCategory = "circuit_open"
	ErrorCategoryRateLimited     ErrorCategory = "rate_limited"
	ErrorCategoryUpstream4xx     ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx     ErrorCategory = "upstream_5xx"
	ErrorCategoryMalformed       ErrorCategory = "malformed"
	ErrorCategoryNotFound        ErrorCategory = "not_found"
	ErrorCategoryNotUnitedStates ErrorCategory = "not_us"
	ErrorCategoryUnknown         ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryCircuitOpen
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return ErrorCategoryRateLimited
		case statusErr.StatusCode >= 500:
			return ErrorCategoryUpstream5xx
		default:
			return ErrorCategoryUpstream4xx
		}
	}

	switch {
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformed
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrNotUnitedStates):
		return ErrorCategoryNotUnitedStates
	case errors.Is(err, ErrNetworkFailure):
		return ErrorCategoryNetwork
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}

	return ErrorCategoryUnknown
}
