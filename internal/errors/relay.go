package errors

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Error codes for the failure classes the engine distinguishes.
const (
	CodeConnectionFailure   = "CONNECTION_FAILURE"
	CodeMalformedAddress    = "MALFORMED_ADDRESS"
	CodeWriteTimeout        = "WRITE_TIMEOUT"
	CodeUnknownSubscription = "UNKNOWN_SUBSCRIPTION"
	CodeProfileParseFailure = "PROFILE_PARSE_FAILURE"
	CodeCacheFailure        = "CACHE_FAILURE"
	CodeIdentityFailure     = "IDENTITY_FAILURE"
	CodeConfiguration       = "CONFIGURATION_ERROR"
)

// ConnectionFailure wraps a failed dial or handshake with a relay. These are
// logged and swallowed at the pool boundary, never propagated to callers.
func ConnectionFailure(address string, cause error) *AppError {
	severity := SeverityMedium
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		severity = SeverityLow
	}
	return Wrap(cause, ErrorTypeNetwork, CodeConnectionFailure,
		fmt.Sprintf("relay %s unreachable", address)).
		WithSeverity(severity)
}

// MalformedAddress marks a relay address that failed normalization. The
// enclosing connect call is a no-op beyond logging this error.
func MalformedAddress(input string, cause error) *AppError {
	return Wrap(cause, ErrorTypeValidation, CodeMalformedAddress,
		fmt.Sprintf("invalid relay address %q", input)).
		WithSeverity(SeverityLow)
}

// WriteTimeout marks a one-shot write that was never acknowledged. This is
// the only failure class that surfaces to callers.
func WriteTimeout(address string, timeout time.Duration) *AppError {
	return New(ErrorTypeTimeout, CodeWriteTimeout,
		fmt.Sprintf("no acknowledgment from %s within %s", address, timeout)).
		WithSeverity(SeverityMedium)
}

// UnknownSubscription marks an inbound frame for a subscription id absent
// from the registry. Dropped silently; exists for debug logs and metrics.
func UnknownSubscription(subID string) *AppError {
	return New(ErrorTypeValidation, CodeUnknownSubscription,
		fmt.Sprintf("no query registered for subscription %q", subID)).
		WithSeverity(SeverityLow)
}

// ProfileParseFailure marks a profile payload that could not be parsed. The
// record is omitted; other records are unaffected.
func ProfileParseFailure(pubkey string, cause error) *AppError {
	return Wrap(cause, ErrorTypeValidation, CodeProfileParseFailure,
		fmt.Sprintf("unparseable profile for %s", pubkey)).
		WithSeverity(SeverityLow)
}

// CacheFailure wraps a cache persistence error.
func CacheFailure(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeCache, CodeCacheFailure,
		fmt.Sprintf("cache %s failed", operation)).
		WithSeverity(SeverityHigh)
}

// IdentityFailure wraps a client keypair load/derive error.
func IdentityFailure(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeIdentity, CodeIdentityFailure,
		fmt.Sprintf("identity %s failed", operation)).
		WithSeverity(SeverityHigh)
}

// ConfigurationError marks an invalid configuration field.
func ConfigurationError(field, reason string) *AppError {
	return New(ErrorTypeConfig, CodeConfiguration,
		fmt.Sprintf("configuration field %s: %s", field, reason)).
		WithSeverity(SeverityCritical)
}

// IsWriteTimeout reports whether err is a write-once acknowledgment timeout.
func IsWriteTimeout(err error) bool {
	return HasCode(err, CodeWriteTimeout)
}

// IsConnectionFailure reports whether err is a swallowed-class dial failure.
func IsConnectionFailure(err error) bool {
	return HasCode(err, CodeConnectionFailure)
}

// IsRecoverable reports whether retrying the failed operation later could
// plausibly succeed without changing the request.
func IsRecoverable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		switch appErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout:
			return appErr.Severity != SeverityCritical
		case ErrorTypeCache:
			return isTemporaryNetError(appErr.Cause)
		case ErrorTypeValidation, ErrorTypeIdentity, ErrorTypeConfig:
			return false
		case ErrorTypeInternal:
			return appErr.Severity == SeverityLow || appErr.Severity == SeverityMedium
		}
	}
	return false
}

// ShouldRetry determines if an operation should be retried based on the error
func ShouldRetry(err error, attemptCount int, maxAttempts int) bool {
	if attemptCount >= maxAttempts {
		return false
	}
	return IsRecoverable(err)
}

// isTemporaryNetError checks for common transient network failures by
// message, replacing the deprecated netErr.Temporary().
func isTemporaryNetError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	temporaryPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no such host",
		"network is unreachable",
	}
	for _, pattern := range temporaryPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
