package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code identifies a failure cause across stages. Codes are stable strings
// because they are written into queue error_message columns.
type Code string

const (
	// Signer codes (mirror the signer HTTP error contract).
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeVaultUnavailable Code = "VAULT_UNAVAILABLE"
	CodeDerivationFailed Code = "DERIVATION_FAILED"
	CodeSigningFailed    Code = "SIGNING_FAILED"

	// Execution codes.
	CodeInvalidData         Code = "invalid_data"
	CodeNetworkError        Code = "network_error"
	CodeRateLimited         Code = "rate_limited"
	CodeGasSpike            Code = "gas_spike"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeNonceConflict       Code = "nonce_conflict"
	CodeTapos               Code = "TAPOS_ERROR"
	CodeOnchainRevert       Code = "onchain_revert"
	CodeLockContended       Code = "lock_contended"
	CodeSignerUnavailable   Code = "signer_unavailable"
	CodeUnknown             Code = "unknown"
)

// Classified is the single error shape crossing stage boundaries.
type Classified struct {
	Code      Code
	Retryable bool
	cause     error
}

func (e *Classified) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.cause)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

func (e *Classified) Unwrap() error {
	return e.cause
}

// New builds a classified error with an explicit retryability.
func New(code Code, retryable bool, cause error) *Classified {
	return &Classified{Code: code, Retryable: retryable, cause: cause}
}

// Newf builds a classified error from a formatted message.
func Newf(code Code, retryable bool, format string, args ...any) *Classified {
	return &Classified{Code: code, Retryable: retryable, cause: fmt.Errorf(format, args...)}
}

var nonRetryable = map[Code]bool{
	CodeUnauthorized:     true,
	CodeDerivationFailed: true,
	CodeInvalidData:      true,
	CodeOnchainRevert:    true,
}

// Classify normalizes any error into a Classified. Already-classified errors
// pass through unchanged. Transport faults and everything unrecognized are
// retryable: unknown means transient until proven otherwise.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	var ce *Classified
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(CodeNetworkError, true, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return New(CodeNetworkError, true, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "replacement transaction underpriced"):
		return New(CodeNonceConflict, true, err)
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce"):
		return New(CodeNonceConflict, true, err)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return New(CodeInsufficientBalance, true, err)
	case strings.Contains(msg, "tapos"):
		return New(CodeTapos, true, err)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return New(CodeRateLimited, true, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return New(CodeNetworkError, true, err)
	}
	return New(CodeUnknown, true, err)
}

// IsRetryable reports whether the error should be retried with backoff.
func IsRetryable(err error) bool {
	ce := Classify(err)
	if ce == nil {
		return false
	}
	if nonRetryable[ce.Code] {
		return false
	}
	return ce.Retryable
}

// Message renders the "[code] message" form stored in error_message columns.
func Message(err error) string {
	ce := Classify(err)
	if ce == nil {
		return ""
	}
	return ce.Error()
}
