package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPassthrough(t *testing.T) {
	orig := New(CodeGasSpike, true, errors.New("25 gwei > 20 gwei cap"))
	wrapped := fmt.Errorf("pre-flight: %w", orig)

	got := Classify(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeGasSpike, got.Code)
	assert.True(t, got.Retryable)
}

func TestClassifyHeuristics(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{
			name:      "replacement underpriced",
			err:       errors.New("replacement transaction underpriced"),
			code:      CodeNonceConflict,
			retryable: true,
		},
		{
			name:      "insufficient funds",
			err:       errors.New("insufficient funds for gas * price + value"),
			code:      CodeInsufficientBalance,
			retryable: true,
		},
		{
			name:      "tapos freshness",
			err:       errors.New("Tapos check error"),
			code:      CodeTapos,
			retryable: true,
		},
		{
			name:      "rate limit",
			err:       errors.New("429 too many requests"),
			code:      CodeRateLimited,
			retryable: true,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 127.0.0.1:8545: connection refused"),
			code:      CodeNetworkError,
			retryable: true,
		},
		{
			name:      "context deadline",
			err:       context.DeadlineExceeded,
			code:      CodeNetworkError,
			retryable: true,
		},
		{
			name:      "unknown defaults to retryable",
			err:       errors.New("weird provider hiccup"),
			code:      CodeUnknown,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestNonRetryableCodes(t *testing.T) {
	for _, code := range []Code{CodeUnauthorized, CodeDerivationFailed, CodeInvalidData, CodeOnchainRevert} {
		err := New(code, false, errors.New("boom"))
		assert.False(t, IsRetryable(err), "code %s must not be retryable", code)
	}

	// Retryability of known-bad codes cannot be overridden upward.
	err := New(CodeDerivationFailed, true, errors.New("bad index"))
	assert.False(t, IsRetryable(err))
}

func TestMessageFormat(t *testing.T) {
	err := New(CodeVaultUnavailable, true, errors.New("vault sealed"))
	assert.Equal(t, "[VAULT_UNAVAILABLE] vault sealed", Message(err))
	assert.Equal(t, "", Message(nil))
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.False(t, IsRetryable(nil))
}
