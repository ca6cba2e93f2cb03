package chainrpc

import (
	"context"
	"errors"
	"time"

	"github.com/custos-tech/custos/pkg/errs"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/types"
)

// Receipt is the chain-agnostic view of a mined transaction.
type Receipt struct {
	Found             bool
	BlockNumber       int64
	Success           bool
	GasUsed           *string
	EffectiveGasPrice *string
}

// Client reads confirmation state from a chain node.
type Client interface {
	CurrentBlockNumber(ctx context.Context) (int64, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Dial builds the right client for a chain row.
func Dial(ctx context.Context, chain *types.Chain) (Client, error) {
	switch chain.Family() {
	case types.ChainFamilyAccountModel:
		return NewTronClient(chain.Name, chain.RPCURL), nil
	default:
		return DialEVM(ctx, chain.Name, chain.RPCURL)
	}
}

const (
	maxAttempts      = 3
	retryDelay       = 500 * time.Millisecond
	rateLimitedDelay = 5 * time.Second
)

// codedError matches the JSON-RPC error shape go-ethereum returns.
type codedError interface {
	ErrorCode() int
}

// withRetry runs fn up to maxAttempts times. A -32005 rate-limit response
// gets a longer pause than an ordinary transient fault; non-retryable
// classifications abort immediately.
func withRetry[T any](ctx context.Context, chain string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			metrics.RPCRequests.WithLabelValues(chain, "ok").Inc()
			return out, nil
		}
		lastErr = err
		metrics.RPCRequests.WithLabelValues(chain, "error").Inc()
		if !errs.IsRetryable(err) {
			return zero, err
		}
		delay := retryDelay
		var ce codedError
		if errors.As(err, &ce) && ce.ErrorCode() == -32005 {
			delay = rateLimitedDelay
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
