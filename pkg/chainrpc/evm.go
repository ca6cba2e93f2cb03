package chainrpc

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EVMClient reads confirmation state over JSON-RPC.
type EVMClient struct {
	chain string
	rpc   *rpc.Client
}

// DialEVM connects to an EVM node.
func DialEVM(ctx context.Context, chain, url string) (*EVMClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &EVMClient{chain: chain, rpc: c}, nil
}

// Close releases the underlying connection.
func (c *EVMClient) Close() {
	c.rpc.Close()
}

// CurrentBlockNumber returns the chain head height.
func (c *EVMClient) CurrentBlockNumber(ctx context.Context) (int64, error) {
	return withRetry(ctx, c.chain, func() (int64, error) {
		var head hexutil.Uint64
		if err := c.rpc.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
			return 0, err
		}
		return int64(head), nil
	})
}

// evmReceipt is the subset of eth_getTransactionReceipt the confirm stages use.
type evmReceipt struct {
	BlockNumber       *hexutil.Big   `json:"blockNumber"`
	Status            hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
}

// TransactionReceipt fetches the receipt for a broadcast hash. A transaction
// not yet mined (or dropped in a reorg) returns Found=false, not an error.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return withRetry(ctx, c.chain, func() (*Receipt, error) {
		var r *evmReceipt
		err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", txHash)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "not found") {
				return &Receipt{}, nil
			}
			return nil, err
		}
		if r == nil || r.BlockNumber == nil {
			return &Receipt{}, nil
		}
		gasUsed := new(big.Int).SetUint64(uint64(r.GasUsed)).String()
		out := &Receipt{
			Found:       true,
			BlockNumber: r.BlockNumber.ToInt().Int64(),
			Success:     r.Status == 1,
			GasUsed:     &gasUsed,
		}
		if r.EffectiveGasPrice != nil {
			p := r.EffectiveGasPrice.ToInt().String()
			out.EffectiveGasPrice = &p
		}
		return out, nil
	})
}

// SuggestGasPrice returns the node's current gas price in wei. The execute
// stages use it for the pre-broadcast fee cap check.
func (c *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withRetry(ctx, c.chain, func() (*big.Int, error) {
		var price hexutil.Big
		if err := c.rpc.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
			return nil, err
		}
		return price.ToInt(), nil
	})
}
