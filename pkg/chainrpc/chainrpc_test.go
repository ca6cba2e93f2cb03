package chainrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custos-tech/custos/pkg/errs"
	"github.com/custos-tech/custos/pkg/types"
)

func TestDialPicksFamily(t *testing.T) {
	tron := &types.Chain{Name: "tron", RPCURL: "http://fullnode"}
	c, err := Dial(context.Background(), tron)
	require.NoError(t, err)
	assert.IsType(t, &TronClient{}, c)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "ethereum", func() (int, error) {
		calls++
		return 0, errs.Newf(errs.CodeInvalidData, false, "bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryBoundedAttempts(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "ethereum", func() (int, error) {
		calls++
		return 0, errs.Newf(errs.CodeNetworkError, true, "connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestWithRetryRecovers(t *testing.T) {
	calls := 0
	got, err := withRetry(context.Background(), "ethereum", func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errs.Newf(errs.CodeNetworkError, true, "timeout")
		}
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 99, got)
	assert.Equal(t, 2, calls)
}

func newTronServer(t *testing.T, handlers map[string]func(body []byte) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			w.WriteHeader(404)
			return
		}
		var body []byte
		if r.Body != nil {
			buf := make([]byte, 4096)
			n, _ := r.Body.Read(buf)
			body = buf[:n]
		}
		require.NoError(t, json.NewEncoder(w).Encode(h(body)))
	}))
}

func TestTronCurrentBlockNumber(t *testing.T) {
	srv := newTronServer(t, map[string]func([]byte) any{
		"/wallet/getnowblock": func([]byte) any {
			return map[string]any{
				"block_header": map[string]any{
					"raw_data": map[string]any{"number": 74123456},
				},
			}
		},
	})
	defer srv.Close()

	c := NewTronClient("tron", srv.URL)
	n, err := c.CurrentBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(74123456), n)
}

func TestTronTransactionReceipt(t *testing.T) {
	tests := []struct {
		name        string
		info        map[string]any
		wantFound   bool
		wantSuccess bool
	}{
		{
			name: "trc20 success",
			info: map[string]any{
				"id": "abc", "blockNumber": 100, "fee": 345000,
				"receipt": map[string]any{"result": "SUCCESS"},
			},
			wantFound: true, wantSuccess: true,
		},
		{
			name: "plain transfer has empty result",
			info: map[string]any{
				"id": "abc", "blockNumber": 100, "fee": 1100,
				"receipt": map[string]any{},
			},
			wantFound: true, wantSuccess: true,
		},
		{
			name: "reverted",
			info: map[string]any{
				"id": "abc", "blockNumber": 100, "fee": 345000,
				"receipt": map[string]any{"result": "FAILED"},
			},
			wantFound: true, wantSuccess: false,
		},
		{
			name:      "not yet mined",
			info:      map[string]any{},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTronServer(t, map[string]func([]byte) any{
				"/wallet/gettransactioninfobyid": func(body []byte) any {
					var req map[string]string
					require.NoError(t, json.Unmarshal(body, &req))
					assert.Equal(t, "abc", req["value"])
					return tt.info
				},
			})
			defer srv.Close()

			c := NewTronClient("tron", srv.URL)
			r, err := c.TransactionReceipt(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, r.Found)
			if tt.wantFound {
				assert.Equal(t, tt.wantSuccess, r.Success)
				assert.Equal(t, int64(100), r.BlockNumber)
			}
		})
	}
}

func newEVMServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  results[req.Method],
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEVMClient(t *testing.T) {
	srv := newEVMServer(t, map[string]any{
		"eth_blockNumber": "0x10",
		"eth_gasPrice":    "0x3b9aca00",
		"eth_getTransactionReceipt": map[string]any{
			"blockNumber":       "0xa",
			"status":            "0x1",
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x3b9aca00",
		},
	})
	defer srv.Close()

	c, err := DialEVM(context.Background(), "ethereum", srv.URL)
	require.NoError(t, err)
	defer c.Close()

	head, err := c.CurrentBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(16), head)

	price, err := c.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000", price.String())

	r, err := c.TransactionReceipt(context.Background(), "0xdead")
	require.NoError(t, err)
	require.True(t, r.Found)
	assert.True(t, r.Success)
	assert.Equal(t, int64(10), r.BlockNumber)
	require.NotNil(t, r.GasUsed)
	assert.Equal(t, "21000", *r.GasUsed)
	require.NotNil(t, r.EffectiveGasPrice)
	assert.Equal(t, "1000000000", *r.EffectiveGasPrice)
}

func TestEVMReceiptNotMined(t *testing.T) {
	srv := newEVMServer(t, map[string]any{
		"eth_getTransactionReceipt": nil,
	})
	defer srv.Close()

	c, err := DialEVM(context.Background(), "ethereum", srv.URL)
	require.NoError(t, err)
	defer c.Close()

	r, err := c.TransactionReceipt(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.False(t, r.Found)
}
