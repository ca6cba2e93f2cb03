package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custos-tech/custos/pkg/errs"
)

// TronClient reads confirmation state over the TRON-style fullnode REST API.
type TronClient struct {
	chain   string
	baseURL string
	http    *http.Client
}

// NewTronClient builds a client for a fullnode HTTP endpoint.
func NewTronClient(chain, baseURL string) *TronClient {
	return &TronClient{
		chain:   chain,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TronClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.New(errs.CodeInvalidData, false, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return errs.New(errs.CodeInvalidData, false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(errs.CodeNetworkError, true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.Newf(errs.CodeRateLimited, true, "tron: http %d from %s", resp.StatusCode, path)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.CodeNetworkError, true, "tron: http %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return errs.Newf(errs.CodeNetworkError, true, "tron: decode %s: %v", path, err)
	}
	return nil
}

// CurrentBlockNumber returns the fullnode's latest block height.
func (c *TronClient) CurrentBlockNumber(ctx context.Context) (int64, error) {
	return withRetry(ctx, c.chain, func() (int64, error) {
		var out struct {
			BlockHeader struct {
				RawData struct {
					Number int64 `json:"number"`
				} `json:"raw_data"`
			} `json:"block_header"`
		}
		if err := c.post(ctx, "/wallet/getnowblock", nil, &out); err != nil {
			return 0, err
		}
		if out.BlockHeader.RawData.Number == 0 {
			return 0, errs.Newf(errs.CodeNetworkError, true, "tron: empty getnowblock response")
		}
		return out.BlockHeader.RawData.Number, nil
	})
}

// TransactionReceipt fetches execution info for a transaction id. Plain TRX
// transfers report an empty result field on success; only an explicit FAILED
// marks the transaction reverted.
func (c *TronClient) TransactionReceipt(ctx context.Context, txID string) (*Receipt, error) {
	return withRetry(ctx, c.chain, func() (*Receipt, error) {
		var out struct {
			ID          string `json:"id"`
			BlockNumber int64  `json:"blockNumber"`
			Fee         int64  `json:"fee"`
			Receipt     struct {
				Result    string `json:"result"`
				EnergyFee int64  `json:"energy_fee"`
			} `json:"receipt"`
		}
		if err := c.post(ctx, "/wallet/gettransactioninfobyid",
			map[string]string{"value": txID}, &out); err != nil {
			return nil, err
		}
		if out.ID == "" || out.BlockNumber == 0 {
			return &Receipt{}, nil
		}
		result := strings.ToUpper(out.Receipt.Result)
		fee := strconv.FormatInt(out.Fee, 10)
		return &Receipt{
			Found:       true,
			BlockNumber: out.BlockNumber,
			Success:     result == "" || result == "SUCCESS",
			GasUsed:     &fee,
		}, nil
	})
}
