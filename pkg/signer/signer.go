package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/custos-tech/custos/pkg/errs"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/metrics"
)

const (
	signTimeout   = 15 * time.Second
	healthTimeout = 5 * time.Second
)

// Request is the sign-and-broadcast intent sent to the signing service. The
// service derives the key itself; no key material ever crosses this boundary.
type Request struct {
	Chain           string  `json:"chain"`
	WalletGroupID   int64   `json:"wallet_group_id"`
	DerivationIndex int64   `json:"derivation_index"`
	FromAddress     string  `json:"from_address"`
	ToAddress       string  `json:"to_address"`
	AmountRaw       string  `json:"amount_raw"`
	ContractAddress *string `json:"contract_address,omitempty"`
	GasPrice        *string `json:"gas_price,omitempty"`
	GasLimit        *string `json:"gas_limit,omitempty"`
	FeeLimit        *string `json:"fee_limit,omitempty"`
}

// Result carries the broadcast transaction hash.
type Result struct {
	TxHash string
}

// signResponse tolerates every hash key spelling the service has shipped.
type signResponse struct {
	TxHash          string `json:"tx_hash"`
	TxHashCamel     string `json:"txHash"`
	TransactionHash string `json:"transactionHash"`
	TxID            string `json:"tx_id"`
	TxIDShort       string `json:"txid"`
}

func (r *signResponse) hash() string {
	for _, h := range []string{r.TxHash, r.TxHashCamel, r.TransactionHash, r.TxID, r.TxIDShort} {
		if h != "" {
			return h
		}
	}
	return ""
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *errorResponse) fields() (code, message string) {
	if e.Error != nil && e.Error.Code != "" {
		return e.Error.Code, e.Error.Message
	}
	return e.Code, e.Message
}

// Client talks to the external signing service over HTTPS with bearer auth.
// A circuit breaker sheds load while the service is down so queue workers
// fail fast instead of stacking 15 second timeouts.
type Client struct {
	baseURL     string
	apiKey      string
	serviceName string
	http        *http.Client
	healthHTTP  *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// New builds a signer client identified to the service as serviceName.
func New(baseURL, apiKey, serviceName string) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "signer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("signer circuit breaker state change")
		},
	})
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		serviceName: serviceName,
		http:        &http.Client{Timeout: signTimeout},
		healthHTTP:  &http.Client{Timeout: healthTimeout},
		breaker:     cb,
	}
}

// SignAndBroadcast asks the service to build, sign, and broadcast one
// transaction, returning its hash. The request body is never logged.
func (c *Client) SignAndBroadcast(ctx context.Context, req *Request) (*Result, error) {
	timer := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		return c.signOnce(ctx, req)
	})
	metrics.SignerCallDuration.Observe(time.Since(timer).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.SignerCalls.WithLabelValues("breaker_open").Inc()
		return nil, errs.New(errs.CodeSignerUnavailable, true, err)
	}
	if err != nil {
		metrics.SignerCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SignerCalls.WithLabelValues("ok").Inc()
	return out.(*Result), nil
}

func (c *Client) signOnce(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.New(errs.CodeInvalidData, false, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/sign-and-broadcast", bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.CodeInvalidData, false, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errs.New(errs.CodeSignerUnavailable, true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.New(errs.CodeSignerUnavailable, true, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp.StatusCode, raw)
	}

	var sr signResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, errs.Newf(errs.CodeSigningFailed, true, "signer: malformed response: %v", err)
	}
	hash := sr.hash()
	if hash == "" {
		return nil, errs.Newf(errs.CodeSigningFailed, true, "signer: response carried no transaction hash")
	}
	return &Result{TxHash: hash}, nil
}

// decodeError maps the service's error contract onto classified codes.
func (c *Client) decodeError(status int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	code, message := er.fields()

	switch code {
	case string(errs.CodeUnauthorized):
		return errs.Newf(errs.CodeUnauthorized, false, "signer: %s", message)
	case string(errs.CodeDerivationFailed):
		return errs.Newf(errs.CodeDerivationFailed, false, "signer: %s", message)
	case string(errs.CodeVaultUnavailable):
		return errs.Newf(errs.CodeVaultUnavailable, true, "signer: %s", message)
	case string(errs.CodeSigningFailed):
		return errs.Newf(errs.CodeSigningFailed, true, "signer: %s", message)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Newf(errs.CodeUnauthorized, false, "signer: http %d", status)
	case status == http.StatusTooManyRequests:
		return errs.Newf(errs.CodeRateLimited, true, "signer: http %d", status)
	case status >= 500:
		return errs.Newf(errs.CodeSignerUnavailable, true, "signer: http %d", status)
	default:
		return errs.Newf(errs.CodeInvalidData, false, "signer: http %d: %s", status, message)
	}
}

// Healthy probes the service's health endpoint with a short timeout.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.healthHTTP.Do(req)
	if err != nil {
		return errs.New(errs.CodeSignerUnavailable, true, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.CodeSignerUnavailable, true, "signer health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("X-Service-Name", c.serviceName)
}
