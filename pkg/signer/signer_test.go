package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custos-tech/custos/pkg/errs"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(srv.URL, "test-key", "custos"), srv
}

func signReq() *Request {
	return &Request{
		Chain:           "ethereum",
		WalletGroupID:   1,
		DerivationIndex: 7,
		FromAddress:     "0xfrom",
		ToAddress:       "0xto",
		AmountRaw:       "1000000000000000000",
	}
}

func TestSignAndBroadcastHashAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"snake case", `{"tx_hash": "0xaaa"}`},
		{"camel case", `{"txHash": "0xaaa"}`},
		{"long form", `{"transactionHash": "0xaaa"}`},
		{"tron tx_id", `{"tx_id": "0xaaa"}`},
		{"bare txid", `{"txid": "0xaaa"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			defer srv.Close()

			res, err := c.SignAndBroadcast(context.Background(), signReq())
			require.NoError(t, err)
			assert.Equal(t, "0xaaa", res.TxHash)
		})
	}
}

func TestSignAndBroadcastSendsAuthAndIdentity(t *testing.T) {
	var gotAuth, gotService string
	var gotBody Request
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotService = r.Header.Get("X-Service-Name")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"tx_hash": "0xbbb"}`))
	})
	defer srv.Close()

	_, err := c.SignAndBroadcast(context.Background(), signReq())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "custos", gotService)
	assert.Equal(t, int64(7), gotBody.DerivationIndex)
}

func TestSignAndBroadcastErrorContract(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCode      errs.Code
		wantRetryable bool
	}{
		{"unauthorized", 401, `{"code": "UNAUTHORIZED", "message": "bad key"}`, errs.CodeUnauthorized, false},
		{"derivation failed", 422, `{"error": {"code": "DERIVATION_FAILED", "message": "bad index"}}`, errs.CodeDerivationFailed, false},
		{"vault down", 503, `{"code": "VAULT_UNAVAILABLE", "message": "sealed"}`, errs.CodeVaultUnavailable, true},
		{"signing failed", 500, `{"code": "SIGNING_FAILED", "message": "boom"}`, errs.CodeSigningFailed, true},
		{"bare 500", 500, `oops`, errs.CodeSignerUnavailable, true},
		{"bare 429", 429, ``, errs.CodeRateLimited, true},
		{"bare 400", 400, `{"message": "missing field"}`, errs.CodeInvalidData, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			defer srv.Close()

			_, err := c.SignAndBroadcast(context.Background(), signReq())
			require.Error(t, err)
			ce := errs.Classify(err)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.Equal(t, tt.wantRetryable, errs.IsRetryable(err))
		})
	}
}

func TestSignAndBroadcastMissingHash(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer srv.Close()

	_, err := c.SignAndBroadcast(context.Background(), signReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeSigningFailed, errs.Classify(err).Code)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(500)
	})
	defer srv.Close()

	for i := 0; i < 5; i++ {
		_, err := c.SignAndBroadcast(context.Background(), signReq())
		require.Error(t, err)
	}
	require.Equal(t, 5, calls)

	_, err := c.SignAndBroadcast(context.Background(), signReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignerUnavailable, errs.Classify(err).Code)
	assert.Equal(t, 5, calls, "open breaker must not reach the service")
}

func TestHealthy(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(200)
		})
		defer srv.Close()
		assert.NoError(t, c.Healthy(context.Background()))
	})

	t.Run("degraded", func(t *testing.T) {
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(503)
		})
		defer srv.Close()
		err := c.Healthy(context.Background())
		require.Error(t, err)
		assert.Equal(t, errs.CodeSignerUnavailable, errs.Classify(err).Code)
	})
}
