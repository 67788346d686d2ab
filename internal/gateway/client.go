// Package gateway talks to the external mobile-money provider (STK-push
// style). The platform never treats it as more than a collaborator: initiate
// a push, look up a transaction, receive callbacks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/afyalink/afyalink-backend/internal/metrics"
)

// Callback is the asynchronous payload the gateway pushes to our webhook.
// It may be redelivered any number of times.
type Callback struct {
	RequestRef      string `json:"request_ref"`
	TransactionRef  string `json:"transaction_ref,omitempty"`
	ResultCode      int    `json:"result_code"`
	ResultDesc      string `json:"result_desc"`
	Amount          *int64 `json:"amount,omitempty"`
	PayerIdentifier string `json:"payer,omitempty"`
}

type InitiateRequest struct {
	Amount          int64  `json:"amount"`
	PayerIdentifier string `json:"payer"`
	CorrelationRef  string `json:"correlation_ref"`
}

type StatusResult struct {
	Found          bool   `json:"found"`
	Amount         int64  `json:"amount"`
	ResultCode     int    `json:"result_code"`
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
}

type Client interface {
	// InitiatePayment starts an STK push and returns the gateway's request
	// reference, which correlates the eventual callback.
	InitiatePayment(ctx context.Context, req InitiateRequest) (string, error)
	// QueryStatus looks up a single transaction by transaction ref or, for
	// unconfirmed payments, by request ref.
	QueryStatus(ctx context.Context, ref string) (StatusResult, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewHTTPClient builds a client with a per-call timeout; the timeout is the
// failure-isolation boundary for reconciliation lookups.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) InitiatePayment(ctx context.Context, req InitiateRequest) (string, error) {
	var resp struct {
		RequestRef string `json:"request_ref"`
	}
	if err := c.post(ctx, "/v1/stkpush", req, &resp); err != nil {
		return "", err
	}
	if resp.RequestRef == "" {
		return "", fmt.Errorf("gateway returned empty request ref")
	}
	return resp.RequestRef, nil
}

func (c *HTTPClient) QueryStatus(ctx context.Context, ref string) (StatusResult, error) {
	start := time.Now()
	var out StatusResult
	err := c.post(ctx, "/v1/transactions/query", map[string]string{"ref": ref}, &out)
	metrics.GatewayLookupSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return StatusResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
