package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
)

const requestTimeout = 5 * time.Second

// HTTPClient talks to the wallet provider's REST API.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a provider client for the given base URL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type transferRequest struct {
	FromWallet string          `json:"from_wallet"`
	ToWallet   string          `json:"to_wallet"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
}

func (c *HTTPClient) Transfer(ctx context.Context, fromWallet, toWallet string, amount decimal.Decimal, reference string) (*TransferResult, error) {
	body, err := json.Marshal(transferRequest{
		FromWallet: fromWallet,
		ToWallet:   toWallet,
		Amount:     amount,
		Reference:  reference,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetTransferStatus(ctx context.Context, transferID string) (*TransferStatus, error) {
	var out TransferStatus
	path := "/v1/transfers/" + url.PathEscape(transferID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetBalance(ctx context.Context, walletRef string) (decimal.Decimal, error) {
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	path := "/v1/wallets/" + url.PathEscape(walletRef) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

// do sends one request and decodes the JSON response. Network errors and
// 5xx responses are transient; 4xx responses are the caller's fault.
func (c *HTTPClient) do(ctx context.Context, method, path string, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("create wallet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: wallet provider: %v", faults.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: wallet provider returned %d", faults.ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: wallet provider: %s", faults.ErrNotFound, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: wallet provider returned %d", faults.ErrInvalidParameters, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode wallet response: %w", err)
	}
	return nil
}
