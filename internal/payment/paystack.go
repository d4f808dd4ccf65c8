package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const paystackBaseURL = "https://api.paystack.co"

// PaystackClient is a minimal client for the Paystack transactions API.
type PaystackClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewPaystackClient(secretKey string) *PaystackClient {
	return &PaystackClient{
		secretKey:  secretKey,
		baseURL:    paystackBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// InitializeRequest is the body of POST /transaction/initialize. Amount is
// in the currency's minor unit.
type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the subset of a verified transaction we act on.
type Transaction struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  json.RawMessage `json:"metadata"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Initialize creates a transaction and returns the hosted checkout URL.
func (c *PaystackClient) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	var env envelope[InitializeResult]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &env); err != nil {
		return InitializeResult{}, err
	}
	if !env.Status || env.Data.AuthorizationURL == "" {
		return InitializeResult{}, fmt.Errorf("paystack initialize rejected: %s", env.Message)
	}
	return env.Data, nil
}

// Verify fetches the authoritative state of a transaction.
func (c *PaystackClient) Verify(ctx context.Context, reference string) (Transaction, error) {
	var env envelope[Transaction]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &env); err != nil {
		return Transaction{}, err
	}
	if !env.Status {
		return Transaction{}, fmt.Errorf("paystack verify rejected: %s", env.Message)
	}
	return env.Data, nil
}

func (c *PaystackClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paystack api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
