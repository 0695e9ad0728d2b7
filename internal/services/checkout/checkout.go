// Package checkout is the payment-gateway boundary. The core only needs one
// call (create a hosted checkout session) plus signature validation for the
// captured-payment webhook.
package checkout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type Input struct {
	Reference  string            `json:"reference"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Session struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	secret  string
}

func NewClient(baseURL, apiKey, secret string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
	}
}

type sessionRequest struct {
	Input
	Signature string `json:"signature"`
}

type sessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		URL       string `json:"url"`
		Reference string `json:"reference"`
	} `json:"data"`
}

// CreateSession requests a hosted checkout session. The request is signed
// HMAC-SHA256 over reference + amount, gateway convention.
func (c *Client) CreateSession(ctx context.Context, in Input) (*Session, error) {
	payload := sessionRequest{
		Input:     in,
		Signature: c.sign(in.Reference + in.Amount.StringFixed(2)),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout session request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var apiResp sessionResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("checkout session response: %w", err)
	}
	if !apiResp.Success {
		return nil, fmt.Errorf("gateway error: %s", apiResp.Message)
	}

	return &Session{URL: apiResp.Data.URL, Reference: apiResp.Data.Reference}, nil
}

func (c *Client) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature checks the webhook signature: HMAC-SHA256 over the raw
// JSON body.
func (c *Client) ValidateSignature(incoming string, body []byte) bool {
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(incoming))
}
