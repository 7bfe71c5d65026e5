// Package gateway implements the outbound client for the mobile-money
// payment provider. A charge prompt (STK push) is sent to the customer's
// phone; the final result arrives later through the provider's webhook,
// handled by the payments module.
package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientInterface defines the contract the payments service depends on.
type ClientInterface interface {
	Push(ctx context.Context, req PushRequest) (*PushResponse, error)
}

// Config carries the provider credentials and endpoint. Passed in
// explicitly so the payments logic stays testable without environment
// mocking.
type Config struct {
	BaseURL     string
	ShortCode   string
	Passkey     string
	CallbackURL string
	Timeout     time.Duration
}

// PushRequest asks the provider to prompt the customer's phone for payment.
// Reference is the merchant correlation id, at most 12 characters.
type PushRequest struct {
	PhoneE164   string `json:"phone_number"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// PushResponse is the provider's synchronous acceptance of the push. The
// charge outcome itself arrives asynchronously via callback.
type PushResponse struct {
	ExternalReference string `json:"checkout_request_id"`
	CustomerPrompt    string `json:"customer_message"`
}

type pushPayload struct {
	ShortCode   string `json:"short_code"`
	Password    string `json:"password"`
	Timestamp   string `json:"timestamp"`
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"account_reference"`
	Description string `json:"transaction_desc"`
	CallbackURL string `json:"callback_url"`
}

// Client calls the provider over HTTP.
type Client struct {
	cfg   Config
	resty *resty.Client
}

// NewClient builds a gateway client with a bounded request timeout so a
// hung provider cannot block a request thread indefinitely.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	return &Client{cfg: cfg, resty: rc}
}

// Push sends the charge prompt. Any transport error, non-OK status or
// malformed body is returned as an error; the caller converts it to a
// terminal failed payment.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if len(req.Reference) > 12 {
		req.Reference = req.Reference[:12]
	}
	timestamp := time.Now().Format("20060102150405")
	payload := pushPayload{
		ShortCode:   c.cfg.ShortCode,
		Password:    base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp)),
		Timestamp:   timestamp,
		PhoneNumber: req.PhoneE164,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
		CallbackURL: c.cfg.CallbackURL,
	}

	var out PushResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&out).
		Post("/stkpush")
	if err != nil {
		return nil, fmt.Errorf("gateway.Push: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("gateway.Push: provider returned %s: %s", resp.Status(), resp.String())
	}
	if out.ExternalReference == "" {
		return nil, fmt.Errorf("gateway.Push: provider response missing checkout request id")
	}
	return &out, nil
}
