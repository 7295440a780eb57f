// Package lnbits pays Lightning invoices from an LNbits wallet.
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "lnprox-router/0.1"
	paymentsPath    = "/api/v1/payments"
	apiKeyHeader    = "X-Api-Key"
)

// ErrMissingAdminKey is returned by New when no admin key is supplied.
var ErrMissingAdminKey = errors.New("lnbits admin key must be provided")

// StatusError is returned when LNbits answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("lnbits payment rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("lnbits payment rejected with status %d: %s", e.StatusCode, e.Detail)
}

// Client is an LNbits wallet bound to an admin key.
type Client struct {
	paymentsURL string
	adminKey    string
	client      *http.Client
}

// New constructs a wallet client. baseURL is the LNbits instance root.
func New(baseURL, adminKey string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("lnbits url must not be empty")
	}
	if strings.TrimSpace(adminKey) == "" {
		return nil, ErrMissingAdminKey
	}

	return &Client{
		paymentsURL: baseURL + paymentsPath,
		adminKey:    adminKey,
		client:      client,
	}, nil
}

type payRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11"`
}

// PayInvoice pays a bolt11 payment request. Only the HTTP status decides the
// outcome; nil means LNbits accepted the payment.
func (c *Client) PayInvoice(ctx context.Context, paymentRequest string) error {
	body, err := json.Marshal(payRequest{Out: true, Bolt11: paymentRequest})
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.paymentsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(apiKeyHeader, c.adminKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("lnbits payment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// readDetail pulls LNbits' {"detail": "..."} message when present, falling
// back to the trimmed body.
func readDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 16*1024))
	if err != nil || len(body) == 0 {
		return ""
	}

	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(body))
}
