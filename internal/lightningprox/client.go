// Package lightningprox speaks the wire format of a pay-per-request completion
// endpoint: an Anthropic-style messages body in, either content blocks or a
// Lightning payment challenge out.
package lightningprox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "lnprox-router/0.1"

	// PaymentHashHeader carries the charge ID of a settled invoice.
	PaymentHashHeader = "X-Payment-Hash"

	// RoleUser is the only role this client ever sends.
	RoleUser = "user"

	maxResponseBytes = 4 << 20
)

// Message is a single chat message in the request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the completion request body.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
}

// NewPromptRequest wraps a single prompt as a user message.
func NewPromptRequest(model string, maxTokens int, prompt string) Request {
	return Request{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
	}
}

// Encode marshals the request once so that a resend can reuse the exact bytes.
func (r Request) Encode() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	return body, nil
}

// ContentBlock is one element of a successful response's content list.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// Challenge is the payment demand returned instead of content.
type Challenge struct {
	ChargeID       string `json:"charge_id"`
	PaymentRequest string `json:"payment_request"`
	AmountSats     *int64 `json:"amount_sats,omitempty"`
}

// UnmarshalJSON treats amount_sats as informational: a number, or a string
// holding one, is kept; anything else leaves AmountSats nil.
func (c *Challenge) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChargeID       string          `json:"charge_id"`
		PaymentRequest string          `json:"payment_request"`
		AmountSats     json.RawMessage `json:"amount_sats"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.ChargeID = raw.ChargeID
	c.PaymentRequest = raw.PaymentRequest
	c.AmountSats = parseAmount(raw.AmountSats)
	return nil
}

func parseAmount(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}

	text := string(raw)
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		text = strings.TrimSpace(quoted)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

// Response is a decoded completion-service reply. Raw keeps the body as
// received for diagnostics.
type Response struct {
	StatusCode int
	Content    []ContentBlock
	Payment    *Challenge
	Raw        []byte
}

// HasContent reports whether the response carries at least one content block.
func (r *Response) HasContent() bool {
	return r != nil && len(r.Content) > 0
}

// Text returns the first content block's text.
func (r *Response) Text() string {
	if !r.HasContent() {
		return ""
	}
	return r.Content[0].Text
}

// DecodeError reports a body that is not a JSON object.
type DecodeError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode completion response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Client posts completion requests to a single endpoint URL.
type Client struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New constructs a completion client. headers are added to every request.
func New(endpoint string, headers map[string]string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("completion url must not be empty")
	}

	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}

	return &Client{
		url:     endpoint,
		headers: copied,
		client:  client,
	}, nil
}

// Send posts an already-encoded request body. When paymentHash is non-empty
// it is attached as proof of payment. The HTTP status is recorded but not
// interpreted: payment challenges commonly arrive with 402.
func (c *Client) Send(ctx context.Context, body []byte, paymentHash string) (*Response, error) {
	req, err := c.newRequest(ctx, body, paymentHash)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	return decodeResponse(httpResp.StatusCode, raw)
}

func (c *Client) newRequest(ctx context.Context, body []byte, paymentHash string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	if paymentHash != "" {
		req.Header.Set(PaymentHashHeader, paymentHash)
	} else {
		req.Header.Del(PaymentHashHeader)
	}
	return req, nil
}

func decodeResponse(status int, raw []byte) (*Response, error) {
	var payload struct {
		Content []ContentBlock `json:"content"`
		Payment *Challenge     `json:"payment"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DecodeError{StatusCode: status, Body: raw, Err: err}
	}

	return &Response{
		StatusCode: status,
		Content:    payload.Content,
		Payment:    payload.Payment,
		Raw:        raw,
	}, nil
}
