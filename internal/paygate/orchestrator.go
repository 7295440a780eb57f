package paygate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lnprox-router/internal/lightningprox"
	"lnprox-router/internal/lnbits"
	"lnprox-router/internal/logging"
)

// Settings is the read-only configuration of an Orchestrator. A zero
// PropagationDelay resends immediately after settlement.
type Settings struct {
	CompletionURL     string
	CompletionHeaders map[string]string
	SettlementURL     string
	AdminKey          string
	Model             string
	MaxTokens         int
	PaymentTimeout    time.Duration
	PropagationDelay  time.Duration
}

type completer interface {
	Send(ctx context.Context, body []byte, paymentHash string) (*lightningprox.Response, error)
}

type settler interface {
	PayInvoice(ctx context.Context, paymentRequest string) error
}

// Option customises an Orchestrator at construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	log        *logrus.Entry
}

// WithHTTPClient sets the client used for both services.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the log entry transitions are written to.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}

// Orchestrator runs the pay-then-retry protocol against one completion
// endpoint and one wallet.
type Orchestrator struct {
	completion       completer
	settlement       settler
	model            string
	maxTokens        int
	paymentTimeout   time.Duration
	propagationDelay time.Duration
	log              *logrus.Entry
}

// Request is a single prompt with optional per-call overrides. Zero values
// fall back to the configured model and max tokens.
type Request struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// Result is the outcome of a successful invocation.
type Result struct {
	Text       string
	Model      string
	Paid       bool
	ChargeID   string
	AmountSats *int64
}

// New validates settings and builds the service clients. A missing admin key
// is a *ConfigError.
func New(s Settings, opts ...Option) (*Orchestrator, error) {
	o := options{
		httpClient: http.DefaultClient,
		log:        logging.NewLogger("paygate"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(s.AdminKey) == "" {
		return nil, &ConfigError{Field: "settlement admin key", Reason: "is required for automatic payments"}
	}
	if strings.TrimSpace(s.Model) == "" {
		return nil, &ConfigError{Field: "model", Reason: "must not be empty"}
	}
	if s.MaxTokens <= 0 {
		return nil, &ConfigError{Field: "max tokens", Reason: fmt.Sprintf("must be positive, got %d", s.MaxTokens)}
	}
	if s.PaymentTimeout < 0 {
		return nil, &ConfigError{Field: "payment timeout", Reason: "must not be negative"}
	}
	if s.PropagationDelay < 0 {
		return nil, &ConfigError{Field: "propagation delay", Reason: "must not be negative"}
	}
	if o.httpClient == nil {
		return nil, &ConfigError{Field: "http client", Reason: "must not be nil"}
	}

	completion, err := lightningprox.New(s.CompletionURL, s.CompletionHeaders, o.httpClient)
	if err != nil {
		return nil, &ConfigError{Field: "completion service", Reason: err.Error()}
	}
	settlement, err := lnbits.New(s.SettlementURL, s.AdminKey, o.httpClient)
	if err != nil {
		return nil, &ConfigError{Field: "settlement service", Reason: err.Error()}
	}

	return &Orchestrator{
		completion:       completion,
		settlement:       settlement,
		model:            strings.TrimSpace(s.Model),
		maxTokens:        s.MaxTokens,
		paymentTimeout:   s.PaymentTimeout,
		propagationDelay: s.PropagationDelay,
		log:              o.log,
	}, nil
}

// Model returns the default model identifier.
func (o *Orchestrator) Model() string {
	return o.model
}

// MaxTokens returns the default completion token limit.
func (o *Orchestrator) MaxTokens() int {
	return o.maxTokens
}

// CompleteWithPayment returns the completion text for prompt, paying for it
// if the endpoint demands payment.
func (o *Orchestrator) CompleteWithPayment(ctx context.Context, prompt string) (string, error) {
	res, err := o.Complete(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CompleteBatch runs prompts one after another and stops at the first
// failure, returning the answers gathered so far.
func (o *Orchestrator) CompleteBatch(ctx context.Context, prompts []string) ([]string, error) {
	answers := make([]string, 0, len(prompts))
	for i, prompt := range prompts {
		text, err := o.CompleteWithPayment(ctx, prompt)
		if err != nil {
			return answers, fmt.Errorf("prompt %d: %w", i+1, err)
		}
		answers = append(answers, text)
	}
	return answers, nil
}

// Complete runs one invocation of the protocol.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Result, error) {
	if o.paymentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.paymentTimeout)
		defer cancel()
	}

	model := o.model
	if m := strings.TrimSpace(req.Model); m != "" {
		model = m
	}
	maxTokens := o.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	log := o.log.WithFields(logrus.Fields{
		"invocation_id": uuid.NewString(),
		"model":         model,
	})

	body, err := lightningprox.NewPromptRequest(model, maxTokens, req.Prompt).Encode()
	if err != nil {
		return nil, err
	}

	first, err := o.send(ctx, body, "")
	if err != nil {
		return nil, err
	}
	if first.HasContent() {
		log.WithField("status", first.StatusCode).Debug("completion served without payment")
		return &Result{Text: first.Text(), Model: model}, nil
	}
	if first.Payment == nil {
		return nil, &ProtocolError{Reason: ReasonUnexpectedResponse, StatusCode: first.StatusCode, Payload: first.Raw}
	}

	challenge := *first.Payment
	if strings.TrimSpace(challenge.ChargeID) == "" || strings.TrimSpace(challenge.PaymentRequest) == "" {
		return nil, &ProtocolError{Reason: ReasonMalformedChallenge, StatusCode: first.StatusCode, Payload: first.Raw}
	}

	log = log.WithField("charge_id", challenge.ChargeID)
	if challenge.AmountSats != nil {
		log = log.WithField("amount_sats", *challenge.AmountSats)
	}
	log.Info("payment required, settling invoice")

	if err := o.settlement.PayInvoice(ctx, challenge.PaymentRequest); err != nil {
		log.WithError(err).Warn("settlement failed")
		return nil, newPaymentError(challenge.ChargeID, challenge.AmountSats, err)
	}
	log.Debug("invoice settled")

	if err := o.awaitPropagation(ctx); err != nil {
		return nil, fmt.Errorf("charge %s settled but confirmation was aborted: %w", challenge.ChargeID, err)
	}

	final, err := o.send(ctx, body, challenge.ChargeID)
	if err != nil {
		return nil, err
	}
	if !final.HasContent() {
		log.WithField("status", final.StatusCode).Warn("no content after payment")
		return nil, &ProtocolError{Reason: ReasonNoContentAfterPayment, StatusCode: final.StatusCode, Payload: final.Raw}
	}

	log.Info("completion released after payment")
	return &Result{
		Text:       final.Text(),
		Model:      model,
		Paid:       true,
		ChargeID:   challenge.ChargeID,
		AmountSats: challenge.AmountSats,
	}, nil
}

func (o *Orchestrator) send(ctx context.Context, body []byte, paymentHash string) (*lightningprox.Response, error) {
	resp, err := o.completion.Send(ctx, body, paymentHash)
	if err != nil {
		var decodeErr *lightningprox.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, &ProtocolError{Reason: ReasonMalformedBody, StatusCode: decodeErr.StatusCode, Payload: decodeErr.Body}
		}
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	return resp, nil
}

func (o *Orchestrator) awaitPropagation(ctx context.Context) error {
	if o.propagationDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(o.propagationDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
