package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"lnprox-router/internal/config"
	"lnprox-router/internal/logging"
	"lnprox-router/internal/paygate"
	"lnprox-router/internal/provider"
	"lnprox-router/internal/provider/lightning"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewOrchestrator builds the payment-gated orchestrator from configuration.
// A missing admin key surfaces as *paygate.ConfigError.
func NewOrchestrator(cfg config.Config) (*paygate.Orchestrator, error) {
	return paygate.New(paygate.Settings{
		CompletionURL:     cfg.Completion.URL,
		CompletionHeaders: cfg.Completion.Headers,
		SettlementURL:     cfg.Settlement.URL,
		AdminKey:          cfg.Settlement.AdminKey,
		Model:             cfg.Completion.Model,
		MaxTokens:         cfg.Completion.MaxTokens,
		PaymentTimeout:    cfg.Payment.Timeout,
		PropagationDelay:  cfg.Payment.PropagationDelay,
	},
		paygate.WithHTTPClient(newHTTPClient(defaultHTTPTimeout)),
		paygate.WithLogger(logging.NewLogger("paygate")),
	)
}

// RegisterConfiguredProviders wraps the orchestrator as a provider and stores
// it, with its configured aliases, in the registry.
func RegisterConfiguredProviders(ctx context.Context, cfg config.Config, completer lightning.Completer, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	lightningProvider, err := lightning.New(lightning.Name, completer, cfg.Completion.ModelIDs())
	if err != nil {
		return fmt.Errorf("initialise %s provider: %w", lightning.Name, err)
	}
	if err := registry.RegisterProvider(ctx, lightningProvider, cfg.Completion.Aliases); err != nil {
		return fmt.Errorf("register %s provider: %w", lightning.Name, err)
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
