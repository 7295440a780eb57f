// Package lightning exposes the payment-gated orchestrator through the
// provider interface so the proxy can serve it to OpenAI and Anthropic clients.
package lightning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"lnprox-router/internal/models"
	"lnprox-router/internal/paygate"
	"lnprox-router/internal/provider"
)

// Name is the provider type reported to clients.
const Name = "lightningprox"

const finishReasonStop = "stop"

// Completer is the slice of the orchestrator the provider needs.
type Completer interface {
	Complete(ctx context.Context, req paygate.Request) (*paygate.Result, error)
}

// Provider serves single-prompt requests through a Completer.
type Provider struct {
	name      string
	completer Completer
	models    []models.Model
}

// New constructs a provider answering for the given model IDs.
func New(name string, completer Completer, modelIDs []string) (*Provider, error) {
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}
	if len(modelIDs) == 0 {
		return nil, errors.New("at least one model must be configured")
	}

	modelsList := make([]models.Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("model id must not be empty")
		}
		modelsList = append(modelsList, models.Model{ID: id, Provider: name})
	}

	return &Provider{
		name:      name,
		completer: completer,
		models:    modelsList,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	result := make([]models.Model, len(p.models))
	copy(result, p.models)
	return result, nil
}

// Chat accepts exactly one user message; the upstream has no conversation state.
func (p *Provider) Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, error) {
	if req.Stream {
		return nil, fmt.Errorf("streaming is not supported by provider %s: %w", p.name, provider.ErrUnsupportedOperation)
	}

	prompt, err := singlePrompt(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, err)
	}

	res, err := p.completer.Complete(ctx, paygate.Request{
		Prompt:    prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &models.UnifiedChatResponse{
		ID: newResponseID("msg"),
		Message: models.Message{
			Role:    "assistant",
			Content: res.Text,
		},
		FinishReason: finishReasonStop,
		Payment:      paymentOf(res),
	}, nil
}

func (p *Provider) Completion(ctx context.Context, req models.UnifiedCompletionRequest) (*models.UnifiedCompletionResponse, error) {
	if req.Stream {
		return nil, fmt.Errorf("streaming is not supported by provider %s: %w", p.name, provider.ErrUnsupportedOperation)
	}

	res, err := p.completer.Complete(ctx, paygate.Request{
		Prompt:    req.Prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &models.UnifiedCompletionResponse{
		ID:           newResponseID("cmpl"),
		Text:         res.Text,
		FinishReason: finishReasonStop,
		Payment:      paymentOf(res),
	}, nil
}

func singlePrompt(messages []models.Message) (string, error) {
	if len(messages) != 1 {
		return "", fmt.Errorf("exactly one message is supported, got %d: %w", len(messages), provider.ErrUnsupportedOperation)
	}
	msg := messages[0]
	if strings.ToLower(strings.TrimSpace(msg.Role)) != "user" {
		return "", fmt.Errorf("message role %q is not supported: %w", msg.Role, provider.ErrUnsupportedOperation)
	}
	return msg.Content, nil
}

func paymentOf(res *paygate.Result) *models.Payment {
	if !res.Paid {
		return nil
	}
	return &models.Payment{ChargeID: res.ChargeID, AmountSats: res.AmountSats}
}

func newResponseID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
