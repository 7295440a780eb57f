package router

import (
	"context"
	"fmt"
	"sort"

	"lnprox-router/internal/models"
	"lnprox-router/internal/provider"
)

// Router resolves model names and aliases and dispatches unified requests.
type Router struct {
	registry *provider.Registry
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry) *Router {
	return &Router{
		registry: registry,
	}
}

// Chat routes a chat request to the provider owning the requested model.
func (r *Router) Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, models.Model, error) {
	modelInfo, providerImpl, err := r.registry.LookupModel(req.Model)
	if err != nil {
		return nil, models.Model{}, err
	}

	resolved := req
	resolved.Model = modelInfo.ID
	resolved.Messages = append([]models.Message(nil), req.Messages...)

	resp, err := providerImpl.Chat(ctx, resolved)
	if err != nil {
		return nil, models.Model{}, fmt.Errorf("provider %s chat request: %w", providerImpl.Name(), err)
	}
	return resp, modelInfo, nil
}

// Completion routes a text completion request to the provider owning the requested model.
func (r *Router) Completion(ctx context.Context, req models.UnifiedCompletionRequest) (*models.UnifiedCompletionResponse, models.Model, error) {
	modelInfo, providerImpl, err := r.registry.LookupModel(req.Model)
	if err != nil {
		return nil, models.Model{}, err
	}

	resolved := req
	resolved.Model = modelInfo.ID

	resp, err := providerImpl.Completion(ctx, resolved)
	if err != nil {
		return nil, models.Model{}, fmt.Errorf("provider %s completion request: %w", providerImpl.Name(), err)
	}
	return resp, modelInfo, nil
}

// Models lists the routable model names in sorted order.
func (r *Router) Models() []string {
	ids := r.registry.Models()
	sort.Strings(ids)
	return ids
}
