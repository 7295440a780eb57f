package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lnprox-router/internal/models"
)

// ErrUnknownModel indicates the requested model is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// ErrUnsupportedOperation indicates the provider cannot fulfill the requested action.
var ErrUnsupportedOperation = errors.New("unsupported provider operation")

// Provider defines the behaviour required to serve unified requests.
type Provider interface {
	Name() string
	ListModels(ctx context.Context) ([]models.Model, error)
	Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, error)
	Completion(ctx context.Context, req models.UnifiedCompletionRequest) (*models.UnifiedCompletionResponse, error)
}

// route is what a model ID or alias resolves to.
type route struct {
	model    models.Model
	provider Provider
}

// Registry maps model IDs and aliases to the provider that serves them.
type Registry struct {
	mu        sync.RWMutex
	routes    map[string]route
	providers map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		routes:    make(map[string]route),
		providers: make(map[string]Provider),
	}
}

// RegisterProvider adds p, its models and the given aliases. Aliases may
// point at models of p or of providers registered earlier. On error the
// registry is left unchanged.
func (r *Registry) RegisterProvider(ctx context.Context, p Provider, aliases map[string]string) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}

	modelsList, err := p.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models for provider %q: %w", p.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}

	staged, err := r.stage(p, modelsList, aliases)
	if err != nil {
		return err
	}

	r.providers[p.Name()] = p
	for id, rt := range staged {
		r.routes[id] = rt
	}
	return nil
}

// stage resolves every new route without touching the registry. Callers
// hold r.mu.
func (r *Registry) stage(p Provider, modelsList []models.Model, aliases map[string]string) (map[string]route, error) {
	staged := make(map[string]route, len(modelsList)+len(aliases))
	taken := func(id string) bool {
		_, inRegistry := r.routes[id]
		_, inStage := staged[id]
		return inRegistry || inStage
	}

	for _, model := range modelsList {
		if taken(model.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, model.ID)
		}
		staged[model.ID] = route{model: model, provider: p}
	}

	// Aliases resolve against concrete models only, so they can be checked
	// before any of them is staged.
	resolved := make(map[string]route, len(aliases))
	for alias, target := range aliases {
		if taken(alias) {
			return nil, fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		rt, ok := staged[target]
		if !ok {
			rt, ok = r.routes[target]
		}
		if !ok {
			return nil, fmt.Errorf("alias %q references unknown model %q", alias, target)
		}
		resolved[alias] = rt
	}
	for alias, rt := range resolved {
		staged[alias] = rt
	}
	return staged, nil
}

// LookupModel returns the provider and metadata for a given model ID or alias.
// The returned model carries the resolved ID, never the alias.
func (r *Registry) LookupModel(modelID string) (models.Model, Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.routes[modelID]
	if !ok {
		return models.Model{}, nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return rt.model, rt.provider, nil
}

// Models lists every registered model ID and alias.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	return ids
}
