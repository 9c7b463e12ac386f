package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrModelNotFound    = errors.New("model not found")
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider, replacing any provider with the same id.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return provider, nil
}

// List returns all providers ordered by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range provider.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrModelNotFound, providerID, modelID)
}

// Resolve returns the provider and model for a "provider/model" reference.
// An empty reference selects the default model.
func (r *Registry) Resolve(ref string) (Provider, *types.Model, error) {
	var m *types.Model
	var err error
	if ref == "" {
		m, err = r.DefaultModel()
	} else {
		var parsed types.ModelRef
		if parsed, err = ParseModel(ref); err != nil {
			return nil, nil, err
		}
		m, err = r.GetModel(parsed.ProviderID, parsed.ModelID)
	}
	if err != nil {
		return nil, nil, err
	}
	p, err := r.Get(m.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// AllModels returns all models from all providers, best first.
func (r *Registry) AllModels() []types.Model {
	var models []types.Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}
	sort.SliceStable(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// DefaultModel returns the configured model, or the best available one.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		ref, err := ParseModel(r.config.Model)
		if err != nil {
			return nil, err
		}
		return r.GetModel(ref.ProviderID, ref.ModelID)
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrModelNotFound)
	}
	return &models[0], nil
}

// ParseModel parses a "provider/model" reference. The model part may itself
// contain slashes.
func ParseModel(s string) (types.ModelRef, error) {
	providerID, modelID, ok := strings.Cut(s, "/")
	if !ok || providerID == "" || modelID == "" {
		return types.ModelRef{}, fmt.Errorf("invalid model reference %q, expected provider/model", s)
	}
	return types.ModelRef{ProviderID: providerID, ModelID: modelID}, nil
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 100
	case strings.Contains(modelID, "gpt-5"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

// envKeys maps the built-in provider ids to the variables that enable them
// without a config entry.
var envKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// InitializeProviders creates and registers all configured providers.
// Providers that fail to initialize are logged and skipped.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)

	configured := make(map[string]types.ProviderConfig)
	for providerID, envKey := range envKeys {
		if os.Getenv(envKey) != "" {
			configured[providerID] = types.ProviderConfig{}
		}
	}
	for providerID, cfg := range config.Provider {
		configured[providerID] = cfg
	}

	ids := make([]string, 0, len(configured))
	for providerID := range configured {
		ids = append(ids, providerID)
	}
	sort.Strings(ids)

	for _, providerID := range ids {
		cfg := configured[providerID]
		if cfg.Disable {
			continue
		}
		p, err := newProvider(ctx, providerID, cfg)
		if err != nil {
			logging.Warn().Err(err).Str("provider", providerID).Msg("skipping provider")
			continue
		}
		registry.Register(p)
		logging.Debug().Str("provider", providerID).Int("models", len(p.Models())).Msg("registered provider")
	}
	return registry, nil
}

func newProvider(ctx context.Context, providerID string, cfg types.ProviderConfig) (Provider, error) {
	apiKey, baseURL := cfg.APIKey, cfg.BaseURL
	if cfg.Options != nil {
		if apiKey == "" {
			apiKey = cfg.Options.APIKey
		}
		if baseURL == "" {
			baseURL = cfg.Options.BaseURL
		}
	}

	switch providerID {
	case "anthropic", "claude":
		return NewAnthropic(ctx, &AnthropicConfig{
			ID:        providerID,
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "ark":
		return NewArk(ctx, &ArkConfig{
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		return NewOpenAI(ctx, &OpenAIConfig{
			ID:        providerID,
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		// Anything else must speak the OpenAI protocol at its own endpoint.
		if baseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("provider %s: baseURL and model are required", providerID)
		}
		p, err := NewOpenAI(ctx, &OpenAIConfig{
			ID:        providerID,
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		p.models = withModel(nil, providerID, cfg.Model)
		return p, nil
	}
}
