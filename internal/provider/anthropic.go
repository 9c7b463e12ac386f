package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// ID is the provider identifier. Defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// Extended thinking support
	Thinking *claude.Thinking
}

// NewAnthropic creates a provider backed by the Claude messages API.
func NewAnthropic(ctx context.Context, config *AnthropicConfig) (*EinoProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	cfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
		Thinking:  config.Thinking,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = &config.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	providerID := config.ID
	if providerID == "" {
		providerID = "anthropic"
	}
	return NewEinoProvider(providerID, chatModel, withModel(anthropicModels(providerID), providerID, modelID)), nil
}

func anthropicModels(providerID string) []types.Model {
	return []types.Model{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 64000,
			SupportsTools:   true,
			InputPrice:      3.0,
			OutputPrice:     15.0,
			CacheReadPrice:  0.3,
			CacheWritePrice: 3.75,
		},
		{
			ID:                "claude-opus-4-20250514",
			Name:              "Claude Opus 4",
			ProviderID:        providerID,
			ContextLength:     200000,
			MaxOutputTokens:   32000,
			SupportsTools:     true,
			SupportsReasoning: true,
			InputPrice:        15.0,
			OutputPrice:       75.0,
			CacheReadPrice:    1.5,
			CacheWritePrice:   18.75,
		},
		{
			ID:              "claude-3-5-sonnet-20241022",
			Name:            "Claude 3.5 Sonnet",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			InputPrice:      3.0,
			OutputPrice:     15.0,
			CacheReadPrice:  0.3,
			CacheWritePrice: 3.75,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			InputPrice:      0.8,
			OutputPrice:     4.0,
			CacheReadPrice:  0.08,
			CacheWritePrice: 1.0,
		},
		{
			ID:              "claude-haiku-4-5",
			Name:            "Claude 4.5 Haiku",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			InputPrice:      1.0,
			OutputPrice:     5.0,
			CacheReadPrice:  0.1,
			CacheWritePrice: 1.25,
		},
	}
}

// withModel appends a catalog entry for a configured model id the catalog
// does not know.
func withModel(models []types.Model, providerID, modelID string) []types.Model {
	for _, m := range models {
		if m.ID == modelID {
			return models
		}
	}
	return append(models, types.Model{
		ID:            modelID,
		Name:          modelID,
		ProviderID:    providerID,
		ContextLength: 128000,
		SupportsTools: true,
	})
}
