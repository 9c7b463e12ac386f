package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// OpenAIConfig holds configuration for OpenAI and OpenAI-compatible providers.
type OpenAIConfig struct {
	// ID is the provider identifier (e.g., "openai", "qwen", "ollama").
	// Defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// Azure configuration
	UseAzure   bool
	APIVersion string
}

// NewOpenAI creates a provider backed by the chat completions API.
func NewOpenAI(ctx context.Context, config *OpenAIConfig) (*EinoProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		if config.UseAzure {
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		} else {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}

	// GPT-5 and o-series models reject max_tokens.
	cfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
		BaseURL:             config.BaseURL,
	}
	if config.UseAzure {
		cfg.ByAzure = true
		cfg.APIVersion = config.APIVersion
		if cfg.APIVersion == "" {
			cfg.APIVersion = "2024-02-15-preview"
		}
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	providerID := config.ID
	if providerID == "" {
		providerID = "openai"
	}
	p := NewEinoProvider(providerID, chatModel, withModel(openAIModels(providerID), providerID, modelID))
	p.maxTokens = openai.WithMaxCompletionTokens
	return p, nil
}

func openAIModels(providerID string) []types.Model {
	return []types.Model{
		{
			ID:                "gpt-5",
			Name:              "GPT-5",
			ProviderID:        providerID,
			ContextLength:     272000,
			MaxOutputTokens:   128000,
			SupportsTools:     true,
			SupportsReasoning: true,
			InputPrice:        1.25,
			OutputPrice:       10.0,
			CacheReadPrice:    0.125,
		},
		{
			ID:                "gpt-5-mini",
			Name:              "GPT-5 Mini",
			ProviderID:        providerID,
			ContextLength:     272000,
			MaxOutputTokens:   128000,
			SupportsTools:     true,
			SupportsReasoning: true,
			InputPrice:        0.25,
			OutputPrice:       2.0,
			CacheReadPrice:    0.025,
		},
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      providerID,
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			InputPrice:      2.5,
			OutputPrice:     10.0,
			CacheReadPrice:  1.25,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			ProviderID:      providerID,
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			InputPrice:      0.15,
			OutputPrice:     0.6,
			CacheReadPrice:  0.075,
		},
		{
			ID:                "o1",
			Name:              "O1",
			ProviderID:        providerID,
			ContextLength:     200000,
			MaxOutputTokens:   100000,
			SupportsTools:     true,
			SupportsReasoning: true,
			InputPrice:        15.0,
			OutputPrice:       60.0,
		},
	}
}
