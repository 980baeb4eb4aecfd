package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
)

// OpenAIProvider streams from the OpenAI chat completions API.
type OpenAIProvider struct {
	*OpenAICompatProvider
	client *openai.Client // Used for ListModels
}

func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	baseURL := strings.TrimSuffix(firstNonEmpty(cfg.BaseURL, defaultOpenAIBaseURL), "/")
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(baseURL))
	return &OpenAIProvider{
		OpenAICompatProvider: &OpenAICompatProvider{
			name:               "openai",
			baseURL:            baseURL,
			apiKey:             cfg.APIKey,
			model:              firstNonEmpty(cfg.Model, defaultOpenAIModel),
			maxTokens:          firstPositive(cfg.MaxTokens, defaultMaxTokens),
			implicitCompletion: cfg.implicitCompletion(false),
			errorFallback:      "OpenAI API error",
			httpClient:         cfg.HTTPClient,
		},
		client: &client,
	}, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list models")
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:      m.ID,
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
	}
	return models, nil
}
