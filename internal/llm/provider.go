package llm

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupportedProvider is returned by NewProvider for unknown names.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderCustom    = "custom"
)

// ProviderConfig is the per-request provider selection. Empty fields fall
// back to each adapter's defaults.
type ProviderConfig struct {
	Name      string
	Model     string
	APIKey    string
	BaseURL   string
	Version   string // anthropic-version header
	MaxTokens int
	// ImplicitCompletion, when set, overrides whether a stream that ends
	// without a completion marker still finalises its tool calls.
	ImplicitCompletion *bool
	HTTPClient         *http.Client
}

func (c ProviderConfig) implicitCompletion(def bool) bool {
	if c.ImplicitCompletion == nil {
		return def
	}
	return *c.ImplicitCompletion
}

type unsupportedProviderError struct {
	name string
}

func (e *unsupportedProviderError) Error() string { return "Unsupported provider: " + e.name }
func (e *unsupportedProviderError) Is(target error) bool {
	return target == ErrUnsupportedProvider
}

// NewProvider builds the adapter named by cfg.Name. Configuration errors
// are returned before any network call is made.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderOllama:
		return NewOllamaProvider(cfg), nil
	case ProviderCustom:
		return NewCustomProvider(cfg)
	default:
		return nil, &unsupportedProviderError{name: cfg.Name}
	}
}

// SupportsTools reports whether tool definitions are sent to the provider.
func SupportsTools(name string) bool {
	return strings.ToLower(strings.TrimSpace(name)) != ProviderOllama
}

// ProviderNames lists the accepted provider names.
func ProviderNames() []string {
	return []string{ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderCustom}
}

// normalizeArguments returns args when it is a JSON object and {}
// otherwise.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return json.RawMessage("{}")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func schemaRequired(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
