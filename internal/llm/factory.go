package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// Config controls client construction.
type Config struct {
	Provider        string
	Model           string
	MaxTokens       int
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	HTTPURL         string
	MockFallback    bool
	HTTPClient      *http.Client
}

// NewClient builds the configured client and reports the provider in use.
// "auto" prefers anthropic, then openai, then a generic HTTP endpoint, and
// finally the mock client.
func NewClient(cfg Config) (Client, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == "auto" {
		provider = autoProvider(cfg)
	}

	var client Client
	switch provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, "", fmt.Errorf("%w: ANTHROPIC_API_KEY is required for anthropic", ErrNoProvider)
		}
		client = NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("%w: OPENAI_API_KEY is required for openai", ErrNoProvider)
		}
		client = NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.MaxTokens)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", fmt.Errorf("%w: LLM_HTTP_URL is required for http", ErrNoProvider)
		}
		client = NewHTTPClient(cfg.HTTPURL, cfg.HTTPClient)
	case "mock":
		return NewMockClient(), provider, nil
	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	if cfg.MockFallback {
		client = NewFallbackClient(client, NewMockClient())
	}
	return client, provider, nil
}

func autoProvider(cfg Config) string {
	switch {
	case cfg.AnthropicAPIKey != "":
		return "anthropic"
	case cfg.OpenAIAPIKey != "":
		return "openai"
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return "http"
	default:
		return "mock"
	}
}
