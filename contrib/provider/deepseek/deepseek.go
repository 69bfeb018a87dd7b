// Package deepseek adapts the DeepSeek chat API, which speaks the OpenAI
// wire protocol against its own endpoint. It exposes completion only; there
// is no moderation capability.
package deepseek

import (
	"context"

	contribopenai "github.com/sweetpotato0/chatforge/contrib/provider/openai"
	"github.com/sweetpotato0/chatforge/provider"
)

const defaultBaseURL = "https://api.deepseek.com"

// Config holds DeepSeek provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default DeepSeek configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     defaultBaseURL,
		Model:       "deepseek-chat",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

// Provider implements provider.CompletionProvider over the DeepSeek endpoint.
type Provider struct {
	inner *contribopenai.Provider
}

// New creates a new DeepSeek provider.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = "deepseek-chat"
	}
	return &Provider{inner: contribopenai.New(&contribopenai.Config{
		APIKey:      config.APIKey,
		BaseURL:     config.BaseURL,
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	})}
}

// Complete implements provider.CompletionProvider.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return p.inner.Complete(ctx, req)
}
