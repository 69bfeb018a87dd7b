// Package openai adapts the OpenAI chat completion API to the common
// completion contract. It is the stateless variant: the full message and tool
// list is sent on every call. The same client also backs the moderation gate.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/provider"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	ModerationModel string
	MaxTokens       int64
	Temperature     float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
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

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:           "gpt-4o-mini",
		ModerationModel: string(openai.ModerationModelOmniModerationLatest),
		MaxTokens:       2000,
		Temperature:     0.7,
	}
}

// Provider implements provider.CompletionProvider and provider.Moderator.
type Provider struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.ModerationModel == "" {
		config.ModerationModel = string(openai.ModerationModelOmniModerationLatest)
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Complete implements provider.CompletionProvider.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	params := openai.ChatCompletionNewParams{
		Messages: encodeMessages(req.Messages),
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.ErrNoProviderResponse
	}

	choice := completion.Choices[0]
	resp := &provider.Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		resp.Calls = append(resp.Calls, provider.Call{Name: tc.Function.Name, Parameters: args})
	}
	// A tool call and a narrated reply are mutually exclusive in one turn.
	if len(resp.Calls) > 0 {
		resp.Content = ""
	}
	return resp, nil
}

// Moderate implements provider.Moderator.
func (p *Provider) Moderate(ctx context.Context, input string) (bool, error) {
	result, err := p.client.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModel(p.config.ModerationModel),
		Input: openai.ModerationNewParamsInputUnion{OfString: param.NewOpt(input)},
	})
	if err != nil {
		return false, fmt.Errorf("OpenAI moderation error: %w", err)
	}
	for _, r := range result.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

func encodeMessages(msgs []message.Message) []openai.ChatCompletionMessageParamUnion {
	encoded := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			encoded = append(encoded, openai.SystemMessage(msg.Content))
		case message.RoleUser:
			encoded = append(encoded, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			encoded = append(encoded, openai.AssistantMessage(msg.Content))
		}
	}
	return encoded
}

func encodeTools(tools []personality.Function) []openai.ChatCompletionToolUnionParam {
	encoded := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		encoded = append(encoded, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: param.NewOpt(describe(tool)),
			Parameters:  openai.FunctionParameters(parameterSchema(tool)),
		}))
	}
	return encoded
}

// describe folds the alternate trigger phrases into the description so the
// model recognizes them.
func describe(tool personality.Function) string {
	desc := tool.Description
	if len(tool.Similes) > 0 {
		if desc != "" {
			desc += " "
		}
		desc += "Also triggered by: " + strings.Join(tool.Similes, ", ") + "."
	}
	return desc
}

// parameterSchema renders a declarative parameter map as a JSON schema object
// with every parameter required.
func parameterSchema(tool personality.Function) map[string]any {
	properties := make(map[string]any, len(tool.Parameters))
	required := make([]string, 0, len(tool.Parameters))
	for name, p := range tool.Parameters {
		properties[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
