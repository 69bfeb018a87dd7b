// Package claude adapts the Anthropic messages API. The backend accepts one
// system parameter rather than interleaved system turns, so system-role
// messages are merged before the call: the leading prompt plus the most
// recent context message become a single system string, and system messages
// are stripped from the conversation list.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/provider"
)

const contextHeader = "## Context"

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig() *Config {
	return &Config{
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Provider implements provider.CompletionProvider for Claude.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Complete implements provider.CompletionProvider.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	system, conversation := mergeSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  encodeMessages(conversation),
		MaxTokens: p.config.MaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}
	if len(apiMessage.Content) == 0 {
		return nil, errors.ErrNoProviderResponse
	}

	resp := &provider.Response{}
	for _, block := range apiMessage.Content {
		switch block.Type {
		case "text":
			resp.Content = block.Text
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			resp.Calls = append(resp.Calls, provider.Call{Name: block.Name, Parameters: args})
		}
	}
	if len(resp.Calls) > 0 {
		resp.Content = ""
	}
	return resp, nil
}

// mergeSystem extracts the system turns. The first system message is the
// character prompt; of the synthesized context messages only the most recent
// one matters, older ones describe situations that have passed. The rest of
// the list keeps only user and assistant turns.
func mergeSystem(msgs []message.Message) (string, []message.Message) {
	var prompt, lastContext string
	conversation := make([]message.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != message.RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		if prompt == "" && !strings.HasPrefix(msg.Content, contextHeader) {
			prompt = msg.Content
		} else if strings.HasPrefix(msg.Content, contextHeader) {
			lastContext = msg.Content
		}
	}

	parts := make([]string, 0, 2)
	if prompt != "" {
		parts = append(parts, prompt)
	}
	if lastContext != "" {
		parts = append(parts, lastContext)
	}
	return strings.Join(parts, "\n\n"), conversation
}

func encodeMessages(msgs []message.Message) []anthropic.MessageParam {
	encoded := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleUser:
			encoded = append(encoded, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			encoded = append(encoded, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return encoded
}

func encodeTools(tools []personality.Function) []anthropic.ToolUnionParam {
	encoded := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]any, len(tool.Parameters))
		required := make([]string, 0, len(tool.Parameters))
		for name, p := range tool.Parameters {
			properties[name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			required = append(required, name)
		}
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}
		encoded = append(encoded, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return encoded
}
