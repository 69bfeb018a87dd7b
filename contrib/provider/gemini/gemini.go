// Package gemini adapts the Google Gemini API through the official SDK.
// System-role messages travel on the model's system instruction channel and
// tool declarations become native function declarations.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/provider"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig() *Config {
	return &Config{
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// Provider implements provider.CompletionProvider for Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete implements provider.CompletionProvider.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	model := p.client.GenerativeModel(p.config.Model)
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}

	system, history, last := splitMessages(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: encodeTools(req.Tools)}}
	}

	session := model.StartChat()
	session.History = history

	result, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, errors.ErrNoProviderResponse
	}

	resp := &provider.Response{}
	for _, part := range result.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			resp.Content += string(v)
		case genai.FunctionCall:
			resp.Calls = append(resp.Calls, provider.Call{Name: v.Name, Parameters: v.Args})
		}
	}
	if len(resp.Calls) > 0 {
		resp.Content = ""
	}
	return resp, nil
}

// splitMessages folds system turns into one instruction string, converts the
// preceding turns into chat history, and peels off the trailing user message
// to send as the new turn.
func splitMessages(msgs []message.Message) (system string, history []*genai.Content, last string) {
	var systemParts []string
	var turns []*genai.Content
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case message.RoleUser:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case message.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}

	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		if text, ok := turns[n-1].Parts[0].(genai.Text); ok {
			last = string(text)
		}
		turns = turns[:n-1]
	}
	return strings.Join(systemParts, "\n\n"), turns, last
}

func encodeTools(tools []personality.Function) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]*genai.Schema, len(tool.Parameters))
		required := make([]string, 0, len(tool.Parameters))
		for name, p := range tool.Parameters {
			properties[name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			required = append(required, name)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return declarations
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}
