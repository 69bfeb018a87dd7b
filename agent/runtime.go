package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/pkg/logging"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

// RuntimeConfig holds the infrastructure endpoints a runtime bootstraps
// against and the process-wide fallback credential.
type RuntimeConfig struct {
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Model         string
	APIKey        string
	HistoryLimit  int64
}

// DefaultRuntimeConfig returns runtime defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MongoDatabase: "chatforge",
		Model:         "gpt-4o-mini",
		HistoryLimit:  20,
	}
}

// Runtime is one resident character process. It holds its own history in
// Mongo keyed by room, so calls carry only the newest user message and the
// context hint preceding it.
type Runtime struct {
	hash      string
	name      string
	prompt    string
	functions []personality.Function

	client       openai.Client
	model        string
	memory       *Memory
	cache        *Cache
	historyLimit int64
	logger       *slog.Logger
}

// NewRuntime bootstraps a runtime for one personality record: credential
// resolution, storage bootstrap, and cache attachment. Mongo and Redis are
// attached only when configured; without them the runtime degrades to
// per-call statelessness.
func NewRuntime(ctx context.Context, rec *store.Personality, cfg *RuntimeConfig) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultRuntimeConfig()
	}
	apiKey := resolveAPIKey(rec.Spec.ModelProvider, rec.Spec.Secrets, cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("no credential available for personality %q", rec.Name)
	}

	rt := &Runtime{
		hash:         rec.Hash,
		name:         rec.Name,
		prompt:       rec.Prompt,
		functions:    rec.Functions,
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		model:        cfg.Model,
		historyLimit: cfg.HistoryLimit,
		logger:       logging.WithComponent("agent").With("personality", rec.Name),
	}
	if rt.model == "" {
		rt.model = "gpt-4o-mini"
	}
	if rt.historyLimit <= 0 {
		rt.historyLimit = 20
	}

	if cfg.MongoURI != "" {
		memory, err := NewMemory(ctx, cfg.MongoURI, cfg.MongoDatabase, rec.Hash)
		if err != nil {
			return nil, fmt.Errorf("runtime storage bootstrap: %w", err)
		}
		rt.memory = memory
	}
	if cfg.RedisAddr != "" {
		cache, err := NewCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
		if err != nil {
			return nil, fmt.Errorf("runtime cache attachment: %w", err)
		}
		rt.cache = cache
	}

	rt.logger.Info("runtime bootstrapped", "hash", rec.Hash, "actions", len(rec.Functions))
	return rt, nil
}

// runtimeReply is the JSON shape the runtime asks its model to produce.
type runtimeReply struct {
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// HandleMessage runs one turn. Unlike the stateless adapters it ignores
// everything in the request except the trailing user message and the context
// hint directly before it.
func (rt *Runtime) HandleMessage(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	userMsg, contextHint, ok := trailingTurn(req.Messages)
	if !ok {
		return nil, fmt.Errorf("request carries no user message")
	}
	roomID := req.Meta.RoomID

	if rt.cache != nil {
		if cached, hit := rt.cache.GetReply(ctx, rt.hash, roomID, userMsg.Content); hit {
			var resp provider.Response
			if err := json.Unmarshal([]byte(cached), &resp); err == nil {
				rt.logger.Debug("reply served from cache", "room", roomID)
				return &resp, nil
			}
		}
	}

	history, err := rt.recall(ctx, roomID)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(rt.model),
		Messages: rt.buildMessages(history, contextHint, userMsg),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}
	completion, err := rt.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("runtime completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.ErrNoProviderResponse
	}

	var reply runtimeReply
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &reply); err != nil {
		// A model that ignored the JSON instruction still produced text.
		reply = runtimeReply{Text: completion.Choices[0].Message.Content}
	}

	resp := &provider.Response{Content: reply.Text}
	if reply.Action != "" {
		if fn, found := rt.actionByName(reply.Action); found {
			call, err := rt.extractCall(ctx, fn, userMsg.Content, reply.Text)
			if err != nil {
				rt.logger.Warn("action extraction failed", "action", fn.Name, "error", err)
			} else {
				resp.Calls = append(resp.Calls, *call)
			}
		} else {
			rt.logger.Warn("model invoked an undeclared action", "action", reply.Action)
		}
	}

	rt.remember(ctx, roomID, userMsg, resp)
	if rt.cache != nil {
		if encoded, err := json.Marshal(resp); err == nil {
			if err := rt.cache.SetReply(ctx, rt.hash, roomID, userMsg.Content, string(encoded)); err != nil {
				rt.logger.Debug("cache write failed", "error", err)
			}
		}
	}
	return resp, nil
}

// extractCall runs the constrained parameter-extraction sub-call for one
// action and validates its output before it crosses back as a Call.
func (rt *Runtime) extractCall(ctx context.Context, fn personality.Function, userInput, narration string) (*provider.Call, error) {
	schema := extractionSchema(fn)
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction schema: %w", err)
	}

	instructions := fmt.Sprintf(
		"Extract the arguments for the action %q from the player's message. "+
			"Respond with a single JSON object matching this schema exactly:\n%s",
		fn.Name, schemaJSON)

	completion, err := rt.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(rt.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage("Player said: " + userInput + "\nReply was: " + narration),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction sub-call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.ErrNoProviderResponse
	}

	msg, parameters, err := parseExtraction([]byte(completion.Choices[0].Message.Content), fn)
	if err != nil {
		return nil, err
	}
	return &provider.Call{Name: fn.Name, Message: msg, Parameters: parameters}, nil
}

func (rt *Runtime) buildMessages(history []message.Message, contextHint *message.Message, userMsg message.Message) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+4)
	msgs = append(msgs, openai.SystemMessage(rt.systemPrompt()))
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	if contextHint != nil {
		msgs = append(msgs, openai.SystemMessage(contextHint.Content))
	}
	msgs = append(msgs, openai.UserMessage(userMsg.Content))
	return msgs
}

// systemPrompt appends the action vocabulary and the reply shape to the
// rendered character prompt.
func (rt *Runtime) systemPrompt() string {
	var b strings.Builder
	b.WriteString(rt.prompt)
	b.WriteString("\n\nAlways respond with a JSON object: {\"text\": \"your reply\"")
	if len(rt.functions) > 0 {
		b.WriteString(", \"action\": \"optional action name\"}")
		b.WriteString("\n# Available Actions\n")
		for _, fn := range rt.functions {
			b.WriteString("- ")
			b.WriteString(fn.Name)
			if fn.Description != "" {
				b.WriteString(": ")
				b.WriteString(fn.Description)
			}
			if len(fn.Similes) > 0 {
				b.WriteString(" (also: ")
				b.WriteString(strings.Join(fn.Similes, ", "))
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("}")
	}
	return b.String()
}

func (rt *Runtime) actionByName(name string) (personality.Function, bool) {
	for _, fn := range rt.functions {
		if strings.EqualFold(fn.Name, name) {
			return fn, true
		}
		for _, simile := range fn.Similes {
			if strings.EqualFold(simile, name) {
				return fn, true
			}
		}
	}
	return personality.Function{}, false
}

func (rt *Runtime) recall(ctx context.Context, roomID string) ([]message.Message, error) {
	if rt.memory == nil {
		return nil, nil
	}
	history, err := rt.memory.Recent(ctx, roomID, rt.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("runtime recall: %w", err)
	}
	return history, nil
}

func (rt *Runtime) remember(ctx context.Context, roomID string, userMsg message.Message, resp *provider.Response) {
	if rt.memory == nil {
		return
	}
	if err := rt.memory.Append(ctx, roomID, userMsg); err != nil {
		rt.logger.Warn("failed to store user message", "error", err)
	}
	content := resp.Content
	if content == "" && len(resp.Calls) > 0 {
		content = "(performed " + resp.Calls[0].Name + ")"
	}
	if err := rt.memory.Append(ctx, roomID, message.New(message.RoleAssistant, content)); err != nil {
		rt.logger.Warn("failed to store assistant message", "error", err)
	}
}

// trailingTurn returns the final user message and, when present, the system
// context hint immediately before it.
func trailingTurn(msgs []message.Message) (message.Message, *message.Message, bool) {
	if len(msgs) == 0 {
		return message.Message{}, nil, false
	}
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleUser {
		return message.Message{}, nil, false
	}
	if len(msgs) >= 2 && msgs[len(msgs)-2].Role == message.RoleSystem {
		hint := msgs[len(msgs)-2]
		return last, &hint, true
	}
	return last, nil, true
}
