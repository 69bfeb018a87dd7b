// Command chatforged runs the conversation engine behind its HTTP boundary.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sweetpotato0/chatforge/agent"
	"github.com/sweetpotato0/chatforge/config"
	"github.com/sweetpotato0/chatforge/contrib/provider/claude"
	"github.com/sweetpotato0/chatforge/contrib/provider/deepseek"
	"github.com/sweetpotato0/chatforge/contrib/provider/gemini"
	"github.com/sweetpotato0/chatforge/contrib/provider/openai"
	"github.com/sweetpotato0/chatforge/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/chatforge/conversation"
	"github.com/sweetpotato0/chatforge/pkg/logging"
	"github.com/sweetpotato0/chatforge/pkg/telemetry"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/service"
	"github.com/sweetpotato0/chatforge/store"
)

func main() {
	logger := logging.WithComponent("main")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "chatforge"})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	st, err := buildStore(cfg)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}

	completion, moderator, err := buildProvider(ctx, cfg, st)
	if err != nil {
		logger.Error("provider init failed", "error", err)
		os.Exit(1)
	}

	tokenizer, err := tiktoken.New(tiktoken.DefaultEncoding)
	if err != nil {
		logger.Error("tokenizer init failed", "error", err)
		os.Exit(1)
	}

	manager := conversation.NewManager(
		conversation.WithStore(st),
		conversation.WithProvider(completion),
		conversation.WithModerator(moderator),
		conversation.WithTokenCounter(tokenizer.CountTokens),
		conversation.WithBudget(cfg.TokenBudget),
	)

	server := service.NewServer(manager, cfg.EndpointAPIKey)
	logger.Info("chatforge starting", "provider", cfg.Provider, "store", cfg.Store)
	if err := server.Run(cfg.HTTPAddr); err != nil {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return store.NewPostgresStore(&store.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
	case config.StoreMemory:
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// buildProvider selects the completion backend once for the whole process.
// Moderation always runs through OpenAI: the selected provider when it is
// OpenAI itself, otherwise a dedicated client when OPENAI_API_KEY is set.
func buildProvider(ctx context.Context, cfg *config.Config, st store.Store) (provider.CompletionProvider, provider.Moderator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p := openai.New(openai.DefaultConfig().WithAPIKey(cfg.APIKey).WithModel(cfg.Model))
		return p, p, nil

	case config.ProviderAnthropic:
		c := claude.DefaultConfig()
		c.APIKey = cfg.APIKey
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		return claude.New(c), fallbackModerator(), nil

	case config.ProviderDeepSeek:
		return deepseek.New(deepseek.DefaultConfig().WithAPIKey(cfg.APIKey).WithModel(cfg.Model)), fallbackModerator(), nil

	case config.ProviderGemini:
		c := gemini.DefaultConfig()
		c.APIKey = cfg.APIKey
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		p, err := gemini.New(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return p, fallbackModerator(), nil

	case config.ProviderAgent:
		runtimeCfg := agent.DefaultRuntimeConfig()
		runtimeCfg.MongoURI = cfg.Mongo.URI
		runtimeCfg.MongoDatabase = cfg.Mongo.Database
		runtimeCfg.RedisAddr = cfg.Redis.Addr
		runtimeCfg.RedisPassword = cfg.Redis.Password
		runtimeCfg.RedisDB = cfg.Redis.DB
		runtimeCfg.APIKey = cfg.APIKey
		if cfg.Model != "" {
			runtimeCfg.Model = cfg.Model
		}
		return agent.NewProvider(st, runtimeCfg), fallbackModerator(), nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func fallbackModerator() provider.Moderator {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	return openai.New(openai.DefaultConfig().WithAPIKey(key))
}
