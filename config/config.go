// Package config resolves process-wide configuration from the environment
// once at startup. Provider selection and credentials are never re-read per
// request.
package config

import (
	"os"
	"strconv"
)

// Provider names accepted by CHATFORGE_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderDeepSeek  = "deepseek"
	ProviderGemini    = "gemini"
	ProviderAgent     = "agent"
)

// Store backends accepted by CHATFORGE_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	// Provider selects the completion backend for the whole process.
	Provider string
	// APIKey is the provider credential; for the agent runtime it is the
	// fallback behind character secrets and the environment.
	APIKey string
	Model  string

	// EndpointAPIKey authorizes callers of the HTTP boundary.
	EndpointAPIKey string
	HTTPAddr       string

	TokenBudget int

	Store    string
	Postgres PostgresConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

// PostgresConfig holds the durable store endpoint.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// MongoConfig holds the agent runtime storage endpoint.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds the agent runtime cache endpoint.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from CHATFORGE_* environment variables, applying
// defaults where a value is optional.
func Load() *Config {
	return &Config{
		Provider:       envOr("CHATFORGE_PROVIDER", ProviderOpenAI),
		APIKey:         os.Getenv("CHATFORGE_AI_API_KEY"),
		Model:          os.Getenv("CHATFORGE_MODEL"),
		EndpointAPIKey: os.Getenv("CHATFORGE_ENDPOINT_API_KEY"),
		HTTPAddr:       envOr("CHATFORGE_HTTP_ADDR", ":8080"),
		TokenBudget:    envInt("CHATFORGE_TOKEN_BUDGET", 10000),
		Store:          envOr("CHATFORGE_STORE", StoreMemory),
		Postgres: PostgresConfig{
			Host:     envOr("CHATFORGE_POSTGRES_HOST", "localhost"),
			Port:     envInt("CHATFORGE_POSTGRES_PORT", 5432),
			User:     envOr("CHATFORGE_POSTGRES_USER", "postgres"),
			Password: os.Getenv("CHATFORGE_POSTGRES_PASSWORD"),
			DBName:   envOr("CHATFORGE_POSTGRES_DB", "chatforge"),
			SSLMode:  envOr("CHATFORGE_POSTGRES_SSLMODE", "disable"),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("CHATFORGE_MONGO_URI"),
			Database: envOr("CHATFORGE_MONGO_DATABASE", "chatforge"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("CHATFORGE_REDIS_ADDR"),
			Password: os.Getenv("CHATFORGE_REDIS_PASSWORD"),
			DB:       envInt("CHATFORGE_REDIS_DB", 0),
		},
	}
}

// Validate fails fast on a configuration the process cannot run with.
func (c *Config) Validate() error {
	v := NewValidator()
	v.ValidateOneOf("provider", c.Provider,
		ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini, ProviderAgent)
	v.ValidateOneOf("store", c.Store, StorePostgres, StoreMemory)
	v.RequireNonEmpty("endpointAPIKey", c.EndpointAPIKey)
	v.RequirePositive("tokenBudget", c.TokenBudget)

	// The agent runtime resolves credentials per character; every other
	// provider needs the process-wide key up front.
	if c.Provider != ProviderAgent {
		v.RequireNonEmpty("apiKey", c.APIKey)
	}
	if err := v.Error(); err != nil {
		return err
	}

	if c.Store == StorePostgres {
		if err := ValidatePostgresConfig(c.Postgres.Host, c.Postgres.Port, c.Postgres.User,
			c.Postgres.Password, c.Postgres.DBName, c.Postgres.SSLMode); err != nil {
			return err
		}
	}
	if c.Provider == ProviderAgent {
		if c.Mongo.URI != "" {
			if err := ValidateMongoDBConfig(c.Mongo.URI, c.Mongo.Database); err != nil {
				return err
			}
		}
		if c.Redis.Addr != "" {
			if err := ValidateRedisConfig(c.Redis.Addr, c.Redis.DB); err != nil {
				return err
			}
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
