package agent

import "os"

// credentialKeys is the ordered fallback chain per model provider. Character
// secrets are consulted before the environment, key by key.
var credentialKeys = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"claude":    {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"deepseek":  {"DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// resolveAPIKey picks the credential for a runtime: the character's own
// secrets win, then the process environment, then the configured fallback.
func resolveAPIKey(modelProvider string, secrets map[string]string, fallback string) string {
	keys, ok := credentialKeys[modelProvider]
	if !ok {
		keys = credentialKeys["openai"]
	}
	for _, key := range keys {
		if v := secrets[key]; v != "" {
			return v
		}
	}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return fallback
}
