package config

import (
	"fmt"
	"os"
	"strconv"
)

// ProviderConfig holds credentials and model selection for one hosted
// LLM provider speaking the OpenAI-compatible chat completions API.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Config holds settings shared by every subcommand.
type Config struct {
	BindAddr string
	DataDir  string

	// Ordered provider list: primary first, then fallback.
	Primary  ProviderConfig
	Fallback ProviderConfig

	EmbeddingModel string
	GuardModel     string

	Temperature         float64
	MaxTokensChat       int
	MaxTokensSummary    int
	MaxTokensGeneration int
}

// Load builds a Config from environment variables.
func Load() (*Config, error) {
	c := &Config{
		BindAddr: getEnv("BIND_ADDR", "localhost:8000"),
		DataDir:  getEnv("DATA_DIR", "./data"),
		Primary: ProviderConfig{
			Name:    "openrouter",
			APIKey:  os.Getenv("OPENROUTER_API_KEY"),
			BaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   getEnv("PRIMARY_MODEL", "openai/gpt-4o-mini"),
		},
		Fallback: ProviderConfig{
			Name:    "grok",
			APIKey:  os.Getenv("GROK_API_KEY"),
			BaseURL: getEnv("GROK_BASE_URL", "https://api.x.ai/v1"),
			Model:   getEnv("FALLBACK_MODEL", "grok-2-latest"),
		},
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "openai/text-embedding-3-small"),
		GuardModel:          getEnv("GUARD_MODEL", "llama-3.3-70b-versatile"),
		Temperature:         getFloat("TEMPERATURE", 0.7),
		MaxTokensChat:       getInt("MAX_TOKENS_CHAT", 1000),
		MaxTokensSummary:    getInt("MAX_TOKENS_SUMMARY", 500),
		MaxTokensGeneration: getInt("MAX_TOKENS_GENERATION", 3000),
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return nil, fmt.Errorf("TEMPERATURE must be between 0 and 2")
	}
	if c.MaxTokensChat <= 0 {
		return nil, fmt.Errorf("MAX_TOKENS_CHAT must be positive")
	}
	if c.MaxTokensSummary <= 0 {
		return nil, fmt.Errorf("MAX_TOKENS_SUMMARY must be positive")
	}
	if c.MaxTokensGeneration <= 0 {
		return nil, fmt.Errorf("MAX_TOKENS_GENERATION must be positive")
	}

	return c, nil
}

// DBPath returns the SQLite database path under the data directory.
func (c *Config) DBPath() string {
	return c.DataDir + "/spacebio.db"
}

// IndexPath returns the bleve index path under the data directory.
func (c *Config) IndexPath() string {
	return c.DataDir + "/bleve"
}

// HasProviderKeys reports whether at least one provider has an API key.
// Without any key the AI features are disabled rather than failing at
// startup.
func (c *Config) HasProviderKeys() bool {
	return c.Primary.APIKey != "" || c.Fallback.APIKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
