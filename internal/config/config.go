package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// CompletionConfig describes the upstream completion provider.
type CompletionConfig struct {
	Provider    string
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Referer     string
	Title       string

	GeminiAPIKey string
	GeminiModel  string
}

// Config is built once at startup and shared read-only.
type Config struct {
	HTTPPort       string
	DatabaseURL    string
	LogLevel       string
	LogPretty      bool
	JWTSecret      string
	AccessTokenTTL time.Duration
	Completion     CompletionConfig
}

// Load reads .env (if present), an optional config.yaml and the process
// environment, in that order of increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_port", "8080")
	v.SetDefault("database_url", "neuroprom_chat.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("access_token_ttl", 30*time.Minute)
	v.SetDefault("completion_provider", ProviderOpenRouter)
	v.SetDefault("ai_url", "https://openrouter.ai/api/v1/")
	v.SetDefault("ai_api_key", "")
	v.SetDefault("ai_model", "deepseek/deepseek-chat")
	v.SetDefault("ai_temperature", 0.7)
	v.SetDefault("ai_max_tokens", 2000)
	v.SetDefault("ai_timeout", 30*time.Second)
	v.SetDefault("ai_referer", "https://neuroprom.com")
	v.SetDefault("ai_title", "NeuroProm Chat")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-1.5-flash-latest")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Printf("Ignoring unreadable config file: %v", err)
		}
	}
	return v
}

// FromViper validates and freezes the values held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:       v.GetString("http_port"),
		DatabaseURL:    v.GetString("database_url"),
		LogLevel:       v.GetString("log_level"),
		LogPretty:      v.GetBool("log_pretty"),
		JWTSecret:      v.GetString("jwt_secret"),
		AccessTokenTTL: v.GetDuration("access_token_ttl"),
		Completion: CompletionConfig{
			Provider:     strings.ToLower(strings.TrimSpace(v.GetString("completion_provider"))),
			URL:          v.GetString("ai_url"),
			APIKey:       v.GetString("ai_api_key"),
			Model:        v.GetString("ai_model"),
			Temperature:  v.GetFloat64("ai_temperature"),
			MaxTokens:    v.GetInt("ai_max_tokens"),
			Timeout:      v.GetDuration("ai_timeout"),
			Referer:      v.GetString("ai_referer"),
			Title:        v.GetString("ai_title"),
			GeminiAPIKey: v.GetString("gemini_api_key"),
			GeminiModel:  v.GetString("gemini_model"),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", cfg.AccessTokenTTL)
	}
	if cfg.Completion.Timeout <= 0 {
		return nil, fmt.Errorf("AI_TIMEOUT must be positive, got %s", cfg.Completion.Timeout)
	}

	switch cfg.Completion.Provider {
	case ProviderOpenRouter:
		if cfg.Completion.APIKey == "" {
			return nil, errors.New("AI_API_KEY environment variable is required")
		}
	case ProviderGemini:
		if cfg.Completion.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
	default:
		return nil, fmt.Errorf("unknown COMPLETION_PROVIDER %q", cfg.Completion.Provider)
	}

	return cfg, nil
}
