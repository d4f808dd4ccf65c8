package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Config holds the configuration for the application.
type Config struct {
	// Telegram Config
	TelegramBotToken   string
	TelegramWebhookURL string
	AdminTelegramID    int64

	// LLM Config
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	LLMTimeout   time.Duration

	City     string
	AppName  string
	Timezone *time.Location

	DatabasePath        string
	TiersFile           string
	ExhaustedTierPolicy string

	// Payments are disabled unless all three are set.
	PaystackSecretKey  string
	PaymentCallbackURL string
	PaymentStateSecret string

	Port      string
	LogLevel  string
	LogFormat string
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config object from environment variables. Only
// malformed values fail here; credentials are checked by the callers that
// need them (RequireBot, LLMCredentialsError).
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:  os.Getenv("TELEGRAM_WEBHOOK_URL"),
		LLMProvider:         strings.ToLower(getEnv("VIBE_LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GroqAPIKey:          os.Getenv("GROQ_API_KEY"),
		GroqModel:           getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		City:                getEnv("VIBE_CITY", "Accra, Ghana"),
		AppName:             getEnv("VIBE_APP_NAME", "Accra Vibe Planner"),
		DatabasePath:        getEnv("VIBE_DATABASE_PATH", "data/vibe.db"),
		TiersFile:           os.Getenv("VIBE_TIERS_FILE"),
		ExhaustedTierPolicy: getEnv("VIBE_EXHAUSTED_TIER_POLICY", "fallthrough"),
		PaystackSecretKey:   os.Getenv("PAYSTACK_SECRET_KEY"),
		PaymentCallbackURL:  os.Getenv("PAYMENT_CALLBACK_URL"),
		PaymentStateSecret:  os.Getenv("PAYMENT_STATE_SECRET"),
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("VIBE_LOG_LEVEL", "info"),
		LogFormat:           getEnv("VIBE_LOG_FORMAT", "text"),
	}

	if cfg.LLMProvider != ProviderGemini && cfg.LLMProvider != ProviderGroq {
		return nil, fmt.Errorf("VIBE_LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderGroq, cfg.LLMProvider)
	}

	if v := os.Getenv("TELEGRAM_ADMIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ADMIN_ID must be a number: %w", err)
		}
		cfg.AdminTelegramID = id
	}

	timeout, err := time.ParseDuration(getEnv("VIBE_LLM_TIMEOUT", "60s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("VIBE_LLM_TIMEOUT must be a positive duration, got %q", os.Getenv("VIBE_LLM_TIMEOUT"))
	}
	cfg.LLMTimeout = timeout

	tz := getEnv("VIBE_TIMEZONE", "Africa/Accra")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("VIBE_TIMEZONE %q: %w", tz, err)
	}
	cfg.Timezone = loc

	return cfg, nil
}

// RequireBot checks the settings the Telegram bot cannot start without.
func (c *Config) RequireBot() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	return nil
}

// LLMCredentialsError reports a missing API key for the configured provider.
func (c *Config) LLMCredentialsError() error {
	switch c.LLMProvider {
	case ProviderGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	}
	return nil
}

// PaymentsEnabled reports whether the Paystack boundary is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.PaystackSecretKey != "" && c.PaymentCallbackURL != "" && c.PaymentStateSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
