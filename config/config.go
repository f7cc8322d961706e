package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application settings, loaded from environment variables.
type Config struct {
	TelegramBotToken string
	TelegramChatID   int64

	DatabasePath  string
	SiteRulesPath string

	CheckInterval time.Duration
	CycleTimeout  time.Duration

	FetchTimeout    time.Duration
	FetchMaxRetries int
	PerHostInterval time.Duration
	UserAgent       string

	Workers          int
	NotifyFirstCheck bool

	// MetricsAddr enables the prometheus endpoint when non-empty,
	// e.g. ":9090".
	MetricsAddr string
}

// Load reads configuration from the environment. Only the bot token is
// mandatory; everything else has a default.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     getEnv("DATABASE_PATH", "./products.db"),
		SiteRulesPath:    getEnv("SITE_RULES_PATH", "./site_rules.yaml"),
		CheckInterval:    time.Duration(getEnvInt("CHECK_INTERVAL_MINUTES", 5)) * time.Minute,
		CycleTimeout:     time.Duration(getEnvInt("CYCLE_TIMEOUT_SECONDS", 240)) * time.Second,
		FetchTimeout:     time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 15)) * time.Second,
		FetchMaxRetries:  getEnvInt("FETCH_MAX_RETRIES", 2),
		PerHostInterval:  time.Duration(getEnvInt("PER_HOST_INTERVAL_SECONDS", 2)) * time.Second,
		UserAgent:        os.Getenv("FETCH_USER_AGENT"),
		Workers:          getEnvInt("WORKER_COUNT", 4),
		NotifyFirstCheck: getEnvBool("NOTIFY_FIRST_CHECK", false),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatIDStr, err)
		}
		cfg.TelegramChatID = chatID
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
