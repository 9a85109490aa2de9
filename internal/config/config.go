// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultDatabasePath  = "./data/olx_bot.db"
	DefaultLogLevel      = "info"
	DefaultListenAddr    = ":8080"
	DefaultPollInterval  = 60 * time.Second
	DefaultSourceBaseURL = "https://www.olx.uz"
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultSourceRPS     = 2.0
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	// WebhookURL selects webhook ingestion when set; long polling otherwise.
	WebhookURL  string
	ListenAddr  string
	MetricsAddr string

	PollInterval  time.Duration
	SourceBaseURL string
	UserAgent     string
	SourceRPS     float64
	EnrichDetails bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	interval, err := parseInterval(os.Getenv("POLL_INTERVAL"))
	if err != nil {
		return nil, err
	}

	rps := DefaultSourceRPS
	if raw := os.Getenv("SOURCE_RPS"); raw != "" {
		rps, err = strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("invalid SOURCE_RPS %q: must be a positive number", raw)
		}
	}

	enrich := true
	if raw := os.Getenv("ENRICH_DETAILS"); raw != "" {
		enrich, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ENRICH_DETAILS %q: %w", raw, err)
		}
	}

	allowedUsers, err := parseAllowedUsers(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     envOrDefault("DATABASE_PATH", DefaultDatabasePath),
		LogLevel:         envOrDefault("LOG_LEVEL", DefaultLogLevel),
		AllowedUsers:     allowedUsers,
		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		ListenAddr:       envOrDefault("LISTEN_ADDR", DefaultListenAddr),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
		PollInterval:     interval,
		SourceBaseURL:    strings.TrimRight(envOrDefault("SOURCE_BASE_URL", DefaultSourceBaseURL), "/"),
		UserAgent:        envOrDefault("USER_AGENT", DefaultUserAgent),
		SourceRPS:        rps,
		EnrichDetails:    enrich,
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// WebhookMode reports whether updates arrive through a webhook.
func (c *Config) WebhookMode() bool {
	return c.WebhookURL != ""
}

// parseInterval accepts a Go duration ("90s", "2m") or a bare number of seconds.
func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultPollInterval, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid POLL_INTERVAL %q: must be positive", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid POLL_INTERVAL %q: use seconds or a duration like 90s", raw)
	}
	return d, nil
}

func parseAllowedUsers(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
