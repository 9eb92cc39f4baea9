// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DataDir   string `envconfig:"DATA_DIR" default:"./data"`

	OpenRouterAPIKey  string `envconfig:"OPENROUTER_API_KEY" required:"true"`
	OpenRouterBaseURL string `envconfig:"OPENROUTER_BASE_URL" default:""`

	StoryModel    string  `envconfig:"STORY_MODEL" default:"anthropic/claude-3.5-sonnet"`
	AnalysisModel string  `envconfig:"ANALYSIS_MODEL" default:""`
	SummaryModel  string  `envconfig:"SUMMARY_MODEL" default:""`
	Temperature   float32 `envconfig:"STORY_TEMPERATURE" default:"0.8"`
	MaxTokens     int     `envconfig:"MAX_TOKENS" default:"0"`

	HistoryLimit     int `envconfig:"HISTORY_LIMIT" default:"10"`
	AnalysisInterval int `envconfig:"ANALYSIS_INTERVAL" default:"2"`
	SummaryInterval  int `envconfig:"SUMMARY_INTERVAL" default:"3"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured level string onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
