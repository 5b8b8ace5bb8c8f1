// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Gamma API client configuration.
type PolymarketConfig struct {
	GammaAPIURL string        `mapstructure:"gamma_api_url"`
	PageSize    int           `mapstructure:"page_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ScannerConfig holds scan loop configuration.
type ScannerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	HistoryWindow time.Duration `mapstructure:"history_window"`
	MaxMoves      int           `mapstructure:"max_moves"`
	NotifyTopK    int           `mapstructure:"notify_top_k"`
}

// ServerConfig holds the dashboard HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("POLYTERMINAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay", "2s")
	v.SetDefault("polymarket.timeout", "30s")

	v.SetDefault("scanner.interval", "5s")
	v.SetDefault("scanner.history_window", "5m")
	v.SetDefault("scanner.max_moves", 500)
	v.SetDefault("scanner.notify_top_k", 10)

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.refresh_interval", "5s")

	v.SetDefault("storage.db_path", "./data/polyterminal.db")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 1000 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 1000")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}
	if c.Polymarket.Timeout < time.Second {
		return fmt.Errorf("polymarket.timeout must be at least 1 second")
	}

	if c.Scanner.Interval < time.Second {
		return fmt.Errorf("scanner.interval must be at least 1 second")
	}
	if c.Scanner.HistoryWindow < c.Scanner.Interval {
		return fmt.Errorf("scanner.history_window must be at least one scan interval")
	}
	if c.Scanner.MaxMoves < 1 {
		return fmt.Errorf("scanner.max_moves must be at least 1")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RefreshInterval < time.Second {
		return fmt.Errorf("server.refresh_interval must be at least 1 second")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
