package config

import (
	"os"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
			PageSize:    100,
			MaxRetries:  3,
			RetryDelay:  2 * time.Second,
			Timeout:     30 * time.Second,
		},
		Scanner: ScannerConfig{
			Interval:      5 * time.Second,
			HistoryWindow: 5 * time.Minute,
			MaxMoves:      500,
			NotifyTopK:    10,
		},
		Server: ServerConfig{
			Addr:            ":5000",
			RefreshInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			DBPath: "./data/test.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
polymarket:
  page_size: 50
  retry_delay: 1s

scanner:
  interval: 10s
  history_window: 10m
  max_moves: 200

server:
  addr: ":8080"

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Values from the file override defaults.
	if cfg.Polymarket.PageSize != 50 {
		t.Errorf("Unexpected page size: %d", cfg.Polymarket.PageSize)
	}
	if cfg.Scanner.Interval != 10*time.Second {
		t.Errorf("Unexpected scan interval: %v", cfg.Scanner.Interval)
	}
	if cfg.Scanner.HistoryWindow != 10*time.Minute {
		t.Errorf("Unexpected history window: %v", cfg.Scanner.HistoryWindow)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Unexpected server addr: %s", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Unexpected log level: %s", cfg.Logging.Level)
	}

	// Defaults fill the gaps the file leaves.
	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("Unexpected gamma api url: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.MaxRetries != 3 {
		t.Errorf("Unexpected max retries: %d", cfg.Polymarket.MaxRetries)
	}
	if cfg.Polymarket.Timeout != 30*time.Second {
		t.Errorf("Unexpected timeout: %v", cfg.Polymarket.Timeout)
	}
	if cfg.Scanner.NotifyTopK != 10 {
		t.Errorf("Unexpected notify top k: %d", cfg.Scanner.NotifyTopK)
	}
	if cfg.Server.RefreshInterval != 5*time.Second {
		t.Errorf("Unexpected refresh interval: %v", cfg.Server.RefreshInterval)
	}
	if cfg.Telegram.Enabled {
		t.Error("Telegram should be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing gamma api url",
			mutate:  func(c *Config) { c.Polymarket.GammaAPIURL = "" },
			wantErr: true,
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Polymarket.PageSize = 5000 },
			wantErr: true,
		},
		{
			name:    "zero max retries",
			mutate:  func(c *Config) { c.Polymarket.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "sub-second scan interval",
			mutate:  func(c *Config) { c.Scanner.Interval = 100 * time.Millisecond },
			wantErr: true,
		},
		{
			name: "history window shorter than interval",
			mutate: func(c *Config) {
				c.Scanner.Interval = time.Minute
				c.Scanner.HistoryWindow = 30 * time.Second
			},
			wantErr: true,
		},
		{
			name:    "zero max moves",
			mutate:  func(c *Config) { c.Scanner.MaxMoves = 0 },
			wantErr: true,
		},
		{
			name:    "missing server addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: true,
		},
		{
			name:    "missing db path",
			mutate:  func(c *Config) { c.Storage.DBPath = "" },
			wantErr: true,
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "chat" },
			wantErr: true,
		},
		{
			name: "telegram enabled with credentials",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.BotToken = "token"
				c.Telegram.ChatID = "chat"
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
