package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the per-profile config.toml.
type Config struct {
	// APIBaseURL is the backend REST API root, e.g. https://api.example.com.
	APIBaseURL string `toml:"api_base_url"`
	// RealtimeURL is the websocket feed endpoint. Defaults to APIBaseURL
	// with the scheme swapped and "/realtime" appended.
	RealtimeURL string `toml:"realtime_url"`
	// APIToken authenticates against the backend. Usually supplied via the
	// OPDESK_API_TOKEN env var (optionally from the profile .env file)
	// instead of being written into the TOML file.
	APIToken string `toml:"api_token"`

	// PageSize is the history fetch page size.
	PageSize int `toml:"page_size"`
	// UploadConcurrency caps concurrent media transmissions.
	UploadConcurrency int `toml:"upload_concurrency"`
	// PrefetchHighPriority is how many of the newest messages get
	// concurrent media prefetch; older ones warm up sequentially.
	PrefetchHighPriority int `toml:"prefetch_high_priority"`
}

// Defaults applied after load for unset fields.
const (
	DefaultPageSize             = 50
	DefaultUploadConcurrency    = 2
	DefaultPrefetchHighPriority = 10
)

// Load reads the TOML config at path and applies env overrides. envPath may
// point at an optional .env file; a missing .env is not an error, a missing
// config file is.
func Load(path, envPath string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	if v := os.Getenv("OPDESK_API_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("OPDESK_REALTIME_URL"); v != "" {
		cfg.RealtimeURL = v
	}
	if v := os.Getenv("OPDESK_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.PrefetchHighPriority <= 0 {
		c.PrefetchHighPriority = DefaultPrefetchHighPriority
	}
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: api_base_url is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("config: api token is required (api_token or OPDESK_API_TOKEN)")
	}
	return nil
}
