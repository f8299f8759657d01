// Package config loads the engine configuration from an HCL file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete engine configuration.
type Config struct {
	Server ServerConfig
	Rake   RakeConfig
	Signer SignerConfig
	Store  StoreConfig
}

// fileConfig mirrors Config for HCL decoding; every block is optional.
type fileConfig struct {
	Server *ServerConfig `hcl:"server,block"`
	Rake   *RakeConfig   `hcl:"rake,block"`
	Signer *SignerConfig `hcl:"signer,block"`
	Store  *StoreConfig  `hcl:"store,block"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Address  string `hcl:"address,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// RakeConfig configures the platform fee. An empty wallet address disables
// rake entirely.
type RakeConfig struct {
	WalletAddress string  `hcl:"wallet_address,optional"`
	Percent       float64 `hcl:"percent,optional"`
	MinPotRaw     int64   `hcl:"min_pot_raw,optional"`
}

// SignerConfig configures the custodial signer sidecar connection.
type SignerConfig struct {
	URL       string `hcl:"url,optional"`
	APIKey    string `hcl:"api_key,optional"`
	TimeoutMs int    `hcl:"timeout_ms,optional"`
}

// Timeout returns the signer call timeout.
func (s SignerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// StoreConfig configures the match store.
type StoreConfig struct {
	Path string `hcl:"path,optional"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:  ":8090",
			LogLevel: "info",
		},
		Rake: RakeConfig{
			Percent:   5,
			MinPotRaw: 1000,
		},
		Signer: SignerConfig{
			URL:       "http://localhost:9010",
			TimeoutMs: 30000,
		},
		Store: StoreConfig{
			Path: "settled.db",
		},
	}
}

// envOverrides are applied on top of the file configuration.
type envOverrides struct {
	Address       string  `env:"SETTLED_ADDR"`
	LogLevel      string  `env:"SETTLED_LOG_LEVEL"`
	RakeWallet    string  `env:"SETTLED_RAKE_WALLET"`
	RakePercent   float64 `env:"SETTLED_RAKE_PERCENT"`
	RakeMinPotRaw int64   `env:"SETTLED_RAKE_MIN_POT_RAW"`
	SignerURL     string  `env:"SETTLED_SIGNER_URL"`
	SignerAPIKey  string  `env:"SETTLED_SIGNER_API_KEY"`
	StorePath     string  `env:"SETTLED_STORE_PATH"`
}

// Load reads the HCL file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse config file: %s", diags.Error())
		}
		var parsed fileConfig
		if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("decode config file: %s", diags.Error())
		}
		merge(cfg, &parsed)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func merge(base *Config, parsed *fileConfig) {
	if parsed.Server != nil {
		if parsed.Server.Address != "" {
			base.Server.Address = parsed.Server.Address
		}
		if parsed.Server.LogLevel != "" {
			base.Server.LogLevel = parsed.Server.LogLevel
		}
	}
	if parsed.Rake != nil {
		if parsed.Rake.WalletAddress != "" {
			base.Rake.WalletAddress = parsed.Rake.WalletAddress
		}
		if parsed.Rake.Percent != 0 {
			base.Rake.Percent = parsed.Rake.Percent
		}
		if parsed.Rake.MinPotRaw != 0 {
			base.Rake.MinPotRaw = parsed.Rake.MinPotRaw
		}
	}
	if parsed.Signer != nil {
		if parsed.Signer.URL != "" {
			base.Signer.URL = parsed.Signer.URL
		}
		if parsed.Signer.APIKey != "" {
			base.Signer.APIKey = parsed.Signer.APIKey
		}
		if parsed.Signer.TimeoutMs != 0 {
			base.Signer.TimeoutMs = parsed.Signer.TimeoutMs
		}
	}
	if parsed.Store != nil && parsed.Store.Path != "" {
		base.Store.Path = parsed.Store.Path
	}
}

func applyEnv(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if overrides.Address != "" {
		cfg.Server.Address = overrides.Address
	}
	if overrides.LogLevel != "" {
		cfg.Server.LogLevel = overrides.LogLevel
	}
	if overrides.RakeWallet != "" {
		cfg.Rake.WalletAddress = overrides.RakeWallet
	}
	if overrides.RakePercent != 0 {
		cfg.Rake.Percent = overrides.RakePercent
	}
	if overrides.RakeMinPotRaw != 0 {
		cfg.Rake.MinPotRaw = overrides.RakeMinPotRaw
	}
	if overrides.SignerURL != "" {
		cfg.Signer.URL = overrides.SignerURL
	}
	if overrides.SignerAPIKey != "" {
		cfg.Signer.APIKey = overrides.SignerAPIKey
	}
	if overrides.StorePath != "" {
		cfg.Store.Path = overrides.StorePath
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Rake.Percent < 0 || c.Rake.Percent >= 100 {
		return fmt.Errorf("rake percent must be in [0, 100), got %v", c.Rake.Percent)
	}
	if c.Rake.MinPotRaw < 0 {
		return fmt.Errorf("rake min pot must not be negative, got %d", c.Rake.MinPotRaw)
	}
	if c.Signer.URL == "" {
		return fmt.Errorf("signer url is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}
