// Package config provides configuration loading and management for plancheck.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Dir is the per-project working directory.
const Dir = ".plancheck"

// DefaultPath is the config file location relative to the working directory.
var DefaultPath = filepath.Join(Dir, "config.json")

// Config is the root configuration.
type Config struct {
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`
	Repair    RepairConfig    `json:"repair"    mapstructure:"repair"`
	Enrich    EnrichConfig    `json:"enrich"    mapstructure:"enrich"`
	Store     StoreConfig     `json:"store"     mapstructure:"store"`
	Server    ServerConfig    `json:"server"    mapstructure:"server"`
}

// ReasoningConfig describes the reasoning service connection.
type ReasoningConfig struct {
	Model           string          `json:"model"                mapstructure:"model"`
	APIKey          string          `json:"api_key,omitempty"    mapstructure:"api_key"`
	APIKeyEnv       string          `json:"api_key_env"          mapstructure:"api_key_env"`
	BaseURL         string          `json:"base_url,omitempty"   mapstructure:"base_url"`
	Timeout         time.Duration   `json:"timeout"              mapstructure:"timeout"`
	MaxRetries      int             `json:"max_retries"          mapstructure:"max_retries"`
	Backoff         time.Duration   `json:"backoff"              mapstructure:"backoff"`
	MaxOutputTokens MaxOutputTokens `json:"max_output_tokens"    mapstructure:"max_output_tokens"`
}

// MaxOutputTokens caps the response size of each stage.
type MaxOutputTokens struct {
	Manifest int `json:"manifest" mapstructure:"manifest"`
	Enrich   int `json:"enrich"   mapstructure:"enrich"`
	SubAgent int `json:"subagent" mapstructure:"subagent"`
	Annotate int `json:"annotate" mapstructure:"annotate"`
}

// RepairConfig controls the JSON repair parser.
type RepairConfig struct {
	Lenient bool `json:"lenient" mapstructure:"lenient"`
}

// EnrichConfig controls the enrichment cache.
type EnrichConfig struct {
	CacheSize int           `json:"cache_size" mapstructure:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl"  mapstructure:"cache_ttl"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path      string          `json:"path"      mapstructure:"path"`
	Retention RetentionPolicy `json:"retention" mapstructure:"retention"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string `json:"addr"          mapstructure:"addr"`
	MaxUploadMB int    `json:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Reasoning: ReasoningConfig{
			Model:      "gemini-2.5-pro",
			APIKeyEnv:  "GEMINI_API_KEY",
			Timeout:    5 * time.Minute,
			MaxRetries: 0,
			Backoff:    2 * time.Second,
			MaxOutputTokens: MaxOutputTokens{
				Manifest: 8192,
				Enrich:   12288,
				SubAgent: 8192,
				Annotate: 16384,
			},
		},
		Repair: RepairConfig{Lenient: true},
		Enrich: EnrichConfig{CacheSize: 64, CacheTTL: 24 * time.Hour},
		Store: StoreConfig{
			Path:      filepath.Join(Dir, "plancheck.db"),
			Retention: RetentionPolicy{KeepLast: 200, KeepDays: 30},
		},
		Server: ServerConfig{Addr: ":8080", MaxUploadMB: 50},
	}
}

// Validate checks values the schema cannot express.
func (c Config) Validate() error {
	if c.Reasoning.Model == "" {
		return fmt.Errorf("reasoning.model is required")
	}
	if c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("reasoning.timeout must be > 0")
	}
	if c.Reasoning.MaxRetries < 0 {
		return fmt.Errorf("reasoning.max_retries must be >= 0")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
