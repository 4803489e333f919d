package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PLANCHECK_REASONING_MODEL.
const EnvPrefix = "PLANCHECK"

// Settings returns c as a JSON-ready map with durations in Go notation.
func (c Config) Settings() map[string]any {
	return map[string]any{
		"reasoning": map[string]any{
			"model":       c.Reasoning.Model,
			"api_key":     c.Reasoning.APIKey,
			"api_key_env": c.Reasoning.APIKeyEnv,
			"base_url":    c.Reasoning.BaseURL,
			"timeout":     c.Reasoning.Timeout.String(),
			"max_retries": c.Reasoning.MaxRetries,
			"backoff":     c.Reasoning.Backoff.String(),
			"max_output_tokens": map[string]any{
				"manifest": c.Reasoning.MaxOutputTokens.Manifest,
				"enrich":   c.Reasoning.MaxOutputTokens.Enrich,
				"subagent": c.Reasoning.MaxOutputTokens.SubAgent,
				"annotate": c.Reasoning.MaxOutputTokens.Annotate,
			},
		},
		"repair": map[string]any{"lenient": c.Repair.Lenient},
		"enrich": map[string]any{
			"cache_size": c.Enrich.CacheSize,
			"cache_ttl":  c.Enrich.CacheTTL.String(),
		},
		"store": map[string]any{
			"path": c.Store.Path,
			"retention": map[string]any{
				"keep_last": c.Store.Retention.KeepLast,
				"keep_days": c.Store.Retention.KeepDays,
			},
		},
		"server": map[string]any{
			"addr":          c.Server.Addr,
			"max_upload_mb": c.Server.MaxUploadMB,
		},
	}
}

// Load reads the JSON config at path into v, layered over Default and under
// PLANCHECK_* environment overrides. A missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v, "", Default().Settings())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("json")

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := ValidateSettings(raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write stores c at path as indented JSON.
func Write(path string, c Config) error {
	data, err := json.MarshalIndent(c.Settings(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, prefix string, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := settings[k].(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, settings[k])
	}
}
