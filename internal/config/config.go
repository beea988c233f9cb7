// Package config loads treliq configuration from JSONC files with
// environment-variable overrides layered on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// ErrInvalid wraps every configuration validation failure so callers can map
// it to the configuration-error exit code.
var ErrInvalid = errors.New("invalid configuration")

// GitHubConfig selects PAT or App authentication. A non-zero AppID selects
// app mode.
type GitHubConfig struct {
	Token          string `json:"token"`
	AppID          int64  `json:"appId"`
	PrivateKey     string `json:"privateKey"`
	PrivateKeyPath string `json:"privateKeyPath"`
	WebhookSecret  string `json:"webhookSecret"`
}

// ProviderConfig selects and keys the LLM vendor.
type ProviderConfig struct {
	Name   string `json:"name"`
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`
}

// ScanConfig holds per-scan defaults overridable by CLI flags.
type ScanConfig struct {
	MaxPRs            int     `json:"maxPrs"`
	TrustContributors bool    `json:"trustContributors"`
	MergeThreshold    int     `json:"mergeThreshold"`
	SpamThreshold     int     `json:"spamThreshold"`
	RelatedThreshold  float64 `json:"relatedThreshold"`
	CacheEmbeddings   bool    `json:"cacheEmbeddings"`
}

// QdrantConfig enables the ANN vector store for dedup.
type QdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"apiKey"`
	Collection string `json:"collection"`
}

// Config is the merged runtime configuration.
type Config struct {
	GitHub   GitHubConfig   `json:"github"`
	Provider ProviderConfig `json:"provider"`
	Scan     ScanConfig     `json:"scan"`
	Qdrant   QdrantConfig   `json:"qdrant"`
	CacheDir string         `json:"cacheDir"`
	DBPath   string         `json:"dbPath"`
}

// Default returns the baseline configuration before any file or env layer.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			MaxPRs:           100,
			MergeThreshold:   85,
			SpamThreshold:    25,
			RelatedThreshold: 0.85,
		},
		Qdrant: QdrantConfig{Collection: "treliq-dedup"},
	}
}

// Load merges, in order: defaults, the user config file
// (~/.config/treliq/treliq.jsonc), a local ./treliq.jsonc, then environment
// variables. A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if userDir, err := os.UserConfigDir(); err == nil {
		if m, err := loadJSONC(filepath.Join(userDir, "treliq", "treliq.jsonc")); err == nil {
			if err := mergeIntoConfig(&cfg, m); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}
	if m, err := loadJSONC("treliq.jsonc"); err == nil {
		if err := mergeIntoConfig(&cfg, m); err != nil {
			return nil, fmt.Errorf("merging local config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// loadJSONC reads a JSONC file into a map. Missing files surface as errors
// the caller is expected to ignore.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig deep-merges a raw map over the current config through JSON
// round-tripping.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}
	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_APP_ID"); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			cfg.GitHub.AppID = id
		}
	}
	if v := os.Getenv("GITHUB_PRIVATE_KEY"); v != "" {
		cfg.GitHub.PrivateKey = v
	}
	if v := os.Getenv("GITHUB_PRIVATE_KEY_PATH"); v != "" {
		cfg.GitHub.PrivateKeyPath = v
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.GitHub.WebhookSecret = v
	}

	// First configured provider key wins unless a provider was already chosen.
	providerKeys := []struct{ env, name string }{
		{"GEMINI_API_KEY", "gemini"},
		{"OPENAI_API_KEY", "openai"},
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"OPENROUTER_API_KEY", "openrouter"},
	}
	for _, pk := range providerKeys {
		v := os.Getenv(pk.env)
		if v == "" {
			continue
		}
		if cfg.Provider.Name == "" {
			cfg.Provider.Name = pk.name
			cfg.Provider.APIKey = v
		} else if cfg.Provider.Name == pk.name && cfg.Provider.APIKey == "" {
			cfg.Provider.APIKey = v
		}
	}
}

// AppMode reports whether GitHub App authentication is selected.
func (c *Config) AppMode() bool { return c.GitHub.AppID != 0 }

// Validate checks the config for a runnable scan. All failures wrap
// ErrInvalid.
func (c *Config) Validate() error {
	if c.AppMode() {
		if c.GitHub.PrivateKey == "" && c.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("%w: app mode requires GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH", ErrInvalid)
		}
	} else if c.GitHub.Token == "" {
		return fmt.Errorf("%w: missing GitHub token (set GITHUB_TOKEN)", ErrInvalid)
	}
	if c.Provider.Name != "" && c.Provider.APIKey == "" {
		return fmt.Errorf("%w: provider %s selected but no API key found", ErrInvalid, c.Provider.Name)
	}
	if c.Scan.MaxPRs <= 0 {
		return fmt.Errorf("%w: maxPrs must be positive", ErrInvalid)
	}
	if c.Scan.RelatedThreshold <= 0 || c.Scan.RelatedThreshold > 1 {
		return fmt.Errorf("%w: relatedThreshold must be in (0,1]", ErrInvalid)
	}
	return nil
}
