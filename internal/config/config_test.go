package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable applyEnvOverrides reads so tests control the
// environment fully.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_APP_ID", "GITHUB_PRIVATE_KEY",
		"GITHUB_PRIVATE_KEY_PATH", "GITHUB_WEBHOOK_SECRET",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 100, cfg.Scan.MaxPRs)
	assert.Equal(t, 85, cfg.Scan.MergeThreshold)
	assert.Equal(t, 25, cfg.Scan.SpamThreshold)
	assert.Equal(t, 0.85, cfg.Scan.RelatedThreshold)
	assert.Equal(t, "treliq-dedup", cfg.Qdrant.Collection)
	assert.False(t, cfg.AppMode())
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treliq.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are allowed
		"provider": {"name": "gemini"},
		"scan": {"maxPrs": 30}, // trailing commas too
	}`), 0o644))

	m, err := loadJSONC(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", m["provider"].(map[string]any)["name"])
}

func TestLoadJSONC_Missing(t *testing.T) {
	_, err := loadJSONC(filepath.Join(t.TempDir(), "nope.jsonc"))
	assert.Error(t, err)
}

func TestMergeIntoConfig(t *testing.T) {
	cfg := Default()
	err := mergeIntoConfig(&cfg, map[string]any{
		"github": map[string]any{"token": "ghp_file"},
		"scan":   map[string]any{"maxPrs": float64(25), "trustContributors": true},
	})
	require.NoError(t, err)

	assert.Equal(t, "ghp_file", cfg.GitHub.Token)
	assert.Equal(t, 25, cfg.Scan.MaxPRs)
	assert.True(t, cfg.Scan.TrustContributors)
	// Untouched defaults survive the merge.
	assert.Equal(t, 85, cfg.Scan.MergeThreshold)
	assert.Equal(t, "treliq-dedup", cfg.Qdrant.Collection)
}

func TestApplyEnvOverrides_GitHub(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("GITHUB_APP_ID", "12345")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s3cr3t")

	cfg := Default()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "ghp_env", cfg.GitHub.Token)
	assert.Equal(t, int64(12345), cfg.GitHub.AppID)
	assert.Equal(t, "s3cr3t", cfg.GitHub.WebhookSecret)
	assert.True(t, cfg.AppMode())
}

func TestApplyEnvOverrides_FirstProviderKeyWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg := Default()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "sk-openai", cfg.Provider.APIKey)
}

func TestApplyEnvOverrides_ConfiguredProviderKeepsPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg := Default()
	cfg.Provider.Name = "anthropic"
	applyEnvOverrides(&cfg)

	// The file-selected provider picks up its own key, not the first one seen.
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, "sk-ant", cfg.Provider.APIKey)
}

func TestApplyEnvOverrides_ExplicitKeyNotOverwritten(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := Default()
	cfg.Provider.Name = "openai"
	cfg.Provider.APIKey = "sk-file"
	applyEnvOverrides(&cfg)

	assert.Equal(t, "sk-file", cfg.Provider.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid PAT mode",
			mutate: func(c *Config) { c.GitHub.Token = "ghp_x" },
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) {},
			wantErr: "missing GitHub token",
		},
		{
			name: "app mode without key",
			mutate: func(c *Config) {
				c.GitHub.AppID = 7
			},
			wantErr: "app mode requires",
		},
		{
			name: "app mode with key path",
			mutate: func(c *Config) {
				c.GitHub.AppID = 7
				c.GitHub.PrivateKeyPath = "/tmp/key.pem"
			},
		},
		{
			name: "provider without key",
			mutate: func(c *Config) {
				c.GitHub.Token = "ghp_x"
				c.Provider.Name = "gemini"
			},
			wantErr: "no API key found",
		},
		{
			name: "non-positive maxPrs",
			mutate: func(c *Config) {
				c.GitHub.Token = "ghp_x"
				c.Scan.MaxPRs = 0
			},
			wantErr: "maxPrs",
		},
		{
			name: "related threshold out of range",
			mutate: func(c *Config) {
				c.GitHub.Token = "ghp_x"
				c.Scan.RelatedThreshold = 1.5
			},
			wantErr: "relatedThreshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
