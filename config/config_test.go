package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collage/config"
)

const sampleConfig = `
capacity = 2500
order = "random"
even_distribution = true
max_age = "72h"

[filter]
profanity_enabled = true
banned_words = ["darn"]

[categories.images]
terms = ["sunset", "@alice", "!spam"]
interval = "45s"

[categories.status]
terms = ["golang"]
interval = "30s"

[providers.image_search]
endpoint = "https://images.example.com"
api_key = "secret"

[providers.stream]
enabled = true
hosts = ["wss://stream.example.com"]
compress = true
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collage.toml")
	assert.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := config.LoadConfig(path)
	assert.NoError(t, err)

	assert.Equal(t, 2500, cfg.Capacity)
	assert.Equal(t, "random", cfg.Order)
	assert.True(t, cfg.EvenDistribution)
	assert.Equal(t, 72*time.Hour, cfg.MaxAge.Duration)

	assert.True(t, cfg.Filter.ProfanityEnabled)
	assert.Equal(t, []string{"darn"}, cfg.Filter.BannedWords)

	images := cfg.Categories["images"]
	assert.Equal(t, []string{"sunset", "@alice", "!spam"}, images.Terms)
	assert.Equal(t, 45*time.Second, images.Interval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Categories["status"].Interval.Duration)

	assert.Equal(t, "https://images.example.com", cfg.Providers.ImageSearch.Endpoint)
	assert.Equal(t, "secret", cfg.Providers.ImageSearch.APIKey)
	assert.True(t, cfg.Providers.Stream.Enabled)
	assert.Equal(t, []string{"wss://stream.example.com"}, cfg.Providers.Stream.Hosts)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collage.toml")
	assert.NoError(t, os.WriteFile(path, []byte("max_age = \"fortnight\"\n"), 0o644))

	_, err := config.LoadConfig(path)
	assert.Error(t, err)
}
