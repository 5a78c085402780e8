package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so intervals can be written as "45s" or
// "2m" in the TOML file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Category holds one user-editable term list and its poll budget.
type Category struct {
	Terms    []string `toml:"terms"`
	Interval Duration `toml:"interval"`
}

// Filter holds the profanity configuration.
type Filter struct {
	ProfanityEnabled bool     `toml:"profanity_enabled"`
	BannedWords      []string `toml:"banned_words"`
}

// Providers holds endpoints and credentials per provider.
type Providers struct {
	ImageSearch struct {
		Endpoint string `toml:"endpoint"`
		APIKey   string `toml:"api_key"`
	} `toml:"image_search"`

	StatusSearch struct {
		Endpoint string `toml:"endpoint"`
	} `toml:"status_search"`

	Graph struct {
		Endpoint string `toml:"endpoint"`
	} `toml:"graph"`

	News struct {
		Endpoint string `toml:"endpoint"`
	} `toml:"news"`

	Directory struct {
		Endpoint string `toml:"endpoint"`
	} `toml:"directory"`

	Stream struct {
		Enabled   bool     `toml:"enabled"`
		Hosts     []string `toml:"hosts"`
		Compress  bool     `toml:"compress"`
		UserAgent string   `toml:"user_agent"`
	} `toml:"stream"`
}

// Config is the top-level configuration.
type Config struct {
	Capacity         int      `toml:"capacity"`
	Order            string   `toml:"order"`
	EvenDistribution bool     `toml:"even_distribution"`
	MaxAge           Duration `toml:"max_age"`

	Categories map[string]Category `toml:"categories"`
	Filter     Filter              `toml:"filter"`
	Providers  Providers           `toml:"providers"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}
