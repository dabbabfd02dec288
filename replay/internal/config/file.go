// Package config handles domreplay configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domreplay configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Settle  SettleConfig  `yaml:"settle"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	API     APIConfig     `yaml:"api"`
	Marker  string        `yaml:"marker"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines a page to replay.
type PageConfig struct {
	ID           string        `yaml:"id"`
	URL          string        `yaml:"url"`
	StealthLevel string        `yaml:"stealth_level"` // 0 (static) | 1 | 2 | auto
	Settle       time.Duration `yaml:"settle"`        // overrides settle.window
	MaxWait      time.Duration `yaml:"max_wait"`      // overrides settle.max_wait
	MaxSteps     int           `yaml:"max_steps"`
}

// SettleConfig controls how long the driver waits for a script's effects.
type SettleConfig struct {
	Window  time.Duration `yaml:"window"`   // DOM quiet period
	MaxWait time.Duration `yaml:"max_wait"` // hard cap per step
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // sqlite
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Addr string `yaml:"addr"`

	// AllowPrivate lets remote callers open loopback and private URLs.
	AllowPrivate bool `yaml:"allow_private"`
}

// DefaultMaxSteps bounds a replay when a page sets no max_steps. Discovered
// scripts can keep a page producing work forever.
const DefaultMaxSteps = 500

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Settle.Window <= 0 {
		c.Settle.Window = 300 * time.Millisecond
	}
	if c.Settle.MaxWait <= 0 {
		c.Settle.MaxWait = 5 * time.Second
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("page-%d", i+1)
		}
		if p.StealthLevel == "" {
			p.StealthLevel = "auto"
		}
		if p.Settle <= 0 {
			p.Settle = c.Settle.Window
		}
		if p.MaxWait <= 0 {
			p.MaxWait = c.Settle.MaxWait
		}
		if p.MaxSteps <= 0 {
			p.MaxSteps = DefaultMaxSteps
		}
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("config: pages[%d]: url is required", i))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		switch p.StealthLevel {
		case "0", "1", "2", "auto":
		default:
			errs = append(errs, fmt.Errorf("config: pages[%d]: unknown stealth_level %q", i, p.StealthLevel))
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook needs url", i))
			}
		case "sqlite":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: sqlite needs path", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth))
	}
	return errors.Join(errs...)
}
