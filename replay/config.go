package replay

import (
	"github.com/hazyhaar/domreplay/replay/internal/config"
)

// Config is the top-level domreplay configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to replay.
type PageConfig = config.PageConfig

// SettleConfig controls how long each step waits for the document to settle.
type SettleConfig = config.SettleConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// APIConfig controls the HTTP surface.
type APIConfig = config.APIConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
