// Package config provides configuration management for the leapmetrics CLI.
package config

import "time"

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Port           int           `koanf:"port"`
	Watch          bool          `koanf:"watch"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:           DefaultPort,
		Watch:          true,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// GetServerConfig returns the server config with defaults applied for any unset values.
func (c *Config) GetServerConfig() *ServerConfig {
	if c.Server == nil {
		return DefaultServerConfig()
	}
	s := *c.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	return &s
}

// PopulateConfig holds batch population settings.
type PopulateConfig struct {
	Parallelism int `koanf:"parallelism"`
}

// Config holds all CLI configuration options.
type Config struct {
	CatalogDir     string               `koanf:"catalog_dir"`
	DictionaryPath string               `koanf:"dictionary_path"`
	SamplesDir     string               `koanf:"samples_dir"`
	StatePath      string               `koanf:"state_path"`
	Environment    string               `koanf:"environment"`
	Verbose        bool                 `koanf:"verbose"`
	OutputFormat   string               `koanf:"output"`
	Server         *ServerConfig        `koanf:"server"`
	Populate       *PopulateConfig      `koanf:"populate"`
	Environments   map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot anchors relative paths. It is inferred, never read.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	CatalogDir     string `koanf:"catalog_dir"`
	DictionaryPath string `koanf:"dictionary_path"`
	SamplesDir     string `koanf:"samples_dir"`
	StatePath      string `koanf:"state_path"`
}

// Parallelism returns the configured populate parallelism, or 0 for the
// engine default.
func (c *Config) Parallelism() int {
	if c.Populate == nil {
		return 0
	}
	return c.Populate.Parallelism
}

// Default configuration values.
const (
	DefaultCatalogDir     = "catalog"
	DefaultDictionaryPath = "dictionary.yaml"
	DefaultSamplesDir     = "samples"
	DefaultEnv            = "dev"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultPort           = 8780
	DefaultRequestTimeout = 30 * time.Second
)

// ConfigNames are the project config file names, in lookup order.
var ConfigNames = []string{"leapmetrics.yaml", "leapmetrics.yml"}
