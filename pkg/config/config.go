// Package config loads extraction settings from YAML files and the
// environment.
//
// A config file names the REST sources to extract together with the shared
// HTTP, Redis, logging and output settings. Every key can be overridden with
// an ARCGIS_ prefixed environment variable, dots replaced by underscores
// (ARCGIS_HTTP_REQUESTS_PER_SECOND=5).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/Sternrassler/arcgis-rest-client/pkg/logging"
	"github.com/Sternrassler/arcgis-rest-client/pkg/sink"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "ARCGIS"

// Sink types.
const (
	SinkFile  = "file"
	SinkMinio = "minio"
)

// Config is the complete application configuration.
type Config struct {
	Logging    logging.Config  `mapstructure:"logging"`
	HTTP       client.Config   `mapstructure:"http"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Sink       SinkConfig      `mapstructure:"sink"`
	Workspaces Workspaces      `mapstructure:"workspaces"`
	Extract    ExtractDefaults `mapstructure:"extract"`

	// UseBBoxFilter applies GlobalBBox to sources without their own bbox.
	UseBBoxFilter bool       `mapstructure:"use_bbox_filter"`
	GlobalBBox    GlobalBBox `mapstructure:"global_bbox"`

	Sources []SourceConfig `mapstructure:"sources"`
}

// RedisConfig enables the shared breaker state and metadata cache. An empty
// Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SinkConfig selects where collections are written.
type SinkConfig struct {
	Type  string           `mapstructure:"type"`
	Minio sink.MinioConfig `mapstructure:"minio"`
}

// Workspaces holds local directories.
type Workspaces struct {
	Downloads string `mapstructure:"downloads"`
}

// ExtractDefaults apply to every source unless its raw settings override them.
type ExtractDefaults struct {
	UseOIDSweep   any           `mapstructure:"use_oid_sweep"`
	PageSize      int           `mapstructure:"page_size"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	FailFast      bool          `mapstructure:"fail_fast"`
	OutSR         int           `mapstructure:"out_sr"`
	Format        string        `mapstructure:"format"`
	DiagnoseEmpty bool          `mapstructure:"diagnose_empty"`
}

// GlobalBBox is the shared spatial filter. CRS is an EPSG code, "EPSG:n",
// "WGS84" or "CRS84".
type GlobalBBox struct {
	Coords []float64 `mapstructure:"coords"`
	CRS    any       `mapstructure:"crs"`
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithViper unmarshals configuration from a prepared Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	switch c.Sink.Type {
	case SinkFile:
		if c.Workspaces.Downloads == "" {
			return fmt.Errorf("workspaces.downloads is required for the file sink")
		}
	case SinkMinio:
		if c.Sink.Minio.Endpoint == "" || c.Sink.Minio.Bucket == "" {
			return fmt.Errorf("sink.minio.endpoint and sink.minio.bucket are required")
		}
	default:
		return fmt.Errorf("sink.type must be %q or %q (got %q)", SinkFile, SinkMinio, c.Sink.Type)
	}

	if c.UseBBoxFilter {
		if _, err := c.GlobalBBox.BBox(); err != nil {
			return fmt.Errorf("global_bbox: %w", err)
		}
		if _, err := ParseCRS(c.GlobalBBox.CRS); err != nil {
			return fmt.Errorf("global_bbox: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		key := s.Authority + "/" + s.Name
		if seen[key] {
			return fmt.Errorf("sources[%d]: duplicate source %s", i, key)
		}
		seen[key] = true
		if s.IsREST() && s.URL == "" {
			return fmt.Errorf("sources[%d] %s: url is required", i, s.Name)
		}
	}
	return nil
}

// RESTSources returns the enabled sources of type "rest" in file order.
func (c *Config) RESTSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.IsREST() && s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// Source returns the source called name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}
