// Package config loads application configuration from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	WiGLE    WiGLEConfig    `yaml:"wigle" mapstructure:"wigle"`
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// WiGLEConfig holds the observation-API credentials and pacing.
type WiGLEConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Token             string  `yaml:"token" mapstructure:"token"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	SinceDate         string  `yaml:"since_date" mapstructure:"since_date"`
}

// OverpassConfig holds the boundary-source endpoint.
type OverpassConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// SearchConfig tunes the query orchestrator and area resolver.
type SearchConfig struct {
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxBoxArea  float64 `yaml:"max_box_area" mapstructure:"max_box_area"`
	ZIPRadius   float64 `yaml:"zip_radius" mapstructure:"zip_radius"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// CacheConfig configures the persistence backend and TTLs.
type CacheConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	Path             string `yaml:"path" mapstructure:"path"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	BoundaryTTLHours int    `yaml:"boundary_ttl_hours" mapstructure:"boundary_ttl_hours"`
	ResultsTTLHours  int    `yaml:"results_ttl_hours" mapstructure:"results_ttl_hours"`
}

// DataConfig points at the bundled signature and registry files.
type DataConfig struct {
	RegistryDir    string `yaml:"registry_dir" mapstructure:"registry_dir"`
	BSSIDSignature string `yaml:"bssid_signatures" mapstructure:"bssid_signatures"`
	SSIDSignature  string `yaml:"ssid_signatures" mapstructure:"ssid_signatures"`
}

// ExportConfig configures output file generation.
type ExportConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FLOCKFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one: AutomaticEnv only surfaces keys viper
	// already knows, so a default-less key is invisible to env overrides.
	v.SetDefault("wigle.base_url", "https://api.wigle.net")
	v.SetDefault("wigle.token", "")
	v.SetDefault("wigle.requests_per_second", 1.0)
	v.SetDefault("wigle.since_date", "20200101")
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("search.concurrency", 3)
	v.SetDefault("search.max_box_area", 0.25)
	v.SetDefault("search.zip_radius", 0.05)
	v.SetDefault("search.max_attempts", 3)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("cache.path", "flockfinder.db")
	v.SetDefault("cache.boundary_ttl_hours", 24)
	v.SetDefault("cache.results_ttl_hours", 1)
	v.SetDefault("data.registry_dir", "data/registry")
	v.SetDefault("data.bssid_signatures", "data/bssid_signatures.json")
	v.SetDefault("data.ssid_signatures", "data/ssid_signatures.json")
	v.SetDefault("export.dir", "output")
	v.SetDefault("export.formats", []string{"json"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
