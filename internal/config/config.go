// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CatalogConfig configures the reference catalog backend.
type CatalogConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	CacheEntries  int    `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLSecs  int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheDisabled bool   `yaml:"cache_disabled" mapstructure:"cache_disabled"`
}

// ImportConfig configures the staging and validation pipeline.
type ImportConfig struct {
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxValue     string `yaml:"max_value" mapstructure:"max_value"` // sanity threshold for implausibly large values
	DefaultActor string `yaml:"default_actor" mapstructure:"default_actor"`
}

// AggregateConfig configures the aggregation engine caches.
type AggregateConfig struct {
	CacheEntries int `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
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
	v.SetEnvPrefix("STATEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catalog.driver", "postgres")
	v.SetDefault("catalog.cache_entries", 4096)
	v.SetDefault("catalog.cache_ttl_secs", 300)
	v.SetDefault("import.batch_size", 5000)
	v.SetDefault("import.max_value", "1000000000")
	v.SetDefault("import.default_actor", "system")
	v.SetDefault("aggregate.cache_entries", 1024)
	v.SetDefault("aggregate.cache_ttl_secs", 60)
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
