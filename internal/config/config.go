// Package config loads application configuration from file and environment.
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
	Locator   LocatorConfig   `yaml:"locator" mapstructure:"locator"`
	Census    CensusConfig    `yaml:"census" mapstructure:"census"`
	Districts DistrictsConfig `yaml:"districts" mapstructure:"districts"`
	Corrector CorrectorConfig `yaml:"corrector" mapstructure:"corrector"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the cache/boundary database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LocatorConfig configures the municipal ArcGIS address locator.
type LocatorConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	WarmupURL   string  `yaml:"warmup_url" mapstructure:"warmup_url"`
	RateRPS     float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CensusConfig configures the Census Geocoder fallback.
type CensusConfig struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	RateRPS float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// DistrictsConfig configures district lookup backends.
type DistrictsConfig struct {
	QueryURL     string  `yaml:"query_url" mapstructure:"query_url"`
	Field        string  `yaml:"field" mapstructure:"field"`
	NameField    string  `yaml:"name_field" mapstructure:"name_field"`
	RateRPS      float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	CacheTTLDays int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// CorrectorConfig configures the optional address-correction stage.
type CorrectorConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	DailyQuota int  `yaml:"daily_quota" mapstructure:"daily_quota"`
}

// PipelineConfig configures batch processing.
type PipelineConfig struct {
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	IntervalSecs float64 `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ServerConfig configures the lookup HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and DISTRICT_* environment
// variables, applying defaults for the Austin endpoints.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DISTRICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "district.db")

	v.SetDefault("locator.url", "https://maps.austintexas.gov/arcgis/rest/services/Geocode/COA_Locator/GeocodeServer/findAddressCandidates")
	v.SetDefault("locator.warmup_url", "https://www.austintexas.gov/government")
	v.SetDefault("locator.rate_rps", 1.0)
	v.SetDefault("locator.timeout_secs", 30)

	v.SetDefault("census.enabled", true)
	v.SetDefault("census.rate_rps", 2.0)

	v.SetDefault("districts.query_url", "https://maps.austintexas.gov/gis/rest/Shared/CouncilDistrictsFill/MapServer/0/query")
	v.SetDefault("districts.field", "COUNCIL_DISTRICT")
	v.SetDefault("districts.name_field", "council_di")
	v.SetDefault("districts.rate_rps", 1.0)
	v.SetDefault("districts.timeout_secs", 30)
	v.SetDefault("districts.max_attempts", 3)
	v.SetDefault("districts.cache_ttl_days", 90)

	v.SetDefault("corrector.enabled", false)
	v.SetDefault("corrector.daily_quota", 2000)

	// The default interval is deliberately long: the municipal endpoints are
	// not a published API and must not be hammered.
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.interval_secs", 30.0)

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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
