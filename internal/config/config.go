package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokensCeiling int64  `yaml:"max_tokens_ceiling" mapstructure:"max_tokens_ceiling"`
}

// GenerationConfig configures section page generation.
type GenerationConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	MaxQuestions     int     `yaml:"max_questions" mapstructure:"max_questions"`
	MaxResponseBytes int     `yaml:"max_response_bytes" mapstructure:"max_response_bytes"`
	CallTimeoutSecs  int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	PairTimeoutSecs  int     `yaml:"pair_timeout_secs" mapstructure:"pair_timeout_secs"`
	RetryAttempts    int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryInvalid     bool    `yaml:"retry_invalid" mapstructure:"retry_invalid"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// CacheConfig configures the intermediate page cache.
type CacheConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	RedisURL    string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLMinutes  int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	OpTimeoutMs int    `yaml:"op_timeout_ms" mapstructure:"op_timeout_ms"`
	KeyPrefix   string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// CatalogConfig points at an optional section catalog file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// EventsConfig configures flow status notifications.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Channel  string `yaml:"channel" mapstructure:"channel"`
}

// ServerConfig configures the flow status HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging. File enables a rotating log file in
// addition to stderr.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from ./config.yaml (optional) and environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("COLLECTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens_ceiling", 4096)
	v.SetDefault("generation.workers", 4)
	v.SetDefault("generation.max_questions", 8)
	v.SetDefault("generation.max_response_bytes", 64*1024)
	v.SetDefault("generation.call_timeout_secs", 60)
	v.SetDefault("generation.pair_timeout_secs", 300)
	v.SetDefault("generation.retry_attempts", 3)
	v.SetDefault("generation.retry_backoff_ms", 500)
	v.SetDefault("generation.retry_invalid", false)
	v.SetDefault("generation.rate_per_sec", 0)
	v.SetDefault("generation.rate_burst", 1)
	v.SetDefault("generation.circuit_threshold", 5)
	v.SetDefault("generation.circuit_reset_secs", 30)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.op_timeout_ms", 2000)
	v.SetDefault("cache.key_prefix", "collection:page:")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "collection.db")
	v.SetDefault("catalog.path", "")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.channel", "collection:flow_status")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

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

// Validate checks the fields required by a command mode: "generate",
// "serve", "import" or "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "generate", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		errs = append(errs, c.validateGeneration()...)
		errs = append(errs, c.validateCache()...)
		if c.Events.Enabled && c.Events.RedisURL == "" && c.Cache.RedisURL == "" {
			errs = append(errs, "events.redis_url or cache.redis_url is required when events are enabled")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "import", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	errs = append(errs, c.validateStore()...)

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateGeneration() []string {
	var errs []string
	g := c.Generation
	if g.Workers < 1 || g.Workers > 64 {
		errs = append(errs, "generation.workers must be between 1 and 64")
	}
	if g.MaxQuestions < 1 {
		errs = append(errs, "generation.max_questions must be >= 1")
	}
	if g.MaxResponseBytes < 1024 {
		errs = append(errs, "generation.max_response_bytes must be >= 1024")
	}
	if g.CallTimeoutSecs < 1 {
		errs = append(errs, "generation.call_timeout_secs must be >= 1")
	}
	if g.RetryAttempts < 1 {
		errs = append(errs, "generation.retry_attempts must be >= 1")
	}
	if g.RatePerSec < 0 {
		errs = append(errs, "generation.rate_per_sec must be >= 0")
	}
	return errs
}

func (c *Config) validateCache() []string {
	switch c.Cache.Driver {
	case "memory":
		return nil
	case "redis":
		if c.Cache.RedisURL == "" {
			return []string{"cache.redis_url is required for the redis driver"}
		}
		return nil
	default:
		return []string{"cache.driver must be redis or memory"}
	}
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
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

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)
	return nil
}

