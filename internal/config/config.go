package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/context-graph/internal/resilience"
	"github.com/sells-group/context-graph/internal/resolve"
	"github.com/sells-group/context-graph/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Resolve  ResolveConfig  `yaml:"resolve" mapstructure:"resolve"`
	Apply    ApplyConfig    `yaml:"apply" mapstructure:"apply"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	Driver      string         `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string         `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string         `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32          `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32          `yaml:"min_conns" mapstructure:"min_conns"`
	S3          store.S3Config `yaml:"s3" mapstructure:"s3"`
}

// Options converts the config into store.Open options.
func (c StoreConfig) Options() store.Options {
	return store.Options{
		Driver:      c.Driver,
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
		Pool:        store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns},
		S3:          c.S3,
	}
}

// RegistryConfig points at the schema file. An empty path uses the built-in
// schema.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ResolveConfig tunes entity resolution.
type ResolveConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Policy    string  `yaml:"policy" mapstructure:"policy"`
}

// ApplyConfig tunes the conflict retry loop and the store circuit breaker.
type ApplyConfig struct {
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// Retry returns the retry configuration for conflict retries.
func (c ApplyConfig) Retry() resilience.RetryConfig {
	return resilience.FromConfig(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs)
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and CONTEXT_*
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "context.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.path_style", false)
	v.SetDefault("store.s3.prefix", "graphs/")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("registry.path", "")
	v.SetDefault("resolve.threshold", resolve.DefaultThreshold)
	v.SetDefault("resolve.policy", string(resolve.PolicyGreedy))
	v.SetDefault("apply.max_attempts", 5)
	v.SetDefault("apply.initial_backoff_ms", 20)
	v.SetDefault("apply.max_backoff_ms", 500)
	v.SetDefault("apply.breaker_threshold", 5)
	v.SetDefault("apply.breaker_reset_secs", 30)
	v.SetDefault("apply.max_concurrent_runs", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

// Validate checks the settings a command needs. mode is the command group:
// "apply", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverPostgres:
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	case store.DriverS3:
		if c.Store.S3.Bucket == "" {
			missing = append(missing, "store.s3.bucket")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Resolve.Threshold <= 0 || c.Resolve.Threshold > 1 {
		return eris.Errorf("config: resolve.threshold must be in (0,1], got %v", c.Resolve.Threshold)
	}
	if _, err := resolve.ParsePolicy(c.Resolve.Policy); err != nil {
		return eris.Wrap(err, "config")
	}

	switch mode {
	case "apply":
		if c.Apply.MaxConcurrentRuns < 1 {
			return eris.Errorf("config: apply.max_concurrent_runs must be at least 1, got %d", c.Apply.MaxConcurrentRuns)
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port out of range: %d", c.Server.Port)
		}
	case "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
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
	zap.ReplaceGlobals(logger)

	return nil
}
