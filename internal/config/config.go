// Package config loads loom settings from a YAML file, a .env file, LOOM_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/persistence/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LOOM_STORE_BACKEND.
const EnvPrefix = "LOOM"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type StoreConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=memory file redis"`
	Dir     string      `mapstructure:"dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis store and its session locks.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`
}

type RunnerConfig struct {
	Concurrency     int  `mapstructure:"concurrency" validate:"gte=1"`
	MaxSteps        int  `mapstructure:"max_steps" validate:"gte=0"`
	MaxPayloadBytes int  `mapstructure:"max_payload_bytes" validate:"gte=0"`
	Snapshots       bool `mapstructure:"snapshots"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// SecurityConfig configures the persistence middlewares. Keys are 32 bytes,
// base64 or hex encoded.
type SecurityConfig struct {
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	PIIPatterns   []string `mapstructure:"pii_patterns"`
}

type WorkflowsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

var defaults = map[string]any{
	"log.level":                "info",
	"log.format":               "text",
	"store.backend":            BackendFile,
	"store.dir":                ".loom/sessions",
	"store.redis.addr":         "localhost:6379",
	"store.redis.password":     "",
	"store.redis.db":           0,
	"store.redis.prefix":       "loom:session:",
	"store.redis.ttl":          "0s",
	"store.redis.lock_ttl":     "30s",
	"runner.concurrency":       4,
	"runner.max_steps":         10000,
	"runner.max_payload_bytes": 0,
	"runner.snapshots":         false,
	"server.addr":              ":8080",
	"security.encryption_key":  "",
	"security.fallback_keys":   []string{},
	"security.pii_patterns":    []string{},
	"workflows.dir":            "workflows",
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"store":       "store.backend",
	"workflows":   "workflows.dir",
	"addr":        "server.addr",
	"concurrency": "runner.concurrency",
}

type loadOptions struct {
	file    string
	envFile string
	flags   *pflag.FlagSet
}

// Option configures Load.
type Option func(*loadOptions)

// WithFile reads a YAML config file. A missing file is an error.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithEnvFile loads a .env file into the process environment. Variables that are
// already set win. A missing file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// WithFlags binds the known flags of fs that were set on the command line.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *loadOptions) { o.flags = fs }
}

// Load builds and validates the configuration.
func Load(opts ...Option) (*Config, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if lo.file != "" {
		v.SetConfigFile(lo.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", lo.file, err)
		}
	}

	if lo.envFile != "" {
		if err := godotenv.Load(lo.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", lo.envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if lo.flags != nil {
		for name, key := range flagKeys {
			f := lo.flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Dir == "" {
			return errors.New("invalid config: store.dir is required for the file backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("invalid config: store.redis.addr is required for the redis backend")
		}
	}
	if c.Security.EncryptionKey == "" && len(c.Security.FallbackKeys) > 0 {
		return errors.New("invalid config: security.fallback_keys need security.encryption_key")
	}
	if _, err := c.Security.Keys(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Keys decodes the encryption keys. It returns nil when encryption is off.
func (s SecurityConfig) Keys() (*middleware.EncryptionConfig, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	active, err := middleware.ParseKey(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	ec := &middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range s.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("security.fallback_keys[%d]: %w", i, err)
		}
		ec.FallbackKeys = append(ec.FallbackKeys, key)
	}
	return ec, nil
}
