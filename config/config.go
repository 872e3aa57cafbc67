// Package config loads the process configuration of the engine and the rule
// files it evaluates.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/sandbox"
)

const (
	SequenceMemory   = "memory"
	SequenceRedis    = "redis"
	SequencePostgres = "postgres"

	defaultEnvPrefix = "RULES"
)

// Config holds the process configuration.
type Config struct {
	// Providers selects the backend of each capability, keyed by capability name.
	Providers map[string]provider.Settings `mapstructure:"providers"`
	Sandbox   struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"sandbox"`
	Pipeline struct {
		FileConcurrency int `mapstructure:"file_concurrency"`
	} `mapstructure:"pipeline"`
	Sequence Sequence `mapstructure:"sequence"`
	Logging  struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	// Rules lists the event template files loaded at start-up.
	Rules []string `mapstructure:"rules"`
}

// Sequence selects the counter store used for executive document numbers.
type Sequence struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	// ConnectRetries bounds the start-up connection attempts of the
	// redis and postgres backends.
	ConnectRetries int `mapstructure:"connect_retries"`
}

// Option tweaks the viper instance before the configuration is read.
type Option func(*viper.Viper)

// WithEnvPrefix overrides the RULES_ environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(v *viper.Viper) { v.SetEnvPrefix(prefix) }
}

// WithSearchPath adds a directory searched for a "rules" config file when no
// explicit path is given.
func WithSearchPath(dir string) Option {
	return func(v *viper.Viper) { v.AddConfigPath(dir) }
}

// Load reads the configuration from path, or from rules.yaml in the current
// directory and ./config when path is empty. Environment variables such as
// RULES_SEQUENCE_BACKEND override file values. A missing default file is not
// an error.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(defaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rules")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("read config: %v", err), err, nil)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("decode config: %v", err), err, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.timeout", sandbox.DefaultTimeout)
	v.SetDefault("pipeline.file_concurrency", 4)
	v.SetDefault("sequence.backend", SequenceMemory)
	v.SetDefault("sequence.prefix", "rules:seq:")
	v.SetDefault("sequence.table", "rule_sequences")
	v.SetDefault("sequence.connect_retries", 3)
	v.SetDefault("logging.level", "info")
}

// Validate checks capability names and the sequence backend.
func (c Config) Validate() error {
	if _, err := c.Selection(); err != nil {
		return err
	}
	switch c.Sequence.Backend {
	case SequenceMemory, "":
	case SequenceRedis:
		if strings.TrimSpace(c.Sequence.RedisURL) == "" {
			return rules.NewConfigurationError("sequence.redis_url is required for the redis backend", nil)
		}
	case SequencePostgres:
		if strings.TrimSpace(c.Sequence.DSN) == "" {
			return rules.NewConfigurationError("sequence.dsn is required for the postgres backend", nil)
		}
	default:
		return rules.NewConfigurationError(
			fmt.Sprintf("unknown sequence backend %q", c.Sequence.Backend),
			map[string]any{"backend": c.Sequence.Backend},
		)
	}
	if c.Pipeline.FileConcurrency < 0 {
		return rules.NewConfigurationError("pipeline.file_concurrency must not be negative", nil)
	}
	return nil
}

// Selection maps the configured providers onto capabilities. Keys are matched
// case-insensitively since viper lowercases them.
func (c Config) Selection() (map[provider.Capability]provider.Settings, error) {
	keys := make([]string, 0, len(c.Providers))
	for k := range c.Providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[provider.Capability]provider.Settings, len(c.Providers))
	for _, k := range keys {
		capability, err := provider.ParseCapability(k)
		if err != nil {
			return nil, err
		}
		if _, dup := out[capability]; dup {
			return nil, rules.NewConfigurationError(
				fmt.Sprintf("capability %s configured twice", capability),
				map[string]any{"capability": capability.String()},
			)
		}
		out[capability] = c.Providers[k]
	}
	return out, nil
}
