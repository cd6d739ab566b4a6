// Package config loads the settings of an engine from defaults, an
// optional YAML file and STRATA_ prefixed environment variables, in that
// order of precedence.
//
//	cfg, err := config.Load("strata.yaml")
//	if err != nil {
//	    return err
//	}
//	engine, err := orm.OpenConfig(cfg, registry)
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "STRATA_"

// Config holds the engine and session settings.
type Config struct {
	Dialect            string         `koanf:"dialect"`
	DSN                string         `koanf:"dsn"`
	Paramstyle         string         `koanf:"paramstyle"`
	LiteralBinds       bool           `koanf:"literal_binds"`
	StatementCache     StatementCache `koanf:"statement_cache"`
	SlowQueryThreshold time.Duration  `koanf:"slow_query_threshold"`
	Autoflush          bool           `koanf:"autoflush"`
	ExpireOnCommit     bool           `koanf:"expire_on_commit"`
	HideParameters     bool           `koanf:"hide_parameters"`
	BatchSize          int            `koanf:"batch_size"`
	LogLevel           string         `koanf:"log_level"`
}

// StatementCache bounds the compiled statement cache.
type StatementCache struct {
	Size     int   `koanf:"size"`
	MaxBytes int64 `koanf:"max_bytes"`
}

// Defaults returns the default settings as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"dialect":                   dialect.SQLite,
		"dsn":                       "",
		"paramstyle":                "",
		"literal_binds":             false,
		"statement_cache.size":      500,
		"statement_cache.max_bytes": 0,
		"slow_query_threshold":      "0s",
		"autoflush":                 true,
		"expire_on_commit":          true,
		"hide_parameters":           false,
		"batch_size":                500,
		"log_level":                 "info",
	}
}

// Load reads the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps STRATA_STATEMENT_CACHE_SIZE to statement_cache.size. Other
// variables map to their lower-cased name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "statement_cache_"); ok {
		return "statement_cache." + rest
	}
	return key
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := dialect.Get(c.Dialect); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Paramstyle != "" {
		if _, err := dialect.ParseParamstyle(c.Paramstyle); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.StatementCache.Size < 0 || c.StatementCache.MaxBytes < 0 {
		return fmt.Errorf("config: statement cache bounds must not be negative")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("config: negative batch size %d", c.BatchSize)
	}
	if c.SlowQueryThreshold < 0 {
		return fmt.Errorf("config: negative slow query threshold %s", c.SlowQueryThreshold)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// CompileOptions returns the compiler options of the configuration.
func (c *Config) CompileOptions() []sql.CompileOption {
	var opts []sql.CompileOption
	if c.Paramstyle != "" {
		// Validated by Validate.
		p, _ := dialect.ParseParamstyle(c.Paramstyle)
		opts = append(opts, sql.WithParamstyle(p))
	}
	if c.LiteralBinds {
		opts = append(opts, sql.WithLiteralBinds())
	}
	return opts
}

// CacheOptions returns the statement cache options of the configuration.
func (c *Config) CacheOptions() []sql.CacheOption {
	opts := []sql.CacheOption{sql.WithCompileOptions(c.CompileOptions()...)}
	if c.StatementCache.Size > 0 {
		opts = append(opts, sql.WithCacheSize(c.StatementCache.Size))
	}
	if c.StatementCache.MaxBytes > 0 {
		opts = append(opts, sql.WithCacheMaxBytes(c.StatementCache.MaxBytes))
	}
	return opts
}

// StatsOptions returns the options of the statistics driver, or nil when
// slow statements are not tracked.
func (c *Config) StatsOptions() []sql.StatsOption {
	if c.SlowQueryThreshold == 0 {
		return nil
	}
	return []sql.StatsOption{sql.WithSlowThreshold(c.SlowQueryThreshold), sql.WithSlowQueryLog()}
}
