package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, cfg.Dialect)
	assert.Equal(t, 500, cfg.StatementCache.Size)
	assert.True(t, cfg.Autoflush)
	assert.True(t, cfg.ExpireOnCommit)
	assert.False(t, cfg.HideParameters)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Zero(t, cfg.SlowQueryThreshold)
	assert.Nil(t, cfg.StatsOptions())
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
dialect: postgres
dsn: postgres://localhost/app
paramstyle: named
statement_cache:
  size: 64
  max_bytes: 4096
slow_query_threshold: 250ms
autoflush: false
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dialect.Postgres, cfg.Dialect)
	assert.Equal(t, "postgres://localhost/app", cfg.DSN)
	assert.Equal(t, 64, cfg.StatementCache.Size)
	assert.Equal(t, int64(4096), cfg.StatementCache.MaxBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowQueryThreshold)
	assert.False(t, cfg.Autoflush)
	assert.True(t, cfg.ExpireOnCommit)
	assert.Len(t, cfg.StatsOptions(), 2)
	assert.Len(t, cfg.CompileOptions(), 1)
	assert.Len(t, cfg.CacheOptions(), 3)

	d, err := dialect.Get(cfg.Dialect)
	require.NoError(t, err)
	stmt := sql.Select(sql.LiteralValue(1).Label("one"))
	cs, err := sql.Compile(stmt, d, cfg.CompileOptions()...)
	require.NoError(t, err)
	assert.Equal(t, dialect.Named, cs.Paramstyle)
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, "dialect: postgres\n")
	t.Setenv("STRATA_DIALECT", "mysql")
	t.Setenv("STRATA_HIDE_PARAMETERS", "true")
	t.Setenv("STRATA_STATEMENT_CACHE_SIZE", "10")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dialect.MySQL, cfg.Dialect)
	assert.True(t, cfg.HideParameters)
	assert.Equal(t, 10, cfg.StatementCache.Size)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{name: "unknown dialect", cfg: Config{Dialect: "oracle", LogLevel: "info"}, err: `unknown dialect "oracle"`},
		{name: "unknown paramstyle", cfg: Config{Dialect: "sqlite", Paramstyle: "colon", LogLevel: "info"}, err: `unknown paramstyle "colon"`},
		{name: "negative cache", cfg: Config{Dialect: "sqlite", StatementCache: StatementCache{Size: -1}, LogLevel: "info"}, err: "must not be negative"},
		{name: "bad level", cfg: Config{Dialect: "sqlite", LogLevel: "loud"}, err: `log level "loud"`},
		{name: "valid", cfg: Config{Dialect: "postgres", Paramstyle: "qmark", LogLevel: "warn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "dsn", envKey("STRATA_DSN"))
	assert.Equal(t, "expire_on_commit", envKey("STRATA_EXPIRE_ON_COMMIT"))
	assert.Equal(t, "statement_cache.max_bytes", envKey("STRATA_STATEMENT_CACHE_MAX_BYTES"))
}
