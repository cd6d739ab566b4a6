package orm

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/syssam/strata"
	"github.com/syssam/strata/config"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/drivers"
)

// Engine binds a database, the mapper registry and a statement cache. It
// creates sessions and is safe for concurrent use.
type Engine struct {
	db       sql.Database
	registry *Registry
	stmts    *sql.StatementCache
	logger   *slog.Logger

	autoflush      bool
	expireOnCommit bool
	hideParameters bool
	batchSize      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine sessions (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAutoflush sets if sessions flush before running queries (default true).
func WithAutoflush(b bool) Option {
	return func(e *Engine) { e.autoflush = b }
}

// WithExpireOnCommit sets if sessions expire their objects on commit
// (default true).
func WithExpireOnCommit(b bool) Option {
	return func(e *Engine) { e.expireOnCommit = b }
}

// WithHideParameters omits bound values from statement logs.
func WithHideParameters() Option {
	return func(e *Engine) { e.hideParameters = true }
}

// WithBatchSize sets the number of owners loaded by one statement of
// Session.LoadCollections (default DefaultBatchSize).
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithStatementCache sets the statement cache. The default cache compiles
// for the database dialect.
func WithStatementCache(c *sql.StatementCache) Option {
	return func(e *Engine) { e.stmts = c }
}

// NewEngine configures the registry and returns an engine for the database.
func NewEngine(db sql.Database, registry *Registry, opts ...Option) (*Engine, error) {
	if err := registry.Configure(); err != nil {
		return nil, err
	}
	e := &Engine{
		db:             db,
		registry:       registry,
		logger:         slog.Default(),
		autoflush:      true,
		expireOnCommit: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stmts == nil {
		e.stmts = sql.NewStatementCache(db.Dialect())
	}
	return e, nil
}

// OpenConfig opens the configured database and returns an engine using the
// configured settings. Options override the configuration.
func OpenConfig(cfg *config.Config, registry *Registry, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	drv, err := drivers.Open(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}
	var db sql.Database = drv
	if stats := cfg.StatsOptions(); stats != nil {
		db = sql.NewStatsDriver(db, stats...)
	}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))),
		WithAutoflush(cfg.Autoflush),
		WithExpireOnCommit(cfg.ExpireOnCommit),
		WithBatchSize(cfg.BatchSize),
		WithStatementCache(sql.NewStatementCache(drv.Dialect(), cfg.CacheOptions()...)),
	}
	if cfg.HideParameters {
		base = append(base, WithHideParameters())
	}
	e, err := NewEngine(db, registry, append(base, opts...)...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	return e, nil
}

// DB returns the database of the engine.
func (e *Engine) DB() sql.Database { return e.db }

// Registry returns the mapper registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Statements returns the statement cache.
func (e *Engine) Statements() *sql.StatementCache { return e.stmts }

// Close closes the database.
func (e *Engine) Close() error { return e.db.Close() }

// NewSession returns a new session. The session must be closed.
func (e *Engine) NewSession() *Session {
	return newSession(e)
}

// WithSession runs fn in a new session. The session is committed when fn
// succeeds and rolled back otherwise; it is closed on return.
//
//	err := engine.WithSession(ctx, func(ctx context.Context, s *orm.Session) error {
//	    u := users.MustNew(orm.Values{"name": "jack"})
//	    return s.Add(u)
//	})
func (e *Engine) WithSession(ctx context.Context, fn func(context.Context, *Session) error) (err error) {
	s := e.NewSession()
	defer func() {
		if v := recover(); v != nil {
			_ = s.Rollback(ctx)
			s.Close()
			panic(v)
		}
		s.Close()
	}()
	if err := fn(ctx, s); err != nil {
		if rerr := s.Rollback(ctx); rerr != nil {
			return errors.Join(err, &strata.RollbackError{Err: rerr})
		}
		return err
	}
	return s.Commit(ctx)
}
