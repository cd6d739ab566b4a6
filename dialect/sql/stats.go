package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/strata/dialect"
)

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the number of executed statements returning rows.
	TotalQueries atomic.Int64
	// TotalExecs is the number of executed statements without result rows.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing queries.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of queries exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of query errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average query duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a Database with statement statistics collection.
type StatsDriver struct {
	Database
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the default logger.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		slog.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", args)
	})
}

// NewStatsDriver wraps a Database with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open(dialect.PostgresDialect, "pgx", dsn)
//	db := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	engine := orm.NewEngine(db, registry)
//
//	// Later, check statistics:
//	fmt.Println(db.QueryStats().Stats())
func NewStatsDriver(db Database, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Database:      db,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow query threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Execute executes a statement and records statistics.
func (d *StatsDriver) Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error) {
	start := time.Now()
	res, err := d.Database.Execute(ctx, cs, args)
	d.record(ctx, cs, args, start, err)
	return res, err
}

func (d *StatsDriver) record(ctx context.Context, cs *Compiled, args []any, start time.Time, err error) {
	duration := time.Since(start)
	if cs.Returning() {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, cs.SQL, args, duration)
		}
	}
}

// Begin starts a transaction that also records statistics.
func (d *StatsDriver) Begin(ctx context.Context) (Transaction, error) {
	tx, err := d.Database.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Transaction: tx, driver: d}, nil
}

// StatsTx wraps a transaction with statistics collection.
type StatsTx struct {
	Transaction
	driver *StatsDriver
}

// Execute executes a statement within the transaction and records
// statistics.
func (tx *StatsTx) Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error) {
	start := time.Now()
	res, err := tx.Transaction.Execute(ctx, cs, args)
	tx.driver.record(ctx, cs, args, start, err)
	return res, err
}

// DebugDriver wraps a Database with statement logging.
type DebugDriver struct {
	Database
	log *slog.Logger
}

// NewDebugDriver wraps a Database and logs every statement at debug
// level. A nil logger uses slog.Default.
func NewDebugDriver(db Database, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Database: db, log: logger}
}

// Execute logs the statement and executes it.
func (d *DebugDriver) Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error) {
	d.log.DebugContext(ctx, "execute", "sql", cs.SQL, "args", args)
	return d.Database.Execute(ctx, cs, args)
}

// Begin starts a transaction with statement logging.
func (d *DebugDriver) Begin(ctx context.Context) (Transaction, error) {
	d.log.DebugContext(ctx, "begin transaction")
	tx, err := d.Database.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Transaction: tx, log: d.log}, nil
}

// DebugTx wraps a transaction with statement logging.
type DebugTx struct {
	Transaction
	log *slog.Logger
}

// Execute logs the statement and executes it within the transaction.
func (tx *DebugTx) Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error) {
	tx.log.DebugContext(ctx, "tx execute", "sql", cs.SQL, "args", args)
	return tx.Transaction.Execute(ctx, cs, args)
}

// Commit commits the transaction and logs it.
func (tx *DebugTx) Commit() error {
	tx.log.Debug("commit transaction")
	return tx.Transaction.Commit()
}

// Rollback rolls back the transaction and logs it.
func (tx *DebugTx) Rollback() error {
	tx.log.Debug("rollback transaction")
	return tx.Transaction.Rollback()
}

// Ensure interfaces are implemented.
var (
	_ Database    = (*StatsDriver)(nil)
	_ Transaction = (*StatsTx)(nil)
	_ Database    = (*DebugDriver)(nil)
	_ Transaction = (*DebugTx)(nil)
)

// OpenWithStats opens a database connection with statistics collection
// enabled.
func OpenWithStats(d dialect.Dialect, driverName, source string, opts ...StatsOption) (*StatsDriver, *QueryStats, error) {
	drv, err := Open(d, driverName, source)
	if err != nil {
		return nil, nil, err
	}
	statsDriver := NewStatsDriver(drv, opts...)
	return statsDriver, statsDriver.QueryStats(), nil
}
