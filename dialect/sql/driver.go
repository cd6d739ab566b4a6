package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syssam/strata/dialect"
)

// ExecResult is the outcome of executing a compiled statement.
type ExecResult struct {
	// Columns and Rows hold the result set of a SELECT or of a statement
	// with a RETURNING clause.
	Columns []string
	Rows    [][]any
	// RowsAffected is the number of rows matched by an INSERT, UPDATE or
	// DELETE, or the number of returned rows.
	RowsAffected int64
	// LastInsertID is the key generated by an INSERT, for drivers that
	// report it. HasLastInsertID is false when the value must be queried
	// back.
	LastInsertID    int64
	HasLastInsertID bool
}

// Executor executes compiled statements.
type Executor interface {
	Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error)
}

// Transaction is an Executor bound to a database transaction.
type Transaction interface {
	Executor
	Commit() error
	Rollback() error
}

// Database is a connection pool that executes statements and starts
// transactions.
type Database interface {
	Executor
	Begin(ctx context.Context) (Transaction, error)
	Dialect() dialect.Dialect
	Close() error
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements Executor given an ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect dialect.Dialect
}

// Execute implements the Executor interface.
func (c Conn) Execute(ctx context.Context, cs *Compiled, args []any) (*ExecResult, error) {
	if cs.Returning() {
		rows, err := c.QueryContext(ctx, cs.SQL, args...)
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: query: %w", err)
		}
		defer rows.Close()
		res, err := scanAll(rows, cs.Columns)
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		return res, nil
	}
	r, err := c.ExecContext(ctx, cs.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	res := &ExecResult{}
	if res.RowsAffected, err = r.RowsAffected(); err != nil {
		return nil, fmt.Errorf("dialect/sql: rows affected: %w", err)
	}
	if cs.Kind == KindInsert && c.dialect.Supports(dialect.FeatureLastInsertID) {
		if id, err := r.LastInsertId(); err == nil {
			res.LastInsertID, res.HasLastInsertID = id, true
		}
	}
	return res, nil
}

// scanAll reads every row of rows. Values are scanned without conversion
// and normalised later by the column types.
func scanAll(rows *sql.Rows, labels []string) (*ExecResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(labels) == len(columns) {
		columns = labels
	}
	res := &ExecResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowsAffected = int64(len(res.Rows))
	return res, nil
}

// Driver is a Database backed by database/sql.
type Driver struct {
	Conn
	db *sql.DB
}

// NewDriver creates a new Driver for the pool and dialect.
func NewDriver(d dialect.Dialect, db *sql.DB) *Driver {
	return &Driver{Conn: Conn{db, d}, db: db}
}

// Open wraps the database/sql.Open method and returns a Driver rendering
// statements for d.
func Open(d dialect.Dialect, driverName, source string) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(d, db), nil
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect implements the Database interface.
func (d *Driver) Dialect() dialect.Dialect { return d.dialect }

// Begin implements the Database interface.
func (d *Driver) Begin(ctx context.Context) (Transaction, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &Tx{Conn: Conn{tx, d.dialect}, tx: tx}, nil
}

// Close closes the underlying connection pool.
func (d *Driver) Close() error { return d.db.Close() }

// Tx is a Transaction backed by a *sql.Tx.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Commit implements the Transaction interface.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback implements the Transaction interface.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

var (
	_ Database    = (*Driver)(nil)
	_ Transaction = (*Tx)(nil)
)

type (
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)
