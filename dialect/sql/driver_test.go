package sql

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
)

func newMock(t *testing.T, d dialect.Dialect) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDriver(d, db), mock
}

// TestDriverQuery tests statements returning rows.
func TestDriverQuery(t *testing.T) {
	users, _ := usersAddresses()
	drv, mock := newMock(t, dialect.PostgresDialect)
	ctx := context.Background()

	t.Run("select", func(t *testing.T) {
		cs := compile(t, Select(users.C("id"), users.C("name")).Where(users.C("id").GT(1)), dialect.PostgresDialect)
		mock.ExpectQuery("SELECT users.id, users.name FROM users WHERE users.id > $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(int64(2), "Alice").
				AddRow(int64(3), "Bob"))
		args, err := cs.Args()
		require.NoError(t, err)
		res, err := drv.Execute(ctx, cs, args)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, res.Columns)
		assert.Equal(t, [][]any{{int64(2), "Alice"}, {int64(3), "Bob"}}, res.Rows)
		assert.EqualValues(t, 2, res.RowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returning", func(t *testing.T) {
		cs := compile(t, Insert(users).Columns("name").Values("a").Returning(users.C("id")), dialect.PostgresDialect)
		mock.ExpectQuery("INSERT INTO users (name) VALUES ($1) RETURNING id").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		args, err := cs.Args()
		require.NoError(t, err)
		res, err := drv.Execute(ctx, cs, args)
		require.NoError(t, err)
		assert.Equal(t, [][]any{{int64(7)}}, res.Rows)
		assert.False(t, res.HasLastInsertID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		cs := compile(t, Select(users.C("id")), dialect.PostgresDialect)
		mock.ExpectQuery("SELECT users.id FROM users").WillReturnError(errors.New("database error"))
		_, err := drv.Execute(ctx, cs, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestDriverExec tests statements without result rows.
func TestDriverExec(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()

	t.Run("last insert id", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteDialect)
		cs := compile(t, Insert(users).Columns("name").Values("a"), dialect.SQLiteDialect)
		mock.ExpectExec("INSERT INTO users (name) VALUES (?)").
			WithArgs("a").
			WillReturnResult(sqlmock.NewResult(42, 1))
		args, err := cs.Args()
		require.NoError(t, err)
		res, err := drv.Execute(ctx, cs, args)
		require.NoError(t, err)
		assert.True(t, res.HasLastInsertID)
		assert.EqualValues(t, 42, res.LastInsertID)
		assert.EqualValues(t, 1, res.RowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no last insert id", func(t *testing.T) {
		drv, mock := newMock(t, dialect.PostgresDialect)
		cs := compile(t, Update(users).Set("name", "b").Where(users.C("id").EQ(1)), dialect.PostgresDialect)
		mock.ExpectExec("UPDATE users SET name=$1 WHERE users.id = $2").
			WithArgs("b", 1).
			WillReturnResult(sqlmock.NewResult(0, 3))
		args, err := cs.Args()
		require.NoError(t, err)
		res, err := drv.Execute(ctx, cs, args)
		require.NoError(t, err)
		assert.False(t, res.HasLastInsertID)
		assert.EqualValues(t, 3, res.RowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteDialect)
		cs := compile(t, Delete(users), dialect.SQLiteDialect)
		mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("constraint violation"))
		_, err := drv.Execute(ctx, cs, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "constraint violation")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestDriverTransaction tests transaction operations.
func TestDriverTransaction(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()
	cs := compile(t, Delete(users), dialect.SQLiteDialect)

	t.Run("commit", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteDialect)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := drv.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Execute(ctx, cs, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteDialect)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Execute(ctx, cs, nil)
		require.Error(t, err)
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin error", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteDialect)
		mock.ExpectBegin().WillReturnError(errors.New("busy"))
		_, err := drv.Begin(ctx)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverDialect(t *testing.T) {
	for _, d := range []dialect.Dialect{dialect.PostgresDialect, dialect.MySQLDialect, dialect.SQLiteDialect} {
		drv, _ := newMock(t, d)
		assert.Equal(t, d, drv.Dialect())
		assert.NotNil(t, drv.DB())
	}
}

func TestStatsDriver(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()
	drv, mock := newMock(t, dialect.SQLiteDialect)
	var slow []string
	stats := NewStatsDriver(drv,
		WithSlowThreshold(0),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	sel := compile(t, Select(users.C("id")), dialect.SQLiteDialect)
	del := compile(t, Delete(users), dialect.SQLiteDialect)

	mock.ExpectQuery(sel.SQL).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectExec(del.SQL).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	_, err := stats.Execute(ctx, sel, nil)
	require.NoError(t, err)
	tx, err := stats.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, del, nil)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := stats.QueryStats().Stats()
	assert.EqualValues(t, 1, s.TotalQueries)
	assert.EqualValues(t, 1, s.TotalExecs)
	assert.EqualValues(t, 1, s.Errors)
	assert.EqualValues(t, 2, s.SlowQueries)
	assert.Equal(t, []string{sel.SQL, del.SQL}, slow)
	assert.Contains(t, s.String(), "queries=1 execs=1")

	stats.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, stats.SlowThreshold())
	stats.QueryStats().Reset()
	assert.Zero(t, stats.QueryStats().Stats().TotalQueries)
}

func TestDebugDriver(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()
	drv, mock := newMock(t, dialect.SQLiteDialect)
	var logs []string
	logger := slog.New(handlerFunc(func(r slog.Record) { logs = append(logs, r.Message) }))
	dbg := NewDebugDriver(drv, logger)
	cs := compile(t, Delete(users), dialect.SQLiteDialect)

	mock.ExpectBegin()
	mock.ExpectExec(cs.SQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	tx, err := dbg.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, cs, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"begin transaction", "tx execute", "commit transaction"}, logs)
}

// handlerFunc is a slog.Handler recording every record at any level.
type handlerFunc func(slog.Record)

func (h handlerFunc) Enabled(context.Context, slog.Level) bool { return true }

func (h handlerFunc) Handle(_ context.Context, r slog.Record) error {
	h(r)
	return nil
}

func (h handlerFunc) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h handlerFunc) WithGroup(string) slog.Handler { return h }

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"O'Brien", "O''Brien"},
		{`back\slash`, `back\\slash`},
		{`'\`, `''\\`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeStringValue(tt.in))
	}
}
