package schema

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema/field"
)

func fixtures() (users, addresses *sql.Table) {
	users = sql.NewTable("users",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("name", field.TypeString, sql.NotNull()),
	)
	addresses = sql.NewTable("addresses",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("user_id", field.TypeInt, sql.NotNull(), sql.References("users.id", sql.OnDelete(sql.Cascade))),
		sql.Col("email", field.TypeString),
	)
	return users, addresses
}

func names(tables []*sql.Table) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name()
	}
	return out
}

func TestMetaData(t *testing.T) {
	users, addresses := fixtures()
	md := NewMetaData(addresses)
	require.NoError(t, md.Add(users, addresses))
	assert.Equal(t, []string{"addresses", "users"}, names(md.Tables()))

	got, ok := md.Table("users")
	require.True(t, ok)
	assert.Same(t, users, got)

	err := md.Add(sql.NewTable("users", sql.Col("id", field.TypeInt, sql.PrimaryKey())))
	assert.EqualError(t, err, `schema: table "users" is already defined`)

	md.Remove("addresses")
	assert.Equal(t, []string{"users"}, names(md.Tables()))
	md.Clear()
	assert.Empty(t, md.Tables())
	_, ok = md.Table("users")
	assert.False(t, ok)
}

func TestMetaDataResolve(t *testing.T) {
	users, addresses := fixtures()
	md := NewMetaData(users, addresses)
	require.NoError(t, md.Resolve())
	refs, ok := addresses.ForeignKeys()[0].RefColumns(users)
	require.True(t, ok)
	assert.Same(t, users.C("id"), refs[0])

	orphan := sql.NewTable("orders",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("customer_id", field.TypeInt, sql.References("customers.id")),
	)
	require.NoError(t, md.Add(orphan))
	err := md.Resolve()
	require.Error(t, err)
	assert.True(t, errors.Is(err, strata.ErrNoForeignKey))
}

func TestSortedTables(t *testing.T) {
	t.Run("dependencies first", func(t *testing.T) {
		users, addresses := fixtures()
		nodes := sql.NewTable("nodes",
			sql.Col("id", field.TypeInt, sql.PrimaryKey()),
			sql.Col("parent_id", field.TypeInt, sql.References("nodes.id")),
		)
		md := NewMetaData(addresses, nodes, users)
		sorted, err := md.SortedTables()
		require.NoError(t, err)
		assert.Equal(t, []string{"nodes", "users", "addresses"}, names(sorted))
	})

	t.Run("nullable cycle", func(t *testing.T) {
		a := sql.NewTable("a",
			sql.Col("id", field.TypeInt, sql.PrimaryKey()),
			sql.Col("b_id", field.TypeInt, sql.References("b.id")),
		)
		b := sql.NewTable("b",
			sql.Col("id", field.TypeInt, sql.PrimaryKey()),
			sql.Col("a_id", field.TypeInt, sql.NotNull(), sql.References("a.id")),
		)
		sorted, err := NewMetaData(b, a).SortedTables()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names(sorted))
	})

	t.Run("not null cycle", func(t *testing.T) {
		a := sql.NewTable("a",
			sql.Col("id", field.TypeInt, sql.PrimaryKey()),
			sql.Col("b_id", field.TypeInt, sql.NotNull(), sql.References("b.id")),
		)
		b := sql.NewTable("b",
			sql.Col("id", field.TypeInt, sql.PrimaryKey()),
			sql.Col("a_id", field.TypeInt, sql.NotNull(), sql.References("a.id")),
		)
		_, err := NewMetaData(a, b).SortedTables()
		require.Error(t, err)
		assert.True(t, strata.IsCycleError(err))
		assert.True(t, errors.Is(err, strata.ErrDependencyCycle))
	})
}

func TestCreateDropAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	users, addresses := fixtures()
	md := NewMetaData(addresses, users)
	drv := sql.NewDriver(dialect.SQLiteDialect, db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS users (`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS addresses (`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, md.CreateAll(ctx, drv, WithCheckExists()))

	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE addresses`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE users`)).
		WillReturnError(errors.New("locked"))
	err = md.DropAll(ctx, drv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `drop table "users"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAllSQLite(t *testing.T) {
	drv, err := sql.Open(dialect.SQLiteDialect, "sqlite", ":memory:")
	require.NoError(t, err)
	defer drv.Close()
	drv.DB().SetMaxOpenConns(1)
	users, addresses := fixtures()
	md := NewMetaData(addresses, users)
	ctx := context.Background()

	require.NoError(t, md.CreateAll(ctx, drv))
	insert := sql.Insert(users).Columns("name").Values("a8m")
	cs, err := sql.Compile(insert, drv.Dialect())
	require.NoError(t, err)
	args, err := cs.Args()
	require.NoError(t, err)
	res, err := drv.Execute(ctx, cs, args)
	require.NoError(t, err)
	assert.True(t, res.HasLastInsertID)
	assert.EqualValues(t, 1, res.LastInsertID)

	require.NoError(t, md.DropAll(ctx, drv))
	require.NoError(t, md.CreateAll(ctx, drv, WithCheckExists()))
	require.NoError(t, md.CreateAll(ctx, drv, WithCheckExists()))
}

func TestValidateSchema(t *testing.T) {
	users, addresses := fixtures()
	result := NewMetaData(users, addresses).Validate()
	assert.False(t, result.HasErrors(), result.String())
	assert.False(t, result.HasWarnings(), result.String())
	assert.Equal(t, "No issues found", result.String())

	logs := sql.NewTable("logs",
		sql.Col("msg", field.TypeString),
		sql.Col("user_id", field.TypeString, sql.References("users.id")),
		sql.Col("ghost_id", field.TypeInt, sql.NotNull(), sql.References("ghosts.id", sql.OnDelete(sql.SetNull))),
	)
	result = ValidateSchema([]*sql.Table{users, addresses, logs})
	require.Len(t, result.Errors, 2)
	assert.Equal(t, `logs: foreign key to "ghosts" uses ON DELETE SET NULL on a NOT NULL column`, result.Errors[0].Error())
	assert.Equal(t, `logs: foreign key references non-existent table "ghosts"`, result.Errors[1].Error())
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "logs: table has no primary key", result.Warnings[0].Error())
	assert.Equal(t, "logs.user_id: type string differs from referenced column users.id of type int", result.Warnings[1].Error())
	assert.Contains(t, result.String(), "Errors:\n  - logs: foreign key")
}
