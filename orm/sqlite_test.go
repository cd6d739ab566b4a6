package orm

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/drivers"
	"github.com/syssam/strata/dialect/sql/schema"
	"github.com/syssam/strata/schema/field"
)

func openSQLite(t *testing.T, md *schema.MetaData) *sql.Driver {
	t.Helper()
	drv, err := drivers.Open(dialect.SQLite, "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	// Every connection of an in-memory database is a new database.
	drv.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { drv.Close() })
	require.NoError(t, md.CreateAll(context.Background(), drv))
	return drv
}

func TestSQLiteUnitOfWork(t *testing.T) {
	users := sql.NewTable("users",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("name", field.TypeString, sql.NotNull()),
		sql.Col("version", field.TypeInt, sql.NotNull()),
	)
	addresses := sql.NewTable("addresses",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("user_id", field.TypeInt, sql.NotNull(), sql.References("users.id")),
		sql.Col("email", field.TypeString, sql.NotNull()),
	)
	md := schema.NewMetaData(users, addresses)
	reg := NewRegistry(md)
	User := reg.MustMap("User",
		VersionColumn("version"),
		HasMany("addresses", "Address", Cascades(CascadeAll|CascadeDeleteOrphan), BackPopulates("user")),
	)
	Address := reg.MustMap("Address", BelongsTo("user", "User", BackPopulates("addresses")))
	e, err := NewEngine(openSQLite(t, md), reg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	ctx := context.Background()

	var id any
	err = e.WithSession(ctx, func(ctx context.Context, s *Session) error {
		u := User.MustNew(Values{"name": "jack"})
		if err := u.Collection("addresses").Append(
			Address.MustNew(Values{"email": "jack@google.com"}),
			Address.MustNew(Values{"email": "j25@yahoo.com"}),
		); err != nil {
			return err
		}
		if err := s.Add(u); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		v, err := u.Get("id")
		id = v
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, id)

	err = e.WithSession(ctx, func(ctx context.Context, s *Session) error {
		u, err := s.Get(ctx, User, id)
		require.NoError(t, err)
		assert.Equal(t, "jack", mustGet(t, u, "name"))
		assert.Equal(t, int64(1), mustGet(t, u, "version"))
		again, err := s.Get(ctx, User, id)
		require.NoError(t, err)
		assert.Same(t, u, again)

		addrs, err := u.LoadCollection(ctx, "addresses")
		require.NoError(t, err)
		require.Equal(t, 2, addrs.Len())
		first := addrs.Items()[0]
		ref, err := first.Ref("user")
		require.NoError(t, err)
		assert.Same(t, u, ref, "loaded children point to the identity map object")

		addrs.Remove(first)
		require.NoError(t, u.Set("name", "ed"))
		n, err := s.Query(Address).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "the count autoflushes the orphan delete")
		assert.Equal(t, Deleted, first.State())
		assert.Equal(t, int64(2), mustGet(t, u, "version"))

		found, err := s.Query(User).Where(User.C("name").EQ("ed")).Only(ctx)
		require.NoError(t, err)
		assert.Same(t, u, found)
		_, err = s.Query(User).Where(User.C("name").EQ("jack")).First(ctx)
		assert.True(t, strata.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)

	err = e.WithSession(ctx, func(ctx context.Context, s *Session) error {
		u, err := s.Get(ctx, User, id)
		require.NoError(t, err)
		require.NoError(t, s.Delete(u))
		require.NoError(t, s.Flush(ctx))
		for _, m := range []*Mapper{User, Address} {
			n, err := s.Query(m).Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, m.Name())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteStaleData(t *testing.T) {
	users := sql.NewTable("users",
		sql.Col("id", field.TypeInt, sql.PrimaryKey()),
		sql.Col("name", field.TypeString, sql.NotNull()),
		sql.Col("version", field.TypeInt, sql.NotNull()),
	)
	md := schema.NewMetaData(users)
	reg := NewRegistry(md)
	User := reg.MustMap("User", VersionColumn("version"))
	drv := openSQLite(t, md)
	e, err := NewEngine(drv, reg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithExpireOnCommit(false),
	)
	require.NoError(t, err)
	ctx := context.Background()

	s := e.NewSession()
	defer s.Close()
	u := User.MustNew(Values{"name": "jack"})
	require.NoError(t, s.Add(u))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, int64(1), mustGet(t, u, "version"))

	// A concurrent writer bumps the version.
	_, err = drv.DB().ExecContext(ctx, "UPDATE users SET version = version + 1")
	require.NoError(t, err)

	require.NoError(t, u.Set("name", "ed"))
	err = s.Flush(ctx)
	assert.True(t, strata.IsStaleData(err))
	assert.True(t, strata.IsFlushError(err))
	assert.True(t, u.Modified(), "a failed flush keeps the changes")
	assert.Equal(t, "ed", mustGet(t, u, "name"))
	require.NoError(t, s.Rollback(ctx))
}
