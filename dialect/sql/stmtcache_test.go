package sql

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func TestStatementCache(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()
	cache := NewStatementCache(dialect.SQLiteDialect, WithCacheSize(2))
	query := func(name string) *Selector {
		return Select(users.C("id")).Where(users.C("name").EQ(name))
	}

	cs1, args, err := cache.Compile(ctx, query("a"))
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, args)
	cs2, args, err := cache.Compile(ctx, query("b"))
	require.NoError(t, err)
	assert.Same(t, cs1, cs2)
	assert.Equal(t, []any{"b"}, args)
	hits, misses := cache.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)

	_, _, err = cache.Compile(ctx, query("c").Limit(1))
	require.NoError(t, err)
	_, _, err = cache.Compile(ctx, query("c").Limit(1).Offset(1))
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
	cache.Clear()
	assert.Zero(t, cache.Len())

	_, _, err = cache.Compile(ctx, Select(users.C("nope")))
	assert.True(t, strata.IsCompileError(err))
}

func TestStatementCacheShared(t *testing.T) {
	users, _ := usersAddresses()
	ctx := context.Background()
	shared := strata.NewMemoryCache(0, 100)
	stmt := func(id int) *UpdateBuilder {
		return Update(users).Set("name", "x").Where(users.C("id").EQ(id))
	}

	c1 := NewStatementCache(dialect.PostgresDialect, WithSharedCache(shared, 0))
	cs1, _, err := c1.Compile(ctx, stmt(1))
	require.NoError(t, err)
	assert.Equal(t, 1, shared.Len())

	c2 := NewStatementCache(dialect.PostgresDialect, WithSharedCache(shared, 0))
	cs2, args, err := c2.Compile(ctx, stmt(2))
	require.NoError(t, err)
	assert.NotSame(t, cs1, cs2)
	assert.Equal(t, cs1.SQL, cs2.SQL)
	assert.Equal(t, cs1.Slots, cs2.Slots)
	assert.Equal(t, []any{"x", 2}, args)

	// Another paramstyle does not share entries.
	c3 := NewStatementCache(dialect.PostgresDialect,
		WithSharedCache(shared, 0),
		WithCompileOptions(WithParamstyle(dialect.Qmark)),
	)
	cs3, _, err := c3.Compile(ctx, stmt(3))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name=? WHERE users.id = ?", cs3.SQL)
	assert.Equal(t, 2, shared.Len())
}

func TestStatementCacheLiteral(t *testing.T) {
	users, _ := usersAddresses()
	cache := NewStatementCache(dialect.SQLiteDialect, WithCompileOptions(WithLiteralBinds()))
	cs, args, err := cache.Compile(context.Background(), Select(users.C("id")).Where(users.C("id").EQ(3)))
	require.NoError(t, err)
	assert.Nil(t, args)
	assert.Equal(t, "SELECT users.id FROM users WHERE users.id = 3", cs.SQL)
	assert.Zero(t, cache.Len())
}

func TestStatementCacheConcurrent(t *testing.T) {
	users, _ := usersAddresses()
	cache := NewStatementCache(dialect.MySQLDialect)
	var wg sync.WaitGroup
	results := make([][]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, args, err := cache.Compile(context.Background(), Select(users.C("id")).Where(users.C("id").EQ(i)))
			assert.NoError(t, err)
			results[i] = args
		}(i)
	}
	wg.Wait()
	for i, args := range results {
		assert.Equal(t, []any{i}, args)
	}
	assert.Equal(t, 1, cache.Len())
}
