package dialect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema/field"
)

func TestGet(t *testing.T) {
	for _, name := range []string{dialect.Default, dialect.Postgres, dialect.MySQL, dialect.SQLite} {
		d, err := dialect.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}
	_, err := dialect.Get("oracle")
	assert.EqualError(t, err, `dialect: unknown dialect "oracle"`)
}

func TestQuoting(t *testing.T) {
	pg := dialect.PostgresDialect
	assert.False(t, pg.RequiresQuotes("users"))
	assert.False(t, pg.RequiresQuotes("user_id"))
	assert.True(t, pg.RequiresQuotes("user"))
	assert.True(t, pg.RequiresQuotes("Users"))
	assert.True(t, pg.RequiresQuotes("first name"))
	assert.Equal(t, `"user"`, pg.QuoteIdentifier("user"))
	assert.Equal(t, `"a""b"`, pg.QuoteIdentifier(`a"b`))

	my := dialect.MySQLDialect
	assert.Equal(t, "`order`", my.QuoteIdentifier("order"))
	assert.True(t, my.RequiresQuotes("status"))
	assert.False(t, dialect.PostgresDialect.RequiresQuotes("status"))
}

func TestFeatures(t *testing.T) {
	tests := []struct {
		d       dialect.Dialect
		feature dialect.Feature
		want    bool
	}{
		{dialect.PostgresDialect, dialect.FeatureReturning, true},
		{dialect.PostgresDialect, dialect.FeatureLastInsertID, false},
		{dialect.MySQLDialect, dialect.FeatureReturning, false},
		{dialect.MySQLDialect, dialect.FeatureFullOuterJoin, false},
		{dialect.MySQLDialect, dialect.FeatureLastInsertID, true},
		{dialect.SQLiteDialect, dialect.FeatureReturning, true},
		{dialect.SQLiteDialect, dialect.FeatureForUpdate, false},
		{dialect.DefaultDialect, dialect.FeatureFullOuterJoin, true},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name()+"/"+tt.feature.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Supports(tt.feature))
		})
	}
}

func TestParamstyle(t *testing.T) {
	assert.Equal(t, dialect.Dollar, dialect.PostgresDialect.Paramstyle())
	assert.Equal(t, dialect.Qmark, dialect.SQLiteDialect.Paramstyle())
	assert.Equal(t, dialect.Named, dialect.DefaultDialect.Paramstyle())
	assert.True(t, dialect.Qmark.Positional())
	assert.False(t, dialect.Pyformat.Positional())

	p, err := dialect.ParseParamstyle("QMARK")
	require.NoError(t, err)
	assert.Equal(t, dialect.Qmark, p)
	_, err = dialect.ParseParamstyle("colon")
	assert.Error(t, err)
}

func TestRenderType(t *testing.T) {
	assert.Equal(t, "JSONB", dialect.PostgresDialect.RenderType(field.TypeJSON))
	assert.Equal(t, "DATETIME", dialect.MySQLDialect.RenderType(field.TypeTime))
	assert.Equal(t, "OTHER", dialect.SQLiteDialect.RenderType(field.TypeOther))
}

func TestClone(t *testing.T) {
	d := dialect.PostgresDialect.Clone()
	d.DialectName = "cockroach"
	d.Features[dialect.FeatureFullOuterJoin] = false
	assert.True(t, dialect.PostgresDialect.Supports(dialect.FeatureFullOuterJoin))
	assert.False(t, d.Supports(dialect.FeatureFullOuterJoin))

	q := dialect.PostgresDialect.WithParamstyle(dialect.Named)
	assert.Equal(t, dialect.Named, q.Paramstyle())
	assert.Equal(t, dialect.Dollar, dialect.PostgresDialect.Paramstyle())

	dialect.Register(d)
	got, err := dialect.Get("cockroach")
	require.NoError(t, err)
	assert.Same(t, d, got)
	assert.Contains(t, dialect.Names(), "cockroach")
}

func TestProcessBind(t *testing.T) {
	v, err := dialect.MySQLDialect.ProcessBind(field.TypeBool, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = dialect.PostgresDialect.ProcessBind(field.TypeBool, true)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
