package sql

import (
	stdsql "database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema/field"
)

func usersAddresses() (users, addresses *Table) {
	users = NewTable("users",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("name", field.TypeString),
	)
	addresses = NewTable("addresses",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("user_id", field.TypeInt, References(users.C("id"))),
		Col("email", field.TypeString),
	)
	return users, addresses
}

func accountAddress() (account, address *Table) {
	account = NewTable("user_account",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("name", field.TypeString),
	)
	address = NewTable("address",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("user_id", field.TypeInt, References("user_account.id")),
		Col("email", field.TypeString),
	)
	return account, address
}

func compile(t *testing.T, n Node, d dialect.Dialect, opts ...CompileOption) *Compiled {
	t.Helper()
	cs, err := Compile(n, d, opts...)
	require.NoError(t, err)
	return cs
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCompileJoinInference(t *testing.T) {
	users, addresses := usersAddresses()
	s := Select(addresses.C("email")).From(addresses).Join(users)
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT addresses.email FROM addresses JOIN users ON users.id = addresses.user_id", cs.SQL)
	assert.Equal(t, []string{"email"}, cs.Columns)

	s = Select(users.C("name"), addresses.C("email")).
		From(users).
		Join(addresses).
		Where(users.C("name").EQ("jack"))
	cs = compile(t, s, dialect.PostgresDialect)
	assert.Equal(t, "SELECT users.name, addresses.email FROM users JOIN addresses ON users.id = addresses.user_id WHERE users.name = $1", cs.SQL)
	args, err := cs.Args()
	require.NoError(t, err)
	assert.Equal(t, []any{"jack"}, args)
}

func TestCompileJoinErrors(t *testing.T) {
	users, addresses := usersAddresses()
	tags := NewTable("tags", Col("id", field.TypeInt, PrimaryKey()))
	_, err := Compile(Select(users.C("id")).From(users).Join(tags), dialect.DefaultDialect)
	require.Error(t, err)
	assert.True(t, errors.Is(err, strata.ErrNoForeignKey))
	assert.True(t, strata.IsCompileError(err))
	assert.Contains(t, err.Error(), `"users" and "tags"`)

	messages := NewTable("messages",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("sender_id", field.TypeInt, References(users.C("id"))),
		Col("recipient_id", field.TypeInt, References(users.C("id"))),
	)
	_, err = Compile(Select(users.C("id")).From(users).Join(messages), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrAmbiguousJoin))

	s := Select(users.C("id")).From(users).Join(messages, users.C("id").EQ(messages.C("sender_id")))
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users JOIN messages ON users.id = messages.sender_id", cs.SQL)

	_, err = Compile(Select(users.C("id")).From(users).FullJoin(addresses), dialect.MySQLDialect)
	assert.True(t, errors.Is(err, strata.ErrUnsupported))
}

func TestCompileAutoCorrelation(t *testing.T) {
	account, address := accountAddress()
	sub := Select(address.C("email")).
		Where(account.C("id").EQ(address.C("user_id"))).
		Where(account.C("name").EQ("x"))
	s := Select(account.C("name"), sub.Scalar())
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT user_account.name, (SELECT address.email FROM address WHERE user_account.id = address.user_id AND user_account.name = :name_1) AS anon_1 FROM user_account", cs.SQL)
	assert.Equal(t, []string{"name", "anon_1"}, cs.Columns)

	cs = compile(t, s, dialect.PostgresDialect)
	golden(t).Assert(t, "select_correlated_postgres", []byte(cs.SQL+"\n"))

	// Correlation disabled: the subquery keeps both FROM items.
	s = Select(account.C("name"), sub.Correlate().Scalar())
	cs = compile(t, s, dialect.DefaultDialect)
	assert.Contains(t, cs.SQL, "FROM address, user_account WHERE")
}

func TestCompileCorrelationErrors(t *testing.T) {
	account, address := accountAddress()
	// Every FROM item of the subquery is provided by the enclosing statement.
	sub := Select(account.C("name")).Where(account.C("id").EQ(address.C("user_id")))
	s := Select(account.C("id"), address.C("id"), sub.Scalar())
	_, err := Compile(s, dialect.DefaultDialect)
	require.Error(t, err)
	assert.True(t, errors.Is(err, strata.ErrCorrelation))
	assert.Contains(t, err.Error(), "Correlate()")

	t1 := NewTable("t1", Col("id", field.TypeInt, PrimaryKey()))
	t2 := NewTable("t2", Col("id", field.TypeInt, PrimaryKey()))
	t3 := NewTable("t3", Col("id", field.TypeInt, PrimaryKey()))
	inner := Select(t3.C("id")).Where(t3.C("id").EQ(t1.C("id")))
	middle := func(inner *Selector) *Selector {
		return Select(t2.C("id")).Where(t2.C("id").EQ(inner.Scalar()))
	}
	_, err = Compile(Select(t1.C("id"), middle(inner).Scalar()), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrCorrelation), "auto-correlation does not skip a level")

	cs := compile(t, Select(t1.C("id"), middle(inner.Correlate(t1)).Scalar()), dialect.DefaultDialect)
	assert.Equal(t, "SELECT t1.id, (SELECT t2.id FROM t2 WHERE t2.id = (SELECT t3.id FROM t3 WHERE t3.id = t1.id)) AS anon_1 FROM t1", cs.SQL)
}

func TestCompileCorrelateExcept(t *testing.T) {
	account, address := accountAddress()
	sub := Select(address.C("email")).
		Where(account.C("id").EQ(address.C("user_id"))).
		CorrelateExcept(address)
	cs := compile(t, Select(account.C("id"), address.C("id"), sub.Scalar()), dialect.DefaultDialect)
	assert.Contains(t, cs.SQL, "(SELECT address.email FROM address WHERE user_account.id = address.user_id) AS anon_1")
}

func TestCompileExists(t *testing.T) {
	users, addresses := usersAddresses()
	sub := Select(addresses.C("id")).Where(addresses.C("user_id").EQ(users.C("id")))
	cs := compile(t, Select(users.C("id")).Where(sub.Exists()), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE EXISTS (SELECT addresses.id FROM addresses WHERE addresses.user_id = users.id)", cs.SQL)

	cs = compile(t, Select(users.C("id")).Where(Not(sub.Exists())), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE NOT EXISTS (SELECT addresses.id FROM addresses WHERE addresses.user_id = users.id)", cs.SQL)

	cs = compile(t, Select(users.C("id")).Where(users.C("id").In(Select(addresses.C("user_id")))), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE users.id IN (SELECT addresses.user_id FROM addresses)", cs.SQL)
}

func TestCompileSubqueryAndCTE(t *testing.T) {
	users, addresses := usersAddresses()
	counts := Select(addresses.C("user_id"), Count().Label("n")).
		GroupBy(addresses.C("user_id")).
		Subquery("counts")
	s := Select(users.C("name"), counts.C("n")).
		From(users).
		Join(counts, users.C("id").EQ(counts.C("user_id")))
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.name, counts.n FROM users JOIN (SELECT addresses.user_id, count(*) AS n FROM addresses GROUP BY addresses.user_id) AS counts ON users.id = counts.user_id", cs.SQL)

	cte := Select(users.C("id"), users.C("name")).Where(users.C("name").Like("j%")).CTE("jusers")
	cs = compile(t, Select(cte.C("name")).Where(cte.C("id").GT(3)), dialect.PostgresDialect)
	golden(t).Assert(t, "select_cte_postgres", []byte(cs.SQL+"\n"))
	assert.Equal(t, []string{"name_1", "id_1"}, cs.Positions)

	_, err := Compile(Select(users.C("nope")), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrNoSuchColumn))
	_, err = Compile(Select(counts.C("nope")), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrNoSuchColumn))
}

func TestCompileAnonymousAliases(t *testing.T) {
	users, _ := usersAddresses()
	a1, a2 := users.Alias(""), users.Alias("")
	s := Select(a1.C("id"), a2.C("id")).Where(a1.C("id").EQ(a2.C("id")))
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users_1.id, users_2.id AS id_1 FROM users AS users_1, users AS users_2 WHERE users_1.id = users_2.id", cs.SQL)
	assert.Equal(t, []string{"id", "id_1"}, cs.Columns)

	long := strings.Repeat("x", 70)
	cs = compile(t, Select(users.C("id").Label(long)), dialect.PostgresDialect)
	assert.Contains(t, cs.SQL, " AS "+strings.Repeat("x", 57)+"_1 FROM")
}

func TestCompileLabels(t *testing.T) {
	users, _ := usersAddresses()
	n := users.C("name").Label("n")
	cs := compile(t, Select(n).OrderBy(n.Desc()), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.name AS n FROM users ORDER BY n DESC", cs.SQL)

	_, err := Compile(Select(users.C("id").Label("x"), users.C("name").Label("x")), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrLabelCollision))

	cs = compile(t, Select(Count(), Count(users.C("id"))), dialect.DefaultDialect)
	assert.Equal(t, "SELECT count(*) AS count_1, count(users.id) AS count_2 FROM users", cs.SQL)
}

func TestCompileBindNames(t *testing.T) {
	users, _ := usersAddresses()
	s := Select(users.C("id")).Where(users.C("name").EQ("a"), users.C("name").EQ("b"))
	cs := compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE users.name = :name_1 AND users.name = :name_2", cs.SQL)

	// Explicit names are reserved before unique names are generated.
	s = Select(users.C("id")).Where(users.C("name").EQ("y"), users.C("id").EQ(Bind("name_1", 5)))
	cs = compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE users.name = :name_2 AND users.id = :name_1", cs.SQL)

	s = Select(users.C("id")).Where(users.C("name").EQ(Bind("n", "a")), users.C("name").NEQ(Bind("n", "a")))
	cs = compile(t, s, dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE users.name = :n AND users.name != :n", cs.SQL)
	assert.Len(t, cs.Params, 1)

	s = Select(users.C("id")).Where(users.C("name").EQ(Bind("n", "a")), users.C("name").EQ(Bind("n", "b")))
	_, err := Compile(s, dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrBindCollision))

	cs = compile(t, Select(users.C("id")).Limit(10).Offset(5), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users LIMIT :param_1 OFFSET :param_2", cs.SQL)
	assert.Equal(t, map[string]any{"param_1": 10, "param_2": 5}, cs.ParamValues())
}

func TestCompileParamstyles(t *testing.T) {
	users, _ := usersAddresses()
	s := Select(users.C("id")).Where(
		users.C("name").EQ(Bind("n", "a")),
		users.C("id").GT(5),
		users.C("name").NEQ(Bind("n", "a")),
	)
	tests := []struct {
		style     dialect.Paramstyle
		where     string
		positions []string
		args      []any
	}{
		{dialect.Named, "users.name = :n AND users.id > :id_1 AND users.name != :n", []string{"n", "id_1"}, []any{stdsql.Named("n", "a"), stdsql.Named("id_1", 5)}},
		{dialect.Qmark, "users.name = ? AND users.id > ? AND users.name != ?", []string{"n", "id_1", "n"}, []any{"a", 5, "a"}},
		{dialect.Numeric, "users.name = :1 AND users.id > :2 AND users.name != :1", []string{"n", "id_1"}, []any{"a", 5}},
		{dialect.Dollar, "users.name = $1 AND users.id > $2 AND users.name != $1", []string{"n", "id_1"}, []any{"a", 5}},
		{dialect.Format, "users.name = %s AND users.id > %s AND users.name != %s", []string{"n", "id_1", "n"}, []any{"a", 5, "a"}},
		{dialect.Pyformat, "users.name = %(n)s AND users.id > %(id_1)s AND users.name != %(n)s", []string{"n", "id_1"}, []any{stdsql.Named("n", "a"), stdsql.Named("id_1", 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.style.String(), func(t *testing.T) {
			cs := compile(t, s, dialect.DefaultDialect, WithParamstyle(tt.style))
			assert.Equal(t, "SELECT users.id FROM users WHERE "+tt.where, cs.SQL)
			assert.Equal(t, tt.positions, cs.Positions)
			args, err := cs.Args()
			require.NoError(t, err)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCompileLiteralBinds(t *testing.T) {
	users, _ := usersAddresses()
	s := Select(users.C("id")).Where(users.C("name").EQ("O'Brien"), users.C("id").In(1, 2))
	cs := compile(t, s, dialect.MySQLDialect, WithLiteralBinds())
	assert.Equal(t, "SELECT users.id FROM users WHERE users.name = 'O''Brien' AND users.id IN (1, 2)", cs.SQL)
	assert.Empty(t, cs.Positions)

	_, err := Compile(Select(users.C("id")).Where(users.C("id").EQ(Param("id", field.TypeInt))), dialect.MySQLDialect, WithLiteralBinds())
	assert.Error(t, err)
}

func TestCompileLiteralNodes(t *testing.T) {
	users, _ := usersAddresses()
	id := users.C("id")
	cs := compile(t, Select(id).Where(True(), Text("users.id > 0")), dialect.DefaultDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE true AND users.id > 0", cs.SQL)
	cs = compile(t, Select(id).Where(False()), dialect.MySQLDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE 0", cs.SQL)

	// A modulo is escaped only where the paramstyle uses percent markers.
	mod := Select(id).Where(id.Mod(2).EQ(1))
	cs = compile(t, mod, dialect.MySQLDialect, WithParamstyle(dialect.Format))
	assert.Equal(t, "SELECT users.id FROM users WHERE users.id %% %s = %s", cs.SQL)
	cs = compile(t, mod, dialect.MySQLDialect, WithParamstyle(dialect.Format), WithLiteralBinds())
	assert.Equal(t, "SELECT users.id FROM users WHERE users.id % 2 = 1", cs.SQL)
}

func TestCompileOperators(t *testing.T) {
	users, _ := usersAddresses()
	id, name := users.C("id"), users.C("name")
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"is null", name.EQ(nil), "users.name IS NULL"},
		{"is not null", name.NEQ(nil), "users.name IS NOT NULL"},
		{"negated comparison", Not(name.EQ("x")), "users.name != :name_1"},
		{"negated conjunction", Not(And(id.GT(1), id.LT(5))), "NOT (users.id > :id_1 AND users.id < :id_2)"},
		{"or inside and", And(Or(id.EQ(1), id.EQ(2)), name.Like("a%")), "(users.id = :id_1 OR users.id = :id_2) AND users.name LIKE :name_1"},
		{"and inside or", Or(And(id.EQ(1), id.EQ(2)), id.EQ(3)), "users.id = :id_1 AND users.id = :id_2 OR users.id = :id_3"},
		{"grouped arithmetic", id.Add(1).Mul(2).GT(10), "(users.id + :id_1) * :param_1 > :param_2"},
		{"associative", id.Add(1).Add(2).EQ(3), "users.id + :id_1 + :param_1 = :param_2"},
		{"right nested", id.Sub(id.Sub(1)).EQ(0), "users.id - (users.id - :id_1) = :param_1"},
		{"empty in", id.In(), "1 != 1"},
		{"empty not in", id.NotIn(), "1 = 1"},
		{"in slice", id.In([]int{1, 2}), "users.id IN (:id_1, :id_2)"},
		{"function", Lower(name).EQ("x"), "lower(users.name) = :lower_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := compile(t, tt.expr, dialect.DefaultDialect)
			assert.Equal(t, tt.want, cs.SQL)
		})
	}
}

func TestCompileDialectRendering(t *testing.T) {
	users, _ := usersAddresses()
	cs := compile(t, Select(users.C("name").Concat("x")), dialect.MySQLDialect)
	assert.Equal(t, "SELECT concat(users.name, ?) AS anon_1 FROM users", cs.SQL)

	cs = compile(t, Select(users.C("id").Mod(2)), dialect.DefaultDialect, WithParamstyle(dialect.Format))
	assert.Equal(t, "SELECT users.id %% %s AS anon_1 FROM users", cs.SQL)

	order := NewTable("order", Col("key", field.TypeString, PrimaryKey()))
	cs = compile(t, Select(order.C("key")), dialect.MySQLDialect)
	assert.Equal(t, "SELECT `order`.`key` FROM `order`", cs.SQL)
	cs = compile(t, Select(order.C("key")), dialect.DefaultDialect)
	assert.Equal(t, `SELECT "order"."key" FROM "order"`, cs.SQL)

	cs = compile(t, Select(users.C("id")).Where(True()), dialect.MySQLDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE 1", cs.SQL)
	cs = compile(t, Select(users.C("id")).Where(True()), dialect.PostgresDialect)
	assert.Equal(t, "SELECT users.id FROM users WHERE true", cs.SQL)

	cs = compile(t, Select(users.C("id")).Where(users.C("id").EQ(Bind("flag", true))), dialect.MySQLDialect)
	args, err := cs.Args()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, args)

	_, err = Compile(Select(users.C("id")).Offset(3), dialect.MySQLDialect)
	assert.True(t, errors.Is(err, strata.ErrUnsupported))
	_, err = Compile(Select(users.C("id")).ForUpdate(), dialect.SQLiteDialect)
	assert.True(t, errors.Is(err, strata.ErrUnsupported))
}

func TestCompileInsert(t *testing.T) {
	users, _ := usersAddresses()
	ins := Insert(users).Columns("id", "name").Values(1, "jack")
	cs := compile(t, ins, dialect.DefaultDialect)
	assert.Equal(t, "INSERT INTO users (id, name) VALUES (:id, :name)", cs.SQL)
	assert.Equal(t, map[string]any{"id": 1, "name": "jack"}, cs.ParamValues())

	cs = compile(t, ins.Values(2, "wendy"), dialect.SQLiteDialect)
	assert.Equal(t, "INSERT INTO users (id, name) VALUES (?, ?), (?, ?)", cs.SQL)
	assert.Equal(t, []string{"id", "name", "id_m1", "name_m1"}, cs.Positions)

	cs = compile(t, Insert(users).Columns("name").Values("jack").Returning(users.C("id")), dialect.PostgresDialect)
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING id", cs.SQL)
	assert.Equal(t, []string{"id"}, cs.Columns)
	assert.True(t, cs.Returning())

	_, err := Compile(Insert(users).Columns("name").Values("jack").Returning(users.C("id")), dialect.MySQLDialect)
	assert.True(t, errors.Is(err, strata.ErrUnsupported))

	cs = compile(t, Insert(users), dialect.DefaultDialect)
	assert.Equal(t, "INSERT INTO users DEFAULT VALUES", cs.SQL)
	cs = compile(t, Insert(users), dialect.MySQLDialect)
	assert.Equal(t, "INSERT INTO users () VALUES ()", cs.SQL)

	// Without values, the columns are bound to required parameters.
	cs = compile(t, Insert(users).Columns("name"), dialect.DefaultDialect)
	assert.Equal(t, "INSERT INTO users (name) VALUES (:name)", cs.SQL)
	_, err = cs.Args()
	assert.Error(t, err)
	args, err := cs.ArgsWith(map[string]any{"name": "ed"})
	require.NoError(t, err)
	assert.Equal(t, []any{stdsql.Named("name", "ed")}, args)

	_, err = Compile(Insert(users).Columns("nope"), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrNoSuchColumn))
	_, err = Compile(Insert(users).Columns("id").Values(1, 2), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrInvalidStructure))
}

func TestCompileInsertDefaults(t *testing.T) {
	n := 0
	items := NewTable("items",
		Col("id", field.TypeInt, PrimaryKey()),
		Col("status", field.TypeString, Default("new")),
		Col("seq", field.TypeInt, Default(func() any { n++; return n })),
	)
	cs := compile(t, Insert(items).Columns("id").Values(7), dialect.DefaultDialect)
	assert.Equal(t, "INSERT INTO items (id, status, seq) VALUES (:id, :status, :seq)", cs.SQL)
	args, err := cs.Args()
	require.NoError(t, err)
	assert.Equal(t, []any{stdsql.Named("id", 7), stdsql.Named("status", "new"), stdsql.Named("seq", 1)}, args)
	args, err = cs.Args()
	require.NoError(t, err)
	assert.Equal(t, stdsql.Named("seq", 2), args[2])
}

func TestCompileUpdateDelete(t *testing.T) {
	users, addresses := usersAddresses()
	cs := compile(t, Update(users).Set("name", "ed").Where(users.C("id").EQ(5)), dialect.DefaultDialect)
	assert.Equal(t, "UPDATE users SET name=:name WHERE users.id = :id_1", cs.SQL)

	email := Select(addresses.C("email")).Where(addresses.C("user_id").EQ(users.C("id"))).Limit(1)
	cs = compile(t, Update(users).Set("name", email.Scalar()), dialect.DefaultDialect)
	assert.Equal(t, "UPDATE users SET name=(SELECT addresses.email FROM addresses WHERE addresses.user_id = users.id LIMIT :param_1)", cs.SQL)

	cs = compile(t, Delete(addresses).Where(addresses.C("user_id").EQ(3)), dialect.SQLiteDialect)
	assert.Equal(t, "DELETE FROM addresses WHERE addresses.user_id = ?", cs.SQL)

	_, err := Compile(Update(users), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrInvalidStructure))
	_, err = Compile(Update(users).Set("nope", 1), dialect.DefaultDialect)
	assert.True(t, errors.Is(err, strata.ErrNoSuchColumn))
}

func TestCompileDDL(t *testing.T) {
	users, addresses := usersAddresses()
	g := golden(t)
	g.Assert(t, "create_users_postgres", []byte(compile(t, CreateTable(users), dialect.PostgresDialect).SQL+"\n"))
	g.Assert(t, "create_addresses_sqlite", []byte(compile(t, CreateTable(addresses), dialect.SQLiteDialect).SQL+"\n"))
	g.Assert(t, "create_addresses_mysql", []byte(compile(t, CreateTable(addresses), dialect.MySQLDialect).SQL+"\n"))

	assert.Equal(t, "DROP TABLE IF EXISTS users", compile(t, DropTable(users).IfExists(), dialect.DefaultDialect).SQL)
	assert.True(t, strings.HasPrefix(compile(t, CreateTable(users).IfNotExists(), dialect.SQLiteDialect).SQL, "CREATE TABLE IF NOT EXISTS users ("))
}

func TestCompileDeterminism(t *testing.T) {
	build := func(name string) *Selector {
		account, address := accountAddress()
		sub := Select(address.C("email")).
			Where(account.C("id").EQ(address.C("user_id")), account.C("name").EQ(name))
		return Select(account.C("name"), sub.Scalar()).OrderBy(account.C("id").Desc())
	}
	s1, s2 := build("x"), build("y")
	cs1 := compile(t, s1, dialect.PostgresDialect)
	cs2 := compile(t, s1, dialect.PostgresDialect)
	cs3 := compile(t, s2, dialect.PostgresDialect)
	assert.Equal(t, cs1.SQL, cs2.SQL)
	assert.Equal(t, cs1.SQL, cs3.SQL)
	assert.Equal(t, CacheKey(s1), CacheKey(s2))
	assert.NotEqual(t, CacheKey(s1), CacheKey(s1.Limit(1)))

	args, err := cs1.ArgsFrom(s2)
	require.NoError(t, err)
	assert.Equal(t, []any{"y"}, args)
	_, err = cs1.ArgsFrom(s1.Limit(1))
	assert.Error(t, err)
}
