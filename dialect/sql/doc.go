// Package sql builds SQL statements as immutable expression trees and
// compiles them to dialect-specific text.
//
// # Schema
//
// Tables are declared once with typed columns and foreign keys:
//
//	users := sql.NewTable("users",
//	    sql.Col("id", field.TypeInt, sql.PrimaryKey()),
//	    sql.Col("name", field.TypeString),
//	)
//	addresses := sql.NewTable("addresses",
//	    sql.Col("id", field.TypeInt, sql.PrimaryKey()),
//	    sql.Col("user_id", field.TypeInt, sql.References(users.C("id"))),
//	    sql.Col("email", field.TypeString),
//	)
//
// # Statements
//
// Column operators build expressions; plain values become bind parameters
// named after the column. Builder methods return new statements:
//
//	s := sql.Select(users.C("name"), addresses.C("email")).
//	    From(users).
//	    Join(addresses).
//	    Where(users.C("name").EQ("jack"))
//
// The FROM clause is derived from the referenced columns when not given,
// and the ON clause of a join is inferred from the foreign keys between
// both sides when omitted.
//
// # Compilation
//
// Compile renders a tree for a dialect and returns the SQL text with the
// parameter order of the dialect's paramstyle:
//
//	cs, err := sql.Compile(s, dialect.PostgresDialect)
//	// SELECT users.name, addresses.email FROM users JOIN addresses
//	// ON users.id = addresses.user_id WHERE users.name = $1
//	args, err := cs.Args()
//
// A SELECT nested in the WHERE or columns clause of another statement
// correlates automatically: FROM items provided by the enclosing statement
// are omitted. Selector.Correlate and Selector.CorrelateExcept control
// correlation explicitly.
//
// # Caching
//
// CacheKey identifies the structure of a tree independently of its bound
// values. StatementCache compiles each structure once and extracts the
// arguments of later trees with Compiled.ArgsFrom.
//
// # Execution
//
// Driver executes compiled statements on a database/sql pool. StatsDriver
// and DebugDriver wrap any Database with statistics and statement logging.
package sql
