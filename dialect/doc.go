// Package dialect describes the database backends the statement compiler
// renders for.
//
// A Dialect supplies identifier quoting, the driver paramstyle, capability
// flags and type names. The built-in dialects are table driven Descriptors:
//
//	dialect.Default  = "default"   // display rendering, named paramstyle
//	dialect.Postgres = "postgres"  // $1 placeholders, RETURNING
//	dialect.MySQL    = "mysql"     // ? placeholders, LastInsertId
//	dialect.SQLite   = "sqlite"    // ? placeholders, RETURNING
//
// Dialects are looked up by name:
//
//	d, err := dialect.Get(dialect.Postgres)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	d.Supports(dialect.FeatureReturning) // true
//
// A custom backend can be described by cloning a built-in descriptor:
//
//	d := dialect.PostgresDialect.Clone()
//	d.DialectName = "cockroach"
//	d.Features[dialect.FeatureFullOuterJoin] = false
//	dialect.Register(d)
package dialect
