// Package drivers registers the database/sql drivers of the built-in
// dialects and maps dialect names to driver names.
//
//	drv, err := drivers.Open(dialect.Postgres, "postgres://localhost/app")
package drivers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx"
	_ "github.com/lib/pq"              // "postgres"
	_ "modernc.org/sqlite"             // "sqlite"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

var registry = struct {
	sync.RWMutex
	m map[string]string
}{m: map[string]string{
	dialect.Postgres: "pgx",
	dialect.MySQL:    "mysql",
	dialect.SQLite:   "sqlite",
}}

// Register sets the database/sql driver used for a dialect, e.g.
// Register(dialect.Postgres, "postgres") to use lib/pq instead of pgx.
func Register(dialectName, driverName string) {
	registry.Lock()
	defer registry.Unlock()
	registry.m[dialectName] = driverName
}

// DriverName returns the database/sql driver name used for a dialect.
func DriverName(dialectName string) (string, error) {
	registry.RLock()
	defer registry.RUnlock()
	name, ok := registry.m[dialectName]
	if !ok {
		return "", fmt.Errorf("drivers: no driver for dialect %q", dialectName)
	}
	return name, nil
}

// Dialects returns the sorted names of the dialects with a driver.
func Dialects() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a connection pool for the named dialect.
func Open(dialectName, source string) (*sql.Driver, error) {
	d, err := dialect.Get(dialectName)
	if err != nil {
		return nil, err
	}
	driverName, err := DriverName(dialectName)
	if err != nil {
		return nil, err
	}
	if driverName == "mysql" {
		if source, err = FoundRows(source); err != nil {
			return nil, err
		}
	}
	return sql.Open(d, driverName, source)
}

// FoundRows returns the MySQL DSN with clientFoundRows enabled. MySQL
// otherwise reports the rows changed by an UPDATE rather than the rows
// matched, and the flush row-count checks would fail on updates that
// write the stored values.
func FoundRows(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("drivers: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}
