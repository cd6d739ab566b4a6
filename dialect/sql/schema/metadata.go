// Package schema holds the table registry shared by statements and mappers.
//
// A MetaData is created at program start, filled with the tables of the
// application and passed by reference to the components that need to
// resolve tables by name:
//
//	md := schema.NewMetaData()
//	if err := md.Add(users, addresses); err != nil {
//	    return err
//	}
//	tables, err := md.SortedTables() // users, addresses
package schema

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/internal/dag"
)

// MetaData is a registry of tables keyed by name. It is safe for
// concurrent use.
type MetaData struct {
	mu     sync.RWMutex
	tables []*sql.Table
	byName map[string]*sql.Table
}

// NewMetaData returns a registry holding the given tables. It panics on
// duplicate names, like the table constructors it is declared with.
func NewMetaData(tables ...*sql.Table) *MetaData {
	m := &MetaData{byName: make(map[string]*sql.Table)}
	if err := m.Add(tables...); err != nil {
		panic(err)
	}
	return m
}

// Add registers tables. Adding a table twice is a no-op; adding another
// table with a registered name is an error.
func (m *MetaData) Add(tables ...*sql.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tables {
		switch prev, ok := m.byName[t.Name()]; {
		case ok && prev == t:
			continue
		case ok:
			return fmt.Errorf("schema: table %q is already defined", t.Name())
		}
		m.byName[t.Name()] = t
		m.tables = append(m.tables, t)
	}
	return nil
}

// Table returns the table with the given name.
func (m *MetaData) Table(name string) (*sql.Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byName[name]
	return t, ok
}

// Tables returns the tables in registration order.
func (m *MetaData) Tables() []*sql.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tables)
}

// Remove unregisters a table.
func (m *MetaData) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byName[name]
	if !ok {
		return
	}
	delete(m.byName, name)
	m.tables = slices.DeleteFunc(m.tables, func(o *sql.Table) bool { return o == t })
}

// Clear removes every table.
func (m *MetaData) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = nil
	m.byName = make(map[string]*sql.Table)
}

// Resolve binds the "table.column" references of all foreign keys to the
// registered tables.
func (m *MetaData) Resolve() error {
	var errs []error
	for _, t := range m.Tables() {
		for _, fk := range t.ForeignKeys() {
			errs = append(errs, fk.Resolve(m.Table))
		}
	}
	return strata.NewAggregateError(errs...)
}

// Validate validates the registered tables.
func (m *MetaData) Validate() *ValidationResult {
	return ValidateSchema(m.Tables())
}

// SortedTables returns the tables ordered so that every table comes after
// the tables it references. Ties keep registration order. Self references
// are ignored. When the references form a cycle, nullable foreign keys are
// ignored; a cycle of NOT NULL keys is reported as a strata.CycleError.
func (m *MetaData) SortedTables() ([]*sql.Table, error) {
	tables := m.Tables()
	build := func(skipNullable bool) *dag.Graph {
		g := dag.NewGraph()
		for _, t := range tables {
			g.AddNode(t.Name(), t)
		}
		for _, t := range tables {
			for _, fk := range t.ForeignKeys() {
				ref := fk.RefTableName()
				if ref == t.Name() || (skipNullable && fk.Nullable()) {
					continue
				}
				if _, ok := g.GetNode(ref); ok {
					// Both nodes exist, AddEdge cannot fail.
					_ = g.AddEdge(ref, t.Name())
				}
			}
		}
		return g
	}
	g := build(false)
	if cyclic, _ := g.HasCycle(); cyclic {
		g = build(true)
		if cyclic, path := g.HasCycle(); cyclic {
			return nil, strata.NewCycleError(path...)
		}
	}
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	sorted := make([]*sql.Table, len(nodes))
	for i, n := range nodes {
		sorted[i] = n.Data.(*sql.Table)
	}
	return sorted, nil
}

// CreateOption configures CreateAll and DropAll.
type CreateOption func(*createConfig)

type createConfig struct {
	checkExists bool
}

// WithCheckExists renders CREATE TABLE IF NOT EXISTS and DROP TABLE IF
// EXISTS statements.
func WithCheckExists() CreateOption {
	return func(c *createConfig) { c.checkExists = true }
}

// CreateAll creates every table in dependency order.
func (m *MetaData) CreateAll(ctx context.Context, db sql.Database, opts ...CreateOption) error {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	tables, err := m.SortedTables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		stmt := sql.CreateTable(t)
		if cfg.checkExists {
			stmt = stmt.IfNotExists()
		}
		if err := execDDL(ctx, db, stmt); err != nil {
			return fmt.Errorf("schema: create table %q: %w", t.Name(), err)
		}
	}
	return nil
}

// DropAll drops every table in reverse dependency order.
func (m *MetaData) DropAll(ctx context.Context, db sql.Database, opts ...CreateOption) error {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	tables, err := m.SortedTables()
	if err != nil {
		return err
	}
	for _, t := range slices.Backward(tables) {
		stmt := sql.DropTable(t)
		if cfg.checkExists {
			stmt = stmt.IfExists()
		}
		if err := execDDL(ctx, db, stmt); err != nil {
			return fmt.Errorf("schema: drop table %q: %w", t.Name(), err)
		}
	}
	return nil
}

func execDDL(ctx context.Context, db sql.Database, stmt *sql.TableBuilder) error {
	cs, err := sql.Compile(stmt, db.Dialect())
	if err != nil {
		return err
	}
	_, err = db.Execute(ctx, cs, nil)
	return err
}
