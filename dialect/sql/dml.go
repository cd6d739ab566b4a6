package sql

import (
	"fmt"
	"slices"

	"github.com/syssam/strata"
)

// Builder accumulates the errors of a statement builder. Errors are
// reported by Err and fail compilation.
type Builder struct {
	errs []error
}

// AddError appends an error to the builder errors.
func (b *Builder) AddError(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Err returns the accumulated errors, if any.
func (b Builder) Err() error {
	return strata.NewAggregateError(b.errs...)
}

func (b Builder) clone() Builder {
	return Builder{errs: slices.Clone(b.errs)}
}

// InsertBuilder is an INSERT statement.
type InsertBuilder struct {
	Builder
	table     *Table
	columns   []*Column
	defaults  []*Column
	rows      [][]Expr
	returning []Expr
}

// Insert returns an INSERT statement for the table. Without values it
// renders as an insert of default values.
func Insert(t *Table) *InsertBuilder {
	return &InsertBuilder{table: t}
}

func (i *InsertBuilder) clone() *InsertBuilder {
	c := *i
	c.Builder = i.Builder.clone()
	c.columns = slices.Clone(i.columns)
	c.defaults = slices.Clone(i.defaults)
	c.rows = slices.Clone(i.rows)
	c.returning = slices.Clone(i.returning)
	return &c
}

// Kind implements the Node interface.
func (*InsertBuilder) Kind() Kind { return KindInsert }

// Table returns the target table.
func (i *InsertBuilder) Table() *Table { return i.table }

// Columns sets the inserted columns by key. Columns with a client-side
// default that are not listed are added with their default value.
func (i *InsertBuilder) Columns(keys ...string) *InsertBuilder {
	c := i.clone()
	c.columns, c.defaults = nil, nil
	for _, key := range keys {
		col, ok := c.table.Column(key)
		if !ok {
			c.AddError(strata.NewCompileError(strata.CompileNoSuchColumn,
				"table %q has no column %q", c.table.name, key))
			continue
		}
		c.columns = append(c.columns, col)
	}
	for _, col := range c.table.columns {
		if _, _, ok := col.Default(); ok && !slices.Contains(c.columns, col) {
			c.defaults = append(c.defaults, col)
		}
	}
	return c
}

// Values adds one row of values, in the order of Columns. Plain values are
// bound to parameters named after the column key; later rows use the
// "<key>_m<row>" names.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	c := i.clone()
	if len(values) != len(c.columns) {
		c.AddError(strata.NewCompileError(strata.CompileInvalidStructure,
			"insert into %q: %d values for %d columns", c.table.name, len(values), len(c.columns)))
		return c
	}
	n := len(c.rows)
	name := func(col *Column) string {
		if n == 0 {
			return col.key
		}
		return fmt.Sprintf("%s_m%d", col.key, n)
	}
	row := make([]Expr, 0, len(c.columns)+len(c.defaults))
	for j, v := range values {
		row = append(row, crudBind(name(c.columns[j]), c.columns[j], v))
	}
	for _, col := range c.defaults {
		v, fn, _ := col.Default()
		if fn != nil {
			b := BindFunc(name(col), col.typ, fn)
			row = append(row, b)
			continue
		}
		row = append(row, crudBind(name(col), col, v))
	}
	c.rows = append(c.rows, row)
	return c
}

// Returning returns a new builder with a RETURNING clause.
func (i *InsertBuilder) Returning(exprs ...Expr) *InsertBuilder {
	c := i.clone()
	c.returning = append(c.returning, exprs...)
	return c
}

// crudBind binds a value of the VALUES or SET clause.
func crudBind(name string, col *Column, v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	if isNilValue(v) {
		v = nil
	}
	b := &BindParam{key: name, value: v, typ: col.typ}
	b.ops = ops{b}
	return b
}

type setClause struct {
	col   *Column
	value Expr
}

// UpdateBuilder is an UPDATE statement.
type UpdateBuilder struct {
	Builder
	table     *Table
	sets      []setClause
	where     []Expr
	returning []Expr
}

// Update returns an UPDATE statement for the table.
func Update(t *Table) *UpdateBuilder {
	return &UpdateBuilder{table: t}
}

func (u *UpdateBuilder) clone() *UpdateBuilder {
	c := *u
	c.Builder = u.Builder.clone()
	c.sets = slices.Clone(u.sets)
	c.where = slices.Clone(u.where)
	c.returning = slices.Clone(u.returning)
	return &c
}

// Kind implements the Node interface.
func (*UpdateBuilder) Kind() Kind { return KindUpdate }

// Table returns the target table.
func (u *UpdateBuilder) Table() *Table { return u.table }

// Set adds "key = v" to the SET clause. Plain values are bound to a
// parameter named after the column key.
func (u *UpdateBuilder) Set(key string, v any) *UpdateBuilder {
	c := u.clone()
	col, ok := c.table.Column(key)
	if !ok {
		c.AddError(strata.NewCompileError(strata.CompileNoSuchColumn,
			"table %q has no column %q", c.table.name, key))
		return c
	}
	c.sets = append(c.sets, setClause{col: col, value: crudBind(col.key, col, v)})
	return c
}

// Where returns a new builder with the predicates added to WHERE.
func (u *UpdateBuilder) Where(preds ...Expr) *UpdateBuilder {
	c := u.clone()
	c.where = append(c.where, preds...)
	return c
}

// Returning returns a new builder with a RETURNING clause.
func (u *UpdateBuilder) Returning(exprs ...Expr) *UpdateBuilder {
	c := u.clone()
	c.returning = append(c.returning, exprs...)
	return c
}

// Empty reports whether the statement has no SET clause.
func (u *UpdateBuilder) Empty() bool { return len(u.sets) == 0 }

// DeleteBuilder is a DELETE statement.
type DeleteBuilder struct {
	Builder
	table     *Table
	where     []Expr
	returning []Expr
}

// Delete returns a DELETE statement for the table.
func Delete(t *Table) *DeleteBuilder {
	return &DeleteBuilder{table: t}
}

func (d *DeleteBuilder) clone() *DeleteBuilder {
	c := *d
	c.Builder = d.Builder.clone()
	c.where = slices.Clone(d.where)
	c.returning = slices.Clone(d.returning)
	return &c
}

// Kind implements the Node interface.
func (*DeleteBuilder) Kind() Kind { return KindDelete }

// Table returns the target table.
func (d *DeleteBuilder) Table() *Table { return d.table }

// Where returns a new builder with the predicates added to WHERE.
func (d *DeleteBuilder) Where(preds ...Expr) *DeleteBuilder {
	c := d.clone()
	c.where = append(c.where, preds...)
	return c
}

// Returning returns a new builder with a RETURNING clause.
func (d *DeleteBuilder) Returning(exprs ...Expr) *DeleteBuilder {
	c := d.clone()
	c.returning = append(c.returning, exprs...)
	return c
}

// TableBuilder is a CREATE TABLE or DROP TABLE statement.
type TableBuilder struct {
	table       *Table
	drop        bool
	ifNotExists bool
	ifExists    bool
}

// CreateTable returns a CREATE TABLE statement for the table.
func CreateTable(t *Table) *TableBuilder { return &TableBuilder{table: t} }

// DropTable returns a DROP TABLE statement for the table.
func DropTable(t *Table) *TableBuilder { return &TableBuilder{table: t, drop: true} }

// IfNotExists adds IF NOT EXISTS to a CREATE TABLE statement.
func (t *TableBuilder) IfNotExists() *TableBuilder {
	c := *t
	c.ifNotExists = true
	return &c
}

// IfExists adds IF EXISTS to a DROP TABLE statement.
func (t *TableBuilder) IfExists() *TableBuilder {
	c := *t
	c.ifExists = true
	return &c
}

// Kind implements the Node interface.
func (*TableBuilder) Kind() Kind { return KindDDL }
