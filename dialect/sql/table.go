package sql

import (
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema/field"
)

// Kind identifies the type of a node in a statement tree.
type Kind uint8

// Node kinds.
const (
	KindTable Kind = iota + 1
	KindColumn
	KindLiteral
	KindBinary
	KindBoolean
	KindUnary
	KindFunction
	KindAlias
	KindJoin
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindBind
	KindLabel
	KindOrdering
	KindTuple
	KindScalarSelect
	KindExists
	KindDDL
)

var kindNames = map[Kind]string{
	KindTable:        "table",
	KindColumn:       "column",
	KindLiteral:      "literal",
	KindBinary:       "binary",
	KindBoolean:      "boolean",
	KindUnary:        "unary",
	KindFunction:     "function",
	KindAlias:        "alias",
	KindJoin:         "join",
	KindSelect:       "select",
	KindInsert:       "insert",
	KindUpdate:       "update",
	KindDelete:       "delete",
	KindBind:         "bind",
	KindLabel:        "label",
	KindOrdering:     "ordering",
	KindTuple:        "tuple",
	KindScalarSelect: "scalar select",
	KindExists:       "exists",
	KindDDL:          "ddl",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is an element of a statement tree. Nodes are never mutated after
// construction; builder methods return new nodes.
type Node interface {
	Kind() Kind
}

// Expr is a node that produces a value.
type Expr interface {
	Node
	// Type returns the type tag of the produced value.
	Type() field.Type
}

// FromItem is a node that can appear in a FROM clause: tables, aliases
// (including subqueries and CTEs) and joins.
type FromItem interface {
	Node
	fromItem()
}

// ReferentialAction is the ON DELETE / ON UPDATE action of a foreign key.
type ReferentialAction string

// Referential actions.
const (
	NoAction   ReferentialAction = "NO ACTION"
	Restrict   ReferentialAction = "RESTRICT"
	Cascade    ReferentialAction = "CASCADE"
	SetNull    ReferentialAction = "SET NULL"
	SetDefault ReferentialAction = "SET DEFAULT"
)

// Table is a named relation with an ordered set of columns.
type Table struct {
	name    string
	columns []*Column
	byKey   map[string]*Column
	pk      []*Column
	fks     []*ForeignKey
}

// TableElement is an element passed to NewTable: a *Column or a foreign
// key constraint.
type TableElement interface {
	attach(*Table)
}

// NewTable creates a table. It panics if two columns share a name or a key,
// or if a constraint names an unknown column, since tables are declared
// once at program start.
func NewTable(name string, elems ...TableElement) *Table {
	t := &Table{name: name, byKey: make(map[string]*Column)}
	for _, e := range elems {
		if c, ok := e.(*Column); ok {
			c.attach(t)
		}
	}
	for _, e := range elems {
		if _, ok := e.(*Column); !ok {
			e.attach(t)
		}
	}
	for _, c := range t.columns {
		for _, ref := range c.refs {
			fk := &ForeignKey{table: t, columns: []*Column{c}}
			fk.addRef(ref)
			for _, o := range c.fkOpts {
				o(fk)
			}
			t.fks = append(t.fks, fk)
		}
	}
	return t
}

// Kind implements the Node interface.
func (*Table) Kind() Kind { return KindTable }

func (*Table) fromItem() {}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the columns in declaration order.
func (t *Table) Columns() []*Column { return t.columns }

// PrimaryKey returns the primary key columns.
func (t *Table) PrimaryKey() []*Column { return t.pk }

// ForeignKeys returns the foreign key constraints of the table.
func (t *Table) ForeignKeys() []*ForeignKey { return t.fks }

// Column returns the column with the given key.
func (t *Table) Column(key string) (*Column, bool) {
	c, ok := t.byKey[key]
	return c, ok
}

// C returns the column with the given key. An unknown key yields a
// placeholder column that fails compilation with ErrNoSuchColumn.
func (t *Table) C(key string) *Column {
	if c, ok := t.byKey[key]; ok {
		return c
	}
	return missingColumn(t, key)
}

// Alias returns an alias of the table. An empty name produces an anonymous
// alias that is named at compile time ("<table>_1", "<table>_2", ...).
func (t *Table) Alias(name string) *Alias {
	a := &Alias{name: name, table: t}
	for _, c := range t.columns {
		p := c.proxy(a, c.name, c.key)
		a.cols = append(a.cols, p)
	}
	a.index()
	return a
}

// String returns the table name.
func (t *Table) String() string { return t.name }

// Column is a column of a table, or a proxy of a column (or labelled
// expression) exposed by an alias.
type Column struct {
	ops
	name          string
	key           string
	typ           field.Type
	nullable      bool
	nullableSet   bool
	primary       bool
	unique        bool
	autoincrement bool
	def           any
	defFunc       func() any
	serverDefault string
	refs          []any
	fkOpts        []ForeignKeyOption

	table   *Table   // owning table of a table column
	parent  FromItem // table or alias exposing the column
	base    *Column  // proxied table column, if any
	elem    Expr     // proxied expression of a subquery column
	missing bool
}

// ColumnOption configures a column.
type ColumnOption func(*Column)

// Col creates a column to be passed to NewTable.
func Col(name string, typ field.Type, opts ...ColumnOption) *Column {
	c := &Column{name: name, key: name, typ: typ, nullable: true}
	c.ops = ops{c}
	for _, opt := range opts {
		opt(c)
	}
	if c.primary && !c.nullableSet {
		c.nullable = false
	}
	return c
}

// PrimaryKey marks the column as part of the primary key.
func PrimaryKey() ColumnOption {
	return func(c *Column) { c.primary = true }
}

// NotNull marks the column as NOT NULL.
func NotNull() ColumnOption {
	return func(c *Column) { c.nullable, c.nullableSet = false, true }
}

// Nullable marks the column as nullable. Primary key columns are NOT NULL
// unless this option is given.
func Nullable() ColumnOption {
	return func(c *Column) { c.nullable, c.nullableSet = true, true }
}

// Key sets the attribute key of the column, used by C and by the ORM, when
// it differs from the column name.
func Key(key string) ColumnOption {
	return func(c *Column) { c.key = key }
}

// Unique marks the column as unique.
func Unique() ColumnOption {
	return func(c *Column) { c.unique = true }
}

// Autoincrement marks an integer primary key column as generated by the
// database.
func Autoincrement() ColumnOption {
	return func(c *Column) { c.autoincrement = true }
}

// Default sets a client-side default applied on INSERT when no value is
// given. A func() any is called once per inserted row at execution time.
func Default(v any) ColumnOption {
	return func(c *Column) {
		if fn, ok := v.(func() any); ok {
			c.defFunc = fn
			return
		}
		c.def = v
	}
}

// ServerDefault sets the SQL text of the DEFAULT clause used in DDL.
func ServerDefault(sql string) ColumnOption {
	return func(c *Column) { c.serverDefault = sql }
}

// References declares a single-column foreign key. The target is either a
// *Column or a "table.column" string, which is resolved by table name when
// the key is used.
func References(target any, opts ...ForeignKeyOption) ColumnOption {
	return func(c *Column) {
		c.refs = append(c.refs, target)
		c.fkOpts = append(c.fkOpts, opts...)
	}
}

func (c *Column) attach(t *Table) {
	if c.table != nil {
		panic(fmt.Sprintf("sql: column %q already belongs to table %q", c.name, c.table.name))
	}
	for _, o := range t.columns {
		if o.name == c.name || o.key == c.key {
			panic(fmt.Sprintf("sql: duplicate column %q in table %q", c.name, t.name))
		}
	}
	c.table, c.parent, c.base = t, t, c
	t.columns = append(t.columns, c)
	t.byKey[c.key] = c
	if c.primary {
		t.pk = append(t.pk, c)
	}
}

// proxy returns a column exposed by an alias that stands for c.
func (c *Column) proxy(parent FromItem, name, key string) *Column {
	p := &Column{
		name:     name,
		key:      key,
		typ:      c.typ,
		nullable: c.nullable,
		primary:  c.primary,
		unique:   c.unique,
		parent:   parent,
		base:     c.base,
		elem:     c,
	}
	p.ops = ops{p}
	return p
}

func missingColumn(parent FromItem, key string) *Column {
	c := &Column{name: key, key: key, parent: parent, missing: true}
	c.ops = ops{c}
	return c
}

// Kind implements the Node interface.
func (*Column) Kind() Kind { return KindColumn }

// Type implements the Expr interface.
func (c *Column) Type() field.Type { return c.typ }

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Key returns the attribute key of the column.
func (c *Column) Key() string { return c.key }

// Table returns the table owning the column, or the table of the proxied
// column for alias columns. It is nil for computed subquery columns.
func (c *Column) Table() *Table {
	if c.base != nil {
		return c.base.table
	}
	return nil
}

// Parent returns the table or alias that exposes the column.
func (c *Column) Parent() FromItem { return c.parent }

// Base returns the table column the column stands for, or nil for computed
// subquery columns.
func (c *Column) Base() *Column { return c.base }

// PrimaryKey reports if the column is part of the primary key.
func (c *Column) PrimaryKey() bool { return c.primary }

// Nullable reports if the column accepts NULL.
func (c *Column) Nullable() bool { return c.nullable }

// Unique reports if the column has a UNIQUE constraint.
func (c *Column) Unique() bool { return c.unique }

// ServerDefault returns the SQL text of the DDL default, if any.
func (c *Column) ServerDefault() string { return c.serverDefault }

// Autoincrement reports if the database generates the column value.
func (c *Column) Autoincrement() bool {
	return c.autoincrement ||
		(c.primary && c.typ.Integer() && c.table != nil && len(c.table.pk) == 1 && len(c.ForeignKeys()) == 0)
}

// Default returns the client-side default of the column.
func (c *Column) Default() (v any, fn func() any, ok bool) {
	return c.def, c.defFunc, c.def != nil || c.defFunc != nil
}

// ForeignKeys returns the foreign keys of the owning table that contain
// the column.
func (c *Column) ForeignKeys() []*ForeignKey {
	if c.base == nil || c.base.table == nil {
		return nil
	}
	var fks []*ForeignKey
	for _, fk := range c.base.table.fks {
		for _, fc := range fk.columns {
			if fc == c.base {
				fks = append(fks, fk)
				break
			}
		}
	}
	return fks
}

// String returns the qualified name of a table column.
func (c *Column) String() string {
	if c.table != nil {
		return c.table.name + "." + c.name
	}
	return c.name
}

// ForeignKey is a foreign key constraint. Referenced columns are given as
// *Column values or "table.column" strings; strings are matched by name
// against the referenced table when the key is used.
type ForeignKey struct {
	name     string
	table    *Table
	columns  []*Column
	refTable string
	refNames []string
	refCols  []*Column
	onDelete ReferentialAction
	onUpdate ReferentialAction
}

// ForeignKeyOption configures a foreign key.
type ForeignKeyOption func(*ForeignKey)

// OnDelete sets the ON DELETE action.
func OnDelete(a ReferentialAction) ForeignKeyOption {
	return func(fk *ForeignKey) { fk.onDelete = a }
}

// OnUpdate sets the ON UPDATE action.
func OnUpdate(a ReferentialAction) ForeignKeyOption {
	return func(fk *ForeignKey) { fk.onUpdate = a }
}

// ConstraintName sets the constraint name.
func ConstraintName(name string) ForeignKeyOption {
	return func(fk *ForeignKey) { fk.name = name }
}

type foreignKeyElement struct {
	columns []string
	refs    []any
	opts    []ForeignKeyOption
}

// ForeignKeyConstraint declares a (possibly composite) foreign key on the
// given column keys. Each ref is a *Column or a "table.column" string.
func ForeignKeyConstraint(columns []string, refs []any, opts ...ForeignKeyOption) TableElement {
	return &foreignKeyElement{columns: columns, refs: refs, opts: opts}
}

func (e *foreignKeyElement) attach(t *Table) {
	if len(e.columns) != len(e.refs) || len(e.columns) == 0 {
		panic(fmt.Sprintf("sql: foreign key on %q: %d columns and %d references", t.name, len(e.columns), len(e.refs)))
	}
	fk := &ForeignKey{table: t}
	for i, key := range e.columns {
		c, ok := t.byKey[key]
		if !ok {
			panic(fmt.Sprintf("sql: foreign key on %q: unknown column %q", t.name, key))
		}
		fk.columns = append(fk.columns, c)
		fk.addRef(e.refs[i])
	}
	for _, o := range e.opts {
		o(fk)
	}
	t.fks = append(t.fks, fk)
}

func (fk *ForeignKey) addRef(ref any) {
	switch ref := ref.(type) {
	case *Column:
		fk.refTable = ref.table.name
		fk.refNames = append(fk.refNames, ref.name)
		fk.refCols = append(fk.refCols, ref)
	case string:
		table, col, ok := strings.Cut(ref, ".")
		if !ok {
			panic(fmt.Sprintf("sql: foreign key reference %q is not of the form table.column", ref))
		}
		fk.refTable = table
		fk.refNames = append(fk.refNames, col)
		fk.refCols = append(fk.refCols, nil)
	default:
		panic(fmt.Sprintf("sql: invalid foreign key reference %T", ref))
	}
}

// Name returns the constraint name, if any.
func (fk *ForeignKey) Name() string { return fk.name }

// Table returns the table owning the constraint.
func (fk *ForeignKey) Table() *Table { return fk.table }

// Columns returns the referencing columns.
func (fk *ForeignKey) Columns() []*Column { return fk.columns }

// RefTableName returns the name of the referenced table.
func (fk *ForeignKey) RefTableName() string { return fk.refTable }

// RefColumnNames returns the names of the referenced columns.
func (fk *ForeignKey) RefColumnNames() []string { return fk.refNames }

// OnDeleteAction returns the ON DELETE action.
func (fk *ForeignKey) OnDeleteAction() ReferentialAction { return fk.onDelete }

// OnUpdateAction returns the ON UPDATE action.
func (fk *ForeignKey) OnUpdateAction() ReferentialAction { return fk.onUpdate }

// Nullable reports if every referencing column is nullable.
func (fk *ForeignKey) Nullable() bool {
	for _, c := range fk.columns {
		if !c.nullable {
			return false
		}
	}
	return true
}

// RefColumns returns the referenced columns resolved against t, which must
// be the referenced table (matched by name).
func (fk *ForeignKey) RefColumns(t *Table) ([]*Column, bool) {
	if t == nil || t.name != fk.refTable {
		return nil, false
	}
	cols := make([]*Column, len(fk.refNames))
	for i, name := range fk.refNames {
		if c := fk.refCols[i]; c != nil && c.table == t {
			cols[i] = c
			continue
		}
		c, ok := t.columnByName(name)
		if !ok {
			return nil, false
		}
		cols[i] = c
	}
	return cols, true
}

// Resolve binds string references to the columns of the referenced table
// returned by lookup.
func (fk *ForeignKey) Resolve(lookup func(name string) (*Table, bool)) error {
	t, ok := lookup(fk.refTable)
	if !ok {
		return strata.NewCompileError(strata.CompileNoForeignKey,
			"foreign key on %q references unknown table %q", fk.table.name, fk.refTable)
	}
	cols, ok := fk.RefColumns(t)
	if !ok {
		return strata.NewCompileError(strata.CompileNoForeignKey,
			"foreign key on %q references unknown columns %s(%s)", fk.table.name, fk.refTable, strings.Join(fk.refNames, ", "))
	}
	copy(fk.refCols, cols)
	return nil
}

func (t *Table) columnByName(name string) (*Column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}
