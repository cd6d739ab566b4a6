package sql

import (
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema/field"
)

// insertStmt renders an INSERT statement. Columns without values are
// rendered with required parameters, to be given when the arguments are
// built.
func (c *compiler) insertStmt(i *InsertBuilder) string {
	c.pushFrame(&frame{scope: map[FromItem]bool{i.table: true}, barrier: true})
	defer c.popFrame()
	c.depth++
	defer func() { c.depth-- }()

	cols := append(append([]*Column(nil), i.columns...), i.defaults...)
	rows := i.rows
	if len(rows) == 0 && len(cols) > 0 {
		row := make([]Expr, len(cols))
		for j, col := range cols {
			row[j] = Param(col.key, col.typ)
		}
		rows = [][]Expr{row}
	}
	var b strings.Builder
	b.WriteString("INSERT INTO " + c.quote(i.table.name))
	switch {
	case len(cols) > 0:
		names := make([]string, len(cols))
		for j, col := range cols {
			names[j] = c.quote(col.name)
		}
		b.WriteString(" (" + strings.Join(names, ", ") + ") VALUES ")
		if len(rows) > 1 {
			c.require(dialect.FeatureMultiRowInsert, "multi-row INSERT")
		}
		for j, row := range rows {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(" + c.exprList(row, false) + ")")
		}
	case c.d.Supports(dialect.FeatureDefaultValues):
		b.WriteString(" DEFAULT VALUES")
	case c.d.Name() == dialect.MySQL:
		b.WriteString(" () VALUES ()")
	default:
		c.errorf(strata.CompileUnsupported, "dialect %q cannot insert a row of default values", c.d.Name())
	}
	b.WriteString(c.returning(i.table, i.returning))
	return b.String()
}

// updateStmt renders an UPDATE statement.
func (c *compiler) updateStmt(u *UpdateBuilder) string {
	if len(u.sets) == 0 {
		c.errorf(strata.CompileInvalidStructure, "update of %q has no SET clause", u.table.name)
		return ""
	}
	c.pushFrame(&frame{scope: map[FromItem]bool{u.table: true}, barrier: true})
	defer c.popFrame()
	c.depth++
	defer func() { c.depth-- }()

	var b strings.Builder
	b.WriteString("UPDATE " + c.quote(u.table.name) + " SET ")
	for j, s := range u.sets {
		if j > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.quote(s.col.name) + "=" + c.expr(s.value))
	}
	if len(u.where) > 0 {
		b.WriteString(" WHERE " + c.expr(And(u.where...)))
	}
	b.WriteString(c.returning(u.table, u.returning))
	return b.String()
}

// deleteStmt renders a DELETE statement.
func (c *compiler) deleteStmt(d *DeleteBuilder) string {
	c.pushFrame(&frame{scope: map[FromItem]bool{d.table: true}, barrier: true})
	defer c.popFrame()
	c.depth++
	defer func() { c.depth-- }()

	var b strings.Builder
	b.WriteString("DELETE FROM " + c.quote(d.table.name))
	if len(d.where) > 0 {
		b.WriteString(" WHERE " + c.expr(And(d.where...)))
	}
	b.WriteString(c.returning(d.table, d.returning))
	return b.String()
}

// returning renders a RETURNING clause. Columns of the target table are
// rendered unqualified.
func (c *compiler) returning(t *Table, exprs []Expr) string {
	if len(exprs) == 0 {
		return ""
	}
	if !c.require(dialect.FeatureReturning, "RETURNING") {
		return ""
	}
	names, err := (&Selector{columns: exprs}).exports()
	if err != nil {
		c.errs = append(c.errs, err)
		return ""
	}
	parts := make([]string, len(exprs))
	for j, e := range exprs {
		inner := unlabel(e)
		if col, ok := inner.(*Column); ok && col.parent == t && !col.missing {
			parts[j] = c.quote(col.name)
			if col.name != names[j] {
				parts[j] += " AS " + c.quote(names[j])
			}
			continue
		}
		parts[j] = c.resultColumn(e, names[j])
	}
	if c.depth == 1 {
		c.columns = names
	}
	return " RETURNING " + strings.Join(parts, ", ")
}

// tableStmt renders CREATE TABLE and DROP TABLE statements.
func (c *compiler) tableStmt(tb *TableBuilder) string {
	t := tb.table
	if tb.drop {
		if tb.ifExists {
			return "DROP TABLE IF EXISTS " + c.quote(t.name)
		}
		return "DROP TABLE " + c.quote(t.name)
	}
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if tb.ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(c.quote(t.name) + " (\n")
	var defs []string
	inlinePK := false
	for _, col := range t.columns {
		def, inline := c.columnDef(col)
		inlinePK = inlinePK || inline
		defs = append(defs, "\t"+def)
	}
	if len(t.pk) > 0 && !inlinePK {
		defs = append(defs, "\tPRIMARY KEY ("+c.columnNames(t.pk)+")")
	}
	for _, fk := range t.fks {
		defs = append(defs, "\t"+c.foreignKeyDef(fk))
	}
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// columnDef renders a column definition. SQLite requires an auto
// incrementing key to be declared inline as INTEGER PRIMARY KEY; inline
// reports if the primary key was rendered that way.
func (c *compiler) columnDef(col *Column) (def string, inline bool) {
	typ := c.d.RenderType(col.typ)
	auto := col.Autoincrement()
	switch {
	case auto && c.d.Name() == dialect.Postgres:
		typ = "SERIAL"
		if col.typ == field.TypeInt64 || col.typ == field.TypeUint64 {
			typ = "BIGSERIAL"
		}
	case auto && c.d.Name() == dialect.SQLite:
		return c.quote(col.name) + " INTEGER PRIMARY KEY AUTOINCREMENT", true
	}
	parts := []string{c.quote(col.name), typ}
	if !col.nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.serverDefault != "" {
		parts = append(parts, "DEFAULT "+col.serverDefault)
	}
	if auto && c.d.Name() == dialect.MySQL {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if col.unique {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), false
}

func (c *compiler) columnNames(cols []*Column) string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = c.quote(col.name)
	}
	return strings.Join(names, ", ")
}

func (c *compiler) foreignKeyDef(fk *ForeignKey) string {
	var b strings.Builder
	if fk.name != "" {
		b.WriteString("CONSTRAINT " + c.quote(fk.name) + " ")
	}
	refs := make([]string, len(fk.refNames))
	for i, n := range fk.refNames {
		refs[i] = c.quote(n)
	}
	b.WriteString("FOREIGN KEY(" + c.columnNames(fk.columns) + ") REFERENCES " +
		c.quote(fk.refTable) + " (" + strings.Join(refs, ", ") + ")")
	if fk.onDelete != "" {
		b.WriteString(" ON DELETE " + string(fk.onDelete))
	}
	if fk.onUpdate != "" {
		b.WriteString(" ON UPDATE " + string(fk.onUpdate))
	}
	return b.String()
}
