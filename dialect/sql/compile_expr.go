package sql

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// expr renders an expression.
func (c *compiler) expr(e Expr) string {
	switch e := e.(type) {
	case *Column:
		return c.column(e)
	case *BinaryExpr:
		return c.binary(e)
	case *BooleanExpr:
		parts := make([]string, len(e.clauses))
		for i, cl := range e.clauses {
			parts[i] = c.operand(cl, e.op)
		}
		return strings.Join(parts, " "+e.op.String()+" ")
	case *UnaryExpr:
		return "NOT " + c.operand(e.elem, OpNot)
	case *Func:
		if e.star {
			return e.name + "(*)"
		}
		return e.name + "(" + c.exprList(e.args, false) + ")"
	case *Label:
		return c.expr(e.elem)
	case *Ordering:
		dir := " ASC"
		if e.desc {
			dir = " DESC"
		}
		if l, ok := e.elem.(*Label); ok {
			return c.quote(l.name) + dir
		}
		return c.expr(e.elem) + dir
	case *Literal:
		return c.literalNode(e)
	case *BindParam:
		return c.bind(e)
	case *TupleExpr:
		return "(" + c.exprList(e.elems, false) + ")"
	case *ScalarSelect:
		return "(" + c.selectStmt(e.sel, modeSubquery) + ")"
	case *ExistsExpr:
		return "EXISTS (" + c.selectStmt(e.sel, modeSubquery) + ")"
	case nil:
		c.errorf(strata.CompileInvalidStructure, "nil expression")
		return ""
	}
	c.errorf(strata.CompileInvalidStructure, "%T cannot be used as an expression", e)
	return ""
}

// exprList renders a comma separated list. In ORDER BY and GROUP BY
// (byLabel) labels render as their name.
func (c *compiler) exprList(exprs []Expr, byLabel bool) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		if l, ok := e.(*Label); ok && byLabel {
			parts[i] = c.quote(l.name)
			continue
		}
		parts[i] = c.expr(e)
	}
	return strings.Join(parts, ", ")
}

// column renders a column qualified by its table or alias.
func (c *compiler) column(col *Column) string {
	if col.missing {
		switch p := col.parent.(type) {
		case *Table:
			c.errorf(strata.CompileNoSuchColumn, "table %q has no column %q", p.name, col.key)
		case *Alias:
			c.errorf(strata.CompileNoSuchColumn, "%s has no column %q", c.describe(p), col.key)
		default:
			c.errorf(strata.CompileNoSuchColumn, "no column %q", col.key)
		}
		return ""
	}
	name := c.quote(col.name)
	switch p := col.parent.(type) {
	case *Table:
		return c.quote(p.name) + "." + name
	case *Alias:
		return c.quote(c.aliasName(p)) + "." + name
	}
	return name
}

func (c *compiler) binary(e *BinaryExpr) string {
	if e.op == OpConcat && c.d.Name() == dialect.MySQL {
		return "concat(" + c.expr(e.left) + ", " + c.expr(e.right) + ")"
	}
	sym := e.op.String()
	if e.op == OpMod && (c.style == dialect.Format || c.style == dialect.Pyformat) && !c.literal {
		sym = "%%"
	}
	return c.operand(e.left, e.op) + " " + sym + " " + c.operand(e.right, e.op)
}

// operand renders a child of an operator, parenthesized when it binds
// less tightly than its parent.
func (c *compiler) operand(e Expr, parent Operator) string {
	s := c.expr(e)
	if grouped(e, parent) {
		return "(" + s + ")"
	}
	return s
}

func grouped(e Expr, parent Operator) bool {
	var op Operator
	switch e := e.(type) {
	case *BinaryExpr:
		op = e.op
	case *BooleanExpr:
		op = e.op
	case *UnaryExpr:
		op = e.op
	default:
		return false
	}
	if op == parent && associative[op] {
		return false
	}
	return op.Precedence() <= parent.Precedence()
}

func (c *compiler) literalNode(l *Literal) string {
	switch l.kind {
	case litText:
		return l.text
	case litNull:
		return "NULL"
	case litTrue:
		return c.boolean(true)
	case litFalse:
		return c.boolean(false)
	}
	return c.literalValue(l.value)
}

func (c *compiler) boolean(b bool) string {
	switch {
	case c.d.Supports(dialect.FeatureBoolLiteral) && b:
		return "true"
	case c.d.Supports(dialect.FeatureBoolLiteral):
		return "false"
	case b:
		return "1"
	}
	return "0"
}

// literalValue renders a Go value as an inline SQL literal.
func (c *compiler) literalValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + escapeStringValue(v) + "'"
	case bool:
		return c.boolean(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	case uuid.UUID:
		return "'" + v.String() + "'"
	case json.RawMessage:
		return "'" + escapeStringValue(string(v)) + "'"
	}
	c.errorf(strata.CompileUnsupported, "cannot render a value of type %T as a literal", v)
	return ""
}

// escapeStringValue escapes a string for use in a quoted literal. Both
// single quotes and backslashes are escaped for MySQL compatibility.
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", "''")
}
