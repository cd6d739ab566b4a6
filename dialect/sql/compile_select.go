package sql

import (
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// selectStmt renders a SELECT statement.
func (c *compiler) selectStmt(s *Selector, mode compileMode) string {
	names, err := s.exports()
	if err != nil {
		c.errs = append(c.errs, err)
		return ""
	}
	if len(s.columns) == 0 {
		c.errorf(strata.CompileInvalidStructure, "select has no columns")
		return ""
	}
	froms, correlated := c.displayFroms(s, mode)
	f := &frame{scope: make(map[FromItem]bool), barrier: mode != modeSubquery}
	for _, from := range froms {
		for _, item := range components(from) {
			f.scope[item] = true
		}
	}
	for _, item := range correlated {
		f.scope[item] = true
	}
	c.pushFrame(f)
	defer c.popFrame()
	c.depth++
	defer func() { c.depth-- }()

	var b strings.Builder
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	for i, e := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.resultColumn(e, names[i]))
	}
	if mode == modeTop && c.depth == 1 {
		c.columns = names
	}
	if len(froms) > 0 {
		b.WriteString(" FROM ")
		for i, from := range froms {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.fromItem(from))
		}
	}
	if len(s.where) > 0 {
		b.WriteString(" WHERE " + c.expr(And(s.where...)))
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY " + c.exprList(s.group, true))
	}
	if len(s.having) > 0 {
		b.WriteString(" HAVING " + c.expr(And(s.having...)))
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY " + c.exprList(s.order, true))
	}
	if s.limit != nil {
		b.WriteString(" LIMIT " + c.bind(s.limit))
	}
	if s.offset != nil {
		if s.limit == nil {
			c.require(dialect.FeatureOffsetWithoutLimit, "OFFSET without LIMIT")
		}
		b.WriteString(" OFFSET " + c.bind(s.offset))
	}
	if s.forUpdate && c.require(dialect.FeatureForUpdate, "FOR UPDATE") {
		b.WriteString(" FOR UPDATE")
	}
	return b.String()
}

// resultColumn renders one item of the columns clause, labelled when the
// label differs from the natural name of the expression.
func (c *compiler) resultColumn(e Expr, label string) string {
	inner := unlabel(e)
	text := c.expr(inner)
	if col, ok := inner.(*Column); ok && col.name == label {
		return text
	}
	return text + " AS " + c.quote(c.truncate(label, "label"))
}

// rawFroms returns the FROM items of a SELECT before correlation: items
// referenced by the columns, then by WHERE, then explicit items and joins.
// Items that are part of a join are hidden.
func (c *compiler) rawFroms(s *Selector) []FromItem {
	var (
		froms []FromItem
		seen  = make(map[FromItem]bool)
	)
	add := func(f FromItem) {
		if f != nil && !seen[f] {
			seen[f] = true
			froms = append(froms, f)
		}
	}
	for _, e := range s.columns {
		for _, f := range fromsOf(e) {
			add(f)
		}
	}
	for _, e := range s.where {
		for _, f := range fromsOf(e) {
			add(f)
		}
	}
	explicit := append([]FromItem(nil), s.from...)
	for _, j := range s.joins {
		var left FromItem
		switch {
		case len(explicit) > 0:
			left, explicit = explicit[len(explicit)-1], explicit[:len(explicit)-1]
		default:
			for _, f := range froms {
				if f != j.right {
					left = f
					break
				}
			}
		}
		if left == nil {
			c.errorf(strata.CompileInvalidStructure, "no FROM item to join %s to", c.describe(j.right))
			continue
		}
		explicit = append(explicit, &JoinClause{left: left, right: j.right, on: j.on, kind: j.kind})
	}
	for _, f := range explicit {
		add(f)
	}
	hidden := make(map[FromItem]bool)
	for _, f := range froms {
		if j, ok := f.(*JoinClause); ok {
			for _, item := range components(j)[1:] {
				hidden[item] = true
			}
		}
	}
	out := froms[:0]
	for _, f := range froms {
		if !hidden[f] {
			out = append(out, f)
		}
	}
	return out
}

// displayFroms applies correlation to the FROM items of a SELECT. It
// returns the items to render and the items omitted because an enclosing
// statement provides them.
func (c *compiler) displayFroms(s *Selector, mode compileMode) (froms, correlated []FromItem) {
	froms = c.rawFroms(s)
	if mode != modeSubquery || len(c.frames) == 0 {
		return froms, nil
	}
	keep := func(drop func(FromItem) bool) {
		var kept []FromItem
		for _, f := range froms {
			if drop(f) {
				correlated = append(correlated, f)
			} else {
				kept = append(kept, f)
			}
		}
		froms = kept
	}
	switch {
	case s.correlateSet:
		if len(s.correlate) == 0 {
			return froms, nil
		}
		enclosing := c.enclosingScope()
		explicit := make(map[FromItem]bool, len(s.correlate))
		for _, f := range s.correlate {
			explicit[f] = true
		}
		keep(func(f FromItem) bool { return explicit[f] && enclosing[f] })
	case s.exceptSet:
		enclosing := c.enclosingScope()
		except := make(map[FromItem]bool, len(s.except))
		for _, f := range s.except {
			except[f] = true
		}
		keep(func(f FromItem) bool { return enclosing[f] && !except[f] })
	case len(froms) > 1:
		parent := c.frames[len(c.frames)-1].scope
		var ambiguous []string
		for _, f := range froms {
			if !parent[f] && c.ancestorProvides(f) {
				ambiguous = append(ambiguous, c.describe(f))
			}
		}
		if len(ambiguous) > 0 {
			c.errorf(strata.CompileCorrelation,
				"select would auto-correlate %s to a statement more than one level up; use Correlate() to correlate it explicitly",
				strings.Join(ambiguous, ", "))
			return froms, nil
		}
		before := froms
		keep(func(f FromItem) bool { return parent[f] })
		if len(froms) == 0 {
			names := make([]string, len(before))
			for i, f := range before {
				names[i] = c.describe(f)
			}
			c.errorf(strata.CompileCorrelation,
				"select statement returned no FROM clauses due to auto-correlation of %s; specify Correlate() to control correlation manually",
				strings.Join(names, ", "))
			return before, nil
		}
	}
	return froms, correlated
}

// describe returns a human readable name of a FROM item for messages.
func (c *compiler) describe(f FromItem) string {
	switch f := f.(type) {
	case *Table:
		return fmt.Sprintf("%q", f.name)
	case *Alias:
		if f.name != "" {
			return fmt.Sprintf("%q", f.name)
		}
		if f.table != nil {
			return fmt.Sprintf("alias of %q", f.table.name)
		}
		return "anonymous subquery"
	case *JoinClause:
		return c.describe(f.left) + " join " + c.describe(f.right)
	}
	return fmt.Sprintf("%T", f)
}

// fromsOf returns the FROM items referenced by an expression. Nested
// SELECTs are self-contained and contribute nothing.
func fromsOf(e Expr) []FromItem {
	var out []FromItem
	var walk func(Expr)
	walk = func(e Expr) {
		switch e := e.(type) {
		case *Column:
			if e.parent != nil {
				out = append(out, e.parent)
			}
		case *BinaryExpr:
			walk(e.left)
			walk(e.right)
		case *BooleanExpr:
			for _, cl := range e.clauses {
				walk(cl)
			}
		case *UnaryExpr:
			walk(e.elem)
		case *Func:
			for _, a := range e.args {
				walk(a)
			}
		case *Label:
			walk(e.elem)
		case *Ordering:
			walk(e.elem)
		case *TupleExpr:
			for _, el := range e.elems {
				walk(el)
			}
		}
	}
	walk(e)
	return out
}

// fromItem renders an item of a FROM clause.
func (c *compiler) fromItem(f FromItem) string {
	switch f := f.(type) {
	case *Table:
		return c.quote(f.name)
	case *Alias:
		name := c.quote(c.aliasName(f))
		switch {
		case f.err != nil:
			c.errs = append(c.errs, f.err)
			return ""
		case f.cte:
			c.registerCTE(f)
			return name
		case f.table != nil:
			return c.quote(f.table.name) + " AS " + name
		default:
			return "(" + c.selectStmt(f.sel, modeFrom) + ") AS " + name
		}
	case *JoinClause:
		return c.join(f)
	}
	c.errorf(strata.CompileInvalidStructure, "%T cannot be used as a FROM item", f)
	return ""
}

// registerCTE renders the body of a CTE into the WITH clause of the
// outermost statement.
func (c *compiler) registerCTE(a *Alias) {
	if c.cteSeen[a] {
		return
	}
	c.cteSeen[a] = true
	// Frames of the current statement are not visible from the CTE body.
	saved := c.frames
	c.frames = nil
	body := c.selectStmt(a.sel, modeFrom)
	c.frames = saved
	c.ctes = append(c.ctes, c.quote(c.aliasName(a))+" AS ("+body+")")
}

// join renders a join, inferring the ON clause when none is given.
func (c *compiler) join(j *JoinClause) string {
	switch j.kind {
	case RightOuterJoin:
		c.require(dialect.FeatureRightJoin, "RIGHT OUTER JOIN")
	case FullOuterJoin:
		c.require(dialect.FeatureFullOuterJoin, "FULL OUTER JOIN")
	}
	on := j.on
	if on == nil {
		on = c.inferOn(j.left, j.right)
	}
	left := c.fromItem(j.left)
	right := c.fromItem(j.right)
	if _, ok := j.right.(*JoinClause); ok {
		right = "(" + right + ")"
	}
	if on == nil {
		return left + " " + j.kind.String() + " " + right
	}
	return left + " " + j.kind.String() + " " + right + " ON " + c.expr(on)
}

// fkMatch is one foreign key linking two FROM items. Each pair holds the
// referenced column and the referencing column, as exposed by the items.
type fkMatch struct {
	fk    *ForeignKey
	pairs [][2]*Column
}

// inferOn derives the ON clause of a join from foreign keys. The leaves of
// the left side are scanned right to left; the first leaf linked to the
// right side decides, and it must be linked by exactly one constraint.
func (c *compiler) inferOn(left, right FromItem) Expr {
	ls, rs := leaves(left), leaves(right)
	for i := len(ls) - 1; i >= 0; i-- {
		var matches []fkMatch
		for _, r := range rs {
			matches = append(matches, fkMatches(ls[i], r)...)
			matches = append(matches, fkMatches(r, ls[i])...)
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			var preds []Expr
			for _, p := range matches[0].pairs {
				preds = append(preds, p[0].EQ(p[1]))
			}
			return And(preds...)
		default:
			c.errorf(strata.CompileAmbiguousJoin,
				"can't determine join between %s and %s; tables have more than one foreign key constraint relationship between them; specify the ON clause of this join explicitly",
				c.describe(left), c.describe(right))
			return nil
		}
	}
	c.errorf(strata.CompileNoForeignKey,
		"can't find any foreign key relationships between %s and %s", c.describe(left), c.describe(right))
	return nil
}

// exposed returns the columns exposed by a table or alias.
func exposed(f FromItem) []*Column {
	switch f := f.(type) {
	case *Table:
		return f.columns
	case *Alias:
		return f.cols
	}
	return nil
}

// fkMatches returns the foreign keys whose columns are exposed by child and
// whose referenced columns are exposed by parent.
func fkMatches(parent, child FromItem) []fkMatch {
	var (
		out  []fkMatch
		seen = make(map[*ForeignKey]bool)
	)
	childCols, parentCols := exposed(child), exposed(parent)
	find := func(cols []*Column, base *Column) *Column {
		for _, c := range cols {
			if c.base == base {
				return c
			}
		}
		return nil
	}
	for _, col := range childCols {
		for _, fk := range col.ForeignKeys() {
			if seen[fk] {
				continue
			}
			seen[fk] = true
			m := fkMatch{fk: fk}
			for i, fc := range fk.columns {
				cc := find(childCols, fc)
				var pc *Column
				for _, p := range parentCols {
					if p.base != nil && p.base.table != nil && p.base.table.name == fk.refTable && p.base.name == fk.refNames[i] {
						pc = p
						break
					}
				}
				if cc == nil || pc == nil {
					m.pairs = nil
					break
				}
				m.pairs = append(m.pairs, [2]*Column{pc, cc})
			}
			if len(m.pairs) > 0 {
				out = append(out, m)
			}
		}
	}
	return out
}
