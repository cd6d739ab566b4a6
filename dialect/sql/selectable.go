package sql

import (
	"fmt"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema/field"
)

// JoinKind is the type of a join.
type JoinKind uint8

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

var joinKeywords = [...]string{
	InnerJoin:      "JOIN",
	LeftOuterJoin:  "LEFT OUTER JOIN",
	RightOuterJoin: "RIGHT OUTER JOIN",
	FullOuterJoin:  "FULL OUTER JOIN",
}

// String returns the SQL keyword of the join.
func (k JoinKind) String() string { return joinKeywords[k] }

// JoinClause joins two FROM items. A join without ON clause infers it from
// the foreign keys between both sides at compile time.
type JoinClause struct {
	left, right FromItem
	on          Expr
	kind        JoinKind
}

// Join returns "left JOIN right ON on". Several on predicates are combined
// with AND.
func Join(left, right FromItem, on ...Expr) *JoinClause {
	return newJoin(left, right, on, InnerJoin)
}

// LeftJoin returns "left LEFT OUTER JOIN right ON on".
func LeftJoin(left, right FromItem, on ...Expr) *JoinClause {
	return newJoin(left, right, on, LeftOuterJoin)
}

// RightJoin returns "left RIGHT OUTER JOIN right ON on".
func RightJoin(left, right FromItem, on ...Expr) *JoinClause {
	return newJoin(left, right, on, RightOuterJoin)
}

// FullJoin returns "left FULL OUTER JOIN right ON on".
func FullJoin(left, right FromItem, on ...Expr) *JoinClause {
	return newJoin(left, right, on, FullOuterJoin)
}

func newJoin(left, right FromItem, on []Expr, kind JoinKind) *JoinClause {
	j := &JoinClause{left: left, right: right, kind: kind}
	if len(on) > 0 {
		j.on = And(on...)
	}
	return j
}

// Join chains an inner join to the join.
func (j *JoinClause) Join(right FromItem, on ...Expr) *JoinClause { return Join(j, right, on...) }

// LeftJoin chains a left outer join to the join.
func (j *JoinClause) LeftJoin(right FromItem, on ...Expr) *JoinClause {
	return LeftJoin(j, right, on...)
}

// Kind implements the Node interface.
func (*JoinClause) Kind() Kind { return KindJoin }

func (*JoinClause) fromItem() {}

// leaves returns the tables and aliases of a FROM item, left to right.
func leaves(f FromItem) []FromItem {
	if j, ok := f.(*JoinClause); ok {
		return append(leaves(j.left), leaves(j.right)...)
	}
	return []FromItem{f}
}

// components returns f and, for joins, every nested item.
func components(f FromItem) []FromItem {
	out := []FromItem{f}
	if j, ok := f.(*JoinClause); ok {
		out = append(out, components(j.left)...)
		out = append(out, components(j.right)...)
	}
	return out
}

// Alias is a named FROM item: an aliased table, a subquery or a common
// table expression. Its columns form a flat namespace keyed by label.
type Alias struct {
	name  string
	table *Table
	sel   *Selector
	cte   bool
	cols  []*Column
	byKey map[string]*Column
	err   error
}

// Kind implements the Node interface.
func (*Alias) Kind() Kind { return KindAlias }

func (*Alias) fromItem() {}

// Name returns the alias name, or "" for anonymous aliases.
func (a *Alias) Name() string { return a.name }

// Table returns the aliased table, or nil for subqueries.
func (a *Alias) Table() *Table { return a.table }

// Columns returns the columns exposed by the alias.
func (a *Alias) Columns() []*Column { return a.cols }

// C returns the exposed column with the given key (the column key for
// table aliases, the label for subqueries). An unknown key yields a
// placeholder column that fails compilation with ErrNoSuchColumn.
func (a *Alias) C(key string) *Column {
	if c, ok := a.byKey[key]; ok {
		return c
	}
	return missingColumn(a, key)
}

func (a *Alias) index() {
	a.byKey = make(map[string]*Column, len(a.cols))
	for _, c := range a.cols {
		a.byKey[c.key] = c
	}
}

// ColumnsOf returns the columns exposed by a table or alias as expressions,
// for use with Select.
func ColumnsOf(f FromItem) []Expr {
	var cols []*Column
	switch f := f.(type) {
	case *Table:
		cols = f.columns
	case *Alias:
		cols = f.cols
	case *JoinClause:
		var exprs []Expr
		for _, l := range leaves(f) {
			exprs = append(exprs, ColumnsOf(l)...)
		}
		return exprs
	}
	exprs := make([]Expr, len(cols))
	for i, c := range cols {
		exprs[i] = c
	}
	return exprs
}

type joinSpec struct {
	right FromItem
	on    Expr
	kind  JoinKind
}

// Selector is a SELECT statement. All builder methods return a new
// Selector and leave the receiver untouched, so a partially built
// statement can be reused as a template.
type Selector struct {
	columns      []Expr
	from         []FromItem
	joins        []joinSpec
	where        []Expr
	group        []Expr
	having       []Expr
	order        []Expr
	limit        *BindParam
	offset       *BindParam
	distinct     bool
	correlate    []FromItem
	correlateSet bool
	except       []FromItem
	exceptSet    bool
	forUpdate    bool
}

// Select returns a SELECT of the given columns. The FROM clause is derived
// from the columns and the WHERE clause unless set explicitly.
func Select(columns ...Expr) *Selector {
	return &Selector{columns: slices.Clone(columns)}
}

// SelectFrom returns "SELECT <all columns of f> FROM f".
func SelectFrom(f FromItem) *Selector {
	return Select(ColumnsOf(f)...).From(f)
}

func (s *Selector) clone() *Selector {
	c := *s
	c.columns = slices.Clone(s.columns)
	c.from = slices.Clone(s.from)
	c.joins = slices.Clone(s.joins)
	c.where = slices.Clone(s.where)
	c.group = slices.Clone(s.group)
	c.having = slices.Clone(s.having)
	c.order = slices.Clone(s.order)
	c.correlate = slices.Clone(s.correlate)
	c.except = slices.Clone(s.except)
	return &c
}

// Kind implements the Node interface.
func (*Selector) Kind() Kind { return KindSelect }

// Columns returns a new Selector with the given columns appended.
func (s *Selector) Columns(columns ...Expr) *Selector {
	c := s.clone()
	c.columns = append(c.columns, columns...)
	return c
}

// From returns a new Selector with the given explicit FROM items appended.
func (s *Selector) From(items ...FromItem) *Selector {
	c := s.clone()
	c.from = append(c.from, items...)
	return c
}

// Join returns a new Selector that joins right to the last explicit FROM
// item, or to the first FROM item derived from the columns.
func (s *Selector) Join(right FromItem, on ...Expr) *Selector {
	return s.join(right, on, InnerJoin)
}

// LeftJoin is like Join with a LEFT OUTER JOIN.
func (s *Selector) LeftJoin(right FromItem, on ...Expr) *Selector {
	return s.join(right, on, LeftOuterJoin)
}

// RightJoin is like Join with a RIGHT OUTER JOIN.
func (s *Selector) RightJoin(right FromItem, on ...Expr) *Selector {
	return s.join(right, on, RightOuterJoin)
}

// FullJoin is like Join with a FULL OUTER JOIN.
func (s *Selector) FullJoin(right FromItem, on ...Expr) *Selector {
	return s.join(right, on, FullOuterJoin)
}

func (s *Selector) join(right FromItem, on []Expr, kind JoinKind) *Selector {
	c := s.clone()
	spec := joinSpec{right: right, kind: kind}
	if len(on) > 0 {
		spec.on = And(on...)
	}
	c.joins = append(c.joins, spec)
	return c
}

// Where returns a new Selector with the predicates added to the WHERE
// clause. Repeated calls are combined with AND.
func (s *Selector) Where(preds ...Expr) *Selector {
	c := s.clone()
	c.where = append(c.where, preds...)
	return c
}

// GroupBy returns a new Selector with the GROUP BY expressions appended.
func (s *Selector) GroupBy(exprs ...Expr) *Selector {
	c := s.clone()
	c.group = append(c.group, exprs...)
	return c
}

// Having returns a new Selector with the predicates added to HAVING.
func (s *Selector) Having(preds ...Expr) *Selector {
	c := s.clone()
	c.having = append(c.having, preds...)
	return c
}

// OrderBy returns a new Selector with the ORDER BY items appended.
func (s *Selector) OrderBy(exprs ...Expr) *Selector {
	c := s.clone()
	c.order = append(c.order, exprs...)
	return c
}

// Limit returns a new Selector with a bound LIMIT.
func (s *Selector) Limit(n int) *Selector {
	c := s.clone()
	c.limit = &BindParam{key: "param", value: n, typ: field.TypeInt, unique: true}
	c.limit.ops = ops{c.limit}
	return c
}

// Offset returns a new Selector with a bound OFFSET.
func (s *Selector) Offset(n int) *Selector {
	c := s.clone()
	c.offset = &BindParam{key: "param", value: n, typ: field.TypeInt, unique: true}
	c.offset.ops = ops{c.offset}
	return c
}

// Distinct returns a new Selector with SELECT DISTINCT.
func (s *Selector) Distinct() *Selector {
	c := s.clone()
	c.distinct = true
	return c
}

// ForUpdate returns a new Selector with FOR UPDATE.
func (s *Selector) ForUpdate() *Selector {
	c := s.clone()
	c.forUpdate = true
	return c
}

// Correlate returns a new Selector that, when embedded in an enclosing
// statement, omits exactly the given items from its FROM clause if an
// enclosing statement provides them. Called without items it disables
// correlation.
func (s *Selector) Correlate(items ...FromItem) *Selector {
	c := s.clone()
	c.correlateSet = true
	c.correlate = append(c.correlate, items...)
	return c
}

// CorrelateExcept returns a new Selector that correlates every FROM item
// provided by an enclosing statement, except the given ones.
func (s *Selector) CorrelateExcept(items ...FromItem) *Selector {
	c := s.clone()
	c.exceptSet = true
	c.except = append(c.except, items...)
	return c
}

// Scalar returns the statement as a scalar subquery expression.
func (s *Selector) Scalar() *ScalarSelect {
	e := &ScalarSelect{sel: s}
	e.ops = ops{e}
	return e
}

// Exists returns "EXISTS (s)".
func (s *Selector) Exists() *ExistsExpr { return Exists(s) }

// Subquery returns the statement as a FROM item. An empty name produces an
// anonymous alias named at compile time ("anon_1", ...).
func (s *Selector) Subquery(name string) *Alias {
	return s.alias(name, false)
}

// CTE returns the statement as a common table expression. The CTE is
// rendered in a WITH clause of the outermost statement that uses it.
func (s *Selector) CTE(name string) *Alias {
	return s.alias(name, true)
}

func (s *Selector) alias(name string, cte bool) *Alias {
	a := &Alias{name: name, sel: s, cte: cte}
	names, err := s.exports()
	a.err = err
	for i, e := range s.columns {
		label := names[i]
		var col *Column
		if c, ok := unlabel(e).(*Column); ok && !c.missing {
			col = c.proxy(a, label, label)
			col.elem = e
		} else {
			col = &Column{name: label, key: label, typ: e.Type(), nullable: true, parent: a, elem: e}
			col.ops = ops{col}
		}
		a.cols = append(a.cols, col)
	}
	a.index()
	return a
}

func unlabel(e Expr) Expr {
	if l, ok := e.(*Label); ok {
		return l.elem
	}
	return e
}

// exports returns the labels of the result columns: the column key for
// columns, the name for labels, "<func>_N" for functions and "anon_N" for
// other expressions. Duplicate generated names get a numeric suffix;
// duplicate explicit labels are an error.
func (s *Selector) exports() ([]string, error) {
	names := make([]string, len(s.columns))
	taken := make(map[string]bool, len(s.columns))
	for i, e := range s.columns {
		if l, ok := e.(*Label); ok {
			if taken[l.name] {
				return names, strata.NewCompileError(strata.CompileLabelCollision,
					"label %q is used by more than one column", l.name)
			}
			taken[l.name] = true
			names[i] = l.name
		}
	}
	counters := make(map[string]int)
	next := func(base string) string {
		for {
			counters[base]++
			name := fmt.Sprintf("%s_%d", base, counters[base])
			if !taken[name] {
				return name
			}
		}
	}
	for i, e := range s.columns {
		if names[i] != "" {
			continue
		}
		var name string
		switch e := e.(type) {
		case *Column:
			name = e.key
			if taken[name] {
				name = next(name)
			}
		case *Func:
			name = next(e.name)
		default:
			name = next("anon")
		}
		taken[name] = true
		names[i] = name
	}
	return names, nil
}
