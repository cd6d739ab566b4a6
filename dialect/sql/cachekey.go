package sql

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// CacheKey returns the structural key of a statement tree. Trees that
// differ only in bound values share a key and compile to the same SQL.
func CacheKey(root Node) string {
	fp, _ := fingerprint(root)
	return fp
}

// fingerprint walks the tree and returns its structural hash, along with
// the distinct bind parameters in traversal order.
func fingerprint(root Node) (string, []*BindParam) {
	f := &fingerprinter{refs: make(map[any]int)}
	f.node(root)
	sum := sha256.Sum256([]byte(f.b.String()))
	return hex.EncodeToString(sum[:]), f.binds
}

type fingerprinter struct {
	b     strings.Builder
	refs  map[any]int
	binds []*BindParam
}

func (f *fingerprinter) w(parts ...any) {
	for _, p := range parts {
		switch p := p.(type) {
		case string:
			f.b.WriteString(strconv.Quote(p))
		case int:
			f.b.WriteString(strconv.Itoa(p))
		case bool:
			f.b.WriteString(strconv.FormatBool(p))
		default:
			fmt.Fprintf(&f.b, "%v", p)
		}
		f.b.WriteByte(' ')
	}
	f.b.WriteByte(';')
}

// ref returns the ordinal of p and whether it was seen before.
func (f *fingerprinter) ref(p any) (int, bool) {
	if n, ok := f.refs[p]; ok {
		return n, true
	}
	n := len(f.refs) + 1
	f.refs[p] = n
	return n, false
}

func (f *fingerprinter) exprs(es []Expr) {
	f.w(len(es))
	for _, e := range es {
		f.node(e)
	}
}

func (f *fingerprinter) node(n Node) {
	switch n := n.(type) {
	case nil:
		f.w("nil")
	case *Table:
		ord, seen := f.ref(n)
		f.w("T", n.name, ord)
		if !seen {
			for _, fk := range n.fks {
				keys := make([]string, len(fk.columns))
				for i, c := range fk.columns {
					keys[i] = c.name
				}
				f.w("fk", keys, fk.refTable, fk.refNames)
			}
		}
	case *Column:
		f.w("C", n.name, n.key, n.typ, n.missing)
		if n.parent != nil {
			f.node(n.parent)
		}
	case *Alias:
		ord, seen := f.ref(n)
		f.w("A", n.name, ord, n.cte)
		if !seen {
			if n.table != nil {
				f.node(n.table)
			} else {
				f.node(n.sel)
			}
		}
	case *JoinClause:
		f.w("J", n.kind)
		f.node(n.left)
		f.node(n.right)
		f.node(n.on)
	case *Selector:
		f.w("S", n.distinct, n.forUpdate, n.correlateSet, n.exceptSet)
		f.exprs(n.columns)
		f.w(len(n.from))
		for _, it := range n.from {
			f.node(it)
		}
		f.w(len(n.joins))
		for _, j := range n.joins {
			f.w(j.kind)
			f.node(j.right)
			f.node(j.on)
		}
		f.exprs(n.where)
		f.exprs(n.group)
		f.exprs(n.having)
		f.exprs(n.order)
		f.limit(n.limit)
		f.limit(n.offset)
		f.w(len(n.correlate))
		for _, it := range n.correlate {
			f.node(it)
		}
		f.w(len(n.except))
		for _, it := range n.except {
			f.node(it)
		}
	case *BinaryExpr:
		f.w("B", n.op)
		f.node(n.left)
		f.node(n.right)
	case *BooleanExpr:
		f.w("O", n.op)
		f.exprs(n.clauses)
	case *UnaryExpr:
		f.w("U", n.op)
		f.node(n.elem)
	case *Func:
		f.w("F", n.name, n.typ, n.star)
		f.exprs(n.args)
	case *Label:
		f.w("L", n.name)
		f.node(n.elem)
	case *Ordering:
		f.w("R", n.desc)
		f.node(n.elem)
	case *Literal:
		f.w("X", n.kind, n.text, fmt.Sprintf("%T:%#v", n.value, n.value), n.typ)
	case *BindParam:
		ord, seen := f.ref(n)
		if !seen {
			f.binds = append(f.binds, n)
		}
		f.w("P", ord, n.key, n.unique, n.typ, n.required, n.callable != nil)
	case *TupleExpr:
		f.w("Tu")
		f.exprs(n.elems)
	case *ScalarSelect:
		f.w("Sc")
		f.node(n.sel)
	case *ExistsExpr:
		f.w("Ex")
		f.node(n.sel)
	case *InsertBuilder:
		f.w("I")
		f.node(n.table)
		f.columns(n.columns)
		f.columns(n.defaults)
		f.w(len(n.rows))
		for _, row := range n.rows {
			f.exprs(row)
		}
		f.exprs(n.returning)
	case *UpdateBuilder:
		f.w("Up")
		f.node(n.table)
		f.w(len(n.sets))
		for _, s := range n.sets {
			f.w(s.col.name)
			f.node(s.value)
		}
		f.exprs(n.where)
		f.exprs(n.returning)
	case *DeleteBuilder:
		f.w("D")
		f.node(n.table)
		f.exprs(n.where)
		f.exprs(n.returning)
	case *TableBuilder:
		f.w("DDL", n.drop, n.ifExists, n.ifNotExists)
		f.node(n.table)
		for _, c := range n.table.columns {
			f.w(c.name, c.typ, c.nullable, c.primary, c.unique, c.Autoincrement(), c.serverDefault)
		}
		for _, fk := range n.table.fks {
			f.w(fk.name, fk.onDelete, fk.onUpdate)
		}
	default:
		f.w(fmt.Sprintf("%T", n))
	}
}

func (f *fingerprinter) columns(cs []*Column) {
	f.w(len(cs))
	for _, c := range cs {
		f.w(c.name)
	}
}

func (f *fingerprinter) limit(p *BindParam) {
	if p == nil {
		f.w("nolimit")
		return
	}
	f.node(p)
}
