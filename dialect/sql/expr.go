package sql

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata/schema/field"
)

// Operator is a SQL operator of a binary, boolean or unary expression.
type Operator uint8

// Operators.
const (
	OpEQ Operator = iota + 1
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpIs
	OpIsNot
	OpLike
	OpNotLike
	OpIn
	OpNotIn
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpAnd
	OpOr
	OpNot
	OpExists
)

var operators = map[Operator]struct {
	sym  string
	prec int
}{
	OpMul:     {"*", 8},
	OpDiv:     {"/", 8},
	OpMod:     {"%", 8},
	OpAdd:     {"+", 7},
	OpSub:     {"-", 7},
	OpConcat:  {"||", 6},
	OpEQ:      {"=", 5},
	OpNE:      {"!=", 5},
	OpLT:      {"<", 5},
	OpLE:      {"<=", 5},
	OpGT:      {">", 5},
	OpGE:      {">=", 5},
	OpIs:      {"IS", 5},
	OpIsNot:   {"IS NOT", 5},
	OpLike:    {"LIKE", 5},
	OpNotLike: {"NOT LIKE", 5},
	OpIn:      {"IN", 5},
	OpNotIn:   {"NOT IN", 5},
	OpNot:     {"NOT", 5},
	OpAnd:     {"AND", 3},
	OpOr:      {"OR", 2},
	OpExists:  {"EXISTS", 0},
}

// associative operators do not group a child using the same operator.
var associative = map[Operator]bool{
	OpAdd:    true,
	OpMul:    true,
	OpConcat: true,
	OpAnd:    true,
	OpOr:     true,
}

var negations = map[Operator]Operator{
	OpEQ:      OpNE,
	OpNE:      OpEQ,
	OpLT:      OpGE,
	OpGE:      OpLT,
	OpGT:      OpLE,
	OpLE:      OpGT,
	OpIs:      OpIsNot,
	OpIsNot:   OpIs,
	OpLike:    OpNotLike,
	OpNotLike: OpLike,
	OpIn:      OpNotIn,
	OpNotIn:   OpIn,
}

// String returns the SQL symbol of the operator.
func (o Operator) String() string { return operators[o].sym }

// Precedence returns the binding strength of the operator.
func (o Operator) Precedence() int { return operators[o].prec }

func (o Operator) comparison() bool { return o.Precedence() == 5 && o != OpNot }

// ops provides the operator methods of expressions. Operators build nodes;
// nothing is evaluated.
type ops struct {
	self Expr
}

// EQ returns "self = v". Comparing to nil produces "self IS NULL".
func (o ops) EQ(v any) *BinaryExpr {
	r := coerce(v, o.self)
	if isNull(r) {
		return newBinary(o.self, OpIs, r)
	}
	return newBinary(o.self, OpEQ, r)
}

// NEQ returns "self != v". Comparing to nil produces "self IS NOT NULL".
func (o ops) NEQ(v any) *BinaryExpr {
	r := coerce(v, o.self)
	if isNull(r) {
		return newBinary(o.self, OpIsNot, r)
	}
	return newBinary(o.self, OpNE, r)
}

// LT returns "self < v".
func (o ops) LT(v any) *BinaryExpr { return newBinary(o.self, OpLT, coerce(v, o.self)) }

// LTE returns "self <= v".
func (o ops) LTE(v any) *BinaryExpr { return newBinary(o.self, OpLE, coerce(v, o.self)) }

// GT returns "self > v".
func (o ops) GT(v any) *BinaryExpr { return newBinary(o.self, OpGT, coerce(v, o.self)) }

// GTE returns "self >= v".
func (o ops) GTE(v any) *BinaryExpr { return newBinary(o.self, OpGE, coerce(v, o.self)) }

// IsNull returns "self IS NULL".
func (o ops) IsNull() *BinaryExpr { return newBinary(o.self, OpIs, Null()) }

// NotNull returns "self IS NOT NULL".
func (o ops) NotNull() *BinaryExpr { return newBinary(o.self, OpIsNot, Null()) }

// Like returns "self LIKE pattern".
func (o ops) Like(pattern any) *BinaryExpr { return newBinary(o.self, OpLike, coerce(pattern, o.self)) }

// NotLike returns "self NOT LIKE pattern".
func (o ops) NotLike(pattern any) *BinaryExpr { return newBinary(o.self, OpNotLike, coerce(pattern, o.self)) }

// In returns "self IN (v1, v2, ...)". A single slice argument is expanded
// and a single *Selector produces "self IN (SELECT ...)". An empty list
// renders as a false predicate.
func (o ops) In(vs ...any) *BinaryExpr { return inList(o.self, OpIn, vs) }

// NotIn returns "self NOT IN (v1, v2, ...)".
func (o ops) NotIn(vs ...any) *BinaryExpr { return inList(o.self, OpNotIn, vs) }

// Add returns "self + v".
func (o ops) Add(v any) *BinaryExpr { return newBinary(o.self, OpAdd, coerce(v, o.self)) }

// Sub returns "self - v".
func (o ops) Sub(v any) *BinaryExpr { return newBinary(o.self, OpSub, coerce(v, o.self)) }

// Mul returns "self * v".
func (o ops) Mul(v any) *BinaryExpr { return newBinary(o.self, OpMul, coerce(v, o.self)) }

// Div returns "self / v".
func (o ops) Div(v any) *BinaryExpr { return newBinary(o.self, OpDiv, coerce(v, o.self)) }

// Mod returns "self % v".
func (o ops) Mod(v any) *BinaryExpr { return newBinary(o.self, OpMod, coerce(v, o.self)) }

// Concat returns "self || v".
func (o ops) Concat(v any) *BinaryExpr { return newBinary(o.self, OpConcat, coerce(v, o.self)) }

// Label returns the expression labelled with name.
func (o ops) Label(name string) *Label { return &Label{name: name, elem: o.self} }

// Asc returns the expression as an ascending ORDER BY item.
func (o ops) Asc() *Ordering { return &Ordering{elem: o.self} }

// Desc returns the expression as a descending ORDER BY item.
func (o ops) Desc() *Ordering { return &Ordering{elem: o.self, desc: true} }

// coerce turns a Go value into a unique bind parameter named after the
// column it is compared with. Expressions pass through.
func coerce(v any, against Expr) Expr {
	switch v := v.(type) {
	case Expr:
		return v
	case *Selector:
		return v.Scalar()
	}
	if isNilValue(v) {
		return Null()
	}
	key := "param"
	typ := against.Type()
	switch e := against.(type) {
	case *Column:
		key = e.key
	case *Func:
		key = e.name
	case *BindParam:
		key = e.key
	}
	if typ == field.TypeInvalid || typ == field.TypeBool && !isBool(v) {
		typ = inferType(v)
	}
	b := &BindParam{key: key, value: v, typ: typ, unique: true}
	b.ops = ops{b}
	return b
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil() && rv.Type() != reflect.TypeOf([]byte(nil))
	}
	return false
}

func isNull(e Expr) bool {
	l, ok := e.(*Literal)
	return ok && l.kind == litNull
}

// inferType returns the type tag of a Go value.
func inferType(v any) field.Type {
	switch v.(type) {
	case bool:
		return field.TypeBool
	case string:
		return field.TypeString
	case []byte:
		return field.TypeBytes
	case time.Time:
		return field.TypeTime
	case uuid.UUID:
		return field.TypeUUID
	case int, int8, int16, int32:
		return field.TypeInt
	case int64:
		return field.TypeInt64
	case uint, uint8, uint16, uint32, uint64:
		return field.TypeUint64
	case float32, float64:
		return field.TypeFloat64
	}
	return field.TypeOther
}

func inList(left Expr, op Operator, vs []any) *BinaryExpr {
	if len(vs) == 1 {
		switch v := vs[0].(type) {
		case *Selector:
			return newBinary(left, op, v.Scalar())
		case *ScalarSelect:
			return newBinary(left, op, v)
		case []byte:
		default:
			if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
				vs = make([]any, rv.Len())
				for i := range vs {
					vs[i] = rv.Index(i).Interface()
				}
			}
		}
	}
	if len(vs) == 0 {
		// Empty IN is never true, empty NOT IN is always true.
		if op == OpIn {
			return newBinary(LiteralValue(1), OpNE, LiteralValue(1))
		}
		return newBinary(LiteralValue(1), OpEQ, LiteralValue(1))
	}
	elems := make([]Expr, len(vs))
	for i, v := range vs {
		elems[i] = coerce(v, left)
	}
	return newBinary(left, op, Tuple(elems...))
}

// BinaryExpr is an expression of the form "left op right".
type BinaryExpr struct {
	ops
	left, right Expr
	op          Operator
}

func newBinary(left Expr, op Operator, right Expr) *BinaryExpr {
	b := &BinaryExpr{left: left, right: right, op: op}
	b.ops = ops{b}
	return b
}

// Kind implements the Node interface.
func (*BinaryExpr) Kind() Kind { return KindBinary }

// Type implements the Expr interface.
func (b *BinaryExpr) Type() field.Type {
	if b.op.comparison() {
		return field.TypeBool
	}
	return b.left.Type()
}

// Operator returns the operator.
func (b *BinaryExpr) Operator() Operator { return b.op }

// Operands returns the left and right operands.
func (b *BinaryExpr) Operands() (Expr, Expr) { return b.left, b.right }

// BooleanExpr is a conjunction or disjunction of predicates.
type BooleanExpr struct {
	ops
	op      Operator
	clauses []Expr
}

// And returns the conjunction of the predicates. Nested conjunctions are
// flattened and a single predicate is returned as is. And() is true.
func And(preds ...Expr) Expr { return boolean(OpAnd, preds) }

// Or returns the disjunction of the predicates. Nested disjunctions are
// flattened and a single predicate is returned as is. Or() is false.
func Or(preds ...Expr) Expr { return boolean(OpOr, preds) }

func boolean(op Operator, preds []Expr) Expr {
	var clauses []Expr
	for _, p := range preds {
		switch p := p.(type) {
		case nil:
		case *BooleanExpr:
			if p.op == op {
				clauses = append(clauses, p.clauses...)
			} else {
				clauses = append(clauses, p)
			}
		default:
			clauses = append(clauses, p)
		}
	}
	switch len(clauses) {
	case 0:
		if op == OpAnd {
			return True()
		}
		return False()
	case 1:
		return clauses[0]
	}
	b := &BooleanExpr{op: op, clauses: clauses}
	b.ops = ops{b}
	return b
}

// Kind implements the Node interface.
func (*BooleanExpr) Kind() Kind { return KindBoolean }

// Type implements the Expr interface.
func (*BooleanExpr) Type() field.Type { return field.TypeBool }

// Clauses returns the combined predicates.
func (b *BooleanExpr) Clauses() []Expr { return b.clauses }

// UnaryExpr is an expression of the form "op elem".
type UnaryExpr struct {
	ops
	op   Operator
	elem Expr
}

// Not negates a predicate. Comparisons are negated by inverting their
// operator ("a = b" becomes "a != b"); double negation cancels out.
func Not(e Expr) Expr {
	switch e := e.(type) {
	case *BinaryExpr:
		if neg, ok := negations[e.op]; ok {
			return newBinary(e.left, neg, e.right)
		}
	case *UnaryExpr:
		if e.op == OpNot {
			return e.elem
		}
	case *Literal:
		switch e.kind {
		case litTrue:
			return False()
		case litFalse:
			return True()
		}
	}
	u := &UnaryExpr{op: OpNot, elem: e}
	u.ops = ops{u}
	return u
}

// Kind implements the Node interface.
func (*UnaryExpr) Kind() Kind { return KindUnary }

// Type implements the Expr interface.
func (*UnaryExpr) Type() field.Type { return field.TypeBool }

// Func is a SQL function call.
type Func struct {
	ops
	name string
	args []Expr
	typ  field.Type
	star bool
}

// Fn returns a call of the named function. Go values in args become bind
// parameters named after the function.
func Fn(name string, typ field.Type, args ...any) *Func {
	f := &Func{name: name, typ: typ}
	f.ops = ops{f}
	for _, a := range args {
		f.args = append(f.args, coerce(a, f))
	}
	return f
}

func fnOf(name string, typ field.Type, args []Expr) *Func {
	f := &Func{name: name, typ: typ, args: args}
	f.ops = ops{f}
	if typ == field.TypeInvalid && len(args) > 0 {
		f.typ = args[0].Type()
	}
	return f
}

// Count returns count(e), or count(*) without arguments.
func Count(e ...Expr) *Func {
	f := fnOf("count", field.TypeInt64, e)
	f.star = len(e) == 0
	return f
}

// Max returns max(e).
func Max(e Expr) *Func { return fnOf("max", field.TypeInvalid, []Expr{e}) }

// Min returns min(e).
func Min(e Expr) *Func { return fnOf("min", field.TypeInvalid, []Expr{e}) }

// Sum returns sum(e).
func Sum(e Expr) *Func { return fnOf("sum", field.TypeInvalid, []Expr{e}) }

// Avg returns avg(e).
func Avg(e Expr) *Func { return fnOf("avg", field.TypeFloat64, []Expr{e}) }

// Lower returns lower(e).
func Lower(e Expr) *Func { return fnOf("lower", field.TypeString, []Expr{e}) }

// Upper returns upper(e).
func Upper(e Expr) *Func { return fnOf("upper", field.TypeString, []Expr{e}) }

// Coalesce returns coalesce(e...).
func Coalesce(e ...Expr) *Func { return fnOf("coalesce", field.TypeInvalid, e) }

// Kind implements the Node interface.
func (*Func) Kind() Kind { return KindFunction }

// Type implements the Expr interface.
func (f *Func) Type() field.Type { return f.typ }

// Name returns the function name.
func (f *Func) Name() string { return f.name }

// Label is an expression with an explicit name.
type Label struct {
	name string
	elem Expr
}

// Kind implements the Node interface.
func (*Label) Kind() Kind { return KindLabel }

// Type implements the Expr interface.
func (l *Label) Type() field.Type { return l.elem.Type() }

// Name returns the label.
func (l *Label) Name() string { return l.name }

// Asc returns the label as an ascending ORDER BY item.
func (l *Label) Asc() *Ordering { return &Ordering{elem: l} }

// Desc returns the label as a descending ORDER BY item.
func (l *Label) Desc() *Ordering { return &Ordering{elem: l, desc: true} }

// Ordering is an ORDER BY item.
type Ordering struct {
	elem Expr
	desc bool
}

// Kind implements the Node interface.
func (*Ordering) Kind() Kind { return KindOrdering }

// Type implements the Expr interface.
func (o *Ordering) Type() field.Type { return o.elem.Type() }

type literalKind uint8

const (
	litText literalKind = iota + 1
	litNull
	litTrue
	litFalse
	litValue
)

// Literal is SQL rendered verbatim: raw text, NULL, booleans, or a
// constant value rendered inline.
type Literal struct {
	ops
	kind  literalKind
	text  string
	value any
	typ   field.Type
}

func newLiteral(kind literalKind, text string, value any, typ field.Type) *Literal {
	l := &Literal{kind: kind, text: text, value: value, typ: typ}
	l.ops = ops{l}
	return l
}

// Text returns raw SQL text. The text is never escaped; use bind
// parameters for values.
func Text(sql string) *Literal { return newLiteral(litText, sql, nil, field.TypeOther) }

// Null returns the NULL literal.
func Null() *Literal { return newLiteral(litNull, "", nil, field.TypeInvalid) }

// True returns the true literal.
func True() *Literal { return newLiteral(litTrue, "", nil, field.TypeBool) }

// False returns the false literal.
func False() *Literal { return newLiteral(litFalse, "", nil, field.TypeBool) }

// LiteralValue returns a constant rendered inline. The value is part of the
// statement structure, unlike a bind parameter.
func LiteralValue(v any) *Literal { return newLiteral(litValue, "", v, inferType(v)) }

// Kind implements the Node interface.
func (*Literal) Kind() Kind { return KindLiteral }

// Type implements the Expr interface.
func (l *Literal) Type() field.Type { return l.typ }

// BindParam is a bound parameter. Explicitly named parameters keep their
// name; parameters created from plain values are unique and get a
// generated name ("name_1") at compile time.
type BindParam struct {
	ops
	key      string
	value    any
	callable func() any
	typ      field.Type
	unique   bool
	required bool
}

// Bind returns a parameter with the given name and value.
func Bind(name string, v any) *BindParam {
	b := &BindParam{key: name, value: v, typ: inferType(v)}
	b.ops = ops{b}
	return b
}

// BindFunc returns a parameter whose value is computed by fn each time the
// statement arguments are built.
func BindFunc(name string, typ field.Type, fn func() any) *BindParam {
	b := &BindParam{key: name, callable: fn, typ: typ}
	b.ops = ops{b}
	return b
}

// Param returns a parameter without value. The value must be given when
// the statement arguments are built (Compiled.ArgsWith).
func Param(name string, typ field.Type) *BindParam {
	b := &BindParam{key: name, typ: typ, required: true}
	b.ops = ops{b}
	return b
}

// Kind implements the Node interface.
func (*BindParam) Kind() Kind { return KindBind }

// Type implements the Expr interface.
func (b *BindParam) Type() field.Type { return b.typ }

// Key returns the parameter name (or the base of its generated name).
func (b *BindParam) Key() string { return b.key }

// Value returns the bound value, calling the value function if any.
func (b *BindParam) Value() any {
	if b.callable != nil {
		return b.callable()
	}
	return b.value
}

// TupleExpr is a parenthesized list of expressions.
type TupleExpr struct {
	elems []Expr
}

// Tuple returns "(e1, e2, ...)".
func Tuple(elems ...Expr) *TupleExpr { return &TupleExpr{elems: elems} }

// Kind implements the Node interface.
func (*TupleExpr) Kind() Kind { return KindTuple }

// Type implements the Expr interface.
func (*TupleExpr) Type() field.Type { return field.TypeInvalid }

// ScalarSelect is a SELECT used as a column expression or operand. It
// auto-correlates with the enclosing statement.
type ScalarSelect struct {
	ops
	sel *Selector
}

// Kind implements the Node interface.
func (*ScalarSelect) Kind() Kind { return KindScalarSelect }

// Type implements the Expr interface.
func (s *ScalarSelect) Type() field.Type {
	if len(s.sel.columns) > 0 {
		return s.sel.columns[0].Type()
	}
	return field.TypeInvalid
}

// Select returns the wrapped statement.
func (s *ScalarSelect) Select() *Selector { return s.sel }

// ExistsExpr is "EXISTS (SELECT ...)".
type ExistsExpr struct {
	ops
	sel *Selector
}

// Exists returns "EXISTS (s)".
func Exists(s *Selector) *ExistsExpr {
	e := &ExistsExpr{sel: s}
	e.ops = ops{e}
	return e
}

// Kind implements the Node interface.
func (*ExistsExpr) Kind() Kind { return KindExists }

// Type implements the Expr interface.
func (*ExistsExpr) Type() field.Type { return field.TypeBool }
