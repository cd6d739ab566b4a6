package sql

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// CompileOption configures a compilation.
type CompileOption func(*compileOptions)

type compileOptions struct {
	style   *dialect.Paramstyle
	literal bool
}

// WithParamstyle overrides the paramstyle of the dialect.
func WithParamstyle(p dialect.Paramstyle) CompileOption {
	return func(o *compileOptions) { o.style = &p }
}

// WithLiteralBinds renders bound values inline instead of as placeholders.
// The output is meant for logging and debugging; values are quoted and
// escaped but the statement is not cacheable.
func WithLiteralBinds() CompileOption {
	return func(o *compileOptions) { o.literal = true }
}

// Compile renders a statement tree for the dialect. Compilation is
// deterministic: the same tree always yields byte-identical SQL. All
// errors are reported before any SQL text is returned.
func Compile(root Node, d dialect.Dialect, opts ...CompileOption) (*Compiled, error) {
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}
	if e, ok := root.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			return nil, err
		}
	}
	c := newCompiler(d, o)
	fp, binds := fingerprint(root)
	for _, b := range binds {
		if !b.unique {
			c.reserved[b.key] = true
		}
	}
	text := c.statement(root)
	if len(c.errs) > 0 {
		return nil, strata.NewAggregateError(c.errs...)
	}
	cs := &Compiled{
		Dialect:     d.Name(),
		Paramstyle:  c.style,
		Kind:        root.Kind(),
		Columns:     c.columns,
		Fingerprint: fp,
		values:      make(map[string]*BindParam, len(c.byName)),
		d:           d,
	}
	cs.SQL = c.finalize(text, cs)
	for name, p := range c.byName {
		cs.values[name] = p
	}
	cs.Slots = make([]string, len(binds))
	for i, b := range binds {
		cs.Slots[i] = c.bindNames[b]
	}
	return cs, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(root Node, d dialect.Dialect, opts ...CompileOption) *Compiled {
	cs, err := Compile(root, d, opts...)
	if err != nil {
		panic(err)
	}
	return cs
}

type compileMode uint8

const (
	modeTop      compileMode = iota // outermost statement
	modeSubquery                    // scalar, EXISTS or IN operand; correlates
	modeFrom                        // subquery or CTE body in a FROM clause
)

// frame is the scope of one SELECT (or UPDATE/DELETE) being compiled.
type frame struct {
	scope   map[FromItem]bool // items nested statements may correlate to
	barrier bool              // correlation does not look past this frame
}

type compiler struct {
	d       dialect.Dialect
	style   dialect.Paramstyle
	literal bool
	errs    []error

	bindNames map[*BindParam]string
	byName    map[string]*BindParam
	reserved  map[string]bool
	counters  map[string]int
	truncated map[string]string
	aliases   map[*Alias]string

	frames  []*frame
	ctes    []string
	cteSeen map[*Alias]bool
	depth   int
	columns []string
}

// Placeholder markers. Bind parameters are rendered as markers and turned
// into paramstyle placeholders once the whole text is known, so positions
// follow the textual order even for hoisted WITH clauses.
const (
	bindOpen  = '\x01'
	bindClose = '\x02'
)

func newCompiler(d dialect.Dialect, o compileOptions) *compiler {
	c := &compiler{
		d:         d,
		style:     d.Paramstyle(),
		literal:   o.literal,
		bindNames: make(map[*BindParam]string),
		byName:    make(map[string]*BindParam),
		reserved:  make(map[string]bool),
		counters:  make(map[string]int),
		truncated: make(map[string]string),
		aliases:   make(map[*Alias]string),
		cteSeen:   make(map[*Alias]bool),
	}
	if o.style != nil {
		c.style = *o.style
	}
	return c
}

func (c *compiler) errorf(kind strata.CompileKind, format string, args ...any) {
	c.errs = append(c.errs, strata.NewCompileError(kind, format, args...))
}

func (c *compiler) require(f dialect.Feature, construct string) bool {
	if c.d.Supports(f) {
		return true
	}
	c.errorf(strata.CompileUnsupported, "dialect %q does not support %s", c.d.Name(), construct)
	return false
}

// statement renders a root node.
func (c *compiler) statement(root Node) string {
	var body string
	switch n := root.(type) {
	case *Selector:
		body = c.selectStmt(n, modeTop)
	case *InsertBuilder:
		body = c.insertStmt(n)
	case *UpdateBuilder:
		body = c.updateStmt(n)
	case *DeleteBuilder:
		body = c.deleteStmt(n)
	case *TableBuilder:
		return c.tableStmt(n)
	case Expr:
		return c.expr(n)
	default:
		c.errorf(strata.CompileInvalidStructure, "%T is not a statement", root)
		return ""
	}
	if len(c.ctes) > 0 {
		c.require(dialect.FeatureCTE, "common table expressions")
		return "WITH " + strings.Join(c.ctes, ", ") + " " + body
	}
	return body
}

// quote quotes an identifier if the dialect requires it.
func (c *compiler) quote(name string) string {
	if c.d.RequiresQuotes(name) {
		return c.d.QuoteIdentifier(name)
	}
	return name
}

// truncate shortens generated names that exceed the identifier length of
// the dialect to "<prefix>_<hex counter>".
func (c *compiler) truncate(name, class string) string {
	limit := c.d.MaxIdentifierLength()
	if limit <= 0 || len(name) <= limit {
		return name
	}
	k := class + ":" + name
	if t, ok := c.truncated[k]; ok {
		return t
	}
	c.counters["trunc:"+class]++
	keep := max(limit-6, 0)
	t := name[:keep] + "_" + strconv.FormatInt(int64(c.counters["trunc:"+class]), 16)
	c.truncated[k] = t
	return t
}

// anon returns the next anonymous name for base: base_1, base_2, ...
func (c *compiler) anon(base string) string {
	c.counters["anon:"+base]++
	return fmt.Sprintf("%s_%d", base, c.counters["anon:"+base])
}

// aliasName returns the name of an alias, naming anonymous aliases on
// first use.
func (c *compiler) aliasName(a *Alias) string {
	if a.name != "" {
		return a.name
	}
	if n, ok := c.aliases[a]; ok {
		return n
	}
	base := "anon"
	if a.table != nil {
		base = a.table.name
	}
	n := c.truncate(c.anon(base), "alias")
	c.aliases[a] = n
	return n
}

// bindName returns the name of a bind parameter, generating unique names
// for anonymous parameters and checking explicit names for collisions.
func (c *compiler) bindName(p *BindParam) string {
	if n, ok := c.bindNames[p]; ok {
		return n
	}
	var name string
	if p.unique {
		base := p.key
		if base == "" {
			base = "param"
		}
		for {
			c.counters["bind:"+base]++
			name = fmt.Sprintf("%s_%d", base, c.counters["bind:"+base])
			if _, used := c.byName[name]; !used && !c.reserved[name] {
				break
			}
		}
		name = c.truncate(name, "bind")
	} else {
		name = p.key
		if other, ok := c.byName[name]; ok && !sameBind(other, p) {
			c.errorf(strata.CompileBindCollision,
				"bind parameter %q is used with conflicting values; rename one of the parameters", name)
		}
	}
	c.bindNames[p] = name
	if _, ok := c.byName[name]; !ok {
		c.byName[name] = p
	}
	return name
}

// sameBind reports if two explicit parameters with one name can share it.
func sameBind(a, b *BindParam) bool {
	if a.callable != nil || b.callable != nil || a.required != b.required {
		return false
	}
	return a.typ == b.typ && reflect.DeepEqual(a.value, b.value)
}

// bind renders a bind parameter as a placeholder marker or, in literal
// mode, as an inline value.
func (c *compiler) bind(p *BindParam) string {
	name := c.bindName(p)
	if c.literal {
		if p.required {
			c.errorf(strata.CompileInvalidStructure, "bind parameter %q has no value to render", name)
			return ""
		}
		v, err := processBind(c.d, p.typ, p.Value())
		if err != nil {
			c.errorf(strata.CompileInvalidStructure, "bind parameter %q: %v", name, err)
			return ""
		}
		return c.literalValue(v)
	}
	return string(bindOpen) + name + string(bindClose)
}

// finalize replaces placeholder markers with paramstyle placeholders and
// records the parameter order on cs.
func (c *compiler) finalize(text string, cs *Compiled) string {
	if strings.IndexByte(text, bindOpen) < 0 {
		return text
	}
	var (
		b     strings.Builder
		index = make(map[string]int)
	)
	for {
		i := strings.IndexByte(text, bindOpen)
		if i < 0 {
			b.WriteString(text)
			break
		}
		j := strings.IndexByte(text[i:], bindClose) + i
		b.WriteString(text[:i])
		name := text[i+1 : j]
		text = text[j+1:]
		pos, seen := index[name]
		if !seen {
			p := c.byName[name]
			cs.Params = append(cs.Params, ParamInfo{Name: name, Type: p.typ, Required: p.required})
			pos = len(cs.Params)
			index[name] = pos
		}
		switch c.style {
		case dialect.Named:
			b.WriteString(":" + name)
		case dialect.Pyformat:
			b.WriteString("%(" + name + ")s")
		case dialect.Qmark:
			b.WriteString("?")
			cs.Positions = append(cs.Positions, name)
		case dialect.Format:
			b.WriteString("%s")
			cs.Positions = append(cs.Positions, name)
		case dialect.Numeric:
			b.WriteString(":" + strconv.Itoa(pos))
			if !seen {
				cs.Positions = append(cs.Positions, name)
			}
		case dialect.Dollar:
			b.WriteString("$" + strconv.Itoa(pos))
			if !seen {
				cs.Positions = append(cs.Positions, name)
			}
		}
	}
	if !c.style.Positional() {
		for _, p := range cs.Params {
			cs.Positions = append(cs.Positions, p.Name)
		}
	}
	return b.String()
}

// pushFrame opens a correlation scope.
func (c *compiler) pushFrame(f *frame) { c.frames = append(c.frames, f) }

func (c *compiler) popFrame() { c.frames = c.frames[:len(c.frames)-1] }

// enclosingScope returns the items of all enclosing statements up to the
// nearest barrier.
func (c *compiler) enclosingScope() map[FromItem]bool {
	scope := make(map[FromItem]bool)
	for i := len(c.frames) - 1; i >= 0; i-- {
		for f := range c.frames[i].scope {
			scope[f] = true
		}
		if c.frames[i].barrier {
			break
		}
	}
	return scope
}

// ancestorProvides reports if a statement enclosing the immediate parent
// provides f.
func (c *compiler) ancestorProvides(f FromItem) bool {
	n := len(c.frames)
	if n == 0 || c.frames[n-1].barrier {
		return false
	}
	for i := n - 2; i >= 0; i-- {
		if c.frames[i].scope[f] {
			return true
		}
		if c.frames[i].barrier {
			break
		}
	}
	return false
}
