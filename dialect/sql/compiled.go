package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema/field"
)

// ParamInfo describes one distinct bind parameter of a compiled statement.
type ParamInfo struct {
	Name     string     `msgpack:"name"`
	Type     field.Type `msgpack:"type"`
	Required bool       `msgpack:"required"`
}

// Compiled is the result of compiling a statement: the SQL text, the
// parameter order of the dialect's paramstyle and the values bound in the
// compiled tree. A Compiled is immutable and safe for concurrent use; it is
// shared by every tree with the same CacheKey.
type Compiled struct {
	SQL        string             `msgpack:"sql"`
	Dialect    string             `msgpack:"dialect"`
	Paramstyle dialect.Paramstyle `msgpack:"paramstyle"`
	Kind       Kind               `msgpack:"kind"`
	// Columns holds the labels of the result columns of a SELECT or of a
	// RETURNING clause.
	Columns []string    `msgpack:"columns"`
	Params  []ParamInfo `msgpack:"params"`
	// Positions holds the parameter name of each placeholder for positional
	// paramstyles, and the distinct names in textual order otherwise.
	Positions []string `msgpack:"positions"`
	// Slots maps the bind parameters of the tree, in traversal order, to
	// their compiled names.
	Slots       []string `msgpack:"slots"`
	Fingerprint string   `msgpack:"fingerprint"`

	values map[string]*BindParam
	d      dialect.Dialect
}

// String returns the SQL text.
func (cs *Compiled) String() string { return cs.SQL }

// Len returns the approximate memory footprint, used to bound caches.
func (cs *Compiled) Len() int {
	n := len(cs.SQL) + len(cs.Fingerprint)
	for _, s := range cs.Positions {
		n += len(s)
	}
	for _, s := range cs.Columns {
		n += len(s)
	}
	return n + 16*len(cs.Params)
}

// Param returns the parameter with the given name.
func (cs *Compiled) Param(name string) (ParamInfo, bool) {
	for _, p := range cs.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamInfo{}, false
}

// Returning reports if executing the statement yields rows.
func (cs *Compiled) Returning() bool {
	return cs.Kind == KindSelect || len(cs.Columns) > 0
}

// Args returns the driver arguments for the values bound in the compiled
// tree: positional values for positional paramstyles, sql.Named values
// otherwise.
func (cs *Compiled) Args() ([]any, error) {
	return cs.args(cs.values, nil)
}

// ArgsWith is like Args, with the given values overriding the bound ones
// by parameter name.
func (cs *Compiled) ArgsWith(values map[string]any) ([]any, error) {
	for name := range values {
		if _, ok := cs.Param(name); !ok {
			return nil, fmt.Errorf("sql: statement has no parameter %q", name)
		}
	}
	return cs.args(cs.values, values)
}

// ArgsFrom returns the driver arguments for the values bound in root, a
// tree with the same CacheKey as the compiled one. It is how a cached
// statement is executed with fresh values.
func (cs *Compiled) ArgsFrom(root Node) ([]any, error) {
	fp, binds := fingerprint(root)
	if fp != cs.Fingerprint {
		return nil, fmt.Errorf("sql: statement structure does not match the compiled statement")
	}
	values := make(map[string]*BindParam, len(binds))
	for i, b := range binds {
		name := cs.Slots[i]
		if other, ok := values[name]; ok && !sameBind(other, b) {
			return nil, strata.NewCompileError(strata.CompileBindCollision,
				"bind parameter %q is used with conflicting values", name)
		}
		values[name] = b
	}
	return cs.args(values, nil)
}

// ParamValues returns the bound values by parameter name. Parameters
// without a value are omitted.
func (cs *Compiled) ParamValues() map[string]any {
	m := make(map[string]any, len(cs.values))
	for name, p := range cs.values {
		if !p.required {
			m[name] = p.Value()
		}
	}
	return m
}

func (cs *Compiled) args(values map[string]*BindParam, overrides map[string]any) ([]any, error) {
	d := cs.d
	if d == nil {
		var err error
		if d, err = dialect.Get(cs.Dialect); err != nil {
			return nil, err
		}
	}
	args := make([]any, 0, len(cs.Positions))
	for _, name := range cs.Positions {
		info, _ := cs.Param(name)
		var v any
		if o, ok := overrides[name]; ok {
			v = o
		} else {
			p, ok := values[name]
			if !ok {
				p, ok = cs.values[name]
			}
			if !ok || p.required {
				return nil, fmt.Errorf("sql: no value for required parameter %q", name)
			}
			v = p.Value()
		}
		v, err := processBind(d, info.Type, v)
		if err != nil {
			return nil, fmt.Errorf("sql: parameter %q: %w", name, err)
		}
		if cs.Paramstyle.Positional() {
			args = append(args, v)
		} else {
			args = append(args, sql.Named(name, v))
		}
	}
	return args, nil
}

// processBind converts a Go value for the driver.
func processBind(d dialect.Dialect, t field.Type, v any) (any, error) {
	if isNilValue(v) {
		return nil, nil
	}
	if t == field.TypeJSON {
		switch v.(type) {
		case []byte, string, json.RawMessage:
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			v = b
		}
	}
	if bp, ok := d.(dialect.BindProcessor); ok {
		return bp.ProcessBind(t, v)
	}
	return v, nil
}
