package dialect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/syssam/strata/schema/field"
)

// Dialect names.
const (
	Default  = "default"
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Paramstyle is the placeholder format a driver expects for bound values.
type Paramstyle int

// Supported paramstyles.
const (
	Named    Paramstyle = iota // WHERE name = :name
	Qmark                      // WHERE name = ?
	Numeric                    // WHERE name = :1
	Dollar                     // WHERE name = $1
	Format                     // WHERE name = %s
	Pyformat                   // WHERE name = %(name)s
)

var paramstyleNames = [...]string{
	Named:    "named",
	Qmark:    "qmark",
	Numeric:  "numeric",
	Dollar:   "dollar",
	Format:   "format",
	Pyformat: "pyformat",
}

// String returns the name of the paramstyle.
func (p Paramstyle) String() string {
	if p >= 0 && int(p) < len(paramstyleNames) {
		return paramstyleNames[p]
	}
	return fmt.Sprintf("paramstyle(%d)", int(p))
}

// Positional reports if values are passed by position rather than by name.
func (p Paramstyle) Positional() bool {
	switch p {
	case Qmark, Numeric, Dollar, Format:
		return true
	}
	return false
}

// ParseParamstyle returns the paramstyle with the given name.
func ParseParamstyle(s string) (Paramstyle, error) {
	for p, name := range paramstyleNames {
		if strings.EqualFold(name, s) {
			return Paramstyle(p), nil
		}
	}
	return 0, fmt.Errorf("dialect: unknown paramstyle %q", s)
}

// Feature is a statement capability that differs between backends.
type Feature int

// Capability flags consumed by the compiler and the flush engine.
const (
	FeatureReturning          Feature = iota + 1 // INSERT/UPDATE/DELETE ... RETURNING
	FeatureFullOuterJoin                         // FULL OUTER JOIN
	FeatureRightJoin                             // RIGHT OUTER JOIN
	FeatureMultiRowInsert                        // INSERT ... VALUES (...), (...)
	FeatureDefaultValues                         // INSERT INTO t DEFAULT VALUES
	FeatureLastInsertID                          // driver reports generated keys through LastInsertId
	FeatureCTE                                   // WITH name AS (...)
	FeatureForUpdate                             // SELECT ... FOR UPDATE
	FeatureOffsetWithoutLimit                    // OFFSET without a LIMIT clause
	FeatureBoolLiteral                           // true/false literals instead of 1/0
)

var featureNames = map[Feature]string{
	FeatureReturning:          "RETURNING",
	FeatureFullOuterJoin:      "FULL OUTER JOIN",
	FeatureRightJoin:          "RIGHT OUTER JOIN",
	FeatureMultiRowInsert:     "multi-row INSERT",
	FeatureDefaultValues:      "DEFAULT VALUES",
	FeatureLastInsertID:       "last insert id",
	FeatureCTE:                "common table expressions",
	FeatureForUpdate:          "FOR UPDATE",
	FeatureOffsetWithoutLimit: "OFFSET without LIMIT",
	FeatureBoolLiteral:        "boolean literals",
}

// String returns a human readable name of the feature.
func (f Feature) String() string {
	if s, ok := featureNames[f]; ok {
		return s
	}
	return fmt.Sprintf("feature(%d)", int(f))
}

// Dialect describes how one database backend renders SQL.
type Dialect interface {
	// Name returns the dialect name (e.g. "postgres").
	Name() string
	// QuoteIdentifier always quotes the given identifier.
	QuoteIdentifier(name string) string
	// RequiresQuotes reports if the identifier must be quoted to be
	// used verbatim (reserved words, upper case, illegal characters).
	RequiresQuotes(name string) bool
	// Paramstyle returns the placeholder format of the driver.
	Paramstyle() Paramstyle
	// Supports reports if the backend supports the given feature.
	Supports(f Feature) bool
	// RenderType returns the backend type name for a column type tag.
	RenderType(t field.Type) string
	// MaxIdentifierLength returns the maximum identifier length, or 0
	// if identifiers are not limited.
	MaxIdentifierLength() int
}

// BindProcessor is an optional interface implemented by dialects that need
// to convert bound values before they are handed to the driver.
type BindProcessor interface {
	ProcessBind(t field.Type, v any) (any, error)
}

// Descriptor is a table-driven Dialect implementation. All built-in dialects
// are descriptors, and custom dialects can be declared the same way.
type Descriptor struct {
	DialectName string
	QuoteStart  byte
	QuoteEnd    byte
	Style       Paramstyle
	Features    map[Feature]bool
	Types       map[field.Type]string
	MaxIdentLen int
	Reserved    map[string]struct{}
	// BoolAsInt binds booleans as 1/0 for drivers without a boolean type.
	BoolAsInt bool
}

var legalIdent = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// Name implements the Dialect interface.
func (d *Descriptor) Name() string { return d.DialectName }

// QuoteIdentifier implements the Dialect interface.
func (d *Descriptor) QuoteIdentifier(name string) string {
	end := string(d.QuoteEnd)
	return string(d.QuoteStart) + strings.ReplaceAll(name, end, end+end) + end
}

// RequiresQuotes implements the Dialect interface.
func (d *Descriptor) RequiresQuotes(name string) bool {
	if !legalIdent.MatchString(name) {
		return true
	}
	_, reserved := d.Reserved[name]
	return reserved
}

// Paramstyle implements the Dialect interface.
func (d *Descriptor) Paramstyle() Paramstyle { return d.Style }

// Supports implements the Dialect interface.
func (d *Descriptor) Supports(f Feature) bool { return d.Features[f] }

// RenderType implements the Dialect interface.
func (d *Descriptor) RenderType(t field.Type) string {
	if s, ok := d.Types[t]; ok {
		return s
	}
	return strings.ToUpper(t.String())
}

// MaxIdentifierLength implements the Dialect interface.
func (d *Descriptor) MaxIdentifierLength() int { return d.MaxIdentLen }

// ProcessBind implements the BindProcessor interface.
func (d *Descriptor) ProcessBind(t field.Type, v any) (any, error) {
	if b, ok := v.(bool); ok && d.BoolAsInt {
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return v, nil
}

// Clone returns a copy of the descriptor that can be modified without
// affecting the registered one.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Features = make(map[Feature]bool, len(d.Features))
	for f, ok := range d.Features {
		c.Features[f] = ok
	}
	c.Types = make(map[field.Type]string, len(d.Types))
	for t, s := range d.Types {
		c.Types[t] = s
	}
	return &c
}

// WithParamstyle returns a copy of the descriptor using another paramstyle.
func (d *Descriptor) WithParamstyle(p Paramstyle) *Descriptor {
	c := d.Clone()
	c.Style = p
	return c
}

var (
	_ Dialect       = (*Descriptor)(nil)
	_ BindProcessor = (*Descriptor)(nil)
)

var registry = struct {
	sync.RWMutex
	m map[string]Dialect
}{m: make(map[string]Dialect)}

// Register makes a dialect available by name. Registering a name twice
// replaces the previous dialect.
func Register(d Dialect) {
	registry.Lock()
	defer registry.Unlock()
	registry.m[d.Name()] = d
}

// Get returns the dialect registered under the given name.
func Get(name string) (Dialect, error) {
	registry.RLock()
	defer registry.RUnlock()
	if d, ok := registry.m[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("dialect: unknown dialect %q", name)
}

// Names returns the sorted names of all registered dialects.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
