package orm

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/schema"
	"github.com/syssam/strata/internal/dag"
)

// Cascade is the set of session operations propagated along a relationship.
type Cascade uint8

// Cascade flags.
const (
	CascadeSaveUpdate Cascade = 1 << iota
	CascadeDelete
	CascadeDeleteOrphan

	CascadeAll = CascadeSaveUpdate | CascadeDelete
)

var cascadeNames = []struct {
	c    Cascade
	name string
}{
	{CascadeSaveUpdate, "save-update"},
	{CascadeDelete, "delete"},
	{CascadeDeleteOrphan, "delete-orphan"},
}

// Has reports if all flags of o are set.
func (c Cascade) Has(o Cascade) bool { return c&o == o }

// String returns the comma separated flag names.
func (c Cascade) String() string {
	var names []string
	for _, n := range cascadeNames {
		if c.Has(n.c) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ", ")
}

// ParseCascade parses a comma separated list of cascade names, e.g.
// "all, delete-orphan".
func ParseCascade(s string) (Cascade, error) {
	var c Cascade
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" {
			c |= CascadeAll
			continue
		}
		known := false
		for _, n := range cascadeNames {
			if n.name == part {
				c, known = c|n.c, true
			}
		}
		if !known {
			return 0, fmt.Errorf("orm: unknown cascade %q", part)
		}
	}
	return c, nil
}

// Direction is the cardinality of a relationship.
type Direction uint8

// Relationship directions.
const (
	OneToMany Direction = iota + 1
	ManyToOne
	ManyToMany
)

// String returns the name of the direction.
func (d Direction) String() string {
	switch d {
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Relationship links the objects of two mappers.
type Relationship struct {
	name           string
	owner          *Mapper
	targetName     string
	target         *Mapper
	direction      Direction
	cascade        Cascade
	backPopulates  string
	back           *Relationship
	postUpdate     bool
	passiveDeletes bool
	secondary      *sql.Table
	fkKeys         []string

	// fk holds the foreign key columns on the child table (one-to-many,
	// many-to-one) or the secondary columns referencing the owner.
	fk       *sql.ForeignKey
	refs     []*sql.Column // columns referenced by fk
	targetFK *sql.ForeignKey
	tRefs    []*sql.Column
}

// RelationshipOption configures a relationship.
type RelationshipOption func(*Relationship)

// Cascades sets the cascade of the relationship. The default is
// CascadeSaveUpdate.
func Cascades(c Cascade) RelationshipOption {
	return func(r *Relationship) { r.cascade = c }
}

// BackPopulates names the relationship of the target mapper that mirrors
// this one. Changes on either side are reflected on the other.
func BackPopulates(name string) RelationshipOption {
	return func(r *Relationship) { r.backPopulates = name }
}

// PostUpdate writes the foreign key with a second UPDATE once both rows
// exist, and nulls it before the referenced row is deleted.
func PostUpdate() RelationshipOption {
	return func(r *Relationship) { r.postUpdate = true }
}

// PassiveDeletes leaves the children of a deleted parent to the ON DELETE
// action of the database instead of loading them.
func PassiveDeletes() RelationshipOption {
	return func(r *Relationship) { r.passiveDeletes = true }
}

// ForeignKeys selects the foreign key of the relationship by its column
// keys, when the tables are linked by more than one.
func ForeignKeys(keys ...string) RelationshipOption {
	return func(r *Relationship) { r.fkKeys = keys }
}

// Name returns the attribute name of the relationship.
func (r *Relationship) Name() string { return r.name }

// Owner returns the mapper declaring the relationship.
func (r *Relationship) Owner() *Mapper { return r.owner }

// Target returns the related mapper.
func (r *Relationship) Target() *Mapper { return r.target }

// Direction returns the cardinality of the relationship.
func (r *Relationship) Direction() Direction { return r.direction }

// Cascade returns the cascade flags.
func (r *Relationship) Cascade() Cascade { return r.cascade }

// Back returns the mirrored relationship, if any.
func (r *Relationship) Back() *Relationship { return r.back }

// IsPostUpdate reports if the foreign key is written by a separate UPDATE,
// either as configured or to break a dependency cycle.
func (r *Relationship) IsPostUpdate() bool { return r.postUpdate }

// Secondary returns the association table of a many-to-many relationship.
func (r *Relationship) Secondary() *sql.Table { return r.secondary }

// ForeignKey returns the foreign key the relationship is joined on.
func (r *Relationship) ForeignKey() *sql.ForeignKey { return r.fk }

// collection reports if the attribute holds a collection.
func (r *Relationship) collection() bool { return r.direction != ManyToOne }

func (r *Relationship) String() string { return r.owner.name + "." + r.name }

// parent returns the mapper of the referenced table of a one-to-many or
// many-to-one relationship.
func (r *Relationship) parent() *Mapper {
	if r.direction == ManyToOne {
		return r.target
	}
	return r.owner
}

// child returns the mapper of the table holding the foreign key.
func (r *Relationship) child() *Mapper {
	if r.direction == ManyToOne {
		return r.owner
	}
	return r.target
}

// Mapper maps a table to objects.
type Mapper struct {
	name     string
	table    *sql.Table
	registry *Registry
	order    int
	version  *sql.Column
	verKey   string
	rels     []*Relationship
	byName   map[string]*Relationship
	// deps lists the dependencies where the mapper is the child.
	deps []*dependency
}

// MapperOption configures a mapper.
type MapperOption func(*Mapper)

// WithTable maps the given table instead of the table named after the
// mapper ("User" maps "users").
func WithTable(t *sql.Table) MapperOption {
	return func(m *Mapper) { m.table = t }
}

// VersionColumn enables optimistic concurrency on the integer column with
// the given key. UPDATE and DELETE statements match the loaded version
// and fail with a StaleDataError when the row was changed concurrently.
func VersionColumn(key string) MapperOption {
	return func(m *Mapper) { m.verKey = key }
}

// HasMany declares a one-to-many relationship: the target table holds a
// foreign key to the mapped table.
func HasMany(name, target string, opts ...RelationshipOption) MapperOption {
	return relation(name, target, OneToMany, nil, opts)
}

// BelongsTo declares a many-to-one relationship: the mapped table holds a
// foreign key to the target table.
func BelongsTo(name, target string, opts ...RelationshipOption) MapperOption {
	return relation(name, target, ManyToOne, nil, opts)
}

// ManyToManyThrough declares a many-to-many relationship through the
// secondary table.
func ManyToManyThrough(name, target string, secondary *sql.Table, opts ...RelationshipOption) MapperOption {
	return relation(name, target, ManyToMany, secondary, opts)
}

func relation(name, target string, dir Direction, secondary *sql.Table, opts []RelationshipOption) MapperOption {
	return func(m *Mapper) {
		r := &Relationship{
			name:       name,
			owner:      m,
			targetName: target,
			direction:  dir,
			cascade:    CascadeSaveUpdate,
			secondary:  secondary,
		}
		for _, opt := range opts {
			opt(r)
		}
		m.rels = append(m.rels, r)
	}
}

// Name returns the mapper name.
func (m *Mapper) Name() string { return m.name }

// Table returns the mapped table.
func (m *Mapper) Table() *sql.Table { return m.table }

// Relationships returns the relationships in declaration order.
func (m *Mapper) Relationships() []*Relationship { return m.rels }

// Relationship returns the relationship with the given name.
func (m *Mapper) Relationship(name string) (*Relationship, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// C returns the column of the mapped table with the given key.
func (m *Mapper) C(key string) *sql.Column { return m.table.C(key) }

func (m *Mapper) String() string { return m.name }

// pkKeys returns the keys of the primary key columns.
func (m *Mapper) pkKeys() []string {
	pk := m.table.PrimaryKey()
	keys := make([]string, len(pk))
	for i, c := range pk {
		keys[i] = c.Key()
	}
	return keys
}

// New returns a transient object with the given attribute values.
func (m *Mapper) New(values Values) (*Object, error) {
	o := newObject(m)
	for _, key := range sortedKeys(values) {
		if err := o.Set(key, values[key]); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MustNew is like New but panics on error.
func (m *Mapper) MustNew(values Values) *Object {
	o, err := m.New(values)
	if err != nil {
		panic(err)
	}
	return o
}

// dependency is a foreign key between the tables of two mappers: rows of
// child reference rows of parent. Relationships on the key are attached
// so generated keys can be synchronized.
type dependency struct {
	parent, child *Mapper
	fk            *sql.ForeignKey
	refs          []*sql.Column
	rels          []*Relationship
	postUpdate    bool
	// ignored is set for a nullable key without relationship that closes a
	// cycle; its rows are not ordered.
	ignored bool
}

func (d *dependency) self() bool { return d.parent == d.child }

func (d *dependency) active() bool { return !d.postUpdate && !d.ignored }

// Registry holds the mappers of an application. It is created at program
// start, configured once, and passed to the engine.
type Registry struct {
	mu         sync.RWMutex
	md         *schema.MetaData
	mappers    []*Mapper
	byName     map[string]*Mapper
	byTable    map[*sql.Table]*Mapper
	deps       []*dependency
	configured bool
}

// NewRegistry returns an empty registry resolving tables in md.
func NewRegistry(md *schema.MetaData) *Registry {
	if md == nil {
		md = schema.NewMetaData()
	}
	return &Registry{
		md:      md,
		byName:  make(map[string]*Mapper),
		byTable: make(map[*sql.Table]*Mapper),
	}
}

// MetaData returns the table registry.
func (r *Registry) MetaData() *schema.MetaData { return r.md }

// TableName returns the default table name of a mapper: the plural snake
// case of its name.
func TableName(mapper string) string {
	return inflect.Pluralize(inflect.Underscore(mapper))
}

// Map declares a mapper. Relationship targets are resolved by Configure.
func (r *Registry) Map(name string, opts ...MapperOption) (*Mapper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("orm: mapper %q is already defined", name)
	}
	m := &Mapper{name: name, registry: r, order: len(r.mappers), byName: make(map[string]*Relationship)}
	for _, opt := range opts {
		opt(m)
	}
	if m.table == nil {
		t, ok := r.md.Table(TableName(name))
		if !ok {
			return nil, fmt.Errorf("orm: mapper %q: table %q is not defined", name, TableName(name))
		}
		m.table = t
	} else if err := r.md.Add(m.table); err != nil {
		return nil, fmt.Errorf("orm: mapper %q: %w", name, err)
	}
	if len(m.table.PrimaryKey()) == 0 {
		return nil, fmt.Errorf("orm: mapper %q: table %q has no primary key", name, m.table.Name())
	}
	if prev, ok := r.byTable[m.table]; ok {
		return nil, fmt.Errorf("orm: mapper %q: table %q is already mapped by %q", name, m.table.Name(), prev.name)
	}
	if m.verKey != "" {
		c, ok := m.table.Column(m.verKey)
		if !ok || !c.Type().Integer() {
			return nil, fmt.Errorf("orm: mapper %q: version column %q must be an integer column", name, m.verKey)
		}
		m.version = c
	}
	for _, rel := range m.rels {
		if _, ok := m.table.Column(rel.name); ok {
			return nil, fmt.Errorf("orm: mapper %q: relationship %q shadows a column", name, rel.name)
		}
		if _, ok := m.byName[rel.name]; ok {
			return nil, fmt.Errorf("orm: mapper %q: relationship %q is declared twice", name, rel.name)
		}
		m.byName[rel.name] = rel
	}
	r.mappers = append(r.mappers, m)
	r.byName[name] = m
	r.byTable[m.table] = m
	r.configured = false
	return m, nil
}

// MustMap is like Map but panics on error.
func (r *Registry) MustMap(name string, opts ...MapperOption) *Mapper {
	m, err := r.Map(name, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Mapper returns the mapper with the given name.
func (r *Registry) Mapper(name string) (*Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Mappers returns the mappers in declaration order.
func (r *Registry) Mappers() []*Mapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.mappers)
}

// Dispose removes every mapper. Objects of disposed mappers must not be
// used anymore.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers = nil
	r.deps = nil
	r.byName = make(map[string]*Mapper)
	r.byTable = make(map[*sql.Table]*Mapper)
	r.configured = false
}

// Configure resolves the relationships of all mappers: their targets,
// foreign keys and mirrored relationships. It then orders the mappers by
// their foreign keys. A cycle is broken by turning the first nullable
// relationship on it into a post-update relationship; a cycle of NOT NULL
// keys fails with a strata.CycleError. Configure is called by NewEngine
// and is a no-op when nothing changed since the last call.
func (r *Registry) Configure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.configured {
		return nil
	}
	if err := r.md.Resolve(); err != nil {
		return fmt.Errorf("orm: %w", err)
	}
	for _, m := range r.mappers {
		for _, rel := range m.rels {
			if err := r.resolve(rel); err != nil {
				return err
			}
		}
	}
	for _, m := range r.mappers {
		for _, rel := range m.rels {
			if err := r.resolveBack(rel); err != nil {
				return err
			}
		}
	}
	r.buildDeps()
	if err := r.breakCycles(); err != nil {
		return err
	}
	r.configured = true
	return nil
}

func (r *Registry) resolve(rel *Relationship) error {
	target, ok := r.byName[rel.targetName]
	if !ok {
		return fmt.Errorf("orm: relationship %s: unknown mapper %q", rel, rel.targetName)
	}
	rel.target = target
	if rel.direction == ManyToMany && rel.secondary == nil {
		return fmt.Errorf("orm: relationship %s: many-to-many requires a secondary table", rel)
	}
	if rel.direction != ManyToMany && rel.secondary != nil {
		return fmt.Errorf("orm: relationship %s: secondary table given for %s", rel, rel.direction)
	}
	if rel.cascade.Has(CascadeDeleteOrphan) && rel.direction != OneToMany {
		return fmt.Errorf("orm: relationship %s: delete-orphan cascade requires a one-to-many relationship", rel)
	}
	var err error
	switch rel.direction {
	case ManyToOne:
		rel.fk, rel.refs, err = findForeignKey(rel, rel.owner.table, target.table, rel.fkKeys, nil)
	case OneToMany:
		rel.fk, rel.refs, err = findForeignKey(rel, target.table, rel.owner.table, rel.fkKeys, nil)
	case ManyToMany:
		if err := r.md.Add(rel.secondary); err != nil {
			return fmt.Errorf("orm: relationship %s: %w", rel, err)
		}
		if err := r.md.Resolve(); err != nil {
			return fmt.Errorf("orm: %w", err)
		}
		rel.fk, rel.refs, err = findForeignKey(rel, rel.secondary, rel.owner.table, rel.fkKeys, nil)
		if err == nil {
			rel.targetFK, rel.tRefs, err = findForeignKey(rel, rel.secondary, target.table, nil, rel.fk)
		}
	}
	return err
}

// findForeignKey returns the single foreign key from the child table to
// the parent table, optionally restricted to the given column keys.
func findForeignKey(rel *Relationship, child, parent *sql.Table, keys []string, exclude *sql.ForeignKey) (*sql.ForeignKey, []*sql.Column, error) {
	var found []*sql.ForeignKey
	for _, fk := range child.ForeignKeys() {
		if fk == exclude || fk.RefTableName() != parent.Name() {
			continue
		}
		if len(keys) > 0 && !fkHasKeys(fk, keys) {
			continue
		}
		found = append(found, fk)
	}
	switch len(found) {
	case 0:
		return nil, nil, strata.NewCompileError(strata.CompileNoForeignKey,
			"relationship %s: no foreign key from %q to %q", rel, child.Name(), parent.Name())
	case 1:
	default:
		return nil, nil, strata.NewCompileError(strata.CompileAmbiguousJoin,
			"relationship %s: %d foreign keys from %q to %q, select one with ForeignKeys", rel, len(found), child.Name(), parent.Name())
	}
	refs, ok := found[0].RefColumns(parent)
	if !ok {
		return nil, nil, strata.NewCompileError(strata.CompileNoForeignKey,
			"relationship %s: foreign key of %q references unknown columns of %q", rel, child.Name(), parent.Name())
	}
	return found[0], refs, nil
}

func fkHasKeys(fk *sql.ForeignKey, keys []string) bool {
	cols := fk.Columns()
	if len(cols) != len(keys) {
		return false
	}
	for _, c := range cols {
		if !slices.Contains(keys, c.Key()) {
			return false
		}
	}
	return true
}

func (r *Registry) resolveBack(rel *Relationship) error {
	if rel.backPopulates == "" {
		return nil
	}
	back, ok := rel.target.byName[rel.backPopulates]
	if !ok {
		return fmt.Errorf("orm: relationship %s: back relationship %s.%s is not defined", rel, rel.target.name, rel.backPopulates)
	}
	if back.target != rel.owner {
		return fmt.Errorf("orm: relationship %s: %s does not target %s", rel, back, rel.owner.name)
	}
	want := map[Direction]Direction{OneToMany: ManyToOne, ManyToOne: OneToMany, ManyToMany: ManyToMany}[rel.direction]
	if back.direction != want || back.fk != rel.fk && back.targetFK != rel.fk {
		return fmt.Errorf("orm: relationship %s: %s is not its mirror", rel, back)
	}
	rel.back = back
	if back.backPopulates == "" {
		back.back = rel
	}
	if rel.postUpdate || back.postUpdate {
		rel.postUpdate, back.postUpdate = true, true
	}
	return nil
}

// buildDeps collects the dependencies of the mapped tables, attaching the
// relationships joined on each foreign key.
func (r *Registry) buildDeps() {
	r.deps = nil
	byFK := make(map[*sql.ForeignKey]*dependency)
	for _, m := range r.mappers {
		m.deps = nil
	}
	for _, child := range r.mappers {
		for _, fk := range child.table.ForeignKeys() {
			parent := r.mapperOf(fk.RefTableName())
			if parent == nil {
				continue
			}
			refs, _ := fk.RefColumns(parent.table)
			d := &dependency{parent: parent, child: child, fk: fk, refs: refs}
			byFK[fk] = d
			r.deps = append(r.deps, d)
			child.deps = append(child.deps, d)
		}
	}
	for _, m := range r.mappers {
		for _, rel := range m.rels {
			if rel.direction == ManyToMany {
				continue
			}
			if d := byFK[rel.fk]; d != nil {
				d.rels = append(d.rels, rel)
				d.postUpdate = d.postUpdate || rel.postUpdate
			}
		}
	}
	for _, d := range r.deps {
		if d.postUpdate {
			for _, rel := range d.rels {
				rel.postUpdate = true
			}
		}
	}
}

func (r *Registry) mapperOf(table string) *Mapper {
	for _, m := range r.mappers {
		if m.table.Name() == table {
			return m
		}
	}
	return nil
}

// graph returns the mapper dependency graph of the active dependencies.
func (r *Registry) graph() *dag.Graph {
	g := dag.NewGraph()
	for _, m := range r.mappers {
		g.AddNode(m.name, m)
	}
	for _, d := range r.deps {
		if d.active() && !d.self() {
			// Both nodes exist and differ.
			_ = g.AddEdge(d.parent.name, d.child.name)
		}
	}
	return g
}

func (r *Registry) breakCycles() error {
	for {
		cyclic, path := r.graph().HasCycle()
		if !cyclic {
			return nil
		}
		edge := r.breakableEdge(path)
		if edge == nil {
			return strata.NewCycleError(path...)
		}
		for _, d := range r.deps {
			if d.active() && d.parent == edge[0] && d.child == edge[1] {
				if len(d.rels) == 0 {
					d.ignored = true
					continue
				}
				d.postUpdate = true
				for _, rel := range d.rels {
					rel.postUpdate = true
				}
			}
		}
	}
}

// breakableEdge returns the parent and child of the first dependency, in
// declaration order, on the cycle path whose edge only has nullable keys.
func (r *Registry) breakableEdge(path []string) []*Mapper {
	onPath := func(d *dependency) bool {
		for i := 0; i+1 < len(path); i++ {
			if path[i] == d.parent.name && path[i+1] == d.child.name {
				return true
			}
		}
		return false
	}
	for _, d := range r.deps {
		if !d.active() || d.self() || !onPath(d) || !d.fk.Nullable() {
			continue
		}
		nullable := true
		for _, o := range r.deps {
			if o.active() && o.parent == d.parent && o.child == d.child && !o.fk.Nullable() {
				nullable = false
			}
		}
		if nullable {
			return []*Mapper{d.parent, d.child}
		}
	}
	return nil
}
