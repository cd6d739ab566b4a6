package orm

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
)

// State is the lifecycle state of an object with respect to a session and
// the database.
type State uint8

// Object states.
const (
	// Transient objects are not in a session and have no database row.
	Transient State = iota
	// Pending objects were added to a session and are inserted by the next
	// flush.
	Pending
	// Persistent objects are in a session and have a database row.
	Persistent
	// Deleted objects had their row deleted by a flush of the current
	// transaction.
	Deleted
	// Detached objects have a database row but are not in a session.
	Detached
)

var stateNames = [...]string{
	Transient:  "transient",
	Pending:    "pending",
	Persistent: "persistent",
	Deleted:    "deleted",
	Detached:   "detached",
}

// String returns the name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Values holds attribute values by column key.
type Values map[string]any

func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// noValue marks the committed value of an attribute that was not loaded
// when it was changed.
type noValue struct{}

// History is the change of an attribute since it was loaded or last
// flushed. A changed scalar has the new value in Added and the previous
// one in Deleted. For collections Added and Deleted hold the appended and
// removed objects.
type History struct {
	Added     []any
	Unchanged []any
	Deleted   []any
}

// HasChanges reports if the attribute changed.
func (h History) HasChanges() bool { return len(h.Added) > 0 || len(h.Deleted) > 0 }

// Empty reports if the attribute holds no known value.
func (h History) Empty() bool { return !h.HasChanges() && len(h.Unchanged) == 0 }

// reference is the state of a many-to-one attribute.
type reference struct {
	target    *Object
	loaded    bool
	committed *Object
	modified  bool
}

// Object is an instance of a mapper. Attribute changes go through Set,
// SetRef and the Collection methods, which record the history used by
// the flush.
//
// An Object is not safe for concurrent use, like the session it belongs
// to.
type Object struct {
	mapper  *Mapper
	state   State
	session *Session
	key     *IdentityKey
	seq     int

	values    map[string]any
	committed map[string]any
	expired   map[string]bool
	refs      map[string]*reference
	colls     map[string]*Collection
	// generated holds the keys of values set by the insert rather than the
	// application.
	generated []string
	// orphaned is set when the object was removed from a delete-orphan
	// collection.
	orphaned bool
}

func newObject(m *Mapper) *Object {
	o := &Object{
		mapper:    m,
		values:    make(map[string]any),
		committed: make(map[string]any),
		expired:   make(map[string]bool),
		refs:      make(map[string]*reference),
		colls:     make(map[string]*Collection),
	}
	for _, rel := range m.rels {
		if rel.collection() {
			o.colls[rel.name] = &Collection{owner: o, rel: rel, loaded: true}
		} else {
			o.refs[rel.name] = &reference{loaded: true}
		}
	}
	return o
}

// loadedObject returns a persistent object for a row of the mapper.
// Relationships are not loaded.
func loadedObject(m *Mapper, values map[string]any) *Object {
	o := newObject(m)
	o.values = values
	o.state = Persistent
	for _, c := range o.colls {
		c.loaded = false
	}
	for _, r := range o.refs {
		r.loaded = false
	}
	return o
}

// Mapper returns the mapper of the object.
func (o *Object) Mapper() *Mapper { return o.mapper }

// State returns the lifecycle state of the object.
func (o *Object) State() State { return o.state }

// Session returns the session of the object, if any.
func (o *Object) Session() *Session { return o.session }

// Key returns the identity key of a persistent or detached object.
func (o *Object) Key() (IdentityKey, bool) {
	if o.key == nil {
		return IdentityKey{}, false
	}
	return *o.key, true
}

// String returns the mapper name and the identity of the object.
func (o *Object) String() string {
	if o.key != nil {
		return o.key.String()
	}
	return fmt.Sprintf("%s(%s)", o.mapper.name, o.state)
}

func (o *Object) column(key string) (*sql.Column, error) {
	c, ok := o.mapper.table.Column(key)
	if !ok {
		return nil, fmt.Errorf("orm: %s has no attribute %q", o.mapper.name, key)
	}
	return c, nil
}

func (o *Object) relationship(name string) (*Relationship, error) {
	r, ok := o.mapper.byName[name]
	if !ok {
		return nil, fmt.Errorf("orm: %s has no relationship %q", o.mapper.name, name)
	}
	return r, nil
}

// Get returns the value of a column attribute. Expired attributes fail
// with a strata.NotLoadedError; Load reloads them.
func (o *Object) Get(key string) (any, error) {
	if _, err := o.column(key); err != nil {
		return nil, err
	}
	v, ok := o.values[key]
	if !ok && (o.expired[key] || o.state == Persistent || o.state == Detached) {
		return nil, strata.NewNotLoadedError(o.mapper.name + "." + key)
	}
	return v, nil
}

// Load is like Get but reloads expired attributes through the session.
func (o *Object) Load(ctx context.Context, key string) (any, error) {
	if _, err := o.column(key); err != nil {
		return nil, err
	}
	if _, ok := o.values[key]; !ok && o.session != nil && o.key != nil {
		if err := o.session.load(ctx, o); err != nil {
			return nil, err
		}
	}
	return o.Get(key)
}

// Values returns a copy of the loaded column values.
func (o *Object) Values() Values {
	return maps.Clone(o.values)
}

// Set assigns a column attribute. The value is converted to the canonical
// representation of the column type.
func (o *Object) Set(key string, v any) error {
	c, err := o.column(key)
	if err != nil {
		return err
	}
	nv, err := c.Type().Normalize(v)
	if err != nil {
		return fmt.Errorf("orm: %s.%s: %w", o.mapper.name, key, err)
	}
	o.set(key, nv)
	return nil
}

// set records the change of a normalized value.
func (o *Object) set(key string, v any) {
	cur, loaded := o.values[key]
	orig, modified := o.committed[key]
	switch {
	case !modified && loaded && equalValues(cur, v):
		return
	case !modified && loaded:
		o.committed[key] = cur
	case !modified:
		o.committed[key] = noValue{}
	case orig != (noValue{}) && equalValues(orig, v):
		delete(o.committed, key)
	}
	o.values[key] = v
	delete(o.expired, key)
}

// Ref returns the target of a many-to-one relationship. A target that was
// not loaded fails with a strata.NotLoadedError; LoadRef loads it.
func (o *Object) Ref(name string) (*Object, error) {
	rel, err := o.relationship(name)
	if err != nil {
		return nil, err
	}
	if rel.collection() {
		return nil, fmt.Errorf("orm: %s is a collection", rel)
	}
	ref := o.refs[name]
	if !ref.loaded {
		if o.fkNull(rel) {
			return nil, nil
		}
		return nil, strata.NewNotLoadedError(rel.String())
	}
	return ref.target, nil
}

// LoadRef is like Ref but loads the target through the session.
func (o *Object) LoadRef(ctx context.Context, name string) (*Object, error) {
	rel, err := o.relationship(name)
	if err != nil {
		return nil, err
	}
	if ref := o.refs[name]; ref != nil && !ref.loaded && o.session != nil {
		if err := o.session.loadRef(ctx, o, rel); err != nil {
			return nil, err
		}
	}
	return o.Ref(name)
}

// SetRef assigns the target of a many-to-one relationship. A nil target
// clears the reference.
func (o *Object) SetRef(name string, target *Object) error {
	rel, err := o.relationship(name)
	if err != nil {
		return err
	}
	if rel.collection() {
		return fmt.Errorf("orm: %s is a collection", rel)
	}
	if target != nil && target.mapper != rel.target {
		return fmt.Errorf("orm: %s expects %s, got %s", rel, rel.target.name, target.mapper.name)
	}
	return o.setRef(rel, target, true)
}

func (o *Object) setRef(rel *Relationship, target *Object, backref bool) error {
	ref := o.refs[rel.name]
	old := ref.target
	if ref.loaded && old == target {
		return nil
	}
	if !ref.modified {
		ref.committed, ref.modified = old, true
	}
	ref.target, ref.loaded = target, true
	if backref && rel.back != nil {
		if old != nil {
			old.colls[rel.back.name].remove(o, false)
		}
		if target != nil {
			target.colls[rel.back.name].append(o, false)
		}
	}
	if target != nil && rel.cascade.Has(CascadeSaveUpdate) && o.session != nil && target.session == nil {
		return o.session.add(target)
	}
	return nil
}

// fkNull reports if the foreign key of a many-to-one relationship is null.
func (o *Object) fkNull(rel *Relationship) bool {
	for _, c := range rel.fk.Columns() {
		if o.values[c.Key()] != nil {
			return false
		}
	}
	return true
}

// Collection returns the collection of a one-to-many or many-to-many
// relationship, or nil if the object has no such collection.
func (o *Object) Collection(name string) *Collection {
	return o.colls[name]
}

// LoadCollection returns the collection of a relationship, loading it
// through the session if needed.
func (o *Object) LoadCollection(ctx context.Context, name string) (*Collection, error) {
	c := o.colls[name]
	if c == nil {
		return nil, fmt.Errorf("orm: %s has no collection %q", o.mapper.name, name)
	}
	if !c.loaded && o.session != nil {
		if err := o.session.loadCollection(ctx, o, c.rel); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// History returns the history of a column attribute or relationship.
func (o *Object) History(name string) History {
	if c := o.colls[name]; c != nil {
		return c.History()
	}
	if ref := o.refs[name]; ref != nil {
		switch {
		case ref.modified:
			h := History{}
			if ref.target != nil {
				h.Added = []any{ref.target}
			}
			if ref.committed != nil {
				h.Deleted = []any{ref.committed}
			}
			return h
		case ref.loaded && ref.target != nil:
			return History{Unchanged: []any{ref.target}}
		}
		return History{}
	}
	v, loaded := o.values[name]
	orig, modified := o.committed[name]
	switch {
	case modified:
		h := History{Added: []any{v}}
		if orig != (noValue{}) {
			h.Deleted = []any{orig}
		}
		return h
	case loaded:
		return History{Unchanged: []any{v}}
	}
	return History{}
}

// Modified reports if any attribute or relationship changed since the
// object was loaded or last flushed.
func (o *Object) Modified() bool {
	if len(o.committed) > 0 {
		return true
	}
	for _, r := range o.refs {
		if r.modified {
			return true
		}
	}
	for _, c := range o.colls {
		if len(c.added) > 0 || len(c.removed) > 0 {
			return true
		}
	}
	return false
}

// Expired reports if the attribute must be reloaded.
func (o *Object) Expired(key string) bool { return o.expired[key] }

// expire discards the given attributes, or all non primary key attributes
// and relationships when keys is empty.
func (o *Object) expire(keys ...string) {
	if len(keys) == 0 {
		for _, c := range o.mapper.table.Columns() {
			if !c.PrimaryKey() {
				keys = append(keys, c.Key())
			}
		}
		for _, r := range o.refs {
			*r = reference{}
		}
		for _, c := range o.colls {
			c.reset()
		}
	}
	for _, k := range keys {
		delete(o.values, k)
		delete(o.committed, k)
		o.expired[k] = true
	}
}

// commit establishes the current state as the clean baseline.
func (o *Object) commit() {
	clear(o.committed)
	for _, r := range o.refs {
		r.committed, r.modified = nil, false
	}
	for _, c := range o.colls {
		c.commit()
	}
}

// populate sets values read from the database. Unless force is set, only
// missing attributes are set.
func (o *Object) populate(values map[string]any, force bool) {
	for k, v := range values {
		if _, ok := o.values[k]; ok && !force {
			continue
		}
		o.values[k] = v
		delete(o.committed, k)
		delete(o.expired, k)
	}
}

// pkValues returns the current primary key values and whether they are
// all set.
func (o *Object) pkValues() ([]any, bool) {
	pk := o.mapper.table.PrimaryKey()
	vals := make([]any, len(pk))
	for i, c := range pk {
		v := o.values[c.Key()]
		if v == nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// Collection is the set of objects related by a one-to-many or
// many-to-many relationship. Appended and removed objects are tracked
// until the next flush so only the changed rows are written.
type Collection struct {
	owner   *Object
	rel     *Relationship
	items   []*Object
	added   []*Object
	removed []*Object
	loaded  bool
}

// Relationship returns the relationship of the collection.
func (c *Collection) Relationship() *Relationship { return c.rel }

// Loaded reports if the collection holds the rows of the database. An
// unloaded collection only holds the objects appended since.
func (c *Collection) Loaded() bool { return c.loaded }

// Items returns the objects of the collection.
func (c *Collection) Items() []*Object { return slices.Clone(c.items) }

// Len returns the number of objects in the collection.
func (c *Collection) Len() int { return len(c.items) }

// Contains reports if o is in the collection.
func (c *Collection) Contains(o *Object) bool { return slices.Contains(c.items, o) }

// Append adds objects to the collection.
func (c *Collection) Append(objs ...*Object) error {
	for _, o := range objs {
		if o == nil || o.mapper != c.rel.target {
			return fmt.Errorf("orm: %s expects %s objects", c.rel, c.rel.target.name)
		}
	}
	for _, o := range objs {
		c.append(o, true)
		if c.rel.cascade.Has(CascadeSaveUpdate) && c.owner.session != nil && o.session == nil {
			if err := c.owner.session.add(o); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove removes objects from the collection.
func (c *Collection) Remove(objs ...*Object) {
	for _, o := range objs {
		c.remove(o, true)
	}
}

// Clear removes every object of the collection.
func (c *Collection) Clear() {
	c.Remove(c.Items()...)
}

func (c *Collection) append(o *Object, backref bool) {
	if slices.Contains(c.items, o) {
		return
	}
	c.items = append(c.items, o)
	o.orphaned = false
	if i := slices.Index(c.removed, o); i >= 0 {
		c.removed = slices.Delete(c.removed, i, i+1)
	} else {
		c.added = append(c.added, o)
	}
	if !backref || c.rel.back == nil {
		return
	}
	switch back := c.rel.back; back.direction {
	case ManyToOne:
		// The previous parent, if loaded, loses the object.
		_ = o.setRef(back, c.owner, true)
	case ManyToMany:
		o.colls[back.name].append(c.owner, false)
	}
}

func (c *Collection) remove(o *Object, backref bool) {
	switch i := slices.Index(c.items, o); {
	case i >= 0:
		c.items = slices.Delete(c.items, i, i+1)
	case c.loaded:
		return
	}
	if i := slices.Index(c.added, o); i >= 0 {
		c.added = slices.Delete(c.added, i, i+1)
	} else if !slices.Contains(c.removed, o) {
		c.removed = append(c.removed, o)
	}
	if c.rel.cascade.Has(CascadeDeleteOrphan) {
		o.orphaned = true
	}
	if !backref || c.rel.back == nil {
		return
	}
	switch back := c.rel.back; back.direction {
	case ManyToOne:
		if ref := o.refs[back.name]; !ref.loaded || ref.target == c.owner {
			_ = o.setRef(back, nil, false)
		}
	case ManyToMany:
		o.colls[back.name].remove(c.owner, false)
	}
}

// History returns the appended, unchanged and removed objects.
func (c *Collection) History() History {
	var h History
	for _, o := range c.items {
		if slices.Contains(c.added, o) {
			h.Added = append(h.Added, o)
		} else {
			h.Unchanged = append(h.Unchanged, o)
		}
	}
	for _, o := range c.removed {
		h.Deleted = append(h.Deleted, o)
	}
	return h
}

func (c *Collection) commit() {
	c.added, c.removed = nil, nil
}

func (c *Collection) reset() {
	c.items, c.added, c.removed, c.loaded = nil, nil, nil, false
}

// merge sets the loaded objects, keeping the pending changes.
func (c *Collection) merge(loaded []*Object) {
	items := make([]*Object, 0, len(loaded)+len(c.added))
	for _, o := range loaded {
		if !slices.Contains(c.removed, o) {
			items = append(items, o)
		}
	}
	for _, o := range c.added {
		if !slices.Contains(items, o) {
			items = append(items, o)
		}
	}
	c.items, c.loaded = items, true
}

// equalValues compares normalized values.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a := a.(type) {
	case []byte:
		b, ok := b.([]byte)
		return ok && bytes.Equal(a, b)
	case time.Time:
		b, ok := b.(time.Time)
		return ok && a.Equal(b)
	}
	if ta := reflect.TypeOf(a); ta.Comparable() && ta == reflect.TypeOf(b) {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// describe returns a short description of objects for log and errors.
func describe(objs []*Object) string {
	parts := make([]string, len(objs))
	for i, o := range objs {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}
