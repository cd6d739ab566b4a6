package orm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
)

// IdentityKey identifies the row of an object: its mapper and primary key
// values in canonical form.
type IdentityKey struct {
	mapper *Mapper
	values []any
	id     string
}

// NewIdentityKey returns the identity key of the mapper for the given
// primary key values.
func NewIdentityKey(m *Mapper, pk ...any) (IdentityKey, error) {
	cols := m.table.PrimaryKey()
	if len(pk) != len(cols) {
		return IdentityKey{}, fmt.Errorf("orm: %s has %d primary key columns, got %d values", m.name, len(cols), len(pk))
	}
	values := make([]any, len(pk))
	var b strings.Builder
	b.WriteString(m.name)
	for i, c := range cols {
		v, err := c.Type().Normalize(pk[i])
		if err != nil {
			return IdentityKey{}, fmt.Errorf("orm: %s.%s: %w", m.name, c.Key(), err)
		}
		if v == nil {
			return IdentityKey{}, fmt.Errorf("orm: %s.%s: primary key value is null", m.name, c.Key())
		}
		values[i] = v
		fmt.Fprintf(&b, "\x00%T:%v", v, v)
	}
	return IdentityKey{mapper: m, values: values, id: b.String()}, nil
}

// Mapper returns the mapper of the key.
func (k IdentityKey) Mapper() *Mapper { return k.mapper }

// Values returns the primary key values.
func (k IdentityKey) Values() []any { return slices.Clone(k.values) }

// String returns the key as "Mapper(v1, v2)".
func (k IdentityKey) String() string {
	if k.mapper == nil {
		return "<nil>"
	}
	parts := make([]string, len(k.values))
	for i, v := range k.values {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s(%s)", k.mapper.name, strings.Join(parts, ", "))
}

// IdentityMap holds at most one object per identity key. It is owned by a
// session and is not safe for concurrent use.
type IdentityMap struct {
	m map[string]*Object
}

// NewIdentityMap returns an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{m: make(map[string]*Object)}
}

// Get returns the object registered under the key.
func (im *IdentityMap) Get(k IdentityKey) (*Object, bool) {
	o, ok := im.m[k.id]
	return o, ok
}

// Register registers o under the key. Registering another object under a
// used key fails with a strata.IdentityConflictError.
func (im *IdentityMap) Register(o *Object, k IdentityKey) error {
	if prev, ok := im.m[k.id]; ok && prev != o {
		return strata.NewIdentityConflictError(k.mapper.name, k.String())
	}
	if o.key != nil && o.key.id != k.id && im.m[o.key.id] == o {
		delete(im.m, o.key.id)
	}
	im.m[k.id] = o
	o.key = &k
	return nil
}

// Forget removes o from the map. It reports if o was registered.
func (im *IdentityMap) Forget(o *Object) bool {
	if o.key == nil || im.m[o.key.id] != o {
		return false
	}
	delete(im.m, o.key.id)
	return true
}

// Contains reports if o is registered.
func (im *IdentityMap) Contains(o *Object) bool {
	return o.key != nil && im.m[o.key.id] == o
}

// Len returns the number of registered objects.
func (im *IdentityMap) Len() int { return len(im.m) }

// Objects returns the registered objects in session registration order.
func (im *IdentityMap) Objects() []*Object {
	objs := make([]*Object, 0, len(im.m))
	for _, o := range im.m {
		objs = append(objs, o)
	}
	slices.SortFunc(objs, func(a, b *Object) int { return a.seq - b.seq })
	return objs
}

// Clear removes every object.
func (im *IdentityMap) Clear() { clear(im.m) }
