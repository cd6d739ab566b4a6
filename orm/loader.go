package orm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
)

// DefaultBatchSize is the number of owners loaded by one statement of
// LoadCollections.
const DefaultBatchSize = 500

// LoadCollections loads the named collection of every owner that has not
// loaded it yet. One-to-many collections on a single column foreign key are
// loaded with one "fk IN (...)" query per batch of owners; other
// collections are loaded per owner.
func (s *Session) LoadCollections(ctx context.Context, name string, owners ...*Object) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	pending := make([]*Object, 0, len(owners))
	var rel *Relationship
	for _, o := range owners {
		c := o.colls[name]
		if c == nil {
			return fmt.Errorf("orm: %s has no collection %q", o.mapper.name, name)
		}
		if o.session != s {
			return fmt.Errorf("orm: %s is not attached to the session", o)
		}
		if rel == nil {
			rel = c.rel
		} else if rel != c.rel {
			return fmt.Errorf("orm: collection %q of %s and %s differ", name, rel.owner.name, o.mapper.name)
		}
		if !c.loaded && !slices.Contains(pending, o) {
			pending = append(pending, o)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if rel.direction != OneToMany || len(rel.fk.Columns()) != 1 {
		for _, o := range pending {
			if err := s.loadCollection(ctx, o, rel); err != nil {
				return err
			}
		}
		return nil
	}
	if err := s.autoflushIfNeeded(ctx); err != nil {
		return err
	}
	size := s.engine.batchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for batch := range slices.Chunk(pending, size) {
		if err := s.loadBatch(ctx, rel, batch); err != nil {
			return err
		}
	}
	return nil
}

// loadBatch loads the one-to-many collection of owners with one query and
// distributes the children by their foreign key value.
func (s *Session) loadBatch(ctx context.Context, rel *Relationship, owners []*Object) error {
	fk, ref := rel.fk.Columns()[0], rel.refs[0]
	byKey := make(map[string][]*Object, len(owners))
	vals := make([]any, 0, len(owners))
	for _, o := range owners {
		if o.key == nil {
			o.colls[rel.name].loaded = true
			continue
		}
		v, err := fk.Type().Normalize(o.values[ref.Key()])
		if err != nil || v == nil {
			o.colls[rel.name].merge(nil)
			continue
		}
		k := groupKey(v)
		if _, ok := byKey[k]; !ok {
			byKey[k] = nil
			vals = append(vals, v)
		}
	}
	if len(vals) > 0 {
		t := rel.target
		objs, err := s.query(ctx, t, t.selectFrom().Where(t.table.C(fk.Key()).In(vals...)))
		if err != nil {
			return strata.NewQueryError(t.name, "load "+rel.String(), err)
		}
		for _, child := range objs {
			k := groupKey(child.values[fk.Key()])
			if _, ok := byKey[k]; ok {
				byKey[k] = append(byKey[k], child)
			}
		}
	}
	for _, o := range owners {
		c := o.colls[rel.name]
		if c.loaded {
			continue
		}
		v, _ := fk.Type().Normalize(o.values[ref.Key()])
		children := byKey[groupKey(v)]
		c.merge(children)
		if back := rel.back; back != nil && back.direction == ManyToOne {
			for _, child := range children {
				if r := child.refs[back.name]; !r.loaded {
					r.target, r.loaded = o, true
				}
			}
		}
	}
	return nil
}

// groupKey returns the canonical form of a normalized value.
func groupKey(v any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%T:%v", v, v)
	return b.String()
}

// Load returns the objects of the query with the named collections loaded
// in batches.
func (q *Query) Load(ctx context.Context, names ...string) ([]*Object, error) {
	objs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := q.s.LoadCollections(ctx, name, objs...); err != nil {
			return nil, err
		}
	}
	return objs, nil
}
