package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/internal/dag"
)

// Flush writes the changes of the session to the database within the
// session transaction. Pending objects are inserted, changed persistent
// objects updated and deleted objects deleted, ordered by the foreign keys
// between their tables. A failed flush restores the objects and the
// session to their state before the flush and returns a strata.FlushError
// listing the statements already executed; the caller should roll back.
// Flushing a session without changes executes no statement.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	if s.flushing {
		return nil
	}
	s.flushing = true
	defer func() { s.flushing = false }()
	for _, h := range s.before {
		if err := h(ctx, s); err != nil {
			return fmt.Errorf("orm: before flush: %w", err)
		}
	}
	if !s.hasChanges() {
		return nil
	}
	u := newUnitOfWork(s)
	if err := u.run(ctx); err != nil {
		u.restore()
		return err
	}
	u.finish()
	s.logger.DebugContext(ctx, "flush",
		"inserts", u.result.Inserts,
		"updates", u.result.Updates,
		"deletes", u.result.Deletes,
		"post_updates", u.result.PostUpdates,
		"links", u.result.Links,
		"unlinks", u.result.Unlinks,
	)
	for _, h := range s.after {
		h(ctx, s, u.result)
	}
	return nil
}

// syncOp copies the referenced values of parent into the foreign key of
// child, or nulls the foreign key when parent is nil.
type syncOp struct {
	dep    *dependency
	child  *Object
	parent *Object
}

// unitOfWork is the plan and the execution state of one flush.
type unitOfWork struct {
	s       *Session
	journal *journal

	saves    []*Object
	saveSet  map[*Object]bool
	deletes  []*Object
	delSet   map[*Object]bool
	inserted []*Object

	// nulled holds the children whose parent is deleted without a delete
	// cascade, by the dependency to null.
	nulled map[*Object][]*dependency
	syncs  map[*Object][]syncOp
	posts  []syncOp

	byFK map[*sql.ForeignKey]*dependency
	// written holds the secondary rows and bulk deletes already executed.
	written map[string]bool
	result  FlushResult
}

func newUnitOfWork(s *Session) *unitOfWork {
	u := &unitOfWork{
		s:       s,
		journal: newJournal(s),
		saveSet: make(map[*Object]bool),
		delSet:  make(map[*Object]bool),
		nulled:  make(map[*Object][]*dependency),
		syncs:   make(map[*Object][]syncOp),
		byFK:    make(map[*sql.ForeignKey]*dependency),
		written: make(map[string]bool),
	}
	for _, d := range s.engine.registry.deps {
		u.byFK[d.fk] = d
	}
	return u
}

func (u *unitOfWork) run(ctx context.Context) error {
	if err := u.prepare(ctx); err != nil {
		return u.fail("prepare", nil, err)
	}
	u.plan()
	nodes, err := u.graph().TopologicalSort()
	if err != nil {
		return u.fail("prepare", nil, fmt.Errorf("%w: %v", strata.ErrDependencyCycle, err))
	}
	posted := false
	for _, n := range nodes {
		kind, _, _ := strings.Cut(n.ID, ":")
		if kind == "delete" && !posted {
			if err := u.postUpdate(ctx); err != nil {
				return err
			}
			posted = true
		}
		switch kind {
		case "save":
			err = u.saveMapper(ctx, n.Data.(*Mapper))
		case "assoc":
			err = u.associate(ctx, n.Data.(*Relationship))
		case "delete":
			err = u.deleteMapper(ctx, n.Data.(*Mapper))
		}
		if err != nil {
			return err
		}
	}
	if !posted {
		return u.postUpdate(ctx)
	}
	return nil
}

// prepare applies the cascades and collects the objects to save and to
// delete.
func (u *unitOfWork) prepare(ctx context.Context) error {
	s := u.s
	for _, o := range s.objects() {
		u.journal.track(o)
		if err := s.cascadeAdd(o); err != nil {
			return err
		}
	}
	if err := u.orphans(); err != nil {
		return err
	}
	for i := 0; i < len(s.deleted); i++ {
		if err := u.cascadeDelete(ctx, s.deleted[i]); err != nil {
			return err
		}
	}
	for _, o := range s.deleted {
		u.deletes = append(u.deletes, o)
		u.delSet[o] = true
	}
	add := func(o *Object) {
		if o.session == s && !u.delSet[o] && !u.saveSet[o] && (o.state == Pending || o.state == Persistent) {
			u.saveSet[o] = true
			u.saves = append(u.saves, o)
		}
	}
	for _, o := range s.objects() {
		u.journal.track(o)
		if o.state == Pending || o.Modified() {
			add(o)
		}
		for _, c := range o.colls {
			if c.rel.direction != OneToMany {
				continue
			}
			for _, child := range c.added {
				add(child)
			}
			for _, child := range c.removed {
				add(child)
			}
		}
	}
	for child := range u.nulled {
		add(child)
	}
	slices.SortFunc(u.saves, func(a, b *Object) int { return a.seq - b.seq })
	return nil
}

// orphans deletes the children removed from a delete-orphan collection
// that have no other parent. Pending orphans are expunged.
func (u *unitOfWork) orphans() error {
	s := u.s
	for _, o := range slices.Clone(s.new) {
		if !o.orphaned {
			continue
		}
		for _, rel := range u.orphanRels(o.mapper) {
			if !u.hasParent(o, rel, nil) {
				s.detach(o)
				break
			}
		}
	}
	for _, o := range s.objects() {
		for _, c := range o.colls {
			if !c.rel.cascade.Has(CascadeDeleteOrphan) {
				continue
			}
			for _, child := range c.removed {
				if c.Contains(child) || child.session != s || u.hasParent(child, c.rel, o) {
					continue
				}
				switch child.state {
				case Pending:
					s.detach(child)
				case Persistent:
					if !slices.Contains(s.deleted, child) {
						s.deleted = append(s.deleted, child)
					}
				}
			}
		}
	}
	return nil
}

// orphanRels returns the delete-orphan relationships targeting m.
func (u *unitOfWork) orphanRels(m *Mapper) []*Relationship {
	var rels []*Relationship
	for _, owner := range m.registry.mappers {
		for _, rel := range owner.rels {
			if rel.target == m && rel.cascade.Has(CascadeDeleteOrphan) {
				rels = append(rels, rel)
			}
		}
	}
	return rels
}

// hasParent reports if child belongs to a parent of rel other than owner.
func (u *unitOfWork) hasParent(child *Object, rel *Relationship, owner *Object) bool {
	if rel.back != nil {
		if ref := child.refs[rel.back.name]; ref.loaded && ref.target != nil && ref.target != owner {
			return true
		}
	}
	for _, p := range u.s.objects() {
		if p != owner && p.mapper == rel.owner && p.colls[rel.name].Contains(child) {
			return true
		}
	}
	return false
}

// cascadeDelete marks the children of a deleted object for deletion along
// relationships with a delete cascade, and nulls their foreign key
// otherwise. Unloaded collections are loaded unless deletes are passive.
func (u *unitOfWork) cascadeDelete(ctx context.Context, o *Object) error {
	s := u.s
	for _, rel := range o.mapper.rels {
		switch rel.direction {
		case OneToMany, ManyToMany:
			c := o.colls[rel.name]
			load := rel.direction == OneToMany || rel.cascade.Has(CascadeDelete)
			if !c.loaded && load && !rel.passiveDeletes {
				if err := s.loadCollection(ctx, o, rel); err != nil {
					return err
				}
			}
			if !c.loaded {
				continue
			}
			for _, child := range c.Items() {
				if child.session != s {
					continue
				}
				switch {
				case rel.cascade.Has(CascadeDelete) && child.state == Pending:
					s.detach(child)
				case rel.cascade.Has(CascadeDelete) && child.state == Persistent:
					if !slices.Contains(s.deleted, child) {
						s.deleted = append(s.deleted, child)
					}
				case rel.direction == OneToMany:
					if d := u.byFK[rel.fk]; d != nil && !slices.Contains(u.nulled[child], d) {
						u.nulled[child] = append(u.nulled[child], d)
					}
				}
			}
		case ManyToOne:
			if !rel.cascade.Has(CascadeDelete) {
				continue
			}
			if ref := o.refs[rel.name]; !ref.loaded {
				if err := s.loadRef(ctx, o, rel); err != nil && !strata.IsNotFound(err) {
					return err
				}
			}
			if t := o.refs[rel.name].target; t != nil && t.session == s && t.state == Persistent && !slices.Contains(s.deleted, t) {
				s.deleted = append(s.deleted, t)
			}
		}
	}
	return nil
}

// plan computes the foreign key synchronizations of the saved objects.
// Clears come first so a child moved between parents keeps the new one.
func (u *unitOfWork) plan() {
	var clears, refs, sets []syncOp
	for child, deps := range u.nulled {
		for _, d := range deps {
			clears = append(clears, syncOp{dep: d, child: child})
		}
	}
	for _, o := range u.s.objects() {
		for _, rel := range o.mapper.rels {
			d := u.byFK[rel.fk]
			if d == nil {
				continue
			}
			switch rel.direction {
			case ManyToOne:
				if ref := o.refs[rel.name]; ref.modified && u.saveSet[o] {
					refs = append(refs, syncOp{dep: d, child: o, parent: ref.target})
				}
			case OneToMany:
				c := o.colls[rel.name]
				for _, child := range c.removed {
					if u.saveSet[child] {
						clears = append(clears, syncOp{dep: d, child: child})
					}
				}
				if u.delSet[o] {
					continue
				}
				for _, child := range c.added {
					if u.saveSet[child] {
						sets = append(sets, syncOp{dep: d, child: child, parent: o})
					}
				}
			}
		}
	}
	// nulled children are collected from a map; order them for stable
	// statements.
	slices.SortStableFunc(clears, func(a, b syncOp) int { return a.child.seq - b.child.seq })
	for _, op := range slices.Concat(clears, refs, sets) {
		if op.dep.postUpdate {
			u.posts = append(u.posts, op)
			continue
		}
		u.syncs[op.child] = append(u.syncs[op.child], op)
	}
}

// graph returns the flush graph: one node per mapper to save, per
// many-to-many relationship and per mapper to delete.
func (u *unitOfWork) graph() *dag.Graph {
	g := dag.NewGraph()
	mappers := u.s.engine.registry.mappers
	var assocs []*Relationship
	for _, m := range mappers {
		g.AddNode("save:"+m.name, m)
	}
	for _, m := range mappers {
		for _, rel := range m.rels {
			if rel.direction == ManyToMany {
				g.AddNode("assoc:"+rel.String(), rel)
				assocs = append(assocs, rel)
			}
		}
	}
	for _, m := range mappers {
		g.AddNode("delete:"+m.name, m)
		_ = g.AddEdge("save:"+m.name, "delete:"+m.name)
	}
	for _, d := range u.s.engine.registry.deps {
		if !d.active() || d.self() {
			continue
		}
		_ = g.AddEdge("save:"+d.parent.name, "save:"+d.child.name)
		_ = g.AddEdge("delete:"+d.child.name, "delete:"+d.parent.name)
		_ = g.AddEdge("save:"+d.child.name, "delete:"+d.parent.name)
	}
	for _, rel := range assocs {
		id := "assoc:" + rel.String()
		for _, m := range []*Mapper{rel.owner, rel.target} {
			_ = g.AddEdge("save:"+m.name, id)
			_ = g.AddEdge(id, "delete:"+m.name)
		}
	}
	return g
}

// saveMapper inserts or updates the saved objects of a mapper. Objects of a
// self-referential mapper are saved parents first.
func (u *unitOfWork) saveMapper(ctx context.Context, m *Mapper) error {
	var objs []*Object
	for _, o := range u.saves {
		if o.mapper == m {
			objs = append(objs, o)
		}
	}
	if len(objs) == 0 {
		return nil
	}
	objs, err := u.orderSelf(m, objs, func(child *Object) []*Object {
		var parents []*Object
		for _, op := range u.syncs[child] {
			if op.dep.self() && op.parent != nil {
				parents = append(parents, op.parent)
			}
		}
		return parents
	})
	if err != nil {
		return u.fail("insert", objs[0], err)
	}
	for _, o := range objs {
		u.journal.track(o)
		if err := u.sync(o); err != nil {
			return u.fail("insert", o, err)
		}
		if o.state == Pending {
			err = u.insert(ctx, o)
		} else {
			err = u.update(ctx, o)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// orderSelf orders the objects of a mapper with a self-referential
// dependency so that every parent precedes its children.
func (u *unitOfWork) orderSelf(m *Mapper, objs []*Object, parents func(*Object) []*Object) ([]*Object, error) {
	self := false
	for _, d := range m.deps {
		self = self || d.self() && d.active()
	}
	if !self || len(objs) < 2 {
		return objs, nil
	}
	g := dag.NewGraph()
	ids := make(map[*Object]string, len(objs))
	for _, o := range objs {
		ids[o] = strconv.Itoa(o.seq)
		g.AddNode(ids[o], o)
	}
	for _, o := range objs {
		for _, p := range parents(o) {
			if id, ok := ids[p]; ok && p != o {
				_ = g.AddEdge(id, ids[o])
			}
		}
	}
	if cyclic, path := g.HasCycle(); cyclic {
		names := make([]string, len(path))
		for i, id := range path {
			n, _ := g.GetNode(id)
			names[i] = n.Data.(*Object).String()
		}
		return nil, strata.NewCycleError(names...)
	}
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	sorted := make([]*Object, len(nodes))
	for i, n := range nodes {
		sorted[i] = n.Data.(*Object)
	}
	return sorted, nil
}

// sync applies the foreign key synchronizations of an object.
func (u *unitOfWork) sync(o *Object) error {
	for _, op := range u.syncs[o] {
		if err := op.apply(); err != nil {
			return err
		}
	}
	return nil
}

func (op syncOp) apply() error {
	cols := op.dep.fk.Columns()
	for i, c := range cols {
		var v any
		if op.parent != nil {
			pv, ok := op.parent.values[op.dep.refs[i].Key()]
			if !ok || pv == nil {
				return fmt.Errorf("orm: %s: %s has no value for %s", op.child.mapper.name, op.parent, op.dep.refs[i].Key())
			}
			v = pv
		}
		op.child.set(c.Key(), v)
	}
	return nil
}

// insert inserts a pending object and registers it under its generated
// identity key.
func (u *unitOfWork) insert(ctx context.Context, o *Object) error {
	m, t := o.mapper, o.mapper.table
	for _, c := range t.Columns() {
		if _, ok := o.values[c.Key()]; ok {
			continue
		}
		if v, fn, ok := c.Default(); ok {
			if fn != nil {
				v = fn()
			}
			nv, err := c.Type().Normalize(v)
			if err != nil {
				return u.fail("insert", o, fmt.Errorf("orm: %s.%s default: %w", m.name, c.Key(), err))
			}
			o.values[c.Key()] = nv
		}
	}
	if m.version != nil {
		o.values[m.verKey] = int64(1)
	}
	var (
		keys    []string
		vals    []any
		missing []*sql.Column
	)
	for _, c := range t.Columns() {
		v, ok := o.values[c.Key()]
		if c.PrimaryKey() && v == nil {
			missing = append(missing, c)
			continue
		}
		if ok {
			keys, vals = append(keys, c.Key()), append(vals, v)
		}
	}
	ins := sql.Insert(t)
	if len(keys) > 0 {
		ins = ins.Columns(keys...).Values(vals...)
	}
	d := u.s.engine.db.Dialect()
	if len(missing) > 0 && d.Supports(dialect.FeatureReturning) {
		returning := make([]sql.Expr, len(missing))
		for i, c := range missing {
			returning[i] = c
		}
		ins = ins.Returning(returning...)
	}
	cs, res, err := u.exec(ctx, ins)
	if err != nil {
		return u.fail("insert", o, err)
	}
	u.result.Inserts++
	switch {
	case len(missing) == 0:
	case cs.Returning():
		if len(res.Rows) != 1 || len(res.Rows[0]) != len(missing) {
			return u.fail("insert", o, fmt.Errorf("orm: %s: insert returned %d rows", m.name, len(res.Rows)))
		}
		for i, c := range missing {
			if err := u.generated(o, c, res.Rows[0][i]); err != nil {
				return err
			}
		}
	case res.HasLastInsertID && len(missing) == 1:
		if err := u.generated(o, missing[0], res.LastInsertID); err != nil {
			return err
		}
	default:
		return u.fail("insert", o, fmt.Errorf("orm: %s: %s reports no generated key for %s", m.name, d.Name(), describeColumns(missing)))
	}
	// Server defaults are loaded on access; other omitted columns are null.
	for _, c := range t.Columns() {
		if _, ok := o.values[c.Key()]; ok {
			continue
		}
		if c.ServerDefault() != "" {
			o.expired[c.Key()] = true
		} else {
			o.values[c.Key()] = nil
			o.generated = append(o.generated, c.Key())
		}
	}
	pk, _ := o.pkValues()
	key, err := NewIdentityKey(m, pk...)
	if err != nil {
		return u.fail("insert", o, err)
	}
	if err := u.s.identity.Register(o, key); err != nil {
		return u.fail("insert", o, err)
	}
	o.state = Persistent
	u.inserted = append(u.inserted, o)
	return nil
}

func (u *unitOfWork) generated(o *Object, c *sql.Column, v any) error {
	nv, err := c.Type().Normalize(v)
	if err != nil {
		return u.fail("insert", o, fmt.Errorf("orm: %s.%s generated key: %w", o.mapper.name, c.Key(), err))
	}
	o.values[c.Key()] = nv
	o.generated = append(o.generated, c.Key())
	return nil
}

// update updates the changed columns of a persistent object. Objects
// without changed columns execute no statement.
func (u *unitOfWork) update(ctx context.Context, o *Object) error {
	m := o.mapper
	var keys []string
	for _, c := range m.table.Columns() {
		if _, ok := o.committed[c.Key()]; ok && c != m.version {
			keys = append(keys, c.Key())
		}
	}
	if len(keys) == 0 {
		return nil
	}
	upd := sql.Update(m.table)
	for _, k := range keys {
		upd = upd.Set(k, o.values[k])
	}
	upd, next, err := u.versioned(o, upd.Where(pkWhere(m, o.key.values)...))
	if err != nil {
		return u.fail("update", o, err)
	}
	if err := u.execCount(ctx, upd, "update", o); err != nil {
		return err
	}
	u.result.Updates++
	if next != nil {
		o.values[m.verKey] = *next
	}
	if pk, _ := o.pkValues(); !slices.EqualFunc(pk, o.key.values, equalValues) {
		key, err := NewIdentityKey(m, pk...)
		if err != nil {
			return u.fail("update", o, err)
		}
		if err := u.s.identity.Register(o, key); err != nil {
			return u.fail("update", o, err)
		}
	}
	return nil
}

// versioned adds the version check and increment of a versioned mapper.
func (u *unitOfWork) versioned(o *Object, upd *sql.UpdateBuilder) (*sql.UpdateBuilder, *int64, error) {
	m := o.mapper
	if m.version == nil {
		return upd, nil, nil
	}
	cur, ok := o.values[m.verKey].(int64)
	if !ok {
		return nil, nil, strata.NewNotLoadedError(m.name + "." + m.verKey)
	}
	next := cur + 1
	return upd.Set(m.verKey, next).Where(m.version.EQ(cur)), &next, nil
}

// execCount executes an UPDATE or DELETE of one row and checks that it
// matched exactly one row.
func (u *unitOfWork) execCount(ctx context.Context, stmt sql.Node, op string, o *Object) error {
	cs, res, err := u.s.exec(ctx, stmt)
	if err != nil {
		return u.fail(op, o, err)
	}
	if res.RowsAffected != 1 {
		return u.fail(op, o, &strata.StaleDataError{
			Entity:   o.mapper.name,
			Op:       op,
			Expected: 1,
			Actual:   res.RowsAffected,
		})
	}
	u.applied(cs)
	return nil
}

// postUpdate sets the foreign keys of post-update relationships once both
// rows exist, and nulls those of deleted rows referencing other deleted
// rows.
func (u *unitOfWork) postUpdate(ctx context.Context) error {
	type target struct {
		o    *Object
		vals map[string]any
	}
	var targets []*target
	byObj := make(map[*Object]*target)
	get := func(o *Object) *target {
		if t, ok := byObj[o]; ok {
			return t
		}
		t := &target{o: o, vals: make(map[string]any)}
		byObj[o] = t
		targets = append(targets, t)
		return t
	}
	for _, op := range u.posts {
		if u.delSet[op.child] {
			continue
		}
		t := get(op.child)
		for i, c := range op.dep.fk.Columns() {
			var v any
			if op.parent != nil {
				v = op.parent.values[op.dep.refs[i].Key()]
			}
			t.vals[c.Key()] = v
		}
	}
	for _, o := range u.deletes {
		for _, d := range o.mapper.deps {
			if !d.postUpdate || o.fkNull(&Relationship{fk: d.fk}) || !u.referencesDeleted(o, d) {
				continue
			}
			t := get(o)
			for _, c := range d.fk.Columns() {
				t.vals[c.Key()] = nil
			}
		}
	}
	for _, t := range targets {
		o := t.o
		u.journal.track(o)
		var keys []string
		for _, k := range sortedKeys(t.vals) {
			if cur, ok := o.values[k]; !ok || !equalValues(cur, t.vals[k]) {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 || o.key == nil {
			continue
		}
		upd := sql.Update(o.mapper.table)
		for _, k := range keys {
			upd = upd.Set(k, t.vals[k])
		}
		upd = upd.Where(pkWhere(o.mapper, o.key.values)...)
		if err := u.execCount(ctx, upd, "post-update", o); err != nil {
			return err
		}
		u.result.PostUpdates++
		for _, k := range keys {
			o.values[k] = t.vals[k]
			delete(o.expired, k)
		}
	}
	return nil
}

// referencesDeleted reports if the foreign key of o along d references an
// object deleted by this flush.
func (u *unitOfWork) referencesDeleted(o *Object, d *dependency) bool {
	for _, p := range u.deletes {
		if p.mapper != d.parent || p == o {
			continue
		}
		match := true
		for i, c := range d.fk.Columns() {
			if !equalValues(o.values[c.Key()], p.values[d.refs[i].Key()]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// deleteMapper deletes the rows of the deleted objects of a mapper.
// Objects of a self-referential mapper are deleted children first.
func (u *unitOfWork) deleteMapper(ctx context.Context, m *Mapper) error {
	var objs []*Object
	for _, o := range u.deletes {
		if o.mapper == m {
			objs = append(objs, o)
		}
	}
	if len(objs) == 0 {
		return nil
	}
	var self []*dependency
	for _, d := range m.deps {
		if d.self() && d.active() {
			self = append(self, d)
		}
	}
	objs, err := u.orderSelf(m, objs, func(child *Object) []*Object {
		var parents []*Object
		for _, d := range self {
			for _, p := range objs {
				if p != child && u.references(child, p, d) {
					parents = append(parents, p)
				}
			}
		}
		return parents
	})
	if err != nil {
		return u.fail("delete", nil, err)
	}
	if len(self) > 0 {
		slices.Reverse(objs)
	}
	for _, o := range objs {
		u.journal.track(o)
		del := sql.Delete(m.table).Where(pkWhere(m, o.key.values)...)
		if m.version != nil {
			if v, ok := o.values[m.verKey]; ok {
				del = del.Where(m.version.EQ(v))
			}
		}
		if err := u.execCount(ctx, del, "delete", o); err != nil {
			return err
		}
		u.result.Deletes++
	}
	return nil
}

// references reports if the foreign key of child along d holds the
// referenced values of parent.
func (u *unitOfWork) references(child, parent *Object, d *dependency) bool {
	for i, c := range d.fk.Columns() {
		v := child.values[c.Key()]
		if v == nil || !equalValues(v, parent.values[d.refs[i].Key()]) {
			return false
		}
	}
	return true
}

// associate writes the rows of the secondary table of a many-to-many
// relationship: removed pairs are deleted before appended pairs are
// inserted. Rows of deleted objects are deleted by foreign key. A pair
// changed on both sides of mirrored relationships is written once.
func (u *unitOfWork) associate(ctx context.Context, rel *Relationship) error {
	var links, unlinks [][]any
	pair := func(owner, item *Object, into *[][]any) {
		if u.delSet[owner] || u.delSet[item] {
			return
		}
		r := u.secondaryRow(rel, owner, item)
		if r == nil {
			return
		}
		id := rowID(rel.secondary, r)
		if u.written[id] {
			return
		}
		u.written[id] = true
		*into = append(*into, []any{owner, item, r})
	}
	for _, o := range u.s.objects() {
		if o.mapper != rel.owner || o.state == Transient {
			continue
		}
		c := o.colls[rel.name]
		for _, item := range c.removed {
			pair(o, item, &unlinks)
		}
		for _, item := range c.added {
			pair(o, item, &links)
		}
	}
	for _, p := range unlinks {
		r := p[2].(map[*sql.Column]any)
		del := sql.Delete(rel.secondary)
		for _, c := range rel.secondary.Columns() {
			if v, ok := r[c]; ok {
				del = del.Where(c.EQ(v))
			}
		}
		if _, _, err := u.exec(ctx, del); err != nil {
			return u.fail("dissociate", p[0].(*Object), err)
		}
		u.result.Unlinks++
	}
	for _, p := range links {
		r := p[2].(map[*sql.Column]any)
		var (
			keys []string
			vals []any
		)
		for _, c := range rel.secondary.Columns() {
			if v, ok := r[c]; ok {
				keys, vals = append(keys, c.Key()), append(vals, v)
			}
		}
		if _, _, err := u.exec(ctx, sql.Insert(rel.secondary).Columns(keys...).Values(vals...)); err != nil {
			return u.fail("associate", p[0].(*Object), err)
		}
		u.result.Links++
	}
	for _, o := range u.deletes {
		var fk *sql.ForeignKey
		var refs []*sql.Column
		switch o.mapper {
		case rel.owner:
			fk, refs = rel.fk, rel.refs
		case rel.target:
			fk, refs = rel.targetFK, rel.tRefs
		default:
			continue
		}
		id := fmt.Sprintf("%s\x00%p\x00%p", rel.secondary.Name(), fk, o)
		if u.written[id] {
			continue
		}
		u.written[id] = true
		del := sql.Delete(rel.secondary)
		for i, c := range fk.Columns() {
			del = del.Where(c.EQ(o.values[refs[i].Key()]))
		}
		if _, _, err := u.exec(ctx, del); err != nil {
			return u.fail("dissociate", o, err)
		}
		u.result.Unlinks++
	}
	return nil
}

// secondaryRow returns the secondary table values linking owner and item.
func (u *unitOfWork) secondaryRow(rel *Relationship, owner, item *Object) map[*sql.Column]any {
	r := make(map[*sql.Column]any)
	for i, c := range rel.fk.Columns() {
		v := owner.values[rel.refs[i].Key()]
		if v == nil {
			return nil
		}
		r[c] = v
	}
	for i, c := range rel.targetFK.Columns() {
		v := item.values[rel.tRefs[i].Key()]
		if v == nil {
			return nil
		}
		r[c] = v
	}
	return r
}

func rowID(t *sql.Table, r map[*sql.Column]any) string {
	var b strings.Builder
	b.WriteString(t.Name())
	for _, c := range t.Columns() {
		if v, ok := r[c]; ok {
			fmt.Fprintf(&b, "\x00%s=%T:%v", c.Name(), v, v)
		}
	}
	return b.String()
}

// exec executes a flush statement and records it as applied.
func (u *unitOfWork) exec(ctx context.Context, stmt sql.Node) (*sql.Compiled, *sql.ExecResult, error) {
	cs, res, err := u.s.exec(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	u.applied(cs)
	return cs, res, nil
}

// applied records a statement that succeeded.
func (u *unitOfWork) applied(cs *sql.Compiled) {
	u.result.Statements = append(u.result.Statements, cs.SQL)
}

// fail wraps err in a strata.FlushError. Errors that are already flush
// errors are returned as is.
func (u *unitOfWork) fail(op string, o *Object, err error) error {
	if strata.IsFlushError(err) {
		return err
	}
	fe := &strata.FlushError{Op: op, Applied: slices.Clone(u.result.Statements), Err: err}
	if o != nil {
		fe.Entity = o.mapper.name
		if o.key != nil {
			fe.Key = o.key.String()
		}
	}
	return fe
}

// finish establishes the flushed state as the new baseline.
func (u *unitOfWork) finish() {
	s := u.s
	for _, o := range s.objects() {
		o.commit()
	}
	for _, o := range u.deletes {
		o.commit()
		s.identity.Forget(o)
		o.state = Deleted
	}
	s.txInserted = append(s.txInserted, u.inserted...)
	s.txDeleted = append(s.txDeleted, u.deletes...)
	s.new, s.deleted = nil, nil
}

// restore returns the session and its objects to their state before the
// flush.
func (u *unitOfWork) restore() { u.journal.restore() }

// journal records the state of the session and of its objects before a
// flush mutates them.
type journal struct {
	s        *Session
	identity map[string]*Object
	new      []*Object
	deleted  []*Object
	objects  map[*Object]*snapshot
}

type snapshot struct {
	state     State
	session   *Session
	key       *IdentityKey
	values    map[string]any
	committed map[string]any
	expired   map[string]bool
	refs      map[string]reference
	colls     map[string]Collection
	generated []string
}

func newJournal(s *Session) *journal {
	return &journal{
		s:        s,
		identity: maps.Clone(s.identity.m),
		new:      slices.Clone(s.new),
		deleted:  slices.Clone(s.deleted),
		objects:  make(map[*Object]*snapshot),
	}
}

// track records the state of o unless it is already recorded.
func (j *journal) track(o *Object) {
	if _, ok := j.objects[o]; ok {
		return
	}
	snap := &snapshot{
		state:     o.state,
		session:   o.session,
		key:       o.key,
		values:    maps.Clone(o.values),
		committed: maps.Clone(o.committed),
		expired:   maps.Clone(o.expired),
		refs:      make(map[string]reference, len(o.refs)),
		colls:     make(map[string]Collection, len(o.colls)),
		generated: slices.Clone(o.generated),
	}
	for name, r := range o.refs {
		snap.refs[name] = *r
	}
	for name, c := range o.colls {
		snap.colls[name] = Collection{
			items:   slices.Clone(c.items),
			added:   slices.Clone(c.added),
			removed: slices.Clone(c.removed),
			loaded:  c.loaded,
		}
	}
	j.objects[o] = snap
	for _, r := range o.refs {
		if r.target != nil {
			j.track(r.target)
		}
	}
	for _, c := range o.colls {
		for _, item := range slices.Concat(c.items, c.removed) {
			j.track(item)
		}
	}
}

func (j *journal) restore() {
	s := j.s
	s.identity.m = j.identity
	s.new, s.deleted = j.new, j.deleted
	for o, snap := range j.objects {
		o.state, o.session, o.key = snap.state, snap.session, snap.key
		o.values, o.committed, o.expired = snap.values, snap.committed, snap.expired
		o.generated = snap.generated
		for name, r := range snap.refs {
			*o.refs[name] = r
		}
		for name, c := range snap.colls {
			oc := o.colls[name]
			oc.items, oc.added, oc.removed, oc.loaded = c.items, c.added, c.removed, c.loaded
		}
	}
}

func describeColumns(cols []*sql.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name()
	}
	return strings.Join(names, ", ")
}
