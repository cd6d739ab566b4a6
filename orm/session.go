package orm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/sqlgraph"
)

// FlushHook is called before a flush computes its plan. Objects added by
// the hook are part of the flush.
type FlushHook func(ctx context.Context, s *Session) error

// AfterFlushHook is called after a successful flush.
type AfterFlushHook func(ctx context.Context, s *Session, r FlushResult)

// FlushResult counts the statements of a flush.
type FlushResult struct {
	Inserts     int
	Updates     int
	Deletes     int
	PostUpdates int
	Links       int
	Unlinks     int
	Statements  []string
}

// Session tracks the objects of one unit of work. Objects are added,
// changed and deleted in memory; Flush writes the changes in dependency
// order within the session transaction, which starts with the first
// statement.
//
// A Session is not safe for concurrent use.
type Session struct {
	id     uuid.UUID
	engine *Engine
	logger *slog.Logger

	identity *IdentityMap
	new      []*Object
	deleted  []*Object
	seq      int

	tx         sql.Transaction
	txInserted []*Object
	txDeleted  []*Object

	before   []FlushHook
	after    []AfterFlushHook
	flushing bool
	closed   bool

	autoflush      bool
	expireOnCommit bool
}

func newSession(e *Engine) *Session {
	id := uuid.New()
	return &Session{
		id:             id,
		engine:         e,
		logger:         e.logger.With("session_id", id.String()),
		identity:       NewIdentityMap(),
		autoflush:      e.autoflush,
		expireOnCommit: e.expireOnCommit,
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// IdentityMap returns the identity map of the session.
func (s *Session) IdentityMap() *IdentityMap { return s.identity }

// SetAutoflush sets if queries flush the session first.
func (s *Session) SetAutoflush(b bool) { s.autoflush = b }

// BeforeFlush registers a hook called at the start of every flush.
func (s *Session) BeforeFlush(h FlushHook) { s.before = append(s.before, h) }

// AfterFlush registers a hook called after every successful flush.
func (s *Session) AfterFlush(h AfterFlushHook) { s.after = append(s.after, h) }

// InTransaction reports if the session transaction was started.
func (s *Session) InTransaction() bool { return s.tx != nil }

func (s *Session) nextSeq() int {
	s.seq++
	return s.seq
}

// Add adds objects to the session. Transient objects become pending,
// detached objects persistent. Objects reachable through relationships
// with a save-update cascade are added too.
func (s *Session) Add(objs ...*Object) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	for _, o := range objs {
		if err := s.add(o); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) add(o *Object) error {
	if o.session == s {
		return nil
	}
	if o.session != nil {
		return strata.NewInvalidStateError(o.mapper.name, o.state.String()+" in another session", "add")
	}
	switch o.state {
	case Transient:
		o.state, o.session, o.seq = Pending, s, s.nextSeq()
		s.new = append(s.new, o)
	case Detached, Deleted:
		if err := s.identity.Register(o, *o.key); err != nil {
			return err
		}
		o.state, o.session, o.seq = Persistent, s, s.nextSeq()
	default:
		return strata.NewInvalidStateError(o.mapper.name, o.state.String(), "add")
	}
	return s.cascadeAdd(o)
}

// cascadeAdd adds the objects related to o through save-update cascades.
func (s *Session) cascadeAdd(o *Object) error {
	for _, rel := range o.mapper.rels {
		if !rel.cascade.Has(CascadeSaveUpdate) {
			continue
		}
		var related []*Object
		if c := o.colls[rel.name]; c != nil {
			related = append(c.Items(), c.removed...)
			if rel.cascade.Has(CascadeDeleteOrphan) {
				related = c.Items()
			}
		} else if ref := o.refs[rel.name]; ref.target != nil {
			related = []*Object{ref.target}
		}
		for _, t := range related {
			if t.session == s {
				continue
			}
			if err := s.add(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete marks persistent objects for deletion by the next flush. Related
// objects are deleted along relationships with a delete cascade.
func (s *Session) Delete(objs ...*Object) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	for _, o := range objs {
		if o.state == Detached && o.session == nil {
			if err := s.add(o); err != nil {
				return err
			}
		}
		if o.session != s || o.state != Persistent {
			return strata.NewInvalidStateError(o.mapper.name, o.state.String(), "delete")
		}
		if !slices.Contains(s.deleted, o) {
			s.deleted = append(s.deleted, o)
		}
	}
	return nil
}

// Expunge removes objects from the session: pending objects become
// transient and persistent ones detached.
func (s *Session) Expunge(objs ...*Object) {
	for _, o := range objs {
		if o.session != s {
			continue
		}
		s.detach(o)
	}
}

func (s *Session) detach(o *Object) {
	s.new = slices.DeleteFunc(s.new, func(x *Object) bool { return x == o })
	s.deleted = slices.DeleteFunc(s.deleted, func(x *Object) bool { return x == o })
	s.identity.Forget(o)
	o.session = nil
	switch o.state {
	case Pending:
		o.state = Transient
	case Persistent, Deleted:
		o.state = Detached
	}
}

// ExpungeAll removes every object from the session.
func (s *Session) ExpungeAll() {
	for _, o := range s.objects() {
		s.detach(o)
	}
}

// Expire discards the given attributes of a persistent object, or all its
// attributes, so they are reloaded on next access. Pending changes of the
// attributes are lost.
func (s *Session) Expire(o *Object, keys ...string) error {
	if o.session != s || o.state != Persistent {
		return strata.NewInvalidStateError(o.mapper.name, o.state.String(), "expire")
	}
	for _, k := range keys {
		if _, err := o.column(k); err != nil {
			return err
		}
	}
	o.expire(keys...)
	return nil
}

// ExpireAll expires every persistent object.
func (s *Session) ExpireAll() {
	for _, o := range s.identity.Objects() {
		if o.state == Persistent {
			o.expire()
		}
	}
}

// Refresh reloads the attributes of a persistent object from the database,
// discarding their pending changes.
func (s *Session) Refresh(ctx context.Context, o *Object) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	if o.session != s || o.state != Persistent {
		return strata.NewInvalidStateError(o.mapper.name, o.state.String(), "refresh")
	}
	o.expire()
	return s.load(ctx, o)
}

// load populates the missing attributes of a persistent object.
func (s *Session) load(ctx context.Context, o *Object) error {
	if err := s.autoflushIfNeeded(ctx); err != nil {
		return err
	}
	m := o.mapper
	objs, err := s.query(ctx, m, m.selectFrom().Where(pkWhere(m, o.key.values)...))
	if err != nil {
		return strata.NewQueryError(m.name, "refresh", err)
	}
	if len(objs) == 0 {
		return strata.NewNotFoundErrorWithID(m.name, o.key.String())
	}
	return nil
}

// Get returns the object of the mapper with the given primary key, from
// the identity map if present.
func (s *Session) Get(ctx context.Context, m *Mapper, pk ...any) (*Object, error) {
	if s.closed {
		return nil, strata.ErrSessionClosed
	}
	key, err := NewIdentityKey(m, pk...)
	if err != nil {
		return nil, err
	}
	if o, ok := s.identity.Get(key); ok && !slices.Contains(s.deleted, o) {
		if len(o.expired) == 0 {
			return o, nil
		}
	}
	if err := s.autoflushIfNeeded(ctx); err != nil {
		return nil, err
	}
	objs, err := s.query(ctx, m, m.selectFrom().Where(pkWhere(m, key.values)...))
	if err != nil {
		return nil, strata.NewQueryError(m.name, "get", err)
	}
	if len(objs) == 0 {
		return nil, strata.NewNotFoundErrorWithID(m.name, key.String())
	}
	return objs[0], nil
}

// Query returns a query of the objects of the mapper.
func (s *Session) Query(m *Mapper) *Query {
	return &Query{s: s, m: m}
}

// New returns the pending objects in registration order.
func (s *Session) New() []*Object { return slices.Clone(s.new) }

// Deleted returns the objects marked for deletion.
func (s *Session) Deleted() []*Object { return slices.Clone(s.deleted) }

// Dirty returns the persistent objects with changes.
func (s *Session) Dirty() []*Object {
	var dirty []*Object
	for _, o := range s.identity.Objects() {
		if o.state == Persistent && o.Modified() {
			dirty = append(dirty, o)
		}
	}
	return dirty
}

// objects returns every object of the session in registration order.
func (s *Session) objects() []*Object {
	objs := s.identity.Objects()
	for _, o := range s.new {
		if !s.identity.Contains(o) {
			objs = append(objs, o)
		}
	}
	slices.SortFunc(objs, func(a, b *Object) int { return a.seq - b.seq })
	return objs
}

func (s *Session) hasChanges() bool {
	return len(s.new) > 0 || len(s.deleted) > 0 || len(s.Dirty()) > 0
}

func (s *Session) autoflushIfNeeded(ctx context.Context) error {
	if !s.autoflush || s.flushing {
		return nil
	}
	return s.Flush(ctx)
}

// Begin starts the session transaction. Statements start it implicitly.
func (s *Session) Begin(ctx context.Context) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	if s.tx != nil {
		return strata.ErrTxStarted
	}
	_, err := s.conn(ctx)
	return err
}

func (s *Session) conn(ctx context.Context) (sql.Executor, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.engine.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("orm: begin: %w", err)
	}
	s.logger.DebugContext(ctx, "begin")
	s.tx = tx
	return tx, nil
}

// Commit flushes the session and commits its transaction. Deleted objects
// become detached; with expire on commit, persistent objects are expired.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			return fmt.Errorf("orm: commit: %w", err)
		}
		s.tx = nil
		s.logger.DebugContext(ctx, "commit")
	}
	for _, o := range s.txDeleted {
		o.session, o.state = nil, Detached
	}
	s.txInserted, s.txDeleted = nil, nil
	if s.expireOnCommit {
		s.ExpireAll()
	}
	return nil
}

// Rollback rolls back the session transaction. Objects inserted in the
// transaction and pending objects become transient, objects deleted in it
// persistent again, and every persistent object is expired.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return strata.ErrSessionClosed
	}
	var err error
	if s.tx != nil {
		if rerr := s.tx.Rollback(); rerr != nil {
			err = &strata.RollbackError{Err: rerr}
		}
		s.tx = nil
		s.logger.DebugContext(ctx, "rollback")
	}
	for _, o := range s.txInserted {
		s.identity.Forget(o)
		for _, k := range o.generated {
			delete(o.values, k)
		}
		o.generated = nil
		o.key, o.session, o.state = nil, nil, Transient
		clear(o.committed)
		for k := range o.values {
			o.committed[k] = noValue{}
		}
	}
	for _, o := range s.new {
		o.session, o.state = nil, Transient
	}
	for _, o := range s.txDeleted {
		o.state, o.session = Persistent, s
		if rerr := s.identity.Register(o, *o.key); rerr != nil && err == nil {
			err = rerr
		}
	}
	s.new, s.deleted, s.txInserted, s.txDeleted = nil, nil, nil, nil
	for _, o := range s.identity.Objects() {
		o.expire()
	}
	return err
}

// Close rolls back the open transaction and detaches every object.
// Closing a closed session is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		if rerr := s.tx.Rollback(); rerr != nil {
			err = &strata.RollbackError{Err: rerr}
		}
		s.tx = nil
	}
	s.ExpungeAll()
	// Rows written by the rolled back transaction are gone.
	for _, o := range s.txInserted {
		o.key, o.state = nil, Transient
	}
	for _, o := range s.txDeleted {
		o.session, o.state = nil, Detached
	}
	s.txInserted, s.txDeleted = nil, nil
	s.closed = true
	return err
}

// Execute runs a statement in the session transaction. Queries flush the
// session first when autoflush is enabled.
func (s *Session) Execute(ctx context.Context, stmt sql.Node) (*sql.ExecResult, error) {
	if s.closed {
		return nil, strata.ErrSessionClosed
	}
	if stmt.Kind() == sql.KindSelect {
		if err := s.autoflushIfNeeded(ctx); err != nil {
			return nil, err
		}
	}
	_, res, err := s.exec(ctx, stmt)
	return res, err
}

// exec compiles and runs a statement. Driver errors are classified.
func (s *Session) exec(ctx context.Context, stmt sql.Node) (*sql.Compiled, *sql.ExecResult, error) {
	cs, args, err := s.engine.stmts.Compile(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return cs, nil, err
	}
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		attrs := []any{"sql", cs.SQL}
		if !s.engine.hideParameters {
			attrs = append(attrs, "args", args)
		}
		s.logger.DebugContext(ctx, "execute", attrs...)
	}
	res, err := conn.Execute(ctx, cs, args)
	if err != nil {
		return cs, nil, sqlgraph.Classify(err)
	}
	return cs, res, nil
}

// query runs a SELECT of the mapper columns and returns the objects of the
// rows, taken from the identity map when present.
func (s *Session) query(ctx context.Context, m *Mapper, sel *sql.Selector) ([]*Object, error) {
	_, res, err := s.exec(ctx, sel)
	if err != nil {
		return nil, err
	}
	objs := make([]*Object, 0, len(res.Rows))
	for _, row := range res.Rows {
		o, err := s.instance(m, row)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, nil
}

// instance returns the object of a row holding the mapper columns in table
// order. An object already in the identity map keeps its loaded attributes.
func (s *Session) instance(m *Mapper, row []any) (*Object, error) {
	cols := m.table.Columns()
	if len(row) != len(cols) {
		return nil, fmt.Errorf("orm: %s row has %d values for %d columns", m.name, len(row), len(cols))
	}
	values := make(map[string]any, len(cols))
	for i, c := range cols {
		v, err := c.Type().Normalize(row[i])
		if err != nil {
			return nil, fmt.Errorf("orm: %s.%s: %w", m.name, c.Key(), err)
		}
		values[c.Key()] = v
	}
	pk := make([]any, 0, len(m.table.PrimaryKey()))
	for _, c := range m.table.PrimaryKey() {
		pk = append(pk, values[c.Key()])
	}
	key, err := NewIdentityKey(m, pk...)
	if err != nil {
		return nil, err
	}
	if o, ok := s.identity.Get(key); ok {
		o.populate(values, false)
		return o, nil
	}
	o := loadedObject(m, values)
	o.session, o.seq = s, s.nextSeq()
	if err := s.identity.Register(o, key); err != nil {
		return nil, err
	}
	return o, nil
}

// loadCollection loads the rows of a collection of a persistent object.
func (s *Session) loadCollection(ctx context.Context, o *Object, rel *Relationship) error {
	if o.key == nil {
		o.colls[rel.name].loaded = true
		return nil
	}
	if err := s.autoflushIfNeeded(ctx); err != nil {
		return err
	}
	t := rel.target
	sel := t.selectFrom()
	switch rel.direction {
	case OneToMany:
		for i, c := range rel.fk.Columns() {
			sel = sel.Where(t.table.C(c.Key()).EQ(o.values[rel.refs[i].Key()]))
		}
	case ManyToMany:
		var on []sql.Expr
		for i, c := range rel.targetFK.Columns() {
			on = append(on, c.EQ(t.table.C(rel.tRefs[i].Key())))
		}
		sel = sel.Join(rel.secondary, on...)
		for i, c := range rel.fk.Columns() {
			sel = sel.Where(c.EQ(o.values[rel.refs[i].Key()]))
		}
	}
	objs, err := s.query(ctx, t, sel)
	if err != nil {
		return strata.NewQueryError(t.name, "load "+rel.String(), err)
	}
	o.colls[rel.name].merge(objs)
	if back := rel.back; back != nil && back.direction == ManyToOne {
		for _, child := range objs {
			if ref := child.refs[back.name]; !ref.loaded {
				ref.target, ref.loaded = o, true
			}
		}
	}
	return nil
}

// loadRef loads the target of a many-to-one relationship.
func (s *Session) loadRef(ctx context.Context, o *Object, rel *Relationship) error {
	ref := o.refs[rel.name]
	if o.fkNull(rel) {
		ref.target, ref.loaded = nil, true
		return nil
	}
	vals := make([]any, len(rel.refs))
	for i, c := range rel.fk.Columns() {
		vals[i] = o.values[c.Key()]
	}
	var target *Object
	if pkRefs(rel) {
		t, err := s.Get(ctx, rel.target, vals...)
		if err != nil {
			return err
		}
		target = t
	} else {
		sel := rel.target.selectFrom()
		for i, c := range rel.refs {
			sel = sel.Where(c.EQ(vals[i]))
		}
		if err := s.autoflushIfNeeded(ctx); err != nil {
			return err
		}
		objs, err := s.query(ctx, rel.target, sel)
		if err != nil {
			return strata.NewQueryError(rel.target.name, "load "+rel.String(), err)
		}
		if len(objs) != 1 {
			return strata.NewNotSingularErrorWithCount(rel.target.name, len(objs))
		}
		target = objs[0]
	}
	ref.target, ref.loaded = target, true
	return nil
}

// pkRefs reports if a relationship references the primary key of the
// target in primary key order.
func pkRefs(rel *Relationship) bool {
	pk := rel.target.table.PrimaryKey()
	if len(pk) != len(rel.refs) {
		return false
	}
	for i, c := range pk {
		if rel.refs[i] != c {
			return false
		}
	}
	return true
}

// selectFrom returns a SELECT of the mapper columns.
func (m *Mapper) selectFrom() *sql.Selector {
	cols := m.table.Columns()
	exprs := make([]sql.Expr, len(cols))
	for i, c := range cols {
		exprs[i] = c
	}
	return sql.Select(exprs...).From(m.table)
}

// pkWhere returns the predicates matching the primary key values.
func pkWhere(m *Mapper, values []any) []sql.Expr {
	pk := m.table.PrimaryKey()
	preds := make([]sql.Expr, len(pk))
	for i, c := range pk {
		preds[i] = c.EQ(values[i])
	}
	return preds
}
