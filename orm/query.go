package orm

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema/field"
)

// Query is a query of the objects of a mapper. Builder methods return a
// new query; a query can be reused as a template.
//
//	users, err := s.Query(User).
//		Where(User.C("name").Like("j%")).
//		OrderBy(User.C("id").Asc()).
//		All(ctx)
type Query struct {
	s      *Session
	m      *Mapper
	where  []sql.Expr
	order  []sql.Expr
	limit  *int
	offset *int
}

func (q *Query) clone() *Query {
	c := *q
	c.where = slices.Clone(q.where)
	c.order = slices.Clone(q.order)
	return &c
}

// Where adds predicates to the query. Predicates are joined with AND.
func (q *Query) Where(preds ...sql.Expr) *Query {
	c := q.clone()
	c.where = append(c.where, preds...)
	return c
}

// OrderBy adds ordering terms to the query.
func (q *Query) OrderBy(exprs ...sql.Expr) *Query {
	c := q.clone()
	c.order = append(c.order, exprs...)
	return c
}

// Limit limits the number of returned objects.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = &n
	return c
}

// Offset skips the first n objects.
func (q *Query) Offset(n int) *Query {
	c := q.clone()
	c.offset = &n
	return c
}

// Selector returns the SELECT statement of the query.
func (q *Query) Selector() *sql.Selector {
	sel := q.m.selectFrom()
	if len(q.where) > 0 {
		sel = sel.Where(q.where...)
	}
	if len(q.order) > 0 {
		sel = sel.OrderBy(q.order...)
	}
	if q.limit != nil {
		sel = sel.Limit(*q.limit)
	}
	if q.offset != nil {
		sel = sel.Offset(*q.offset)
	}
	return sel
}

// All returns the objects matching the query. Rows of objects already in
// the session return those objects, with their pending changes kept.
func (q *Query) All(ctx context.Context) ([]*Object, error) {
	if q.s.closed {
		return nil, strata.ErrSessionClosed
	}
	if err := q.s.autoflushIfNeeded(ctx); err != nil {
		return nil, err
	}
	objs, err := q.s.query(ctx, q.m, q.Selector())
	if err != nil {
		return nil, strata.NewQueryError(q.m.name, "query", err)
	}
	return objs, nil
}

// First returns the first object of the query, or a strata.NotFoundError.
func (q *Query) First(ctx context.Context) (*Object, error) {
	objs, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, strata.NewNotFoundError(q.m.name)
	}
	return objs[0], nil
}

// Only returns the single object of the query. No object fails with a
// strata.NotFoundError, more than one with a strata.NotSingularError.
func (q *Query) Only(ctx context.Context) (*Object, error) {
	objs, err := q.Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 1:
		return objs[0], nil
	case 0:
		return nil, strata.NewNotFoundError(q.m.name)
	default:
		return nil, strata.NewNotSingularError(q.m.name)
	}
}

// Count returns the number of rows matching the query.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.s.closed {
		return 0, strata.ErrSessionClosed
	}
	if err := q.s.autoflushIfNeeded(ctx); err != nil {
		return 0, err
	}
	sel := sql.Select(sql.Count()).From(q.m.table)
	if len(q.where) > 0 {
		sel = sel.Where(q.where...)
	}
	_, res, err := q.s.exec(ctx, sel)
	if err != nil {
		return 0, strata.NewQueryError(q.m.name, "count", err)
	}
	if len(res.Rows) != 1 || len(res.Rows[0]) != 1 {
		return 0, fmt.Errorf("orm: %s: count returned %d rows", q.m.name, len(res.Rows))
	}
	n, err := field.TypeInt64.Normalize(res.Rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("orm: %s: count: %w", q.m.name, err)
	}
	return int(n.(int64)), nil
}
