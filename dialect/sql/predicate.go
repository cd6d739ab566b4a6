package sql

import "strings"

// Field is a column with type-checked predicate methods. It is how mapped
// attributes expose their column to query code:
//
//	var Age = sql.Field[int]{Column: users.C("age")}
//	sql.Select(users.C("id")).Where(Age.GT(18), Age.In(20, 30))
type Field[T any] struct {
	*Column
}

// EQ returns a predicate that checks if the field equals the given value.
func (f Field[T]) EQ(v T) Expr { return f.Column.EQ(v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f Field[T]) NEQ(v T) Expr { return f.Column.NEQ(v) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f Field[T]) GT(v T) Expr { return f.Column.GT(v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f Field[T]) GTE(v T) Expr { return f.Column.GTE(v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f Field[T]) LT(v T) Expr { return f.Column.LT(v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f Field[T]) LTE(v T) Expr { return f.Column.LTE(v) }

// In returns a predicate that checks if the field value is in the given list.
func (f Field[T]) In(vs ...T) Expr { return f.Column.In(anySlice(vs)...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f Field[T]) NotIn(vs ...T) Expr { return f.Column.NotIn(anySlice(vs)...) }

// IsNil is an alias for IsNull.
func (f Field[T]) IsNil() Expr { return f.Column.IsNull() }

// NotNil is an alias for NotNull.
func (f Field[T]) NotNil() Expr { return f.Column.NotNull() }

func anySlice[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i := range vs {
		out[i] = vs[i]
	}
	return out
}

// StringField is a text column with pattern predicates.
type StringField struct {
	Field[string]
}

// StringFieldOf returns the column as a StringField.
func StringFieldOf(c *Column) StringField {
	return StringField{Field[string]{Column: c}}
}

// Contains returns a predicate that checks if the field contains the substring.
func (f StringField) Contains(v string) Expr { return f.Like("%" + escapeLike(v) + "%") }

// HasPrefix returns a predicate that checks if the field starts with the prefix.
func (f StringField) HasPrefix(v string) Expr { return f.Like(escapeLike(v) + "%") }

// HasSuffix returns a predicate that checks if the field ends with the suffix.
func (f StringField) HasSuffix(v string) Expr { return f.Like("%" + escapeLike(v)) }

// EqualFold returns a predicate that checks if the field equals the value
// under case folding.
func (f StringField) EqualFold(v string) Expr {
	return Lower(f.Column).EQ(strings.ToLower(v))
}

// ContainsFold returns a predicate that checks if the field contains the
// substring under case folding.
func (f StringField) ContainsFold(v string) Expr {
	return Lower(f.Column).Like("%" + escapeLike(strings.ToLower(v)) + "%")
}

// escapeLike escapes the LIKE wildcards of a literal pattern.
func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
