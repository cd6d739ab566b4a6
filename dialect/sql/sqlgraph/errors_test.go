package sqlgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
)

type numberErr uint16

func (e numberErr) Error() string  { return fmt.Sprintf("driver error %d", uint16(e)) }
func (e numberErr) Number() uint16 { return uint16(e) }

func TestConstraintClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		unique     bool
		foreignKey bool
		notNull    bool
		check      bool
	}{
		{name: "pgconn unique", err: &pgconn.PgError{Code: "23505"}, unique: true},
		{name: "pgconn foreign key", err: &pgconn.PgError{Code: "23503"}, foreignKey: true},
		{name: "pgconn not null", err: &pgconn.PgError{Code: "23502"}, notNull: true},
		{name: "pgconn check", err: &pgconn.PgError{Code: "23514"}, check: true},
		{name: "pq unique", err: &pq.Error{Code: "23505"}, unique: true},
		{name: "pq foreign key", err: &pq.Error{Code: "23503"}, foreignKey: true},
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, unique: true},
		{name: "mysql parent row", err: &mysql.MySQLError{Number: 1451}, foreignKey: true},
		{name: "mysql child row", err: &mysql.MySQLError{Number: 1452}, foreignKey: true},
		{name: "mysql bad null", err: &mysql.MySQLError{Number: 1048}, notNull: true},
		{name: "numberer", err: numberErr(1062), unique: true},
		{name: "sqlite text", err: errors.New("constraint failed: UNIQUE constraint failed: users.name (2067)"), unique: true},
		{name: "sqlite fk text", err: errors.New("FOREIGN KEY constraint failed"), foreignKey: true},
		{name: "sqlite not null text", err: errors.New("NOT NULL constraint failed: addresses.user_id"), notNull: true},
		{name: "wrapped", err: fmt.Errorf("insert users: %w", &pgconn.PgError{Code: "23505"}), unique: true},
		{name: "other", err: errors.New("connection refused")},
		{name: "pg other", err: &pgconn.PgError{Code: "42P01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.foreignKey, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.notNull, IsNotNullConstraintError(tt.err))
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err))
			violated := tt.unique || tt.foreignKey || tt.notNull || tt.check
			assert.Equal(t, violated, IsConstraintError(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	cause := &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
	err := Classify(cause)
	require.True(t, strata.IsConstraintError(err))
	assert.Contains(t, err.Error(), "foreign key constraint violated")
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Same(t, cause, pgErr)

	// Already classified errors are not wrapped twice.
	assert.Equal(t, err, Classify(err))

	other := errors.New("timeout")
	assert.Same(t, other, Classify(other))
}
