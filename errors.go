package strata

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("strata: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("strata: entity not singular")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("strata: cannot start a transaction within a transaction")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("strata: session is closed")
)

// Sentinel errors of the statement compiler. Every CompileError matches
// ErrCompile and the sentinel of its kind.
var (
	ErrCompile          = errors.New("strata: compile error")
	ErrAmbiguousJoin    = errors.New("strata: ambiguous join")
	ErrNoForeignKey     = errors.New("strata: no foreign key")
	ErrCorrelation      = errors.New("strata: unresolved correlation")
	ErrUnsupported      = errors.New("strata: unsupported by dialect")
	ErrBindCollision    = errors.New("strata: bind parameter collision")
	ErrLabelCollision   = errors.New("strata: label collision")
	ErrNoSuchColumn     = errors.New("strata: no such column")
	ErrInvalidStructure = errors.New("strata: invalid statement structure")
)

// Sentinel errors of the unit of work.
var (
	ErrIdentityConflict = errors.New("strata: identity conflict")
	ErrDependencyCycle  = errors.New("strata: dependency cycle")
	ErrFlush            = errors.New("strata: flush failed")
	ErrStaleData        = errors.New("strata: stale data")
	ErrInvalidState     = errors.New("strata: invalid object state")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("strata: %s not singular (got %d results)", e.label, e.count)
	}
	return fmt.Sprintf("strata: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the entity label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given entity type.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// NotLoadedError represents an error when attempting to read an attribute
// that is expired or was never loaded, outside of a session that could load it.
type NotLoadedError struct {
	attr string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("strata: attribute %q was not loaded", e.attr)
}

// NewNotLoadedError returns a new NotLoadedError for the given attribute name.
func NewNotLoadedError(attr string) *NotLoadedError {
	return &NotLoadedError{attr: attr}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("strata: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "strata: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("strata: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Entity type being queried
	Op     string // Operation (e.g., "get", "all", "refresh")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("strata: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("strata: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// CompileKind classifies compile errors.
type CompileKind int

// Compile error kinds.
const (
	CompileAmbiguousJoin CompileKind = iota + 1
	CompileNoForeignKey
	CompileCorrelation
	CompileUnsupported
	CompileBindCollision
	CompileLabelCollision
	CompileNoSuchColumn
	CompileInvalidStructure
)

var compileSentinels = map[CompileKind]error{
	CompileAmbiguousJoin:    ErrAmbiguousJoin,
	CompileNoForeignKey:     ErrNoForeignKey,
	CompileCorrelation:      ErrCorrelation,
	CompileUnsupported:      ErrUnsupported,
	CompileBindCollision:    ErrBindCollision,
	CompileLabelCollision:   ErrLabelCollision,
	CompileNoSuchColumn:     ErrNoSuchColumn,
	CompileInvalidStructure: ErrInvalidStructure,
}

// String returns the name of the kind.
func (k CompileKind) String() string {
	if err, ok := compileSentinels[k]; ok {
		return strings.TrimPrefix(err.Error(), "strata: ")
	}
	return fmt.Sprintf("compile kind(%d)", int(k))
}

// CompileError is returned when a statement tree cannot be rendered. It is
// always raised before any SQL text is produced.
type CompileError struct {
	Kind CompileKind
	Msg  string
}

// Error returns the error string.
func (e *CompileError) Error() string {
	return fmt.Sprintf("strata: compile: %s: %s", e.Kind, e.Msg)
}

// Is reports whether the target is ErrCompile or the sentinel of the kind.
func (e *CompileError) Is(err error) bool {
	return err == ErrCompile || err == compileSentinels[e.Kind]
}

// NewCompileError returns a new CompileError of the given kind.
func NewCompileError(kind CompileKind, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// IdentityConflictError is returned when two distinct live objects are
// registered under one identity key.
type IdentityConflictError struct {
	Entity string
	Key    string
}

// Error returns the error string.
func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("strata: another instance of %s with key %s is already present in the identity map", e.Entity, e.Key)
}

// Is reports whether the target error matches ErrIdentityConflict.
func (e *IdentityConflictError) Is(err error) bool {
	return err == ErrIdentityConflict
}

// NewIdentityConflictError returns a new IdentityConflictError.
func NewIdentityConflictError(entity, key string) *IdentityConflictError {
	return &IdentityConflictError{Entity: entity, Key: key}
}

// IsIdentityConflict returns true if the error is an IdentityConflictError.
func IsIdentityConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *IdentityConflictError
	return errors.As(err, &e)
}

// CycleError is returned when the dependencies between mappers form a cycle
// that cannot be broken by a post-insert UPDATE.
type CycleError struct {
	Path []string
}

// Error returns the error string.
func (e *CycleError) Error() string {
	return fmt.Sprintf("strata: dependency cycle cannot be broken: %s", strings.Join(e.Path, " -> "))
}

// Is reports whether the target error matches ErrDependencyCycle.
func (e *CycleError) Is(err error) bool {
	return err == ErrDependencyCycle
}

// NewCycleError returns a new CycleError for the given path.
func NewCycleError(path ...string) *CycleError {
	return &CycleError{Path: path}
}

// IsCycleError returns true if the error is a CycleError.
func IsCycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *CycleError
	return errors.As(err, &e)
}

// FlushError is returned when a statement of a flush plan fails. Applied
// lists the statements that were executed before the failure; the caller
// decides whether to roll back the surrounding transaction.
type FlushError struct {
	Op      string // insert, update, delete, post-update, associate, dissociate
	Entity  string
	Key     any
	Applied []string
	Err     error
}

// Error returns the error string.
func (e *FlushError) Error() string {
	msg := fmt.Sprintf("strata: flush: %s %s", e.Op, e.Entity)
	if e.Key != nil {
		msg += fmt.Sprintf(" (key=%v)", e.Key)
	}
	return fmt.Sprintf("%s after %d statements: %v", msg, len(e.Applied), e.Err)
}

// Is reports whether the target error matches ErrFlush.
func (e *FlushError) Is(err error) bool {
	return err == ErrFlush
}

// Unwrap returns the underlying error.
func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsFlushError returns true if the error is a FlushError.
func IsFlushError(err error) bool {
	if err == nil {
		return false
	}
	var e *FlushError
	return errors.As(err, &e)
}

// StaleDataError is returned when an UPDATE or DELETE by primary key
// matched a different number of rows than expected.
type StaleDataError struct {
	Entity   string
	Op       string
	Expected int64
	Actual   int64
}

// Error returns the error string.
func (e *StaleDataError) Error() string {
	return fmt.Sprintf("strata: %s statement on %s expected to match %d row(s); %d were matched",
		strings.ToUpper(e.Op), e.Entity, e.Expected, e.Actual)
}

// Is reports whether the target error matches ErrStaleData.
func (e *StaleDataError) Is(err error) bool {
	return err == ErrStaleData
}

// IsStaleData returns true if the error is a StaleDataError.
func IsStaleData(err error) bool {
	if err == nil {
		return false
	}
	var e *StaleDataError
	return errors.As(err, &e)
}

// InvalidStateError is returned when an operation is not valid for the
// lifecycle state of an object (e.g. deleting a transient object).
type InvalidStateError struct {
	Entity string
	State  string
	Op     string
}

// Error returns the error string.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("strata: cannot %s %s instance in state %s", e.Op, e.Entity, e.State)
}

// Is reports whether the target error matches ErrInvalidState.
func (e *InvalidStateError) Is(err error) bool {
	return err == ErrInvalidState
}

// NewInvalidStateError returns a new InvalidStateError.
func NewInvalidStateError(entity, state, op string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, State: state, Op: op}
}

// IsInvalidState returns true if the error is an InvalidStateError.
func IsInvalidState(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidStateError
	return errors.As(err, &e)
}
