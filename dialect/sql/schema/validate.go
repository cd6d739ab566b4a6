package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/strata/dialect/sql"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateTable validates a single table definition.
func ValidateTable(t *sql.Table) *ValidationResult {
	result := &ValidationResult{}

	// Check for primary key
	if len(t.PrimaryKey()) == 0 {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   t.Name(),
			Message: "table has no primary key",
		})
	}

	for _, c := range t.Columns() {
		if !c.Type().Valid() {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name(),
				Column:  c.Name(),
				Message: "column has no type",
			})
		}
		if c.PrimaryKey() && c.Nullable() {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name(),
				Column:  c.Name(),
				Message: "primary key column is nullable",
			})
		}
	}

	// Check foreign keys
	for _, fk := range t.ForeignKeys() {
		if len(fk.Columns()) != len(fk.RefColumnNames()) {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name(),
				Message: fmt.Sprintf("foreign key to %q has %d columns and %d references", fk.RefTableName(), len(fk.Columns()), len(fk.RefColumnNames())),
			})
		}
		if fk.OnDeleteAction() == sql.SetNull && !fk.Nullable() {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name(),
				Message: fmt.Sprintf("foreign key to %q uses ON DELETE SET NULL on a NOT NULL column", fk.RefTableName()),
			})
		}
	}

	return result
}

// ValidateSchema validates a set of tables: every table on its own, and
// every foreign key against the table it references.
func ValidateSchema(tables []*sql.Table) *ValidationResult {
	result := &ValidationResult{}

	byName := make(map[string]*sql.Table, len(tables))
	for _, t := range tables {
		// Check for duplicate table names
		if _, ok := byName[t.Name()]; ok {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name(),
				Message: "duplicate table name",
			})
		}
		byName[t.Name()] = t

		tableResult := ValidateTable(t)
		result.Errors = append(result.Errors, tableResult.Errors...)
		result.Warnings = append(result.Warnings, tableResult.Warnings...)
	}

	// Validate foreign key references
	for _, t := range tables {
		for _, fk := range t.ForeignKeys() {
			ref, ok := byName[fk.RefTableName()]
			if !ok {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name(),
					Message: fmt.Sprintf("foreign key references non-existent table %q", fk.RefTableName()),
				})
				continue
			}
			refCols, ok := fk.RefColumns(ref)
			if !ok {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name(),
					Message: fmt.Sprintf("foreign key references non-existent columns %s(%s)", ref.Name(), strings.Join(fk.RefColumnNames(), ", ")),
				})
				continue
			}
			for i, c := range fk.Columns() {
				if i < len(refCols) && c.Type() != refCols[i].Type() {
					result.Warnings = append(result.Warnings, &ValidationError{
						Table:   t.Name(),
						Column:  c.Name(),
						Message: fmt.Sprintf("type %v differs from referenced column %s of type %v", c.Type(), refCols[i], refCols[i].Type()),
					})
				}
			}
		}
	}

	return result
}
