// Package fieldtype provides the registry of field types. Each type decides
// how a field is stored and how raw input is coerced into that storage.
package fieldtype

import (
	"fmt"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// ColumnKind is the physical storage class of a field.
type ColumnKind string

const (
	KindInteger   ColumnKind = "integer"
	KindDecimal   ColumnKind = "decimal"
	KindText      ColumnKind = "text"
	KindTimestamp ColumnKind = "timestamp"
	KindBoolean   ColumnKind = "boolean"
	// KindJunction fields keep their values in a relation table and have no
	// column in the row table.
	KindJunction ColumnKind = "junction"
)

// FieldType is implemented once per field type tag.
type FieldType interface {
	// Type returns the tag, e.g. "number".
	Type() string

	// ColumnKind returns the storage class for the field's parameters.
	ColumnKind(f *types.Field) ColumnKind

	// ColumnSQL returns the SQLite column type. Empty means no affinity.
	ColumnSQL(f *types.Field) string

	// Default is stored when a row is created without a value.
	Default(f *types.Field) any

	// Coerce converts raw input, or a value previously read from storage,
	// into the stored representation. Invalid input yields a validation
	// error naming the field.
	Coerce(f *types.Field, raw any) (any, error)

	// ReadOnly reports whether rows may not write the field directly.
	ReadOnly() bool

	// Serialize converts a stored value into its external representation.
	Serialize(f *types.Field, stored any) any
}

// ParamsPreparer is implemented by types that normalize or validate their
// parameters before a field is created or updated. prev is nil on create.
type ParamsPreparer interface {
	PrepareParams(f, prev *types.Field) error
}

// SystemSourced is implemented by types whose values mirror a system
// column of the row table.
type SystemSourced interface {
	SourceColumn() string
}

// HasColumn reports whether the field has a column in the row table.
func HasColumn(ft FieldType, f *types.Field) bool {
	return ft.ColumnKind(f) != KindJunction
}

func invalid(f *types.Field, format string, args ...any) error {
	name := ""
	if f != nil {
		name = f.Name
	}
	return errors.NewValidationError(errors.CodeInvalidValue, name,
		fmt.Sprintf("%s: %s", name, fmt.Sprintf(format, args...)))
}

func invalidParams(f *types.Field, format string, args ...any) error {
	return errors.NewValidationError(errors.CodeInvalidFieldParams, f.Name, fmt.Sprintf(format, args...))
}
