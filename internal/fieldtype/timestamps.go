package fieldtype

import (
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// CreatedOnType mirrors the row's creation time.
type CreatedOnType struct{}

func (CreatedOnType) Type() string { return types.FieldTypeCreatedOn }
func (CreatedOnType) ColumnKind(*types.Field) ColumnKind { return KindTimestamp }
func (CreatedOnType) ColumnSQL(*types.Field) string { return "TEXT" }
func (CreatedOnType) Default(*types.Field) any { return nil }
func (CreatedOnType) ReadOnly() bool { return true }
func (CreatedOnType) SourceColumn() string { return schema.ColumnCreatedOn }

func (CreatedOnType) PrepareParams(f, _ *types.Field) error { return checkDateFormat(f) }

func (CreatedOnType) Coerce(f *types.Field, raw any) (any, error) {
	return coerceTimestamp(f, raw)
}

func (CreatedOnType) Serialize(f *types.Field, v any) any {
	return serializeTimestamp(f, v)
}

// LastModifiedType mirrors the row's last update time.
type LastModifiedType struct{}

func (LastModifiedType) Type() string { return types.FieldTypeLastModified }
func (LastModifiedType) ColumnKind(*types.Field) ColumnKind { return KindTimestamp }
func (LastModifiedType) ColumnSQL(*types.Field) string { return "TEXT" }
func (LastModifiedType) Default(*types.Field) any { return nil }
func (LastModifiedType) ReadOnly() bool { return true }
func (LastModifiedType) SourceColumn() string { return schema.ColumnUpdatedOn }

func (LastModifiedType) PrepareParams(f, _ *types.Field) error { return checkDateFormat(f) }

func (LastModifiedType) Coerce(f *types.Field, raw any) (any, error) {
	return coerceTimestamp(f, raw)
}

func (LastModifiedType) Serialize(f *types.Field, v any) any {
	return serializeTimestamp(f, v)
}
