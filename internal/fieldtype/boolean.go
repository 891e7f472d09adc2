package fieldtype

import (
	"strings"

	"github.com/gridbase/gridbase/pkg/types"
)

// BooleanType stores a checkbox. It is never null.
type BooleanType struct{}

func (BooleanType) Type() string { return types.FieldTypeBoolean }
func (BooleanType) ColumnKind(*types.Field) ColumnKind { return KindBoolean }
func (BooleanType) ColumnSQL(*types.Field) string { return "INTEGER" }
func (BooleanType) Default(*types.Field) any { return false }
func (BooleanType) ReadOnly() bool { return false }

var truthy = map[string]bool{
	"1": true, "t": true, "y": true, "true": true, "yes": true, "on": true, "checked": true,
}

// Coerce accepts booleans, numbers and the usual truthy strings. Anything
// else is false.
func (BooleanType) Coerce(_ *types.Field, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case []byte:
		return truthy[strings.ToLower(strings.TrimSpace(string(v)))], nil
	case string:
		return truthy[strings.ToLower(strings.TrimSpace(v))], nil
	default:
		return false, nil
	}
}

func (t BooleanType) Serialize(f *types.Field, v any) any {
	b, _ := t.Coerce(f, v)
	return b
}
