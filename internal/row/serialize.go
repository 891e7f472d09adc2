package row

import (
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// Serialize renders a row for events and API consumers: "id", "order" and
// one "field_<id>" key per field holding the external representation.
func Serialize(reg *fieldtype.Registry, fields []*types.Field, r *types.Row) map[string]any {
	out := map[string]any{
		"id":    r.ID,
		"order": r.Order,
	}
	for _, f := range fields {
		v := r.Values[f.ID]
		if ft, err := reg.Get(f.Type); err == nil {
			v = ft.Serialize(f, v)
		}
		out[types.FieldKey(f.ID)] = v
	}
	return out
}

func columnName(f *types.Field) string {
	return schema.ColumnName(f.ID)
}
