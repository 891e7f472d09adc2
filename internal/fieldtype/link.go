package fieldtype

import (
	"sort"
	"strings"

	"github.com/gridbase/gridbase/pkg/types"
)

// LinkRowType relates rows of one table to rows of another. Values live in
// the junction table of the relation.
type LinkRowType struct{}

func (LinkRowType) Type() string { return types.FieldTypeLinkRow }
func (LinkRowType) ColumnKind(*types.Field) ColumnKind { return KindJunction }
func (LinkRowType) ColumnSQL(*types.Field) string { return "" }
func (LinkRowType) Default(*types.Field) any { return []int64{} }
func (LinkRowType) ReadOnly() bool { return false }

func (LinkRowType) PrepareParams(f, _ *types.Field) error {
	if f.Params.LinkRowTableID <= 0 {
		return invalidParams(f, "link row fields need a target table")
	}
	return nil
}

// Coerce accepts a list of row ids or row objects, a single id, or a
// comma separated string of ids. The result is sorted and deduplicated.
func (LinkRowType) Coerce(f *types.Field, raw any) (any, error) {
	var items []any
	switch v := raw.(type) {
	case nil:
		return []int64{}, nil
	case []any:
		items = v
	case []int64:
		for _, id := range v {
			items = append(items, id)
		}
	case []int:
		for _, id := range v {
			items = append(items, id)
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
	default:
		items = []any{v}
	}

	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, ok := toID(item)
		if !ok {
			return nil, invalid(f, "%v is not a row id", item)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (LinkRowType) Serialize(_ *types.Field, v any) any {
	ids, _ := v.([]int64)
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{"id": id})
	}
	return out
}
