package fieldtype

import (
	"encoding/json"
	"strings"

	"github.com/gridbase/gridbase/pkg/types"
)

// SingleSelectType stores the id of one select option.
type SingleSelectType struct{}

func (SingleSelectType) Type() string { return types.FieldTypeSingleSelect }
func (SingleSelectType) ColumnKind(*types.Field) ColumnKind { return KindInteger }
func (SingleSelectType) ColumnSQL(*types.Field) string { return "INTEGER" }
func (SingleSelectType) Default(*types.Field) any { return nil }
func (SingleSelectType) ReadOnly() bool { return false }

func (SingleSelectType) PrepareParams(f, _ *types.Field) error {
	return prepareOptions(f)
}

// Coerce accepts an option id, an option value or an option object.
func (SingleSelectType) Coerce(f *types.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	opt, ok := findOption(f, raw)
	if !ok {
		return nil, invalid(f, "%v is not a select option", raw)
	}
	return opt.ID, nil
}

func (SingleSelectType) Serialize(f *types.Field, v any) any {
	id, ok := toID(v)
	if !ok {
		return nil
	}
	opt, ok := optionByID(f, id)
	if !ok {
		return nil
	}
	return optionValue(opt)
}

// MultipleSelectType stores a JSON array of select option ids.
type MultipleSelectType struct{}

func (MultipleSelectType) Type() string { return types.FieldTypeMultipleSelect }
func (MultipleSelectType) ColumnKind(*types.Field) ColumnKind { return KindText }
func (MultipleSelectType) ColumnSQL(*types.Field) string { return "TEXT" }
func (MultipleSelectType) Default(*types.Field) any { return nil }
func (MultipleSelectType) ReadOnly() bool { return false }

func (MultipleSelectType) PrepareParams(f, _ *types.Field) error {
	return prepareOptions(f)
}

// Coerce accepts a list of option ids, values or objects, a stored JSON
// array, or a comma separated string of values.
func (MultipleSelectType) Coerce(f *types.Field, raw any) (any, error) {
	items, err := selectItems(raw)
	if err != nil {
		return nil, invalid(f, "%v", err)
	}
	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		opt, ok := findOption(f, item)
		if !ok {
			return nil, invalid(f, "%v is not a select option", item)
		}
		if !seen[opt.ID] {
			seen[opt.ID] = true
			ids = append(ids, opt.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, invalid(f, "%v", err)
	}
	return string(b), nil
}

func (t MultipleSelectType) Serialize(f *types.Field, v any) any {
	items, err := selectItems(v)
	if err != nil {
		return []any{}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if id, ok := toID(item); ok {
			if opt, ok := optionByID(f, id); ok {
				out = append(out, optionValue(opt))
			}
		}
	}
	return out
}

func selectItems(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []int64:
		out := make([]any, len(v))
		for i, id := range v {
			out[i] = id
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []byte:
		return selectItems(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		if strings.HasPrefix(s, "[") {
			var out []any
			dec := json.NewDecoder(strings.NewReader(s))
			dec.UseNumber()
			if err := dec.Decode(&out); err != nil {
				return nil, err
			}
			return out, nil
		}
		var out []any
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return []any{v}, nil
	}
}

// findOption resolves an option by id, by value (exact, then case
// insensitive) or from an option object.
func findOption(f *types.Field, raw any) (types.SelectOption, bool) {
	if m, ok := raw.(map[string]any); ok {
		if id, ok := toID(m["id"]); ok {
			return optionByID(f, id)
		}
		return findOption(f, m["value"])
	}
	if id, ok := toID(raw); ok {
		if opt, ok := optionByID(f, id); ok {
			return opt, true
		}
	}
	s, ok := stringify(raw)
	if !ok {
		return types.SelectOption{}, false
	}
	s = strings.TrimSpace(s)
	for _, opt := range f.Params.SelectOptions {
		if opt.Value == s {
			return opt, true
		}
	}
	for _, opt := range f.Params.SelectOptions {
		if strings.EqualFold(opt.Value, s) {
			return opt, true
		}
	}
	return types.SelectOption{}, false
}

func optionByID(f *types.Field, id int64) (types.SelectOption, bool) {
	for _, opt := range f.Params.SelectOptions {
		if opt.ID == id {
			return opt, true
		}
	}
	return types.SelectOption{}, false
}

func optionValue(opt types.SelectOption) map[string]any {
	return map[string]any{"id": opt.ID, "value": opt.Value, "color": opt.Color}
}

// prepareOptions assigns ids to new options and rejects duplicate ids.
func prepareOptions(f *types.Field) error {
	var max int64
	seen := make(map[int64]bool)
	for _, opt := range f.Params.SelectOptions {
		if opt.ID == 0 {
			continue
		}
		if seen[opt.ID] {
			return invalidParams(f, "duplicate select option id %d", opt.ID)
		}
		seen[opt.ID] = true
		if opt.ID > max {
			max = opt.ID
		}
	}
	for i := range f.Params.SelectOptions {
		if f.Params.SelectOptions[i].ID == 0 {
			max++
			f.Params.SelectOptions[i].ID = max
		}
	}
	return nil
}
