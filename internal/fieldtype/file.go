package fieldtype

import (
	"encoding/json"
	"strings"

	"github.com/gridbase/gridbase/pkg/types"
)

// FileRef is one file attached to a file field cell.
type FileRef struct {
	Name        string `json:"name"`
	VisibleName string `json:"visible_name,omitempty"`
}

// FileType stores a JSON array of uploaded file references.
type FileType struct{}

func (FileType) Type() string { return types.FieldTypeFile }
func (FileType) ColumnKind(*types.Field) ColumnKind { return KindText }
func (FileType) ColumnSQL(*types.Field) string { return "TEXT" }
func (FileType) Default(*types.Field) any { return nil }
func (FileType) ReadOnly() bool { return false }

// Coerce accepts a list of {"name": ...} objects or names, or a stored
// JSON array. Whether the names exist is checked by the row handler.
func (FileType) Coerce(f *types.Field, raw any) (any, error) {
	refs, err := FileRefs(raw)
	if err != nil {
		return nil, invalid(f, "%v", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil, invalid(f, "%v", err)
	}
	return string(b), nil
}

func (FileType) Serialize(_ *types.Field, v any) any {
	refs, err := FileRefs(v)
	if err != nil {
		return []any{}
	}
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, map[string]any{"name": r.Name, "visible_name": r.VisibleName})
	}
	return out
}

// FileRefs parses any accepted file field input.
func FileRefs(raw any) ([]FileRef, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []FileRef:
		return v, nil
	case []byte:
		return FileRefs(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		var refs []FileRef
		if err := json.Unmarshal([]byte(s), &refs); err != nil {
			return nil, err
		}
		return checkRefs(refs)
	case []any:
		refs := make([]FileRef, 0, len(v))
		for _, item := range v {
			switch x := item.(type) {
			case string:
				refs = append(refs, FileRef{Name: x})
			case map[string]any:
				name, _ := x["name"].(string)
				visible, _ := x["visible_name"].(string)
				refs = append(refs, FileRef{Name: name, VisibleName: visible})
			default:
				return nil, errUnsupportedFile
			}
		}
		return checkRefs(refs)
	default:
		return nil, errUnsupportedFile
	}
}

type fileError string

func (e fileError) Error() string { return string(e) }

const (
	errUnsupportedFile = fileError("unsupported file value")
	errMissingName     = fileError("file is missing a name")
)

func checkRefs(refs []FileRef) ([]FileRef, error) {
	for i := range refs {
		if refs[i].Name == "" {
			return nil, errMissingName
		}
		if refs[i].VisibleName == "" {
			refs[i].VisibleName = refs[i].Name
		}
	}
	return refs, nil
}
