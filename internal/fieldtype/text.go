package fieldtype

import "github.com/gridbase/gridbase/pkg/types"

// TextType is a single line of text with an optional default.
type TextType struct{}

func (TextType) Type() string { return types.FieldTypeText }
func (TextType) ColumnKind(*types.Field) ColumnKind { return KindText }
func (TextType) ColumnSQL(*types.Field) string { return "TEXT" }
func (TextType) ReadOnly() bool { return false }
func (TextType) Serialize(_ *types.Field, v any) any { return textValue(v) }

func (TextType) Default(f *types.Field) any {
	if f.Params.TextDefault == "" {
		return nil
	}
	return f.Params.TextDefault
}

func (TextType) Coerce(f *types.Field, raw any) (any, error) {
	return coerceText(raw), nil
}

// LongTextType is multi line text.
type LongTextType struct{}

func (LongTextType) Type() string { return types.FieldTypeLongText }
func (LongTextType) ColumnKind(*types.Field) ColumnKind { return KindText }
func (LongTextType) ColumnSQL(*types.Field) string { return "TEXT" }
func (LongTextType) Default(*types.Field) any { return nil }
func (LongTextType) ReadOnly() bool { return false }
func (LongTextType) Serialize(_ *types.Field, v any) any { return textValue(v) }

func (LongTextType) Coerce(f *types.Field, raw any) (any, error) {
	return coerceText(raw), nil
}

func coerceText(raw any) any {
	s, ok := stringify(raw)
	if !ok {
		return nil
	}
	return s
}

func textValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
