package fieldtype

import (
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/formula"
	"github.com/gridbase/gridbase/pkg/types"
)

// FormulaType holds a computed value. The column has no affinity so a
// formula can yield numbers, text or booleans.
type FormulaType struct{}

func (FormulaType) Type() string { return types.FieldTypeFormula }
func (FormulaType) ColumnKind(*types.Field) ColumnKind { return KindText }
func (FormulaType) ColumnSQL(*types.Field) string { return "" }
func (FormulaType) Default(*types.Field) any { return nil }
func (FormulaType) ReadOnly() bool { return true }
func (FormulaType) Serialize(_ *types.Field, v any) any { return textValue(v) }

// PrepareParams rejects formulas that do not parse.
func (FormulaType) PrepareParams(f, _ *types.Field) error {
	if _, err := formula.Parse(f.Params.Formula); err != nil {
		ge := errors.NewValidationError(errors.CodeInvalidFormula, f.Name, err.Error())
		ge.Cause = err
		return ge
	}
	return nil
}

// Coerce stores scalar evaluation results as they are and renders
// anything else as text.
func (FormulaType) Coerce(_ *types.Field, raw any) (any, error) {
	switch v := raw.(type) {
	case nil, string, bool, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case []byte:
		return string(v), nil
	default:
		if s, ok := stringify(v); ok {
			return s, nil
		}
		return nil, nil
	}
}
