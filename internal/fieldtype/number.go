package fieldtype

import (
	"math"

	"github.com/gridbase/gridbase/pkg/types"
)

// MaxDecimalPlaces bounds the number field precision.
const MaxDecimalPlaces = 10

// NumberType stores integers, or decimals rounded to a fixed number of
// places.
type NumberType struct{}

func (NumberType) Type() string { return types.FieldTypeNumber }
func (NumberType) Default(*types.Field) any { return nil }
func (NumberType) ReadOnly() bool { return false }

func (NumberType) ColumnKind(f *types.Field) ColumnKind {
	if f.Params.NumberDecimalPlaces > 0 {
		return KindDecimal
	}
	return KindInteger
}

func (t NumberType) ColumnSQL(f *types.Field) string {
	if t.ColumnKind(f) == KindDecimal {
		return "REAL"
	}
	return "INTEGER"
}

func (NumberType) PrepareParams(f, _ *types.Field) error {
	if f.Params.NumberDecimalPlaces < 0 || f.Params.NumberDecimalPlaces > MaxDecimalPlaces {
		return invalidParams(f, "decimal places must be between 0 and %d", MaxDecimalPlaces)
	}
	return nil
}

// Coerce parses strings such as "100.22", rounds half away from zero and
// rejects negatives unless the field allows them.
func (NumberType) Coerce(f *types.Field, raw any) (any, error) {
	x, ok, err := toFloat(raw)
	if err != nil {
		return nil, invalid(f, "%v", err)
	}
	if !ok {
		return nil, nil
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, invalid(f, "number is not finite")
	}
	places := f.Params.NumberDecimalPlaces
	x = roundHalfAwayFromZero(x, places)
	if x < 0 && !f.Params.NumberNegative {
		return nil, invalid(f, "negative numbers are not allowed")
	}
	if places == 0 {
		// float64(math.MaxInt64) is 2^63, which does not fit an int64.
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, invalid(f, "number out of range")
		}
		return int64(x), nil
	}
	return x, nil
}

func (NumberType) Serialize(_ *types.Field, v any) any {
	return v
}
