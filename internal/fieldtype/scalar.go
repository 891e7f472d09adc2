package fieldtype

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gridbase/gridbase/pkg/types"
)

// stringify renders a value for text storage. Option maps render their
// value, lists render comma separated.
func stringify(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case time.Time:
		return types.FormatTimestamp(v), true
	case map[string]any:
		for _, key := range []string{"value", "visible_name", "name", "id"} {
			if inner, ok := v[key]; ok {
				return stringify(inner)
			}
		}
		return "", false
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := stringify(item); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	case []int64:
		parts := make([]string, 0, len(v))
		for _, id := range v {
			parts = append(parts, strconv.FormatInt(id, 10))
		}
		return strings.Join(parts, ", "), len(parts) > 0
	default:
		return fmt.Sprint(v), true
	}
}

// toFloat parses a numeric value. Empty strings are reported as absent.
func toFloat(raw any) (float64, bool, error) {
	switch v := raw.(type) {
	case nil:
		return 0, false, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case bool:
		if v {
			return 1, true, nil
		}
		return 0, true, nil
	case json.Number:
		f, err := v.Float64()
		return f, err == nil, err
	case []byte:
		return toFloat(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number", v)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported number input %T", raw)
	}
}

// toID parses a positive identifier.
func toID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return toID(v["id"])
	}
	f, ok, err := toFloat(raw)
	if err != nil || !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// roundHalfAwayFromZero rounds x to places decimal places.
func roundHalfAwayFromZero(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
