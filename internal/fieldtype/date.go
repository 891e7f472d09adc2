package fieldtype

import (
	"strings"
	"time"

	"github.com/gridbase/gridbase/pkg/types"
)

// Date formats accepted in DateFormat.
const (
	DateFormatISO = "ISO"
	DateFormatEU  = "EU"
	DateFormatUS  = "US"
)

var isoLayouts = []string{
	types.TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DateType stores a date, optionally with a time of day, in UTC.
type DateType struct{}

func (DateType) Type() string { return types.FieldTypeDate }
func (DateType) ColumnKind(*types.Field) ColumnKind { return KindTimestamp }
func (DateType) ColumnSQL(*types.Field) string { return "TEXT" }
func (DateType) Default(*types.Field) any { return nil }
func (DateType) ReadOnly() bool { return false }

func (DateType) PrepareParams(f, _ *types.Field) error {
	return checkDateFormat(f)
}

func (DateType) Coerce(f *types.Field, raw any) (any, error) {
	return coerceTimestamp(f, raw)
}

func (DateType) Serialize(f *types.Field, v any) any {
	return serializeTimestamp(f, v)
}

func checkDateFormat(f *types.Field) error {
	switch f.Params.DateFormat {
	case "", DateFormatISO, DateFormatEU, DateFormatUS:
		return nil
	default:
		return invalidParams(f, "unknown date format %q", f.Params.DateFormat)
	}
}

// coerceTimestamp parses raw and returns it in types.TimestampLayout,
// truncated to the day when the field excludes the time.
func coerceTimestamp(f *types.Field, raw any) (any, error) {
	var t time.Time
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = v
	case []byte:
		return coerceTimestamp(f, string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		parsed, ok := parseDate(s, f.Params.DateFormat)
		if !ok {
			return nil, invalid(f, "%q is not a valid date", v)
		}
		t = parsed
	default:
		return nil, invalid(f, "unsupported date input %T", raw)
	}

	t = t.UTC()
	if !f.Params.DateIncludeTime {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return types.FormatTimestamp(t), nil
}

func parseDate(s, format string) (time.Time, bool) {
	layouts := isoLayouts
	switch format {
	case DateFormatEU:
		layouts = append([]string{"02/01/2006 15:04", "02/01/2006"}, isoLayouts...)
	case DateFormatUS:
		layouts = append([]string{"01/02/2006 15:04", "01/02/2006"}, isoLayouts...)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func serializeTimestamp(f *types.Field, v any) any {
	s, ok := v.(string)
	if b, isBytes := v.([]byte); isBytes {
		s, ok = string(b), true
	}
	if !ok {
		return nil
	}
	t, err := types.ParseTimestamp(s)
	if err != nil {
		return s
	}
	if f.Params.DateIncludeTime {
		return t.Format(time.RFC3339)
	}
	return t.Format("2006-01-02")
}
