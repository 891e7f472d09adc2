package types

import (
	"fmt"
	"time"
)

// TimestampLayout is the physical representation of every timestamp kept in
// a user table. It is fixed width so lexical order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Row is one tuple of a table's physical relation. Values are keyed by
// field id and hold the stored (coerced) representation.
type Row struct {
	ID        int64         `json:"id"`
	Order     float64       `json:"order"`
	CreatedOn time.Time     `json:"created_on"`
	UpdatedOn time.Time     `json:"updated_on"`
	Trashed   bool          `json:"-"`
	Values    map[int64]any `json:"-"`
}

// FieldKey returns the serialized key of a field value, e.g. "field_12".
func FieldKey(fieldID int64) string {
	return fmt.Sprintf("field_%d", fieldID)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
