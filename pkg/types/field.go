// Package types provides the core data types shared by the gridbase packages.
package types

import "time"

// UserID is the opaque identity of the user on whose behalf a mutation runs.
// It is recorded for attribution only.
type UserID int64

// Field type tags.
const (
	FieldTypeText           = "text"
	FieldTypeLongText       = "long_text"
	FieldTypeNumber         = "number"
	FieldTypeBoolean        = "boolean"
	FieldTypeDate           = "date"
	FieldTypeLinkRow        = "link_row"
	FieldTypeFile           = "file"
	FieldTypeSingleSelect   = "single_select"
	FieldTypeMultipleSelect = "multiple_select"
	FieldTypeFormula        = "formula"
	FieldTypeCreatedOn      = "created_on"
	FieldTypeLastModified   = "last_modified"
)

// Field is a user defined, typed column of a table.
type Field struct {
	// ID is the catalog identifier; the physical column is field_<ID>.
	ID int64 `json:"id"`

	// TableID is the owning table.
	TableID int64 `json:"table_id"`

	// Name is unique among the non-trashed fields of the table.
	Name string `json:"name"`

	// Type is one of the FieldType* tags.
	Type string `json:"type"`

	// Params holds the type specific parameters.
	Params FieldParams `json:"params"`

	Order    int  `json:"order"`
	Primary  bool `json:"primary"`
	ReadOnly bool `json:"read_only"`
	Trashed  bool `json:"trashed"`

	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

// SelectOption is one choice of a single or multiple select field.
type SelectOption struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// FieldParams are the type specific parameters of a field. Only the members
// relevant to the field's type are read.
type FieldParams struct {
	TextDefault string `json:"text_default,omitempty"`

	NumberDecimalPlaces int  `json:"number_decimal_places,omitempty"`
	NumberNegative      bool `json:"number_negative,omitempty"`

	DateIncludeTime bool   `json:"date_include_time,omitempty"`
	DateFormat      string `json:"date_format,omitempty"`

	// LinkRowTableID is the table the field links to.
	LinkRowTableID int64 `json:"link_row_table_id,omitempty"`
	// LinkRowRelatedFieldID is the reverse field in the linked table.
	LinkRowRelatedFieldID int64 `json:"link_row_related_field_id,omitempty"`
	// LinkRowRelationID names the shared junction table. It equals the id
	// of the field that created the relation.
	LinkRowRelationID int64 `json:"link_row_relation_id,omitempty"`

	SelectOptions []SelectOption `json:"select_options,omitempty"`

	Formula string `json:"formula,omitempty"`
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Params.SelectOptions != nil {
		cp.Params.SelectOptions = make([]SelectOption, len(f.Params.SelectOptions))
		copy(cp.Params.SelectOptions, f.Params.SelectOptions)
	}
	return &cp
}

// IsRelationOwner reports whether the field created its link row junction.
func (f *Field) IsRelationOwner() bool {
	return f.Type == FieldTypeLinkRow && f.Params.LinkRowRelationID == f.ID
}
