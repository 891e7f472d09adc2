// Package schema issues the DDL that creates and alters user table
// relations at runtime.
package schema

import "fmt"

// System columns present in every user table.
const (
	ColumnID        = "id"
	ColumnOrder     = "order"
	ColumnCreatedOn = "created_on"
	ColumnUpdatedOn = "updated_on"
	ColumnTrashed   = "trashed"
)

// Junction columns of a link row relation. RelationOwnerColumn holds rows
// of the table owning the relation, RelationLinkedColumn rows of the
// linked table.
const (
	RelationOwnerColumn  = "row_id"
	RelationLinkedColumn = "linked_row_id"
)

// TableName returns the physical relation of a user table.
func TableName(tableID int64) string {
	return fmt.Sprintf("database_table_%d", tableID)
}

// ColumnName returns the physical column of a field.
func ColumnName(fieldID int64) string {
	return fmt.Sprintf("field_%d", fieldID)
}

// TempColumnName returns the column a conversion writes into before it
// replaces the original column.
func TempColumnName(fieldID int64) string {
	return fmt.Sprintf("field_%d_new", fieldID)
}

// RelationName returns the junction table of a link row relation.
func RelationName(relationID int64) string {
	return fmt.Sprintf("database_relation_%d", relationID)
}

// Quote quotes an identifier for SQLite.
func Quote(name string) string {
	return `"` + name + `"`
}

// ValidateColumnName checks if a column name is valid for SQLite.
func ValidateColumnName(name string) bool {
	if len(name) == 0 || len(name) > 100 {
		return false
	}
	// First character must be a letter or underscore
	first := name[0]
	if (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') && first != '_' {
		return false
	}
	// Subsequent characters can be letters, digits, or underscores
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}
