package types

import "time"

// ApplicationTypeDatabase is the only application kind that owns tables.
const ApplicationTypeDatabase = "database"

// View type tags.
const (
	ViewTypeGrid    = "grid"
	ViewTypeGallery = "gallery"
	ViewTypeForm    = "form"
)

// Workspace is the top level tenant container.
type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Trashed   bool      `json:"trashed"`
	CreatedOn time.Time `json:"created_on"`
}

// Application belongs to a workspace. Databases own tables.
type Application struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Order       int       `json:"order"`
	Trashed     bool      `json:"trashed"`
	CreatedOn   time.Time `json:"created_on"`
}

// Table owns an ordered set of fields and a physical relation.
type Table struct {
	ID         int64     `json:"id"`
	DatabaseID int64     `json:"database_id"`
	Name       string    `json:"name"`
	Order      int       `json:"order"`
	Trashed    bool      `json:"trashed"`
	CreatedOn  time.Time `json:"created_on"`
}

// View is a named presentation of a table.
type View struct {
	ID           int64          `json:"id"`
	TableID      int64          `json:"table_id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Order        int            `json:"order"`
	FieldOptions map[int64]bool `json:"field_options,omitempty"`
	Trashed      bool           `json:"trashed"`
}
