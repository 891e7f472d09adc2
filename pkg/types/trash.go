package types

import "time"

// Trashable item types.
const (
	TrashTypeWorkspace   = "workspace"
	TrashTypeApplication = "application"
	TrashTypeTable       = "table"
	TrashTypeField       = "field"
	TrashTypeRow         = "row"
	TrashTypeView        = "view"
)

// TrashEntry records one soft deleted item. Items are referenced by their
// (type, id) pair and never by pointer.
type TrashEntry struct {
	ID           int64  `json:"id"`
	ItemType     string `json:"trash_item_type"`
	ItemID       int64  `json:"trash_item_id"`
	ParentItemID *int64 `json:"parent_trash_item_id"`
	// ParentEntryID links to the parent's own entry when the parent was
	// already trashed at the time this entry was created.
	ParentEntryID *int64 `json:"parent_entry_id"`

	WorkspaceID   int64  `json:"workspace_id"`
	ApplicationID *int64 `json:"application_id"`

	UserWhoTrashed UserID    `json:"user_who_trashed"`
	Name           string    `json:"name"`
	ParentName     string    `json:"parent_name"`
	TrashedAt      time.Time `json:"trashed_at"`

	ShouldBePermanentlyDeleted bool `json:"should_be_permanently_deleted"`

	// RelatedItems were trashed together with the item, e.g. the reverse
	// field of a link row field. They share the entry's fate.
	RelatedItems []TrashItemRef `json:"related_items,omitempty"`
}

// TrashItemRef names a trashable item by value.
type TrashItemRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// TrashStructure lists the containers that may hold trash for a user.
type TrashStructure struct {
	Workspaces []TrashStructureWorkspace `json:"workspaces"`
}

// TrashStructureWorkspace is one workspace of a TrashStructure.
type TrashStructureWorkspace struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Trashed      bool           `json:"trashed"`
	Applications []*Application `json:"applications"`
}
