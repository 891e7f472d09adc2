// Package trashtypes implements the trashable item types: workspaces,
// applications, tables, fields, rows and views.
package trashtypes

import (
	"context"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/trash"
	"github.com/gridbase/gridbase/pkg/types"
)

// Register adds every trashable type to reg.
func Register(reg *trash.Registry, engine *converter.Engine, rows *row.Store, pub events.Publisher) error {
	if pub == nil {
		pub = events.Nop{}
	}
	tables := &TableType{engine: engine, events: pub}
	apps := &ApplicationType{tables: tables}
	for _, t := range []trash.TrashableType{
		&WorkspaceType{apps: apps},
		apps,
		tables,
		&FieldType{engine: engine, events: pub},
		&RowType{rows: rows, events: pub},
		&ViewType{events: pub},
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// WorkspaceType trashes whole workspaces.
type WorkspaceType struct {
	apps *ApplicationType
}

func (*WorkspaceType) Type() string           { return types.TrashTypeWorkspace }
func (*WorkspaceType) ParentType() string     { return "" }
func (*WorkspaceType) RequiresParentID() bool { return false }

func (*WorkspaceType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, _ *int64) (*trash.Item, error) {
	ws, err := tx.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:        types.TrashTypeWorkspace,
		ID:          ws.ID,
		Name:        ws.Name,
		Trashed:     ws.Trashed,
		WorkspaceID: ws.ID,
	}, nil
}

func (*WorkspaceType) Trash(ctx context.Context, tx *catalog.Tx, _ types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	return nil, tx.SetWorkspaceTrashed(ctx, item.ID, true)
}

func (*WorkspaceType) Restore(ctx context.Context, tx *catalog.Tx, _ types.UserID, item *trash.Item) error {
	return tx.SetWorkspaceTrashed(ctx, item.ID, false)
}

// PermanentlyDelete removes every application of the workspace, every
// trash entry recorded in it, and the workspace itself.
func (w *WorkspaceType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	apps, err := tx.ListApplications(ctx, item.ID)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if err := w.apps.deleteApplication(ctx, tx, app); err != nil {
			return err
		}
	}
	if err := deleteContainerEntries(ctx, tx, item.ID, nil); err != nil {
		return err
	}
	return tx.DeleteWorkspace(ctx, item.ID)
}

// ApplicationType trashes databases.
type ApplicationType struct {
	tables *TableType
}

func (*ApplicationType) Type() string           { return types.TrashTypeApplication }
func (*ApplicationType) ParentType() string     { return types.TrashTypeWorkspace }
func (*ApplicationType) RequiresParentID() bool { return false }

func (*ApplicationType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, _ *int64) (*trash.Item, error) {
	app, err := tx.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	ws, err := tx.GetWorkspace(ctx, app.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:          types.TrashTypeApplication,
		ID:            app.ID,
		ParentID:      &ws.ID,
		Name:          app.Name,
		ParentName:    ws.Name,
		Trashed:       app.Trashed,
		WorkspaceID:   ws.ID,
		ApplicationID: &app.ID,
	}, nil
}

func (*ApplicationType) Trash(ctx context.Context, tx *catalog.Tx, _ types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	return nil, tx.SetApplicationTrashed(ctx, item.ID, true)
}

func (*ApplicationType) Restore(ctx context.Context, tx *catalog.Tx, _ types.UserID, item *trash.Item) error {
	return tx.SetApplicationTrashed(ctx, item.ID, false)
}

func (a *ApplicationType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	app, err := tx.GetApplication(ctx, item.ID)
	if err != nil {
		return err
	}
	return a.deleteApplication(ctx, tx, app)
}

func (a *ApplicationType) deleteApplication(ctx context.Context, tx *catalog.Tx, app *types.Application) error {
	tables, err := tx.ListTables(ctx, app.ID)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if err := a.tables.deleteTable(ctx, tx, t.ID); err != nil {
			return err
		}
	}
	if err := deleteContainerEntries(ctx, tx, app.WorkspaceID, &app.ID); err != nil {
		return err
	}
	return tx.DeleteApplication(ctx, app.ID)
}

// deleteContainerEntries drops the trash entries of a container that is
// being deleted. Their items go with the container.
func deleteContainerEntries(ctx context.Context, tx *catalog.Tx, workspaceID int64, applicationID *int64) error {
	entries, err := tx.ListTrashEntriesInContainer(ctx, workspaceID, applicationID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := tx.DeleteTrashEntry(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}
