package trashtypes

import (
	"context"
	"fmt"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/trash"
	"github.com/gridbase/gridbase/pkg/types"
)

// TableType trashes tables. Link fields of other tables that point at a
// trashed table are trashed along with it.
type TableType struct {
	engine *converter.Engine
	events events.Publisher
}

func (*TableType) Type() string           { return types.TrashTypeTable }
func (*TableType) ParentType() string     { return types.TrashTypeApplication }
func (*TableType) RequiresParentID() bool { return false }

func (*TableType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, _ *int64) (*trash.Item, error) {
	t, err := tx.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	app, err := tx.GetApplication(ctx, t.DatabaseID)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:          types.TrashTypeTable,
		ID:            t.ID,
		ParentID:      &app.ID,
		Name:          t.Name,
		ParentName:    app.Name,
		Trashed:       t.Trashed,
		WorkspaceID:   app.WorkspaceID,
		ApplicationID: &app.ID,
	}, nil
}

func (tt *TableType) Trash(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	if err := tx.SetTableTrashed(ctx, item.ID, true); err != nil {
		return nil, err
	}
	linking, err := tx.ListFieldsLinkingTo(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	var refs []types.TrashItemRef
	for _, f := range linking {
		if f.Trashed {
			continue
		}
		if err := tx.SetFieldTrashed(ctx, f.ID, true); err != nil {
			return nil, err
		}
		refs = append(refs, types.TrashItemRef{Type: types.TrashTypeField, ID: f.ID})
	}

	table, err := tx.GetTable(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	tx.OnCommit(func() {
		ev := events.New(events.TableDeleted, user, table.ID)
		ev.Table = table
		tt.events.Publish(ev)
		for _, f := range linking {
			if f.Trashed {
				continue
			}
			fev := events.New(events.FieldDeleted, user, f.TableID)
			fev.Field = f
			tt.events.Publish(fev)
		}
	})
	return refs, nil
}

func (tt *TableType) Restore(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) error {
	if err := tx.SetTableTrashed(ctx, item.ID, false); err != nil {
		return err
	}
	table, err := tx.GetTable(ctx, item.ID)
	if err != nil {
		return err
	}
	tx.OnCommit(func() {
		ev := events.New(events.TableCreated, user, table.ID)
		ev.Table = table
		tt.events.Publish(ev)
	})
	return nil
}

func (tt *TableType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	return tt.deleteTable(ctx, tx, item.ID)
}

// deleteTable drops the relation of a table and every catalog record that
// belongs to it.
func (tt *TableType) deleteTable(ctx context.Context, tx *catalog.Tx, tableID int64) error {
	fields, err := tx.ListFields(ctx, tableID, true)
	if err != nil {
		return err
	}
	if err := tt.engine.DropTableStorage(ctx, tx, tableID, fields); err != nil {
		return fmt.Errorf("trashtypes: failed to drop table %d: %w", tableID, err)
	}
	for _, f := range fields {
		if err := tx.DeleteField(ctx, f.ID); err != nil {
			return err
		}
	}
	if err := tx.DeleteViewsOfTable(ctx, tableID); err != nil {
		return err
	}
	if err := tx.DeleteDataSyncByTable(ctx, tableID); err != nil {
		return err
	}
	return tx.DeleteTable(ctx, tableID)
}

// FieldType trashes fields. A link row field takes its reverse field along.
type FieldType struct {
	engine *converter.Engine
	events events.Publisher
}

func (*FieldType) Type() string           { return types.TrashTypeField }
func (*FieldType) ParentType() string     { return types.TrashTypeTable }
func (*FieldType) RequiresParentID() bool { return false }

func (*FieldType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, _ *int64) (*trash.Item, error) {
	f, err := tx.GetField(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := tx.GetTable(ctx, f.TableID)
	if err != nil {
		return nil, err
	}
	app, err := tx.GetApplication(ctx, t.DatabaseID)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:          types.TrashTypeField,
		ID:            f.ID,
		ParentID:      &t.ID,
		Name:          f.Name,
		ParentName:    t.Name,
		Trashed:       f.Trashed,
		WorkspaceID:   app.WorkspaceID,
		ApplicationID: &app.ID,
	}, nil
}

func (ft *FieldType) Trash(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	f, err := tx.GetField(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if f.Primary {
		return nil, errors.NewValidationError(errors.CodeCannotDeletePrimaryField, f.Name,
			fmt.Sprintf("field %q is the primary field and cannot be deleted", f.Name))
	}
	if err := tx.SetFieldTrashed(ctx, f.ID, true); err != nil {
		return nil, err
	}
	f.Trashed = true

	var (
		refs    []types.TrashItemRef
		related []*types.Field
	)
	if r, err := relatedField(ctx, tx, f); err != nil {
		return nil, err
	} else if r != nil && !r.Trashed {
		if err := tx.SetFieldTrashed(ctx, r.ID, true); err != nil {
			return nil, err
		}
		r.Trashed = true
		refs = append(refs, types.TrashItemRef{Type: types.TrashTypeField, ID: r.ID})
		related = append(related, r)
	}

	tx.OnCommit(func() {
		ev := events.New(events.FieldDeleted, user, f.TableID)
		ev.Field = f
		ev.RelatedFields = related
		ft.events.Publish(ev)
	})
	return refs, nil
}

// Restore untrashes a field. A link row field whose target table is gone
// or trashed cannot come back. A name taken in the meantime gets a
// "(restored)" suffix.
func (ft *FieldType) Restore(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) error {
	f, err := tx.GetField(ctx, item.ID)
	if err != nil {
		return err
	}
	if f.Type == types.FieldTypeLinkRow {
		target, err := tx.GetTable(ctx, f.Params.LinkRowTableID)
		if errors.Is(err, errors.ErrTableDoesNotExist) || (err == nil && target.Trashed) {
			return errors.ErrCannotRestoreChildBeforeParent
		}
		if err != nil {
			return err
		}
	}

	name, err := restoredName(ctx, tx, f)
	if err != nil {
		return err
	}
	if err := tx.SetFieldTrashed(ctx, f.ID, false); err != nil {
		return err
	}
	f.Trashed = false
	if name != f.Name {
		f.Name = name
		if err := tx.UpdateField(ctx, f, f.UpdatedOn); err != nil {
			return err
		}
	}

	tx.OnCommit(func() {
		ev := events.New(events.FieldRestored, user, f.TableID)
		ev.Field = f
		ft.events.Publish(ev)
	})
	return nil
}

func (ft *FieldType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	f, err := tx.GetField(ctx, item.ID)
	if err != nil {
		return err
	}
	if err := ft.engine.DropFieldStorage(ctx, tx, f); err != nil {
		return fmt.Errorf("trashtypes: failed to drop field %d: %w", f.ID, err)
	}
	if err := tx.DeleteField(ctx, f.ID); err != nil {
		return err
	}

	r, err := relatedField(ctx, tx, f)
	if err != nil || r == nil {
		return err
	}
	if err := tx.DeleteFieldBackups(ctx, r.ID); err != nil {
		return err
	}
	return tx.DeleteField(ctx, r.ID)
}

// relatedField returns the reverse field of a link row field, or nil.
func relatedField(ctx context.Context, tx *catalog.Tx, f *types.Field) (*types.Field, error) {
	id := f.Params.LinkRowRelatedFieldID
	if f.Type != types.FieldTypeLinkRow || id == 0 || id == f.ID {
		return nil, nil
	}
	r, err := tx.GetField(ctx, id)
	if errors.Is(err, errors.ErrFieldDoesNotExist) {
		return nil, nil
	}
	return r, err
}

func restoredName(ctx context.Context, tx *catalog.Tx, f *types.Field) (string, error) {
	name := f.Name
	for i := 1; ; i++ {
		taken, err := tx.FieldNameExists(ctx, f.TableID, name, f.ID)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		if i == 1 {
			name = f.Name + " (restored)"
		} else {
			name = fmt.Sprintf("%s (restored %d)", f.Name, i)
		}
	}
}
