package trashtypes

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/trash"
	"github.com/gridbase/gridbase/pkg/types"
)

// RowType trashes rows. Row ids are only unique within their table.
type RowType struct {
	rows   *row.Store
	events events.Publisher
}

func (*RowType) Type() string           { return types.TrashTypeRow }
func (*RowType) ParentType() string     { return types.TrashTypeTable }
func (*RowType) RequiresParentID() bool { return true }

func (rt *RowType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, parentID *int64) (*trash.Item, error) {
	if parentID == nil {
		return nil, fmt.Errorf("trashtypes: row %d looked up without its table", id)
	}
	t, err := tx.GetTable(ctx, *parentID)
	if err != nil {
		return nil, err
	}
	app, err := tx.GetApplication(ctx, t.DatabaseID)
	if err != nil {
		return nil, err
	}
	fields, err := tx.ListFields(ctx, t.ID, false)
	if err != nil {
		return nil, err
	}
	r, err := rt.rows.Get(ctx, tx.Conn(), t.ID, id, fields, true)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:          types.TrashTypeRow,
		ID:            r.ID,
		ParentID:      &t.ID,
		Name:          rt.rowName(fields, r),
		ParentName:    t.Name,
		Trashed:       r.Trashed,
		WorkspaceID:   app.WorkspaceID,
		ApplicationID: &app.ID,
	}, nil
}

// rowName renders the primary field value, falling back to the id.
func (rt *RowType) rowName(fields []*types.Field, r *types.Row) string {
	for _, f := range fields {
		if !f.Primary {
			continue
		}
		ft, err := rt.rows.Types().Get(f.Type)
		if err != nil {
			break
		}
		if v := ft.Serialize(f, r.Values[f.ID]); v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
		break
	}
	return strconv.FormatInt(r.ID, 10)
}

func (rt *RowType) Trash(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	tableID := *item.ParentID
	serialized, err := rt.serialize(ctx, tx, tableID, item.ID)
	if err != nil {
		return nil, err
	}
	if err := rt.rows.SetTrashed(ctx, tx.Conn(), tableID, item.ID, true); err != nil {
		return nil, err
	}
	tx.OnCommit(func() {
		ev := events.New(events.RowDeleted, user, tableID)
		ev.RowBefore = serialized
		rt.events.Publish(ev)
	})
	return nil, nil
}

func (rt *RowType) Restore(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) error {
	tableID := *item.ParentID
	if err := rt.rows.SetTrashed(ctx, tx.Conn(), tableID, item.ID, false); err != nil {
		return err
	}
	serialized, err := rt.serialize(ctx, tx, tableID, item.ID)
	if err != nil {
		return err
	}
	tx.OnCommit(func() {
		ev := events.New(events.RowCreated, user, tableID)
		ev.Row = serialized
		rt.events.Publish(ev)
	})
	return nil
}

func (rt *RowType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	tableID := *item.ParentID
	fields, err := tx.ListFields(ctx, tableID, true)
	if err != nil {
		return err
	}
	return rt.rows.Delete(ctx, tx.Conn(), tableID, item.ID, fields)
}

func (rt *RowType) serialize(ctx context.Context, tx *catalog.Tx, tableID, rowID int64) (map[string]any, error) {
	fields, err := tx.ListFields(ctx, tableID, false)
	if err != nil {
		return nil, err
	}
	r, err := rt.rows.Get(ctx, tx.Conn(), tableID, rowID, fields, true)
	if err != nil {
		return nil, err
	}
	return row.Serialize(rt.rows.Types(), fields, r), nil
}

// ViewType trashes views.
type ViewType struct {
	events events.Publisher
}

func (*ViewType) Type() string           { return types.TrashTypeView }
func (*ViewType) ParentType() string     { return types.TrashTypeTable }
func (*ViewType) RequiresParentID() bool { return false }

func (*ViewType) Lookup(ctx context.Context, tx *catalog.Tx, id int64, _ *int64) (*trash.Item, error) {
	v, err := tx.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := tx.GetTable(ctx, v.TableID)
	if err != nil {
		return nil, err
	}
	app, err := tx.GetApplication(ctx, t.DatabaseID)
	if err != nil {
		return nil, err
	}
	return &trash.Item{
		Type:          types.TrashTypeView,
		ID:            v.ID,
		ParentID:      &t.ID,
		Name:          v.Name,
		ParentName:    t.Name,
		Trashed:       v.Trashed,
		WorkspaceID:   app.WorkspaceID,
		ApplicationID: &app.ID,
	}, nil
}

func (vt *ViewType) Trash(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) ([]types.TrashItemRef, error) {
	if err := tx.SetViewTrashed(ctx, item.ID, true); err != nil {
		return nil, err
	}
	return nil, vt.publish(ctx, tx, user, events.ViewDeleted, item.ID)
}

func (vt *ViewType) Restore(ctx context.Context, tx *catalog.Tx, user types.UserID, item *trash.Item) error {
	if err := tx.SetViewTrashed(ctx, item.ID, false); err != nil {
		return err
	}
	return vt.publish(ctx, tx, user, events.ViewCreated, item.ID)
}

func (*ViewType) PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *trash.Item) error {
	return tx.DeleteView(ctx, item.ID)
}

func (vt *ViewType) publish(ctx context.Context, tx *catalog.Tx, user types.UserID, t events.Type, viewID int64) error {
	v, err := tx.GetView(ctx, viewID)
	if err != nil {
		return err
	}
	tx.OnCommit(func() {
		ev := events.New(t, user, v.TableID)
		ev.View = v
		vt.events.Publish(ev)
	})
	return nil
}
