package converter

import (
	"context"
	"fmt"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/pkg/types"
)

// CreateTableStorage creates the physical relation of a new table.
func (e *Engine) CreateTableStorage(ctx context.Context, tx *catalog.Tx, tableID int64) error {
	return e.editor.CreateTable(ctx, tx.Conn(), tableID)
}

// DropTableStorage drops a table's relation together with the junction
// tables of its link fields and the backups of its fields.
func (e *Engine) DropTableStorage(ctx context.Context, tx *catalog.Tx, tableID int64, fields []*types.Field) error {
	for _, f := range fields {
		if f.Type == types.FieldTypeLinkRow && f.Params.LinkRowRelationID != 0 {
			if err := e.editor.DropRelation(ctx, tx.Conn(), f.Params.LinkRowRelationID); err != nil {
				return err
			}
		}
		if err := tx.DeleteFieldBackups(ctx, f.ID); err != nil {
			return err
		}
	}
	return e.editor.DropTable(ctx, tx.Conn(), tableID)
}

// AddFieldStorage provisions the storage of a newly inserted field. For a
// link row field it creates the junction table and, unless the field links
// to its own table, the reverse field in the linked table. The field's
// link parameters are filled in; persisting them is up to the caller.
func (e *Engine) AddFieldStorage(ctx context.Context, tx *catalog.Tx, f *types.Field, table *types.Table) ([]*types.Field, error) {
	ft, err := e.types.Get(f.Type)
	if err != nil {
		return nil, err
	}
	return e.addFieldStorage(ctx, tx, f, ft, table)
}

// DropFieldStorage removes the column or junction table of a field that is
// being deleted for good. Reverse link fields are left to the caller.
func (e *Engine) DropFieldStorage(ctx context.Context, tx *catalog.Tx, f *types.Field) error {
	if _, err := e.dropFieldStorage(ctx, tx, f, false); err != nil {
		return err
	}
	return tx.DeleteFieldBackups(ctx, f.ID)
}

func (e *Engine) addFieldStorage(ctx context.Context, tx *catalog.Tx, f *types.Field, ft fieldtype.FieldType, table *types.Table) ([]*types.Field, error) {
	if !fieldtype.HasColumn(ft, f) {
		return e.provisionLink(ctx, tx, f, table)
	}

	column := columnOf(f)
	if err := e.editor.AddColumn(ctx, tx.Conn(), table.ID, column, ft.ColumnSQL(f), ft.Default(f)); err != nil {
		return nil, err
	}
	if src, ok := ft.(fieldtype.SystemSourced); ok {
		if err := e.rows.SyncSystemColumn(ctx, tx.Conn(), f, src.SourceColumn(), nil); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// dropFieldStorage drops the column or junction table of f. With
// deleteRelated the reverse link field is removed from the catalog as well
// and returned.
func (e *Engine) dropFieldStorage(ctx context.Context, tx *catalog.Tx, f *types.Field, deleteRelated bool) ([]*types.Field, error) {
	ft, err := e.types.Get(f.Type)
	if err != nil {
		return nil, err
	}
	if fieldtype.HasColumn(ft, f) {
		return nil, e.editor.DropColumn(ctx, tx.Conn(), f.TableID, columnOf(f))
	}

	if f.Params.LinkRowRelationID != 0 {
		if err := e.editor.DropRelation(ctx, tx.Conn(), f.Params.LinkRowRelationID); err != nil {
			return nil, err
		}
	}
	relatedID := f.Params.LinkRowRelatedFieldID
	if !deleteRelated || relatedID == 0 || relatedID == f.ID {
		return nil, nil
	}

	related, err := tx.GetField(ctx, relatedID)
	if errors.Is(err, errors.ErrFieldDoesNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteField(ctx, related.ID); err != nil {
		return nil, err
	}
	if err := tx.DeleteFieldBackups(ctx, related.ID); err != nil {
		return nil, err
	}
	return []*types.Field{related}, nil
}

// provisionLink creates the junction table of f and the reverse field.
func (e *Engine) provisionLink(ctx context.Context, tx *catalog.Tx, f *types.Field, table *types.Table) ([]*types.Field, error) {
	target, err := tx.GetTable(ctx, f.Params.LinkRowTableID)
	if err != nil {
		return nil, err
	}
	if target.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeTableDoesNotExist,
			fmt.Sprintf("table %d does not exist", target.ID))
	}
	if target.DatabaseID != table.DatabaseID {
		return nil, errors.NewValidationError(errors.CodeInvalidFieldParams, f.Name,
			"link row fields can only link to tables of the same database")
	}

	f.Params.LinkRowRelationID = f.ID
	f.Params.LinkRowRelatedFieldID = 0
	if err := e.editor.CreateRelation(ctx, tx.Conn(), f.ID); err != nil {
		return nil, err
	}
	if target.ID == table.ID {
		return nil, nil
	}

	name, err := UniqueFieldName(ctx, tx, target.ID, table.Name)
	if err != nil {
		return nil, err
	}
	order, err := tx.MaxFieldOrder(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	related := &types.Field{
		TableID: target.ID,
		Name:    name,
		Type:    types.FieldTypeLinkRow,
		Order:   order + 1,
		Params: types.FieldParams{
			LinkRowTableID:        table.ID,
			LinkRowRelatedFieldID: f.ID,
			LinkRowRelationID:     f.ID,
		},
	}
	if err := tx.InsertField(ctx, related, e.now()); err != nil {
		return nil, err
	}
	f.Params.LinkRowRelatedFieldID = related.ID
	return []*types.Field{related}, nil
}

// UniqueFieldName returns base, or base with the lowest " - N" suffix that
// is free in the table.
func UniqueFieldName(ctx context.Context, tx *catalog.Tx, tableID int64, base string) (string, error) {
	name := base
	for i := 2; ; i++ {
		exists, err := tx.FieldNameExists(ctx, tableID, name, 0)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s - %d", base, i)
	}
}
