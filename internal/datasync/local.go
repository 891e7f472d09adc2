package datasync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// TypeLocalTable mirrors another table of the same installation.
const TypeLocalTable = "local_table"

// ParamSourceTableID is the params key of the mirrored table.
const ParamSourceTableID = "source_table_id"

// RowIDKey is the unique primary property of a local table sync.
const RowIDKey = "id"

// syncedTypes maps the source field types that can be mirrored onto the
// type of the synced field.
var syncedTypes = map[string]string{
	types.FieldTypeText:         types.FieldTypeText,
	types.FieldTypeLongText:     types.FieldTypeLongText,
	types.FieldTypeNumber:       types.FieldTypeNumber,
	types.FieldTypeBoolean:      types.FieldTypeBoolean,
	types.FieldTypeDate:         types.FieldTypeDate,
	types.FieldTypeFile:         types.FieldTypeFile,
	types.FieldTypeCreatedOn:    types.FieldTypeDate,
	types.FieldTypeLastModified: types.FieldTypeDate,
}

// LocalTableType syncs the rows of a source table. The source row id is
// the unique primary property; every field of a mirrorable type is an
// optional property keyed "field_<id>".
type LocalTableType struct{}

func (LocalTableType) Type() string { return TypeLocalTable }

func (LocalTableType) Properties(ctx context.Context, src Source, ds *types.DataSync) ([]Property, error) {
	fields, err := sourceFields(ctx, src, ds)
	if err != nil {
		return nil, err
	}
	props := []Property{{
		Key:           RowIDKey,
		Name:          "Row ID",
		UniquePrimary: true,
		Field:         types.Field{Type: types.FieldTypeNumber},
	}}
	for _, f := range fields {
		target, ok := syncedTypes[f.Type]
		if !ok {
			continue
		}
		tmpl := types.Field{Type: target}
		switch target {
		case types.FieldTypeNumber:
			tmpl.Params.NumberDecimalPlaces = f.Params.NumberDecimalPlaces
			tmpl.Params.NumberNegative = f.Params.NumberNegative
		case types.FieldTypeDate:
			tmpl.Params.DateFormat = f.Params.DateFormat
			tmpl.Params.DateIncludeTime = f.Params.DateIncludeTime || f.Type != types.FieldTypeDate
		}
		props = append(props, Property{Key: types.FieldKey(f.ID), Name: f.Name, Field: tmpl})
	}
	return props, nil
}

func (LocalTableType) AllRows(ctx context.Context, src Source, ds *types.DataSync) ([]map[string]any, error) {
	fields, err := sourceFields(ctx, src, ds)
	if err != nil {
		return nil, err
	}
	mirrored := fields[:0]
	for _, f := range fields {
		if _, ok := syncedTypes[f.Type]; ok {
			mirrored = append(mirrored, f)
		}
	}
	tableID, _ := sourceTableID(ds)
	rows, err := src.Rows.List(ctx, src.Store.Querier(), tableID, mirrored)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		rec := make(map[string]any, len(mirrored)+1)
		rec[RowIDKey] = r.ID
		for _, f := range mirrored {
			rec[types.FieldKey(f.ID)] = r.Values[f.ID]
		}
		out = append(out, rec)
	}
	return out, nil
}

func sourceTableID(ds *types.DataSync) (int64, error) {
	raw, ok := ds.Params[ParamSourceTableID]
	if !ok {
		return 0, errors.NewValidationError(errors.CodeInvalidValue, ParamSourceTableID,
			"the source table id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError(errors.CodeInvalidValue, ParamSourceTableID,
			fmt.Sprintf("%q is not a table id", raw))
	}
	return id, nil
}

// sourceFields returns the live fields of the source table. A missing or
// trashed source is a sync error so it is recorded on the data sync.
func sourceFields(ctx context.Context, src Source, ds *types.DataSync) ([]*types.Field, error) {
	id, err := sourceTableID(ds)
	if err != nil {
		return nil, err
	}
	if id == ds.TableID {
		return nil, errors.NewValidationError(errors.CodeInvalidValue, ParamSourceTableID,
			"a table cannot sync itself")
	}
	t, err := src.Store.GetTable(ctx, id)
	if err != nil && errors.GetCode(err) != errors.CodeTableDoesNotExist {
		return nil, err
	}
	if t == nil || t.Trashed {
		return nil, errors.NewSyncError("the source table does not exist", err)
	}
	return src.Store.ListFields(ctx, id, false)
}
