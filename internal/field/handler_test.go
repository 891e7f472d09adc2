package field_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/field"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/table"
	"github.com/gridbase/gridbase/internal/trash"
	"github.com/gridbase/gridbase/internal/trashtypes"
	"github.com/gridbase/gridbase/internal/workspace"
	"github.com/gridbase/gridbase/pkg/types"
)

const user = types.UserID(5)

type harness struct {
	fields *field.Handler
	rows   *row.Handler
	tables *table.Handler
	events *events.Subscriber
	dbID   int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "gridbase.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	store := row.NewStore(fieldtype.Default())
	bus := events.NewBus(64)
	conv := converter.NewEngine(store)
	registry := trash.NewRegistry()
	require.NoError(t, trashtypes.Register(registry, conv, store, bus))
	trashEngine := trash.NewEngine(cat, registry, 0)

	rows := row.NewHandler(cat, store, nil, bus)
	rows.SetTrasher(trashEngine)
	workspaces := workspace.NewHandler(cat, trashEngine)
	h := &harness{
		fields: field.NewHandler(cat, conv, rows, trashEngine, bus),
		rows:   rows,
		tables: table.NewHandler(cat, conv, trashEngine, bus),
		events: bus.Subscribe(events.FieldCreated, events.FieldUpdated, events.FieldDeleted),
	}

	ws, err := workspaces.CreateWorkspace(ctx, user, "Acme")
	require.NoError(t, err)
	db, err := workspaces.CreateDatabase(ctx, user, ws.ID, "CRM")
	require.NoError(t, err)
	h.dbID = db.ID
	return h
}

func (h *harness) table(t *testing.T, name string) (*types.Table, *types.Field) {
	t.Helper()
	ctx := context.Background()
	tbl, err := h.tables.CreateTable(ctx, user, h.dbID, name)
	require.NoError(t, err)
	fields, err := h.fields.ListFields(ctx, tbl.ID)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	return tbl, fields[0]
}

func (h *harness) create(t *testing.T, tableID int64, f *types.Field) *types.Field {
	t.Helper()
	created, _, err := h.fields.CreateField(context.Background(), user, tableID, f)
	require.NoError(t, err)
	return created
}

func strPtr(s string) *string { return &s }

func TestCreateField_ValidatesName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tbl, _ := h.table(t, "Products")

	f := h.create(t, tbl.ID, &types.Field{Name: "  Price ", Type: types.FieldTypeNumber})
	assert.Equal(t, "Price", f.Name)
	assert.Equal(t, 1, f.Order)

	_, _, err := h.fields.CreateField(ctx, user, tbl.ID, &types.Field{Name: "Price", Type: types.FieldTypeText})
	assert.Equal(t, errors.CodeFieldWithSameNameExists, errors.GetCode(err))

	_, _, err = h.fields.CreateField(ctx, user, tbl.ID, &types.Field{Name: "ID", Type: types.FieldTypeText})
	assert.Equal(t, errors.CodeInvalidName, errors.GetCode(err))

	_, _, err = h.fields.CreateField(ctx, user, tbl.ID, &types.Field{Name: "Ratio", Type: types.FieldTypeNumber,
		Params: types.FieldParams{NumberDecimalPlaces: 42}})
	assert.Equal(t, errors.CodeInvalidFieldParams, errors.GetCode(err))

	_, _, err = h.fields.CreateField(ctx, user, tbl.ID, &types.Field{Name: "Shape", Type: "polygon"})
	assert.Equal(t, errors.CodeFieldTypeDoesNotExist, errors.GetCode(err))

	evs := h.events.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.FieldCreated, evs[0].Type)
	assert.Equal(t, f.ID, evs[0].Field.ID)
}

func TestCreateField_LinkReturnsRelatedField(t *testing.T) {
	h := newHarness(t)
	orders, _ := h.table(t, "Orders")
	customers, _ := h.table(t, "Customers")

	link, related, err := h.fields.CreateField(context.Background(), user, orders.ID, &types.Field{
		Name: "Customer", Type: types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: customers.ID},
	})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "Orders", related[0].Name)
	assert.Equal(t, customers.ID, related[0].TableID)
	assert.Equal(t, related[0].ID, link.Params.LinkRowRelatedFieldID)
	assert.Equal(t, link.ID, link.Params.LinkRowRelationID)

	stored, err := h.fields.GetField(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.Params, stored.Params)

	evs := h.events.Drain()
	require.Len(t, evs, 1)
	assert.Len(t, evs[0].RelatedFields, 1)
}

func TestCreateField_FormulaIsComputedForExistingRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tbl, _ := h.table(t, "Products")
	price := h.create(t, tbl.ID, &types.Field{Name: "Price", Type: types.FieldTypeNumber})
	r, err := h.rows.CreateRow(ctx, user, tbl.ID, map[int64]any{price.ID: 21})
	require.NoError(t, err)

	double := h.create(t, tbl.ID, &types.Field{Name: "Double", Type: types.FieldTypeFormula,
		Params: types.FieldParams{Formula: "field('Price') * 2"}})
	got, err := h.rows.GetRow(ctx, tbl.ID, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.Values[double.ID])

	// Renaming the referenced field breaks the formula.
	_, _, err = h.fields.UpdateField(ctx, user, price.ID, field.Update{Name: strPtr("Cost")})
	require.NoError(t, err)
	got, err = h.rows.GetRow(ctx, tbl.ID, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Values[double.ID])
}

func TestUpdateField_ConvertsValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tbl, _ := h.table(t, "Products")
	price := h.create(t, tbl.ID, &types.Field{Name: "Price", Type: types.FieldTypeText})
	r1, err := h.rows.CreateRow(ctx, user, tbl.ID, map[int64]any{price.ID: "12.5"})
	require.NoError(t, err)
	r2, err := h.rows.CreateRow(ctx, user, tbl.ID, map[int64]any{price.ID: "n/a"})
	require.NoError(t, err)
	h.events.Drain()

	number := types.FieldTypeNumber
	updated, res, err := h.fields.UpdateField(ctx, user, price.ID, field.Update{
		Type:   &number,
		Params: &types.FieldParams{NumberDecimalPlaces: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, types.FieldTypeNumber, updated.Type)
	assert.Equal(t, converter.StrategyRecreateCoerce, res.Strategy)
	assert.Equal(t, 1, res.Nulled)
	assert.NotEmpty(t, res.BackupID)

	got, err := h.rows.GetRow(ctx, tbl.ID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Values[price.ID])
	got, err = h.rows.GetRow(ctx, tbl.ID, r2.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Values[price.ID])

	evs := h.events.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.FieldUpdated, evs[0].Type)
	assert.Equal(t, types.FieldTypeNumber, evs[0].Field.Type)
}

func TestUpdateField_RenameOnlyKeepsStorage(t *testing.T) {
	h := newHarness(t)
	tbl, _ := h.table(t, "Products")
	notes := h.create(t, tbl.ID, &types.Field{Name: "Notes", Type: types.FieldTypeText})
	h.create(t, tbl.ID, &types.Field{Name: "Remarks", Type: types.FieldTypeText})

	updated, res, err := h.fields.UpdateField(context.Background(), user, notes.ID, field.Update{Name: strPtr("Comments")})
	require.NoError(t, err)
	assert.Equal(t, "Comments", updated.Name)
	assert.Equal(t, converter.StrategyNone, res.Strategy)

	_, _, err = h.fields.UpdateField(context.Background(), user, notes.ID, field.Update{Name: strPtr("Remarks")})
	assert.Equal(t, errors.CodeFieldWithSameNameExists, errors.GetCode(err))
}

func TestUpdateField_PrimaryCannotBecomeLink(t *testing.T) {
	h := newHarness(t)
	orders, primary := h.table(t, "Orders")
	customers, _ := h.table(t, "Customers")

	link := types.FieldTypeLinkRow
	_, _, err := h.fields.UpdateField(context.Background(), user, primary.ID, field.Update{
		Type:   &link,
		Params: &types.FieldParams{LinkRowTableID: customers.ID},
	})
	assert.Equal(t, errors.CodeInvalidFieldParams, errors.GetCode(err))

	got, err := h.fields.GetField(context.Background(), primary.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FieldTypeText, got.Type)
	assert.Equal(t, orders.ID, got.TableID)
}

func TestUndoUpdate_RestoresDefinitionAndValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tbl, _ := h.table(t, "Products")
	price := h.create(t, tbl.ID, &types.Field{Name: "Price", Type: types.FieldTypeText})
	r, err := h.rows.CreateRow(ctx, user, tbl.ID, map[int64]any{price.ID: "n/a"})
	require.NoError(t, err)

	_, err = h.fields.UndoUpdate(ctx, user, price.ID)
	assert.True(t, errors.Is(err, errors.ErrBackupDoesNotExist))

	number := types.FieldTypeNumber
	_, _, err = h.fields.UpdateField(ctx, user, price.ID, field.Update{Type: &number})
	require.NoError(t, err)

	reverted, err := h.fields.UndoUpdate(ctx, user, price.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FieldTypeText, reverted.Type)
	assert.Equal(t, "Price", reverted.Name)

	got, err := h.rows.GetRow(ctx, tbl.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "n/a", got.Values[price.ID])
}

func TestUndoUpdate_RestoresLinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orders, _ := h.table(t, "Orders")
	customers, name := h.table(t, "Customers")
	link := h.create(t, orders.ID, &types.Field{Name: "Customer", Type: types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: customers.ID}})

	ada, err := h.rows.CreateRow(ctx, user, customers.ID, map[int64]any{name.ID: "Ada"})
	require.NoError(t, err)
	order, err := h.rows.CreateRow(ctx, user, orders.ID, map[int64]any{link.ID: []int64{ada.ID}})
	require.NoError(t, err)

	text := types.FieldTypeText
	_, res, err := h.fields.UpdateField(ctx, user, link.ID, field.Update{Type: &text, Params: &types.FieldParams{}})
	require.NoError(t, err)
	require.Len(t, res.RelatedDeleted, 1)

	reverted, err := h.fields.UndoUpdate(ctx, user, link.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FieldTypeLinkRow, reverted.Type)
	assert.NotZero(t, reverted.Params.LinkRowRelatedFieldID)

	got, err := h.rows.GetRow(ctx, orders.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{ada.ID}, got.Values[link.ID])
}

func TestDeleteField(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tbl, primary := h.table(t, "Products")
	notes := h.create(t, tbl.ID, &types.Field{Name: "Notes", Type: types.FieldTypeText})

	err := h.fields.DeleteField(ctx, user, primary.ID)
	assert.Equal(t, errors.CodeCannotDeletePrimaryField, errors.GetCode(err))

	require.NoError(t, h.fields.DeleteField(ctx, user, notes.ID))
	_, err = h.fields.GetField(ctx, notes.ID)
	assert.True(t, errors.Is(err, errors.ErrFieldDoesNotExist))

	fields, err := h.fields.ListFields(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Len(t, fields, 1)

	// The name is free again while the field sits in the trash.
	h.create(t, tbl.ID, &types.Field{Name: "Notes", Type: types.FieldTypeText})
}
