package row_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/pkg/types"
)

type recordingTrasher struct {
	itemType string
	itemID   int64
	parentID *int64
}

func (r *recordingTrasher) Trash(_ context.Context, _ types.UserID, itemType string, itemID int64, parentID *int64) (*types.TrashEntry, error) {
	r.itemType, r.itemID, r.parentID = itemType, itemID, parentID
	return &types.TrashEntry{ItemType: itemType, ItemID: itemID}, nil
}

type harness struct {
	cat     *catalog.Catalog
	engine  *converter.Engine
	handler *row.Handler
	events  *events.Subscriber
	dbID    int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "gridbase.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	store := row.NewStore(fieldtype.Default())
	bus := events.NewBus(32)
	h := &harness{
		cat:     cat,
		engine:  converter.NewEngine(store),
		handler: row.NewHandler(cat, store, nil, bus),
		events:  bus.Subscribe(),
	}
	err = cat.WithTx(ctx, func(tx *catalog.Tx) error {
		ws, err := tx.InsertWorkspace(ctx, "Acme", time.Now())
		if err != nil {
			return err
		}
		app := &types.Application{WorkspaceID: ws.ID, Name: "CRM", Type: types.ApplicationTypeDatabase}
		if err := tx.InsertApplication(ctx, app, time.Now()); err != nil {
			return err
		}
		h.dbID = app.ID
		return nil
	})
	require.NoError(t, err)
	return h
}

func (h *harness) table(t *testing.T, name string) *types.Table {
	t.Helper()
	ctx := context.Background()
	table := &types.Table{DatabaseID: h.dbID, Name: name}
	require.NoError(t, h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.InsertTable(ctx, table, time.Now()); err != nil {
			return err
		}
		return h.engine.CreateTableStorage(ctx, tx, table.ID)
	}))
	return table
}

func (h *harness) field(t *testing.T, table *types.Table, f *types.Field) *types.Field {
	t.Helper()
	ctx := context.Background()
	f.TableID = table.ID
	require.NoError(t, h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.InsertField(ctx, f, time.Now()); err != nil {
			return err
		}
		if _, err := h.engine.AddFieldStorage(ctx, tx, f, table); err != nil {
			return err
		}
		return tx.UpdateField(ctx, f, time.Now())
	}))
	return f
}

func TestHandler_CreateRowCoercesAndFillsDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	table := h.table(t, "Products")
	name := h.field(t, table, &types.Field{Name: "Name", Type: types.FieldTypeText,
		Params: types.FieldParams{TextDefault: "unnamed"}})
	price := h.field(t, table, &types.Field{Name: "Price", Type: types.FieldTypeNumber,
		Params: types.FieldParams{NumberDecimalPlaces: 2}})
	active := h.field(t, table, &types.Field{Name: "Active", Type: types.FieldTypeBoolean})

	r, err := h.handler.CreateRow(ctx, 7, table.ID, map[int64]any{price.ID: "19.99"})
	require.NoError(t, err)
	assert.Equal(t, "unnamed", r.Values[name.ID])
	assert.Equal(t, 19.99, r.Values[price.ID])
	assert.Equal(t, false, r.Values[active.ID])

	evs := h.events.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.RowCreated, evs[0].Type)
	assert.Equal(t, types.UserID(7), evs[0].User)
	assert.Equal(t, r.ID, evs[0].Row["id"])
	assert.Equal(t, "unnamed", evs[0].Row[types.FieldKey(name.ID)])
}

func TestHandler_RejectsUnknownAndReadOnlyFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	table := h.table(t, "Products")
	h.field(t, table, &types.Field{Name: "Name", Type: types.FieldTypeText})
	created := h.field(t, table, &types.Field{Name: "Created", Type: types.FieldTypeCreatedOn})

	_, err := h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{999: "x"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeFieldDoesNotExist, errors.GetCode(err))
	var ge *errors.GridError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "field_999", ge.Field())

	_, err = h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{created.ID: "2020-01-01"})
	assert.Equal(t, errors.CodeFieldReadOnly, errors.GetCode(err))
	assert.Empty(t, h.events.Drain())
}

func TestHandler_CoercionFailureNamesField(t *testing.T) {
	h := newHarness(t)
	table := h.table(t, "Products")
	price := h.field(t, table, &types.Field{Name: "Price", Type: types.FieldTypeNumber})

	_, err := h.handler.CreateRow(context.Background(), 1, table.ID, map[int64]any{price.ID: "abc"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))
	var ge *errors.GridError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "Price", ge.Field())
}

func TestHandler_FormulasRecomputeOnEveryWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	table := h.table(t, "Products")
	price := h.field(t, table, &types.Field{Name: "Price", Type: types.FieldTypeNumber})
	double := h.field(t, table, &types.Field{Name: "Double", Type: types.FieldTypeFormula,
		Params: types.FieldParams{Formula: "field('Price') * 2"}})
	label := h.field(t, table, &types.Field{Name: "Label", Type: types.FieldTypeFormula,
		Params: types.FieldParams{Formula: "concat('x', field('Double'))"}})
	broken := h.field(t, table, &types.Field{Name: "Broken", Type: types.FieldTypeFormula,
		Params: types.FieldParams{Formula: "field('Price') / 0"}})

	r, err := h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{price.ID: 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, r.Values[double.ID])
	assert.Equal(t, "x42", r.Values[label.ID])
	assert.Nil(t, r.Values[broken.ID])

	r, err = h.handler.UpdateRow(ctx, 1, table.ID, r.ID, map[int64]any{price.ID: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 10, r.Values[double.ID])
	assert.Equal(t, "x10", r.Values[label.ID])

	_, err = h.handler.UpdateRow(ctx, 1, table.ID, r.ID, map[int64]any{double.ID: 3})
	assert.Equal(t, errors.CodeFieldReadOnly, errors.GetCode(err))
}

func TestHandler_UpdateRowPublishesBeforeAndAfter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	table := h.table(t, "Tasks")
	title := h.field(t, table, &types.Field{Name: "Title", Type: types.FieldTypeText})
	modified := h.field(t, table, &types.Field{Name: "Modified", Type: types.FieldTypeLastModified,
		Params: types.FieldParams{DateIncludeTime: true}})

	r, err := h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{title.ID: "draft"})
	require.NoError(t, err)
	assert.Equal(t, types.FormatTimestamp(r.UpdatedOn), r.Values[modified.ID])
	h.events.Drain()

	r, err = h.handler.UpdateRow(ctx, 2, table.ID, r.ID, map[int64]any{title.ID: "final"})
	require.NoError(t, err)
	assert.Equal(t, types.FormatTimestamp(r.UpdatedOn), r.Values[modified.ID])

	evs := h.events.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.RowUpdated, evs[0].Type)
	assert.Equal(t, "draft", evs[0].RowBefore[types.FieldKey(title.ID)])
	assert.Equal(t, "final", evs[0].Row[types.FieldKey(title.ID)])

	_, err = h.handler.UpdateRow(ctx, 2, table.ID, 999, map[int64]any{title.ID: "x"})
	assert.True(t, errors.Is(err, errors.ErrRowDoesNotExist))
}

func TestHandler_LinksAreValidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customers := h.table(t, "Customers")
	orders := h.table(t, "Orders")
	h.field(t, orders, &types.Field{Name: "Ref", Type: types.FieldTypeText})
	link := h.field(t, customers, &types.Field{Name: "Orders", Type: types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: orders.ID}})

	o1, err := h.handler.CreateRow(ctx, 1, orders.ID, nil)
	require.NoError(t, err)
	o2, err := h.handler.CreateRow(ctx, 1, orders.ID, nil)
	require.NoError(t, err)

	c, err := h.handler.CreateRow(ctx, 1, customers.ID, map[int64]any{link.ID: []any{o2.ID, o1.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{o1.ID, o2.ID}, c.Values[link.ID])

	// The reverse field sees the link from the other side.
	back, err := h.handler.GetRow(ctx, orders.ID, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, back.Values[link.Params.LinkRowRelatedFieldID])

	_, err = h.handler.CreateRow(ctx, 1, customers.ID, map[int64]any{link.ID: []any{12345}})
	assert.Equal(t, errors.CodeInvalidValue, errors.GetCode(err))
}

func TestHandler_LinkChangesPublishLinkedRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customers := h.table(t, "Customers")
	orders := h.table(t, "Orders")
	link := h.field(t, customers, &types.Field{Name: "Orders", Type: types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: orders.ID}})
	reverse := types.FieldKey(link.Params.LinkRowRelatedFieldID)

	o1, err := h.handler.CreateRow(ctx, 1, orders.ID, nil)
	require.NoError(t, err)
	o2, err := h.handler.CreateRow(ctx, 1, orders.ID, nil)
	require.NoError(t, err)
	h.events.Drain()

	c, err := h.handler.CreateRow(ctx, 1, customers.ID, map[int64]any{link.ID: []any{o1.ID}})
	require.NoError(t, err)
	evs := h.events.Drain()
	require.Len(t, evs, 2)
	assert.Equal(t, events.RowCreated, evs[0].Type)
	assert.Equal(t, events.RowUpdated, evs[1].Type)
	assert.Equal(t, orders.ID, evs[1].TableID)
	assert.Equal(t, o1.ID, evs[1].Row["id"])
	assert.Equal(t, []any{map[string]any{"id": c.ID}}, evs[1].Row[reverse])

	// Moving the link touches both the old and the new order.
	_, err = h.handler.UpdateRow(ctx, 1, customers.ID, c.ID, map[int64]any{link.ID: []any{o2.ID}})
	require.NoError(t, err)
	evs = h.events.Drain()
	require.Len(t, evs, 3)
	assert.Equal(t, customers.ID, evs[0].TableID)
	assert.Equal(t, o1.ID, evs[1].Row["id"])
	assert.Equal(t, []any{}, evs[1].Row[reverse])
	assert.Equal(t, o2.ID, evs[2].Row["id"])

	// Writing the same links again changes nothing on the other side.
	_, err = h.handler.UpdateRow(ctx, 1, customers.ID, c.ID, map[int64]any{link.ID: []any{o2.ID}})
	require.NoError(t, err)
	assert.Len(t, h.events.Drain(), 1)
}

func TestHandler_FileNamesMustExist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	table := h.table(t, "Docs")
	file := h.field(t, table, &types.Field{Name: "Attachment", Type: types.FieldTypeFile})

	_, err := h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{file.ID: []any{map[string]any{"name": "missing.txt"}}})
	assert.Equal(t, errors.CodeInvalidValue, errors.GetCode(err))

	require.NoError(t, h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		return tx.InsertUserFile(ctx, &types.UserFile{Name: "abc_report.txt", OriginalName: "report.txt",
			Size: 3, MimeType: "text/plain", UploadedBy: 1, UploadedAt: time.Now()})
	}))
	r, err := h.handler.CreateRow(ctx, 1, table.ID, map[int64]any{file.ID: []any{"abc_report.txt"}})
	require.NoError(t, err)
	assert.NotNil(t, r.Values[file.ID])
}

func TestHandler_DeleteRowGoesToTrash(t *testing.T) {
	h := newHarness(t)
	table := h.table(t, "Tasks")
	trasher := &recordingTrasher{}

	err := h.handler.DeleteRow(context.Background(), 1, table.ID, 5)
	assert.Equal(t, errors.CodeUnexpected, errors.GetCode(err))

	h.handler.SetTrasher(trasher)
	require.NoError(t, h.handler.DeleteRow(context.Background(), 1, table.ID, 5))
	assert.Equal(t, types.TrashTypeRow, trasher.itemType)
	assert.Equal(t, int64(5), trasher.itemID)
	require.NotNil(t, trasher.parentID)
	assert.Equal(t, table.ID, *trasher.parentID)
}

func TestHandler_GetRowMissing(t *testing.T) {
	h := newHarness(t)
	table := h.table(t, "Tasks")
	_, err := h.handler.GetRow(context.Background(), table.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrRowDoesNotExist))

	_, err = h.handler.GetRow(context.Background(), 4242, 1)
	assert.True(t, errors.Is(err, errors.ErrTableDoesNotExist))
}
