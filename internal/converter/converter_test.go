package converter

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type fixture struct {
	cat    *catalog.Catalog
	engine *Engine
	dbID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "gridbase.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	engine := NewEngine(row.NewStore(fieldtype.Default()))
	engine.now = func() time.Time { return testNow }

	fx := &fixture{cat: cat, engine: engine}
	err = cat.WithTx(context.Background(), func(tx *catalog.Tx) error {
		ws, err := tx.InsertWorkspace(context.Background(), "Acme", testNow)
		if err != nil {
			return err
		}
		app := &types.Application{WorkspaceID: ws.ID, Name: "CRM", Type: types.ApplicationTypeDatabase}
		if err := tx.InsertApplication(context.Background(), app, testNow); err != nil {
			return err
		}
		fx.dbID = app.ID
		return nil
	})
	require.NoError(t, err)
	return fx
}

func (fx *fixture) table(t *testing.T, name string) *types.Table {
	t.Helper()
	ctx := context.Background()
	table := &types.Table{DatabaseID: fx.dbID, Name: name}
	err := fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.InsertTable(ctx, table, testNow); err != nil {
			return err
		}
		return fx.engine.CreateTableStorage(ctx, tx, table.ID)
	})
	require.NoError(t, err)
	return table
}

func (fx *fixture) field(t *testing.T, table *types.Table, f *types.Field) *types.Field {
	t.Helper()
	ctx := context.Background()
	f.TableID = table.ID
	err := fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.InsertField(ctx, f, testNow); err != nil {
			return err
		}
		if _, err := fx.engine.AddFieldStorage(ctx, tx, f, table); err != nil {
			return err
		}
		return tx.UpdateField(ctx, f, testNow)
	})
	require.NoError(t, err)
	return f
}

func (fx *fixture) insert(t *testing.T, table *types.Table, values map[int64]any) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		id, err = fx.engine.rows.Insert(ctx, tx.Conn(), table.ID, values, testNow)
		return err
	})
	require.NoError(t, err)
	return id
}

func (fx *fixture) convert(t *testing.T, from, to *types.Field, table *types.Table) (*ConversionResult, error) {
	t.Helper()
	ctx := context.Background()
	unlock := fx.engine.LockField(from.ID)
	defer unlock()

	var res *ConversionResult
	err := fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		res, err = fx.engine.Convert(ctx, tx, from, to, table)
		if err != nil {
			return err
		}
		return tx.UpdateField(ctx, to, testNow)
	})
	return res, err
}

func (fx *fixture) column(t *testing.T, table *types.Table, f *types.Field) map[int64]any {
	t.Helper()
	cells, err := fx.engine.rows.ReadColumn(context.Background(), fx.cat.Read().Querier(), table.ID, schema.ColumnName(f.ID))
	require.NoError(t, err)
	out := make(map[int64]any, len(cells))
	for _, c := range cells {
		out[c.RowID] = c.Value
	}
	return out
}

func TestConvert_TextToNumberNullsUnparsableValues(t *testing.T) {
	fx := newFixture(t)
	table := fx.table(t, "Products")
	price := fx.field(t, table, &types.Field{Name: "Price", Type: types.FieldTypeText})

	r1 := fx.insert(t, table, map[int64]any{price.ID: "100"})
	r2 := fx.insert(t, table, map[int64]any{price.ID: "100.22"})
	r3 := fx.insert(t, table, map[int64]any{price.ID: "garbage"})

	to := price.Clone()
	to.Type = types.FieldTypeNumber
	to.Params = types.FieldParams{NumberDecimalPlaces: 2}

	res, err := fx.convert(t, price, to, table)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecreateCoerce, res.Strategy)
	assert.Equal(t, 1, res.Nulled)
	assert.NotEmpty(t, res.BackupID)

	values := fx.column(t, table, to)
	assert.Len(t, values, 3)
	assert.Equal(t, 100.0, values[r1])
	assert.Equal(t, 100.22, values[r2])
	assert.Nil(t, values[r3])
}

func TestConvert_SameParamsIsNoop(t *testing.T) {
	fx := newFixture(t)
	table := fx.table(t, "Products")
	name := fx.field(t, table, &types.Field{Name: "Name", Type: types.FieldTypeText})
	fx.insert(t, table, map[int64]any{name.ID: "Chair"})

	to := name.Clone()
	to.Name = "Title"
	res, err := fx.convert(t, name, to, table)
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, res.Strategy)
	assert.Empty(t, res.BackupID)

	err = fx.cat.WithTx(context.Background(), func(tx *catalog.Tx) error {
		_, err := fx.engine.LatestBackup(context.Background(), tx, name.ID)
		return err
	})
	assert.Equal(t, errors.CodeBackupDoesNotExist, errors.GetCode(err))
}

func TestConvert_TextToLinkProvisionsRelatedField(t *testing.T) {
	fx := newFixture(t)
	customers := fx.table(t, "Customers")
	orders := fx.table(t, "Orders")
	notes := fx.field(t, customers, &types.Field{Name: "Notes", Type: types.FieldTypeText})
	fx.insert(t, customers, map[int64]any{notes.ID: "vip"})
	fx.insert(t, customers, map[int64]any{notes.ID: ""})
	fx.insert(t, customers, map[int64]any{notes.ID: "late payer"})

	to := notes.Clone()
	to.Type = types.FieldTypeLinkRow
	to.Params = types.FieldParams{LinkRowTableID: orders.ID}

	res, err := fx.convert(t, notes, to, customers)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecreate, res.Strategy)
	assert.Equal(t, 2, res.Nulled)
	require.Len(t, res.RelatedCreated, 1)

	related := res.RelatedCreated[0]
	assert.Equal(t, orders.ID, related.TableID)
	assert.Equal(t, "Customers", related.Name)
	assert.Equal(t, customers.ID, related.Params.LinkRowTableID)
	assert.Equal(t, to.ID, related.Params.LinkRowRelatedFieldID)
	assert.Equal(t, to.ID, to.Params.LinkRowRelationID)
	assert.Equal(t, related.ID, to.Params.LinkRowRelatedFieldID)
	assert.True(t, to.IsRelationOwner())

	// Converting back removes the reverse field.
	back := to.Clone()
	back.Type = types.FieldTypeText
	back.Params = types.FieldParams{}
	res, err = fx.convert(t, to, back, customers)
	require.NoError(t, err)
	require.Len(t, res.RelatedDeleted, 1)
	assert.Equal(t, related.ID, res.RelatedDeleted[0].ID)

	fields, err := fx.cat.Read().ListFields(context.Background(), orders.ID, true)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestConvert_LinkToOtherTableStartsEmpty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	customers := fx.table(t, "Customers")
	orders := fx.table(t, "Orders")
	invoices := fx.table(t, "Invoices")
	link := fx.field(t, customers, &types.Field{Name: "Orders", Type: types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: orders.ID}})
	oldReverse := link.Params.LinkRowRelatedFieldID

	c1 := fx.insert(t, customers, nil)
	fx.insert(t, customers, nil)
	o1 := fx.insert(t, orders, nil)
	require.NoError(t, fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		return fx.engine.rows.SetLinks(ctx, tx.Conn(), link, c1, []int64{o1})
	}))

	to := link.Clone()
	to.Params = types.FieldParams{LinkRowTableID: invoices.ID}
	res, err := fx.convert(t, link, to, customers)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecreate, res.Strategy)
	assert.Equal(t, 1, res.Nulled)
	require.Len(t, res.RelatedDeleted, 1)
	assert.Equal(t, oldReverse, res.RelatedDeleted[0].ID)
	require.Len(t, res.RelatedCreated, 1)
	assert.Equal(t, invoices.ID, res.RelatedCreated[0].TableID)

	left, err := fx.cat.Read().ListFields(ctx, orders.ID, true)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Zero(t, relationRows(t, fx, to.Params.LinkRowRelationID))

	// Retargeting the reverse side drops the junction table it shared.
	reverse, err := fx.cat.Read().GetField(ctx, res.RelatedCreated[0].ID)
	require.NoError(t, err)
	retarget := reverse.Clone()
	retarget.Params = types.FieldParams{LinkRowTableID: orders.ID}
	res, err = fx.convert(t, reverse, retarget, invoices)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecreate, res.Strategy)
	require.Len(t, res.RelatedDeleted, 1)
	assert.Equal(t, to.ID, res.RelatedDeleted[0].ID)
	assert.False(t, relationExists(t, fx, to.ID))
	assert.True(t, relationExists(t, fx, retarget.ID))
}

func relationExists(t *testing.T, fx *fixture, relationID int64) bool {
	t.Helper()
	var n int
	require.NoError(t, fx.cat.Read().Querier().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		schema.RelationName(relationID)).Scan(&n))
	return n > 0
}

func relationRows(t *testing.T, fx *fixture, relationID int64) int {
	t.Helper()
	var n int
	require.NoError(t, fx.cat.Read().Querier().QueryRowContext(context.Background(),
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, schema.Quote(schema.RelationName(relationID)))).Scan(&n))
	return n
}

func TestConvert_RelatedFieldNameIsUnique(t *testing.T) {
	fx := newFixture(t)
	customers := fx.table(t, "Customers")
	orders := fx.table(t, "Orders")
	fx.field(t, orders, &types.Field{Name: "Customers", Type: types.FieldTypeText})

	link := fx.field(t, customers, &types.Field{
		Name:   "Orders",
		Type:   types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: orders.ID},
	})

	related, err := fx.cat.Read().GetField(context.Background(), link.Params.LinkRowRelatedFieldID)
	require.NoError(t, err)
	assert.Equal(t, "Customers - 2", related.Name)
}

func TestConvert_LinkToOtherDatabaseFails(t *testing.T) {
	fx := newFixture(t)
	customers := fx.table(t, "Customers")

	ctx := context.Background()
	var foreign *types.Table
	err := fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		app := &types.Application{WorkspaceID: 1, Name: "Other", Type: types.ApplicationTypeDatabase}
		if err := tx.InsertApplication(ctx, app, testNow); err != nil {
			return err
		}
		foreign = &types.Table{DatabaseID: app.ID, Name: "Elsewhere"}
		if err := tx.InsertTable(ctx, foreign, testNow); err != nil {
			return err
		}
		return fx.engine.CreateTableStorage(ctx, tx, foreign.ID)
	})
	require.NoError(t, err)

	err = fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		f := &types.Field{TableID: customers.ID, Name: "Link", Type: types.FieldTypeLinkRow,
			Params: types.FieldParams{LinkRowTableID: foreign.ID}}
		if err := tx.InsertField(ctx, f, testNow); err != nil {
			return err
		}
		_, err := fx.engine.AddFieldStorage(ctx, tx, f, customers)
		return err
	})
	assert.Equal(t, errors.CodeInvalidFieldParams, errors.GetCode(err))
}

func TestConvert_SelfLinkHasNoRelatedField(t *testing.T) {
	fx := newFixture(t)
	people := fx.table(t, "People")
	manager := fx.field(t, people, &types.Field{
		Name:   "Manager",
		Type:   types.FieldTypeLinkRow,
		Params: types.FieldParams{LinkRowTableID: people.ID},
	})
	assert.Equal(t, manager.ID, manager.Params.LinkRowRelationID)
	assert.Zero(t, manager.Params.LinkRowRelatedFieldID)

	fields, err := fx.cat.Read().ListFields(context.Background(), people.ID, false)
	require.NoError(t, err)
	assert.Len(t, fields, 1)
}

func TestConvert_DateToCreatedOnBackfills(t *testing.T) {
	fx := newFixture(t)
	table := fx.table(t, "Tickets")
	due := fx.field(t, table, &types.Field{Name: "Due", Type: types.FieldTypeDate})
	id := fx.insert(t, table, map[int64]any{due.ID: "2020-01-01T00:00:00.000000Z"})

	to := due.Clone()
	to.Type = types.FieldTypeCreatedOn
	to.Params = types.FieldParams{DateIncludeTime: true}

	res, err := fx.convert(t, due, to, table)
	require.NoError(t, err)
	assert.Equal(t, StrategyRecreateBackfill, res.Strategy)
	assert.Equal(t, "2024-03-01T10:30:00.000000Z", fx.column(t, table, to)[id])

	dateOnly := to.Clone()
	dateOnly.Params.DateIncludeTime = false
	_, err = fx.convert(t, to, dateOnly, table)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T00:00:00.000000Z", fx.column(t, table, dateOnly)[id])
}

func TestConvert_AddingTimeBackfillsFromSystemColumns(t *testing.T) {
	for _, typ := range []string{types.FieldTypeCreatedOn, types.FieldTypeLastModified} {
		t.Run(typ, func(t *testing.T) {
			fx := newFixture(t)
			table := fx.table(t, "Tickets")
			due := fx.field(t, table, &types.Field{Name: "Due", Type: types.FieldTypeDate})
			id := fx.insert(t, table, map[int64]any{due.ID: "2020-01-01T00:00:00.000000Z"})

			dateOnly := due.Clone()
			dateOnly.Type = typ
			dateOnly.Params = types.FieldParams{DateIncludeTime: false}
			_, err := fx.convert(t, due, dateOnly, table)
			require.NoError(t, err)
			assert.Equal(t, "2024-03-01T00:00:00.000000Z", fx.column(t, table, dateOnly)[id])

			// The time of day comes back from the row, not from the truncated column.
			withTime := dateOnly.Clone()
			withTime.Params.DateIncludeTime = true
			res, err := fx.convert(t, dateOnly, withTime, table)
			require.NoError(t, err)
			assert.Equal(t, StrategyRecreateBackfill, res.Strategy)
			assert.Zero(t, res.Nulled)
			assert.Equal(t, "2024-03-01T10:30:00.000000Z", fx.column(t, table, withTime)[id])
		})
	}
}

func TestBackup_RestoreValuesAfterConvertingBack(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	table := fx.table(t, "Products")
	price := fx.field(t, table, &types.Field{Name: "Price", Type: types.FieldTypeText})
	r1 := fx.insert(t, table, map[int64]any{price.ID: "12.5"})
	r2 := fx.insert(t, table, map[int64]any{price.ID: "n/a"})

	number := price.Clone()
	number.Type = types.FieldTypeNumber
	number.Params = types.FieldParams{NumberDecimalPlaces: 1}
	first, err := fx.convert(t, price, number, table)
	require.NoError(t, err)

	err = fx.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		b, err := fx.engine.LatestBackup(ctx, tx, price.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, first.BackupID, b.ID)
		assert.Equal(t, types.FieldTypeText, b.Field.Type)
		assert.Len(t, b.Cells, 2)

		if err := fx.engine.DiscardBackup(ctx, tx, b.ID); err != nil {
			return err
		}
		restored := b.Field.Clone()
		if _, err := fx.engine.Convert(ctx, tx, number, restored, table); err != nil {
			return err
		}
		n, err := fx.engine.RestoreValues(ctx, tx, restored, b)
		assert.Equal(t, 2, n)
		return err
	})
	require.NoError(t, err)

	values := fx.column(t, table, price)
	assert.Equal(t, "12.5", values[r1])
	assert.Equal(t, "n/a", values[r2])
}

func TestBackup_KeepsOnlyLatest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	table := fx.table(t, "Products")
	f := fx.field(t, table, &types.Field{Name: "Qty", Type: types.FieldTypeText})
	fx.insert(t, table, map[int64]any{f.ID: "3"})

	n1 := f.Clone()
	n1.Type = types.FieldTypeNumber
	_, err := fx.convert(t, f, n1, table)
	require.NoError(t, err)

	n2 := n1.Clone()
	n2.Params.NumberDecimalPlaces = 2
	second, err := fx.convert(t, n1, n2, table)
	require.NoError(t, err)

	var count int
	err = fx.cat.Read().Querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_backups WHERE field_id = ?`, f.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := fx.cat.Read().LatestFieldBackup(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, second.BackupID, stored.ID)
}

func TestProperty_ConversionPreservesRowCount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	n := 0
	properties.Property("text to number keeps every row and nulls only unparsable values", prop.ForAll(
		func(values []string) bool {
			n++
			table := fx.table(t, fmt.Sprintf("T%d", n))
			f := fx.field(t, table, &types.Field{Name: "Value", Type: types.FieldTypeText})
			for _, v := range values {
				fx.insert(t, table, map[int64]any{f.ID: v})
			}

			to := f.Clone()
			to.Type = types.FieldTypeNumber
			to.Params = types.FieldParams{NumberDecimalPlaces: 2, NumberNegative: true}
			res, err := fx.convert(t, f, to, table)
			if err != nil {
				return false
			}

			count, err := fx.engine.rows.Count(ctx, fx.cat.Read().Querier(), table.ID)
			if err != nil || count != int64(len(values)) {
				return false
			}

			bad := 0
			for _, v := range values {
				if v == "" {
					continue
				}
				if x, err := strconv.ParseFloat(v, 64); err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
					bad++
				}
			}
			return res.Nulled == bad
		},
		gen.SliceOf(gen.OneGenOf(
			gen.AlphaString(),
			gen.IntRange(-5000, 5000).Map(func(i int) string { return strconv.Itoa(i) }),
			gen.Float64Range(-100, 100).Map(func(f float64) string { return strconv.FormatFloat(f, 'f', 3, 64) }),
		)),
	))

	properties.TestingRun(t)
}
