package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "gridbase.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_WithTxCommitsAndRunsHooks(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	var hookRan bool
	var wsID int64
	err := c.WithTx(ctx, func(tx *Tx) error {
		ws, err := tx.InsertWorkspace(ctx, "Acme", time.Now())
		if err != nil {
			return err
		}
		wsID = ws.ID
		tx.OnCommit(func() { hookRan = true })
		return nil
	})
	require.NoError(t, err)
	assert.True(t, hookRan)

	ws, err := c.Read().GetWorkspace(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", ws.Name)
}

func TestCatalog_WithTxRollsBackOnError(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	var hookRan bool
	var wsID int64
	err := c.WithTx(ctx, func(tx *Tx) error {
		ws, err := tx.InsertWorkspace(ctx, "Doomed", time.Now())
		require.NoError(t, err)
		wsID = ws.ID
		tx.OnCommit(func() { hookRan = true })
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	assert.False(t, hookRan)

	_, err = c.Read().GetWorkspace(ctx, wsID)
	assert.True(t, errors.Is(err, errors.ErrWorkspaceDoesNotExist))
}

func TestCatalog_WithTxReleasesLockOnPanic(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = c.WithTx(ctx, func(tx *Tx) error {
			_, err := tx.InsertWorkspace(ctx, "Doomed", time.Now())
			require.NoError(t, err)
			panic("handler bug")
		})
	})

	done := make(chan error, 1)
	go func() {
		done <- c.WithTx(ctx, func(tx *Tx) error {
			_, err := tx.InsertWorkspace(ctx, "Acme", time.Now())
			return err
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer lock was not released")
	}

	var doomed int
	require.NoError(t, c.Read().Querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspaces WHERE name = ?`, "Doomed").Scan(&doomed))
	assert.Zero(t, doomed)
}

func TestCatalog_FieldRoundTripAndNameCheck(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	f := &types.Field{
		TableID: 1,
		Name:    "Price",
		Type:    types.FieldTypeNumber,
		Params:  types.FieldParams{NumberDecimalPlaces: 2},
	}
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertField(ctx, f, time.Now())
	}))
	require.NotZero(t, f.ID)

	got, err := c.Read().GetField(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Params.NumberDecimalPlaces)

	exists, err := c.Read().FieldNameExists(ctx, 1, "Price", 0)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.Read().FieldNameExists(ctx, 1, "Price", f.ID)
	require.NoError(t, err)
	assert.False(t, exists, "the field itself does not collide")

	// trashed fields free their name
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		return tx.SetFieldTrashed(ctx, f.ID, true)
	}))
	exists, err = c.Read().FieldNameExists(ctx, 1, "Price", 0)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.Read().GetField(ctx, 999)
	assert.True(t, errors.Is(err, errors.ErrFieldDoesNotExist))
}

func TestCatalog_ListFieldsLinkingTo(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertField(ctx, &types.Field{TableID: 1, Name: "Customer", Type: types.FieldTypeLinkRow,
			Params: types.FieldParams{LinkRowTableID: 2}}, time.Now()); err != nil {
			return err
		}
		return tx.InsertField(ctx, &types.Field{TableID: 3, Name: "Other", Type: types.FieldTypeLinkRow,
			Params: types.FieldParams{LinkRowTableID: 4}}, time.Now())
	}))

	fields, err := c.Read().ListFieldsLinkingTo(ctx, 2)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Customer", fields[0].Name)
}

func TestCatalog_TrashEntryLookupAndMarking(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tableID := int64(5)

	old := &types.TrashEntry{ItemType: types.TrashTypeRow, ItemID: 1, ParentItemID: &tableID,
		WorkspaceID: 1, TrashedAt: base.Add(-100 * time.Hour)}
	fresh := &types.TrashEntry{ItemType: types.TrashTypeRow, ItemID: 2, ParentItemID: &tableID,
		WorkspaceID: 1, TrashedAt: base}
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertTrashEntry(ctx, old); err != nil {
			return err
		}
		return tx.InsertTrashEntry(ctx, fresh)
	}))

	// the same row id in another table is a different item
	otherTable := int64(6)
	_, err := c.Read().GetTrashEntry(ctx, types.TrashTypeRow, &otherTable, 1)
	assert.True(t, errors.Is(err, errors.ErrTrashItemDoesNotExist))

	got, err := c.Read().GetTrashEntry(ctx, types.TrashTypeRow, &tableID, 1)
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)
	assert.Equal(t, old.TrashedAt, got.TrashedAt)

	var marked int64
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		var err error
		marked, err = tx.MarkTrashOlderThan(ctx, base.Add(-72*time.Hour))
		return err
	}))
	assert.EqualValues(t, 1, marked)

	// marking again flags nothing new
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		var err error
		marked, err = tx.MarkTrashOlderThan(ctx, base.Add(-72*time.Hour))
		return err
	}))
	assert.EqualValues(t, 0, marked)

	contents, err := c.Read().ListTrashContents(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, fresh.ID, contents[0].ID)

	all, err := c.Read().ListMarkedTrash(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].ShouldBePermanentlyDeleted)
}

func TestCatalog_DataSyncResult(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tbl := &types.Table{DatabaseID: 1, Name: "Synced"}
	ds := &types.DataSync{Type: "local_table", Params: map[string]string{"source_table_id": "1"}}
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertTable(ctx, tbl, now); err != nil {
			return err
		}
		ds.TableID = tbl.ID
		return tx.InsertDataSync(ctx, ds, now)
	}))

	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		return tx.SetDataSyncResult(ctx, ds.ID, now, nil)
	}))
	require.NoError(t, c.WithTx(ctx, func(tx *Tx) error {
		return tx.SetDataSyncResult(ctx, ds.ID, now.Add(time.Hour), fmt.Errorf("source gone"))
	}))

	got, err := c.Read().GetDataSync(ctx, ds.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.Equal(t, now, *got.LastSync, "a failed sync leaves last_sync untouched")
	require.NotNil(t, got.LastError)
	assert.Equal(t, "source gone", *got.LastError)
	assert.Equal(t, "1", got.Params["source_table_id"])

	due, err := c.Read().ListDataSyncsDue(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 1)
	due, err = c.Read().ListDataSyncsDue(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}
