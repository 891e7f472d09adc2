package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/errors"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		out = append(out, name)
	}
	return out
}

func TestEditor_TableLifecycle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	e := NewEditor()

	require.NoError(t, e.CreateTable(ctx, db, 1))
	assert.Equal(t, []string{"id", "order", "created_on", "updated_on", "trashed"}, columns(t, db, "database_table_1"))

	require.NoError(t, e.AddColumn(ctx, db, 1, ColumnName(7), "TEXT", "it's"))
	_, err := db.Exec(`INSERT INTO database_table_1 (created_on, updated_on) VALUES ('x', 'x')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRow(`SELECT field_7 FROM database_table_1`).Scan(&v))
	assert.Equal(t, "it's", v)

	require.NoError(t, e.AddColumn(ctx, db, 1, TempColumnName(7), "INTEGER", nil))
	require.NoError(t, e.DropColumn(ctx, db, 1, ColumnName(7)))
	require.NoError(t, e.RenameColumn(ctx, db, 1, TempColumnName(7), ColumnName(7)))
	assert.Contains(t, columns(t, db, "database_table_1"), "field_7")
	assert.NotContains(t, columns(t, db, "database_table_1"), "field_7_new")

	require.NoError(t, e.DropTable(ctx, db, 1))
	assert.Empty(t, columns(t, db, "database_table_1"))
}

func TestEditor_Relation(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	e := NewEditor()

	require.NoError(t, e.CreateRelation(ctx, db, 3))
	_, err := db.Exec(`INSERT INTO database_relation_3 (row_id, linked_row_id) VALUES (1, 2)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO database_relation_3 (row_id, linked_row_id) VALUES (1, 2)`)
	assert.Error(t, err, "duplicate links are rejected")

	require.NoError(t, e.DropRelation(ctx, db, 3))
	require.NoError(t, e.DropRelation(ctx, db, 3), "dropping twice is harmless")
}

func TestEditor_RejectsUnsafeInput(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	e := NewEditor()
	require.NoError(t, e.CreateTable(ctx, db, 1))

	err := e.AddColumn(ctx, db, 1, `x"; DROP TABLE y; --`, "TEXT", nil)
	assert.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))

	err = e.AddColumn(ctx, db, 1, "field_1", "BLOB; DROP", nil)
	assert.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))

	err = e.CreateTable(ctx, db, 1)
	assert.Equal(t, errors.CodeSchemaFailed, errors.GetCode(err))
}

func TestValidateColumnName(t *testing.T) {
	assert.True(t, ValidateColumnName("field_12"))
	assert.True(t, ValidateColumnName("_x"))
	assert.False(t, ValidateColumnName(""))
	assert.False(t, ValidateColumnName("1abc"))
	assert.False(t, ValidateColumnName("a-b"))
}
