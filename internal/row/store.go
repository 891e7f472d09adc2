package row

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// Cell is one value of one column.
type Cell struct {
	RowID int64 `json:"row_id"`
	Value any   `json:"value"`
}

// LinkPair is one junction row seen from a link field: RowID belongs to the
// field's table, LinkedID to the linked table.
type LinkPair struct {
	RowID    int64 `json:"row_id"`
	LinkedID int64 `json:"linked_id"`
}

// Store reads and writes the physical relations of user tables. It never
// changes their schema.
type Store struct {
	types *fieldtype.Registry
}

// NewStore returns a store resolving field types through reg.
func NewStore(reg *fieldtype.Registry) *Store {
	return &Store{types: reg}
}

// Types returns the field type registry.
func (s *Store) Types() *fieldtype.Registry {
	return s.types
}

// split separates fields stored in a column from link fields.
func (s *Store) split(fields []*types.Field) (columns, links []*types.Field, err error) {
	for _, f := range fields {
		ft, err := s.types.Get(f.Type)
		if err != nil {
			return nil, nil, err
		}
		if fieldtype.HasColumn(ft, f) {
			columns = append(columns, f)
		} else {
			links = append(links, f)
		}
	}
	return columns, links, nil
}

// Insert writes a new row at the end of the table and returns its id.
// values holds stored representations of column fields only.
func (s *Store) Insert(ctx context.Context, q catalog.Querier, tableID int64, values map[int64]any, now time.Time) (int64, error) {
	table := schema.Quote(schema.TableName(tableID))
	ts := types.FormatTimestamp(now)

	cols := []string{schema.Quote(schema.ColumnOrder), schema.ColumnCreatedOn, schema.ColumnUpdatedOn}
	marks := []string{fmt.Sprintf(`(SELECT COALESCE(MAX("order"), 0) + 1 FROM %s)`, table), "?", "?"}
	args := []any{ts, ts}
	for _, id := range sortedKeys(values) {
		cols = append(cols, schema.Quote(schema.ColumnName(id)))
		marks = append(marks, "?")
		args = append(args, values[id])
	}

	res, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	if err != nil {
		return 0, fmt.Errorf("row: failed to insert row: %w", err)
	}
	return res.LastInsertId()
}

// Update writes column values and bumps updated_on. A missing or trashed
// row fails with ROW_DOES_NOT_EXIST.
func (s *Store) Update(ctx context.Context, q catalog.Querier, tableID, rowID int64, values map[int64]any, now time.Time) error {
	sets := []string{schema.ColumnUpdatedOn + " = ?"}
	args := []any{types.FormatTimestamp(now)}
	for _, id := range sortedKeys(values) {
		sets = append(sets, schema.Quote(schema.ColumnName(id))+" = ?")
		args = append(args, values[id])
	}
	args = append(args, rowID)

	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND trashed = 0`,
		schema.Quote(schema.TableName(tableID)), strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("row: failed to update row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rowDoesNotExist(rowID)
	}
	return nil
}

// Get loads one row with every value of fields.
func (s *Store) Get(ctx context.Context, q catalog.Querier, tableID, rowID int64, fields []*types.Field, includeTrashed bool) (*types.Row, error) {
	where := "id = ?"
	if !includeTrashed {
		where += " AND trashed = 0"
	}
	rows, err := s.load(ctx, q, tableID, fields, where, rowID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, rowDoesNotExist(rowID)
	}
	return rows[0], nil
}

// List loads every non-trashed row in order.
func (s *Store) List(ctx context.Context, q catalog.Querier, tableID int64, fields []*types.Field) ([]*types.Row, error) {
	return s.load(ctx, q, tableID, fields, "trashed = 0")
}

func (s *Store) load(ctx context.Context, q catalog.Querier, tableID int64, fields []*types.Field, where string, args ...any) ([]*types.Row, error) {
	columns, links, err := s.split(fields)
	if err != nil {
		return nil, err
	}

	selects := []string{"id", schema.Quote(schema.ColumnOrder), schema.ColumnCreatedOn, schema.ColumnUpdatedOn, schema.ColumnTrashed}
	for _, f := range columns {
		selects = append(selects, schema.Quote(schema.ColumnName(f.ID)))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY "order", id`,
		strings.Join(selects, ", "), schema.Quote(schema.TableName(tableID)), where)

	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("row: failed to load rows: %w", err)
	}
	defer rs.Close()

	var out []*types.Row
	for rs.Next() {
		var (
			r                types.Row
			created, updated string
			trashed          int64
		)
		raw := make([]any, len(columns))
		dest := []any{&r.ID, &r.Order, &created, &updated, &trashed}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rs.Scan(dest...); err != nil {
			return nil, fmt.Errorf("row: failed to scan row: %w", err)
		}
		r.CreatedOn, _ = types.ParseTimestamp(created)
		r.UpdatedOn, _ = types.ParseTimestamp(updated)
		r.Trashed = trashed != 0
		r.Values = make(map[int64]any, len(fields))
		for i, f := range columns {
			r.Values[f.ID] = s.normalize(f, raw[i])
		}
		out = append(out, &r)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}

	if len(links) > 0 && len(out) > 0 {
		ids := make([]int64, len(out))
		for i, r := range out {
			ids[i] = r.ID
		}
		for _, f := range links {
			linked, err := s.ReadLinks(ctx, q, f, ids)
			if err != nil {
				return nil, err
			}
			for _, r := range out {
				if v, ok := linked[r.ID]; ok {
					r.Values[f.ID] = v
				} else {
					r.Values[f.ID] = []int64{}
				}
			}
		}
	}
	return out, nil
}

// normalize maps a scanned column value onto the stored representation.
func (s *Store) normalize(f *types.Field, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	ft, err := s.types.Get(f.Type)
	if err != nil {
		return v
	}
	if ft.ColumnKind(f) == fieldtype.KindBoolean {
		b, _ := fieldtype.BooleanType{}.Coerce(f, v)
		return b
	}
	return v
}

// SetTrashed flips the trashed flag of a row.
func (s *Store) SetTrashed(ctx context.Context, q catalog.Querier, tableID, rowID int64, trashed bool) error {
	flag := 0
	if trashed {
		flag = 1
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET trashed = ? WHERE id = ?`,
		schema.Quote(schema.TableName(tableID))), flag, rowID)
	if err != nil {
		return fmt.Errorf("row: failed to set trashed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rowDoesNotExist(rowID)
	}
	return nil
}

// Delete removes a row and every junction row referencing it through the
// link fields of its table.
func (s *Store) Delete(ctx context.Context, q catalog.Querier, tableID, rowID int64, fields []*types.Field) error {
	_, links, err := s.split(fields)
	if err != nil {
		return err
	}
	for _, f := range links {
		own, other := linkColumns(f)
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, schema.Quote(schema.RelationName(f.Params.LinkRowRelationID)), own)
		args := []any{rowID}
		if f.Params.LinkRowTableID == f.TableID {
			query += fmt.Sprintf(` OR %s = ?`, other)
			args = append(args, rowID)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("row: failed to delete links: %w", err)
		}
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`,
		schema.Quote(schema.TableName(tableID))), rowID); err != nil {
		return fmt.Errorf("row: failed to delete row: %w", err)
	}
	return nil
}

// Count returns the number of rows including trashed ones.
func (s *Store) Count(ctx context.Context, q catalog.Querier, tableID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
		schema.Quote(schema.TableName(tableID)))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("row: failed to count rows: %w", err)
	}
	return n, nil
}

// ReadColumn returns every value of a physical column, trashed rows
// included, ordered by row id.
func (s *Store) ReadColumn(ctx context.Context, q catalog.Querier, tableID int64, column string) ([]Cell, error) {
	rs, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT id, %s FROM %s ORDER BY id`,
		schema.Quote(column), schema.Quote(schema.TableName(tableID))))
	if err != nil {
		return nil, fmt.Errorf("row: failed to read column %s: %w", column, err)
	}
	defer rs.Close()

	var cells []Cell
	for rs.Next() {
		var c Cell
		if err := rs.Scan(&c.RowID, &c.Value); err != nil {
			return nil, err
		}
		if b, ok := c.Value.([]byte); ok {
			c.Value = string(b)
		}
		cells = append(cells, c)
	}
	return cells, rs.Err()
}

// WriteCells writes one value per row into column.
func (s *Store) WriteCells(ctx context.Context, q catalog.Querier, tableID int64, column string, cells []Cell) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`,
		schema.Quote(schema.TableName(tableID)), schema.Quote(column))
	var written int64
	for _, c := range cells {
		res, err := q.ExecContext(ctx, query, c.Value, c.RowID)
		if err != nil {
			return written, fmt.Errorf("row: failed to write column %s: %w", column, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}
	return written, nil
}

// SyncSystemColumn copies a system timestamp column into the column of a
// system sourced field. Fields without time keep the date only. A nil
// rowID updates every row.
func (s *Store) SyncSystemColumn(ctx context.Context, q catalog.Querier, f *types.Field, source string, rowID *int64) error {
	expr := schema.Quote(source)
	if !f.Params.DateIncludeTime {
		expr = fmt.Sprintf(`substr(%s, 1, 10) || 'T00:00:00.000000Z'`, schema.Quote(source))
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = %s`,
		schema.Quote(schema.TableName(f.TableID)), schema.Quote(schema.ColumnName(f.ID)), expr)
	var args []any
	if rowID != nil {
		query += ` WHERE id = ?`
		args = append(args, *rowID)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("row: failed to copy %s: %w", source, err)
	}
	return nil
}

// linkColumns returns the junction column holding rows of f's table and
// the one holding the linked rows.
func linkColumns(f *types.Field) (own, other string) {
	if f.Params.LinkRowRelationID == f.ID {
		return schema.RelationOwnerColumn, schema.RelationLinkedColumn
	}
	return schema.RelationLinkedColumn, schema.RelationOwnerColumn
}

// ReadLinks returns the non-trashed linked row ids of the given rows.
func (s *Store) ReadLinks(ctx context.Context, q catalog.Querier, f *types.Field, rowIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	if len(rowIDs) == 0 {
		return out, nil
	}
	own, other := linkColumns(f)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(rowIDs)), ", ")
	query := fmt.Sprintf(`
		SELECT j.%s, j.%s FROM %s j JOIN %s t ON t.id = j.%s
		WHERE t.trashed = 0 AND j.%s IN (%s) ORDER BY j.%s, j.%s`,
		own, other,
		schema.Quote(schema.RelationName(f.Params.LinkRowRelationID)),
		schema.Quote(schema.TableName(f.Params.LinkRowTableID)), other,
		own, marks, own, other)
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}

	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("row: failed to read links of %s: %w", f.Name, err)
	}
	defer rs.Close()
	for rs.Next() {
		var rowID, linked int64
		if err := rs.Scan(&rowID, &linked); err != nil {
			return nil, err
		}
		out[rowID] = append(out[rowID], linked)
	}
	return out, rs.Err()
}

// LinkPairs returns every junction row of f, trashed rows included.
func (s *Store) LinkPairs(ctx context.Context, q catalog.Querier, f *types.Field) ([]LinkPair, error) {
	own, other := linkColumns(f)
	rs, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s, %s`,
		own, other, schema.Quote(schema.RelationName(f.Params.LinkRowRelationID)), own, other))
	if err != nil {
		return nil, fmt.Errorf("row: failed to read links of %s: %w", f.Name, err)
	}
	defer rs.Close()

	var pairs []LinkPair
	for rs.Next() {
		var p LinkPair
		if err := rs.Scan(&p.RowID, &p.LinkedID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rs.Err()
}

// SetLinks replaces the live linked rows of one row. Links to rows that are
// in the trash are kept so they come back when the row is restored.
func (s *Store) SetLinks(ctx context.Context, q catalog.Querier, f *types.Field, rowID int64, linked []int64) error {
	own, other := linkColumns(f)
	relation := schema.Quote(schema.RelationName(f.Params.LinkRowRelationID))
	unlink := fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s IN (SELECT id FROM %s WHERE trashed = 0)`,
		relation, own, other, schema.Quote(schema.TableName(f.Params.LinkRowTableID)))
	if _, err := q.ExecContext(ctx, unlink, rowID); err != nil {
		return fmt.Errorf("row: failed to clear links of %s: %w", f.Name, err)
	}
	insert := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)`, relation, own, other)
	for _, id := range linked {
		if _, err := q.ExecContext(ctx, insert, rowID, id); err != nil {
			return fmt.Errorf("row: failed to link %s: %w", f.Name, err)
		}
	}
	return nil
}

// CheckLinkTargets fails with a validation error naming f when an id is
// not a live row of the linked table.
func (s *Store) CheckLinkTargets(ctx context.Context, q catalog.Querier, f *types.Field, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE trashed = 0 AND id IN (%s)`,
		schema.Quote(schema.TableName(f.Params.LinkRowTableID)), marks), args...).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("row: failed to check linked rows: %w", err)
	}
	if n != len(ids) {
		return errors.NewValidationError(errors.CodeInvalidValue, f.Name,
			fmt.Sprintf("%s: linked rows do not exist", f.Name))
	}
	return nil
}

func rowDoesNotExist(rowID int64) error {
	return errors.NewNotFoundError(errors.CodeRowDoesNotExist, fmt.Sprintf("row %d does not exist", rowID))
}

func sortedKeys(m map[int64]any) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
