package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// InsertField registers a field and sets its id. The physical column is
// added by the converter engine once the id is known.
func (s *Store) InsertField(ctx context.Context, f *types.Field, now time.Time) error {
	params, err := json.Marshal(f.Params)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode field params: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO fields (table_id, name, type, params, "order", "primary", read_only, trashed, created_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		f.TableID, f.Name, f.Type, string(params), f.Order,
		boolToInt(f.Primary), boolToInt(f.ReadOnly), toNanos(now), toNanos(now))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert field: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = id
	f.CreatedOn = now.UTC()
	f.UpdatedOn = now.UTC()
	return nil
}

const fieldColumns = `id, table_id, name, type, params, "order", "primary", read_only, trashed, created_on, updated_on`

func scanField(sc interface{ Scan(...any) error }) (*types.Field, error) {
	var (
		f                types.Field
		params           string
		created, updated int64
	)
	if err := sc.Scan(&f.ID, &f.TableID, &f.Name, &f.Type, &params, &f.Order,
		&f.Primary, &f.ReadOnly, &f.Trashed, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &f.Params); err != nil {
		return nil, fmt.Errorf("catalog: corrupt params for field %d: %w", f.ID, err)
	}
	f.CreatedOn = fromNanos(created)
	f.UpdatedOn = fromNanos(updated)
	return &f, nil
}

// GetField returns a field including trashed ones.
func (s *Store) GetField(ctx context.Context, id int64) (*types.Field, error) {
	f, err := scanField(s.q.QueryRowContext(ctx,
		`SELECT `+fieldColumns+` FROM fields WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeFieldDoesNotExist,
			fmt.Sprintf("field %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get field: %w", err)
	}
	return f, nil
}

// ListFields returns the fields of a table ordered by order then id.
func (s *Store) ListFields(ctx context.Context, tableID int64, includeTrashed bool) ([]*types.Field, error) {
	query := `SELECT ` + fieldColumns + ` FROM fields WHERE table_id = ?`
	if !includeTrashed {
		query += ` AND trashed = 0`
	}
	query += ` ORDER BY "order", id`
	return s.queryFields(ctx, query, tableID)
}

// ListFieldsLinkingTo returns the link row fields of other tables whose
// target is tableID.
func (s *Store) ListFieldsLinkingTo(ctx context.Context, tableID int64) ([]*types.Field, error) {
	return s.queryFields(ctx, `
		SELECT `+fieldColumns+` FROM fields
		WHERE type = ? AND table_id != ? AND json_extract(params, '$.link_row_table_id') = ?
		ORDER BY id`, types.FieldTypeLinkRow, tableID, tableID)
}

func (s *Store) queryFields(ctx context.Context, query string, args ...any) ([]*types.Field, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list fields: %w", err)
	}
	defer rows.Close()

	var out []*types.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FieldNameExists reports whether a non-trashed field other than excludeID
// already uses name in the table.
func (s *Store) FieldNameExists(ctx context.Context, tableID int64, name string, excludeID int64) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE table_id = ? AND name = ? AND id != ? AND trashed = 0`,
		tableID, name, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("catalog: failed to check field name: %w", err)
	}
	return n > 0, nil
}

// MaxFieldOrder returns the highest field order in a table.
func (s *Store) MaxFieldOrder(ctx context.Context, tableID int64) (int, error) {
	var max sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX("order") FROM fields WHERE table_id = ?`, tableID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to get field order: %w", err)
	}
	return int(max.Int64), nil
}

// UpdateField persists every mutable attribute of a field.
func (s *Store) UpdateField(ctx context.Context, f *types.Field, now time.Time) error {
	params, err := json.Marshal(f.Params)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode field params: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE fields SET name = ?, type = ?, params = ?, "order" = ?, "primary" = ?, read_only = ?, updated_on = ?
		WHERE id = ?`,
		f.Name, f.Type, string(params), f.Order, boolToInt(f.Primary), boolToInt(f.ReadOnly), toNanos(now), f.ID)
	if err != nil {
		return fmt.Errorf("catalog: failed to update field: %w", err)
	}
	f.UpdatedOn = now.UTC()
	return nil
}

// SetFieldTrashed sets the trashed flag of a field.
func (s *Store) SetFieldTrashed(ctx context.Context, id int64, trashed bool) error {
	return s.setTrashed(ctx, "fields", id, trashed)
}

// DeleteField removes a field record.
func (s *Store) DeleteField(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete field: %w", err)
	}
	return nil
}
