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

// InsertView creates a view and sets its id.
func (s *Store) InsertView(ctx context.Context, v *types.View, now time.Time) error {
	opts, err := encodeFieldOptions(v.FieldOptions)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO views (table_id, name, type, "order", field_options, trashed, created_on)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		v.TableID, v.Name, v.Type, v.Order, opts, toNanos(now))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert view: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

const viewColumns = `id, table_id, name, type, "order", field_options, trashed`

func scanView(sc interface{ Scan(...any) error }) (*types.View, error) {
	var (
		v    types.View
		opts string
	)
	if err := sc.Scan(&v.ID, &v.TableID, &v.Name, &v.Type, &v.Order, &opts, &v.Trashed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opts), &v.FieldOptions); err != nil {
		return nil, fmt.Errorf("catalog: corrupt field options for view %d: %w", v.ID, err)
	}
	return &v, nil
}

// GetView returns a view including trashed ones.
func (s *Store) GetView(ctx context.Context, id int64) (*types.View, error) {
	v, err := scanView(s.q.QueryRowContext(ctx,
		`SELECT `+viewColumns+` FROM views WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeViewDoesNotExist,
			fmt.Sprintf("view %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get view: %w", err)
	}
	return v, nil
}

// ListViews returns the non-trashed views of a table.
func (s *Store) ListViews(ctx context.Context, tableID int64) ([]*types.View, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+viewColumns+` FROM views WHERE table_id = ? AND trashed = 0 ORDER BY "order", id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list views: %w", err)
	}
	defer rows.Close()

	var out []*types.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateView persists the view name, order and field options.
func (s *Store) UpdateView(ctx context.Context, v *types.View) error {
	opts, err := encodeFieldOptions(v.FieldOptions)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`UPDATE views SET name = ?, "order" = ?, field_options = ? WHERE id = ?`,
		v.Name, v.Order, opts, v.ID)
	if err != nil {
		return fmt.Errorf("catalog: failed to update view: %w", err)
	}
	return nil
}

// SetViewTrashed sets the trashed flag of a view.
func (s *Store) SetViewTrashed(ctx context.Context, id int64, trashed bool) error {
	return s.setTrashed(ctx, "views", id, trashed)
}

// DeleteView removes a view record.
func (s *Store) DeleteView(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM views WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete view: %w", err)
	}
	return nil
}

// DeleteViewsOfTable removes every view of a table.
func (s *Store) DeleteViewsOfTable(ctx context.Context, tableID int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM views WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("catalog: failed to delete views: %w", err)
	}
	return nil
}

func encodeFieldOptions(opts map[int64]bool) (string, error) {
	if opts == nil {
		return "{}", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("catalog: failed to encode field options: %w", err)
	}
	return string(b), nil
}
