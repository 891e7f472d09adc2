package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// InsertApplication creates an application in a workspace.
func (s *Store) InsertApplication(ctx context.Context, app *types.Application, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO applications (workspace_id, name, type, "order", trashed, created_on)
		VALUES (?, ?, ?, ?, 0, ?)`,
		app.WorkspaceID, app.Name, app.Type, app.Order, toNanos(now))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert application: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	app.ID = id
	app.CreatedOn = now.UTC()
	return nil
}

const applicationColumns = `id, workspace_id, name, type, "order", trashed, created_on`

func scanApplication(sc interface{ Scan(...any) error }) (*types.Application, error) {
	var (
		a       types.Application
		created int64
	)
	if err := sc.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Type, &a.Order, &a.Trashed, &created); err != nil {
		return nil, err
	}
	a.CreatedOn = fromNanos(created)
	return &a, nil
}

// GetApplication returns an application including trashed ones.
func (s *Store) GetApplication(ctx context.Context, id int64) (*types.Application, error) {
	a, err := scanApplication(s.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeApplicationDoesNotExist,
			fmt.Sprintf("application %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get application: %w", err)
	}
	return a, nil
}

// ListApplications returns the applications of a workspace, trashed ones
// included, ordered by order then id.
func (s *Store) ListApplications(ctx context.Context, workspaceID int64) ([]*types.Application, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE workspace_id = ? ORDER BY "order", id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []*types.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetApplicationTrashed sets the trashed flag of an application.
func (s *Store) SetApplicationTrashed(ctx context.Context, id int64, trashed bool) error {
	return s.setTrashed(ctx, "applications", id, trashed)
}

// DeleteApplication removes an application record.
func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete application: %w", err)
	}
	return nil
}

// InsertTable registers a user table. The physical relation is created by
// the converter engine.
func (s *Store) InsertTable(ctx context.Context, t *types.Table, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO tables (database_id, name, "order", trashed, created_on)
		VALUES (?, ?, ?, 0, ?)`,
		t.DatabaseID, t.Name, t.Order, toNanos(now))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert table: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedOn = now.UTC()
	return nil
}

const tableColumns = `id, database_id, name, "order", trashed, created_on`

func scanTable(sc interface{ Scan(...any) error }) (*types.Table, error) {
	var (
		t       types.Table
		created int64
	)
	if err := sc.Scan(&t.ID, &t.DatabaseID, &t.Name, &t.Order, &t.Trashed, &created); err != nil {
		return nil, err
	}
	t.CreatedOn = fromNanos(created)
	return &t, nil
}

// GetTable returns a table including trashed ones.
func (s *Store) GetTable(ctx context.Context, id int64) (*types.Table, error) {
	t, err := scanTable(s.q.QueryRowContext(ctx,
		`SELECT `+tableColumns+` FROM tables WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeTableDoesNotExist,
			fmt.Sprintf("table %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get table: %w", err)
	}
	return t, nil
}

// ListTables returns the tables of a database, trashed ones included.
func (s *Store) ListTables(ctx context.Context, databaseID int64) ([]*types.Table, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+tableColumns+` FROM tables WHERE database_id = ? ORDER BY "order", id`, databaseID)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []*types.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MaxTableOrder returns the highest table order in a database.
func (s *Store) MaxTableOrder(ctx context.Context, databaseID int64) (int, error) {
	var max sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX("order") FROM tables WHERE database_id = ?`, databaseID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to get table order: %w", err)
	}
	return int(max.Int64), nil
}

// UpdateTable persists the table name and order.
func (s *Store) UpdateTable(ctx context.Context, t *types.Table) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE tables SET name = ?, "order" = ? WHERE id = ?`, t.Name, t.Order, t.ID)
	if err != nil {
		return fmt.Errorf("catalog: failed to update table: %w", err)
	}
	return nil
}

// SetTableTrashed sets the trashed flag of a table.
func (s *Store) SetTableTrashed(ctx context.Context, id int64, trashed bool) error {
	return s.setTrashed(ctx, "tables", id, trashed)
}

// DeleteTable removes a table record.
func (s *Store) DeleteTable(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM tables WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete table: %w", err)
	}
	return nil
}
