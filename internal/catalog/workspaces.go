package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// InsertWorkspace creates a workspace and returns it with its id set.
func (s *Store) InsertWorkspace(ctx context.Context, name string, now time.Time) (*types.Workspace, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO workspaces (name, trashed, created_on) VALUES (?, 0, ?)`, name, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to insert workspace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Workspace{ID: id, Name: name, CreatedOn: now.UTC()}, nil
}

// GetWorkspace returns a workspace including trashed ones.
func (s *Store) GetWorkspace(ctx context.Context, id int64) (*types.Workspace, error) {
	var (
		w       types.Workspace
		created int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, trashed, created_on FROM workspaces WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.Trashed, &created)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeWorkspaceDoesNotExist,
			fmt.Sprintf("workspace %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get workspace: %w", err)
	}
	w.CreatedOn = fromNanos(created)
	return &w, nil
}

// AddWorkspaceUser makes user a member of the workspace.
func (s *Store) AddWorkspaceUser(ctx context.Context, workspaceID int64, user types.UserID, order int) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO workspace_users (workspace_id, user_id, "order") VALUES (?, ?, ?)`,
		workspaceID, int64(user), order)
	if err != nil {
		return fmt.Errorf("catalog: failed to add workspace user: %w", err)
	}
	return nil
}

// IsWorkspaceUser reports whether user is a member of the workspace.
func (s *Store) IsWorkspaceUser(ctx context.Context, workspaceID int64, user types.UserID) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_users WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, int64(user)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("catalog: failed to check workspace user: %w", err)
	}
	return n > 0, nil
}

// ListWorkspacesForUser returns every workspace the user belongs to,
// trashed ones included, in membership order.
func (s *Store) ListWorkspacesForUser(ctx context.Context, user types.UserID) ([]*types.Workspace, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT w.id, w.name, w.trashed, w.created_on
		FROM workspaces w JOIN workspace_users wu ON wu.workspace_id = w.id
		WHERE wu.user_id = ?
		ORDER BY wu."order", w.id`, int64(user))
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*types.Workspace
	for rows.Next() {
		var (
			w       types.Workspace
			created int64
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.Trashed, &created); err != nil {
			return nil, err
		}
		w.CreatedOn = fromNanos(created)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// SetWorkspaceTrashed sets the trashed flag of a workspace.
func (s *Store) SetWorkspaceTrashed(ctx context.Context, id int64, trashed bool) error {
	return s.setTrashed(ctx, "workspaces", id, trashed)
}

// DeleteWorkspace removes a workspace and its memberships.
func (s *Store) DeleteWorkspace(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM workspace_users WHERE workspace_id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete workspace users: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete workspace: %w", err)
	}
	return nil
}

// setTrashed flips the trashed flag of one catalog row.
func (s *Store) setTrashed(ctx context.Context, table string, id int64, trashed bool) error {
	_, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET trashed = ? WHERE id = ?`, table), boolToInt(trashed), id)
	if err != nil {
		return fmt.Errorf("catalog: failed to update %s trashed flag: %w", table, err)
	}
	return nil
}
