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

// InsertTrashEntry records a trashed item and sets the entry id.
func (s *Store) InsertTrashEntry(ctx context.Context, e *types.TrashEntry) error {
	related := e.RelatedItems
	if related == nil {
		related = []types.TrashItemRef{}
	}
	relatedJSON, err := json.Marshal(related)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode related items: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO trash_entries (
			trash_item_type, trash_item_id, parent_trash_item_id, parent_entry_id,
			workspace_id, application_id, user_who_trashed, name, parent_name,
			trashed_at, should_be_permanently_deleted, related_items
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ItemType, e.ItemID, nullInt64(e.ParentItemID), nullInt64(e.ParentEntryID),
		e.WorkspaceID, nullInt64(e.ApplicationID), int64(e.UserWhoTrashed), e.Name, e.ParentName,
		toNanos(e.TrashedAt), string(relatedJSON))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert trash entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

const trashColumns = `id, trash_item_type, trash_item_id, parent_trash_item_id, parent_entry_id,
	workspace_id, application_id, user_who_trashed, name, parent_name, trashed_at, should_be_permanently_deleted,
	related_items`

func scanTrashEntry(sc interface{ Scan(...any) error }) (*types.TrashEntry, error) {
	var (
		e                           types.TrashEntry
		parentItem, parentEntry, ap sql.NullInt64
		user, trashedAt             int64
		related                     string
	)
	if err := sc.Scan(&e.ID, &e.ItemType, &e.ItemID, &parentItem, &parentEntry,
		&e.WorkspaceID, &ap, &user, &e.Name, &e.ParentName, &trashedAt,
		&e.ShouldBePermanentlyDeleted, &related); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(related), &e.RelatedItems); err != nil {
		return nil, fmt.Errorf("catalog: corrupt related items for trash entry %d: %w", e.ID, err)
	}
	e.ParentItemID = ptrInt64(parentItem)
	e.ParentEntryID = ptrInt64(parentEntry)
	e.ApplicationID = ptrInt64(ap)
	e.UserWhoTrashed = types.UserID(user)
	e.TrashedAt = fromNanos(trashedAt)
	return &e, nil
}

// GetTrashEntry finds the entry of an item. When parentItemID is nil the
// entry is matched on type and item id alone.
func (s *Store) GetTrashEntry(ctx context.Context, itemType string, parentItemID *int64, itemID int64) (*types.TrashEntry, error) {
	query := `SELECT ` + trashColumns + ` FROM trash_entries WHERE trash_item_type = ? AND trash_item_id = ?`
	args := []any{itemType, itemID}
	if parentItemID != nil {
		query += ` AND parent_trash_item_id = ?`
		args = append(args, *parentItemID)
	}
	query += ` ORDER BY id LIMIT 1`

	e, err := scanTrashEntry(s.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeTrashItemDoesNotExist,
			fmt.Sprintf("no trash entry for %s %d", itemType, itemID))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get trash entry: %w", err)
	}
	return e, nil
}

// GetTrashEntryByID returns an entry by its own id.
func (s *Store) GetTrashEntryByID(ctx context.Context, id int64) (*types.TrashEntry, error) {
	e, err := scanTrashEntry(s.q.QueryRowContext(ctx,
		`SELECT `+trashColumns+` FROM trash_entries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeTrashItemDoesNotExist,
			fmt.Sprintf("trash entry %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get trash entry: %w", err)
	}
	return e, nil
}

// DeleteTrashEntry removes one entry.
func (s *Store) DeleteTrashEntry(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM trash_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete trash entry: %w", err)
	}
	return nil
}

// ListTrashContents returns the entries of a workspace, optionally limited
// to one application, that are not marked for permanent deletion. Newest
// first.
func (s *Store) ListTrashContents(ctx context.Context, workspaceID int64, applicationID *int64) ([]*types.TrashEntry, error) {
	query := `SELECT ` + trashColumns + ` FROM trash_entries
		WHERE workspace_id = ? AND should_be_permanently_deleted = 0`
	args := []any{workspaceID}
	if applicationID != nil {
		query += ` AND application_id = ?`
		args = append(args, *applicationID)
	}
	query += ` ORDER BY trashed_at DESC, id DESC`
	return s.queryTrash(ctx, query, args...)
}

// ListMarkedTrash returns every entry flagged for permanent deletion.
func (s *Store) ListMarkedTrash(ctx context.Context) ([]*types.TrashEntry, error) {
	return s.queryTrash(ctx, `SELECT `+trashColumns+` FROM trash_entries
		WHERE should_be_permanently_deleted = 1 ORDER BY trashed_at, id`)
}

// ListChildTrashEntries returns the entries linked to parentEntryID and the
// entries of childTypes whose parent item is parentItemID.
func (s *Store) ListChildTrashEntries(ctx context.Context, childTypes []string, parentItemID, parentEntryID int64) ([]*types.TrashEntry, error) {
	query := `SELECT ` + trashColumns + ` FROM trash_entries WHERE parent_entry_id = ?`
	args := []any{parentEntryID}
	for _, t := range childTypes {
		query += ` OR (trash_item_type = ? AND parent_trash_item_id = ?)`
		args = append(args, t, parentItemID)
	}
	query += ` ORDER BY id`
	return s.queryTrash(ctx, query, args...)
}

// ListTrashEntriesInContainer returns every entry of a workspace or, when
// applicationID is set, of an application.
func (s *Store) ListTrashEntriesInContainer(ctx context.Context, workspaceID int64, applicationID *int64) ([]*types.TrashEntry, error) {
	if applicationID != nil {
		return s.queryTrash(ctx, `SELECT `+trashColumns+` FROM trash_entries WHERE application_id = ? ORDER BY id`,
			*applicationID)
	}
	return s.queryTrash(ctx, `SELECT `+trashColumns+` FROM trash_entries WHERE workspace_id = ? ORDER BY id`,
		workspaceID)
}

func (s *Store) queryTrash(ctx context.Context, query string, args ...any) ([]*types.TrashEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list trash entries: %w", err)
	}
	defer rows.Close()

	var out []*types.TrashEntry
	for rows.Next() {
		e, err := scanTrashEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkTrashOlderThan flags every not yet flagged entry trashed at or before
// cutoff and returns how many were flagged.
func (s *Store) MarkTrashOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE trash_entries SET should_be_permanently_deleted = 1
		WHERE trashed_at <= ? AND should_be_permanently_deleted = 0`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to mark old trash: %w", err)
	}
	return res.RowsAffected()
}

// MarkTrashEntries flags the given entries for permanent deletion.
func (s *Store) MarkTrashEntries(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for _, id := range ids {
		res, err := s.q.ExecContext(ctx, `
			UPDATE trash_entries SET should_be_permanently_deleted = 1
			WHERE id = ? AND should_be_permanently_deleted = 0`, id)
		if err != nil {
			return total, fmt.Errorf("catalog: failed to mark trash entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// IsMarkedForDeletion reports whether the item has an entry flagged for
// permanent deletion.
func (s *Store) IsMarkedForDeletion(ctx context.Context, itemType string, itemID int64) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trash_entries
		WHERE trash_item_type = ? AND trash_item_id = ? AND should_be_permanently_deleted = 1`,
		itemType, itemID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("catalog: failed to check trash mark: %w", err)
	}
	return n > 0, nil
}
