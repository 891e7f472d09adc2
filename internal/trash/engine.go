// Package trash moves workspaces, applications, tables, fields, rows and
// views to the trash, restores them, and permanently deletes what has been
// in the trash for longer than the retention window.
package trash

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/pkg/types"
)

// DefaultRetention is how long trashed items stay restorable.
const DefaultRetention = 72 * time.Hour

// Engine runs every trash operation in one catalog transaction.
type Engine struct {
	cat       *catalog.Catalog
	registry  *Registry
	retention time.Duration

	now func() time.Time
	log *logrus.Entry
}

// NewEngine returns an engine over the given types. A non-positive
// retention falls back to DefaultRetention.
func NewEngine(cat *catalog.Catalog, registry *Registry, retention time.Duration) *Engine {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Engine{
		cat:       cat,
		registry:  registry,
		retention: retention,
		now:       time.Now,
		log:       logging.For("trash"),
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Registry returns the trashable type registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) checkParentID(t TrashableType, parentID *int64) error {
	if t.RequiresParentID() && parentID == nil {
		return errors.ErrParentIDMustBeSpecified
	}
	if !t.RequiresParentID() && parentID != nil {
		return errors.ErrParentIDMustNotBeSpecified
	}
	return nil
}

// Trash moves an item to the trash. parentID must be given exactly for the
// types that require it. The entry links to the parent's own entry when the
// parent is already trashed.
func (e *Engine) Trash(ctx context.Context, user types.UserID, itemType string, itemID int64, parentID *int64) (*types.TrashEntry, error) {
	t, err := e.registry.Get(itemType)
	if err != nil {
		return nil, err
	}
	if err := e.checkParentID(t, parentID); err != nil {
		return nil, err
	}

	var entry *types.TrashEntry
	err = e.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		item, err := t.Lookup(ctx, tx, itemID, parentID)
		if err != nil {
			return err
		}
		if item.Trashed {
			return errors.ErrAlreadyTrashed
		}

		entry = &types.TrashEntry{
			ItemType:       item.Type,
			ItemID:         item.ID,
			ParentItemID:   item.ParentID,
			WorkspaceID:    item.WorkspaceID,
			ApplicationID:  item.ApplicationID,
			UserWhoTrashed: user,
			Name:           item.Name,
			ParentName:     item.ParentName,
			TrashedAt:      e.now().UTC(),
		}
		if item.ParentID != nil {
			parentEntry, err := tx.GetTrashEntry(ctx, t.ParentType(), nil, *item.ParentID)
			switch {
			case err == nil:
				entry.ParentEntryID = &parentEntry.ID
			case !errors.Is(err, errors.ErrTrashItemDoesNotExist):
				return err
			}
		}

		if entry.RelatedItems, err = t.Trash(ctx, tx, user, item); err != nil {
			return err
		}
		return tx.InsertTrashEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"type":    itemType,
		"item_id": itemID,
		"related": len(entry.RelatedItems),
		"user":    user,
	}).Info("trashed item")
	return entry, nil
}

// RestoreItem takes an item out of the trash together with the items that
// were trashed along with it. An item whose parent or any further ancestor
// is still trashed stays in the trash.
func (e *Engine) RestoreItem(ctx context.Context, user types.UserID, itemType string, parentID *int64, itemID int64) error {
	t, err := e.registry.Get(itemType)
	if err != nil {
		return err
	}
	if err := e.checkParentID(t, parentID); err != nil {
		return err
	}

	err = e.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		entry, err := tx.GetTrashEntry(ctx, itemType, parentID, itemID)
		if err != nil {
			return err
		}
		if entry.ShouldBePermanentlyDeleted {
			return errors.ErrTrashItemDoesNotExist
		}
		item, err := t.Lookup(ctx, tx, itemID, parentID)
		if errors.GetCategory(err) == errors.ErrCategoryNotFound {
			return errors.ErrTrashItemDoesNotExist
		}
		if err != nil {
			return err
		}
		if err := e.checkAncestors(ctx, tx, t, item); err != nil {
			return err
		}

		if err := t.Restore(ctx, tx, user, item); err != nil {
			return err
		}
		for _, ref := range entry.RelatedItems {
			if err := e.restoreRelated(ctx, tx, user, ref); err != nil {
				return err
			}
		}
		return tx.DeleteTrashEntry(ctx, entry.ID)
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"type": itemType, "item_id": itemID, "user": user}).Info("restored item")
	return nil
}

func (e *Engine) checkAncestors(ctx context.Context, tx *catalog.Tx, t TrashableType, item *Item) error {
	for item.ParentID != nil && t.ParentType() != "" {
		pt, err := e.registry.Get(t.ParentType())
		if err != nil {
			return err
		}
		parent, err := pt.Lookup(ctx, tx, *item.ParentID, nil)
		if err != nil {
			return err
		}
		if parent.Trashed {
			return errors.ErrCannotRestoreChildBeforeParent
		}
		t, item = pt, parent
	}
	return nil
}

func (e *Engine) restoreRelated(ctx context.Context, tx *catalog.Tx, user types.UserID, ref types.TrashItemRef) error {
	t, err := e.registry.Get(ref.Type)
	if err != nil {
		return err
	}
	item, err := t.Lookup(ctx, tx, ref.ID, nil)
	if errors.GetCategory(err) == errors.ErrCategoryNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !item.Trashed {
		return nil
	}
	return t.Restore(ctx, tx, user, item)
}

// MarkOldTrashForPermanentDeletion flags every entry trashed longer ago
// than the retention window and returns how many were flagged.
func (e *Engine) MarkOldTrashForPermanentDeletion(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.retention)
	var marked int64
	err := e.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		marked, err = tx.MarkTrashOlderThan(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		e.log.WithFields(logrus.Fields{"marked": marked, "cutoff": cutoff}).Info("marked old trash for permanent deletion")
	}
	return int(marked), nil
}

// PermanentlyDeleteMarkedTrash deletes every flagged item, children before
// their parents, one transaction per entry. Entries removed by the cascade
// of an earlier entry are skipped. It returns the number of entries
// processed by this call.
func (e *Engine) PermanentlyDeleteMarkedTrash(ctx context.Context) (int, error) {
	marked, err := e.cat.Read().ListMarkedTrash(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range deletionOrder(marked, e.registry) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		var done bool
		err := e.cat.WithTx(ctx, func(tx *catalog.Tx) error {
			current, err := tx.GetTrashEntryByID(ctx, entry.ID)
			if errors.Is(err, errors.ErrTrashItemDoesNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			done = true
			return e.permanentlyDelete(ctx, tx, current)
		})
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"entry_id": entry.ID,
				"type":     entry.ItemType,
				"item_id":  entry.ItemID,
			}).Error("permanent deletion failed")
			return deleted, err
		}
		if done {
			deleted++
		}
	}

	if deleted > 0 {
		e.log.WithField("deleted", deleted).Info("permanently deleted trash")
	}
	return deleted, nil
}

// permanentlyDelete removes the item of entry, the items of its child
// entries first, the items trashed along with it, and finally the entries.
func (e *Engine) permanentlyDelete(ctx context.Context, tx *catalog.Tx, entry *types.TrashEntry) error {
	children, err := tx.ListChildTrashEntries(ctx, e.registry.ChildTypes(entry.ItemType), entry.ItemID, entry.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.ID == entry.ID {
			continue
		}
		if err := e.permanentlyDelete(ctx, tx, child); err != nil {
			return err
		}
	}

	t, err := e.registry.Get(entry.ItemType)
	if err != nil {
		return err
	}
	item, err := t.Lookup(ctx, tx, entry.ItemID, entry.ParentItemID)
	switch {
	case errors.GetCategory(err) == errors.ErrCategoryNotFound:
		// Already gone with its container.
	case err != nil:
		return err
	default:
		if err := t.PermanentlyDelete(ctx, tx, item); err != nil {
			return fmt.Errorf("trash: failed to delete %s %d: %w", entry.ItemType, entry.ItemID, err)
		}
	}

	for _, ref := range entry.RelatedItems {
		rt, err := e.registry.Get(ref.Type)
		if err != nil {
			return err
		}
		related, err := rt.Lookup(ctx, tx, ref.ID, nil)
		if errors.GetCategory(err) == errors.ErrCategoryNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := rt.PermanentlyDelete(ctx, tx, related); err != nil {
			return err
		}
	}
	return tx.DeleteTrashEntry(ctx, entry.ID)
}

// GetTrashStructure lists the workspaces of user and their applications,
// leaving out everything already marked for permanent deletion.
func (e *Engine) GetTrashStructure(ctx context.Context, user types.UserID) (*types.TrashStructure, error) {
	store := e.cat.Read()
	workspaces, err := store.ListWorkspacesForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	out := &types.TrashStructure{Workspaces: []types.TrashStructureWorkspace{}}
	for _, ws := range workspaces {
		marked, err := store.IsMarkedForDeletion(ctx, types.TrashTypeWorkspace, ws.ID)
		if err != nil {
			return nil, err
		}
		if marked {
			continue
		}
		apps, err := store.ListApplications(ctx, ws.ID)
		if err != nil {
			return nil, err
		}
		live := make([]*types.Application, 0, len(apps))
		for _, app := range apps {
			marked, err := store.IsMarkedForDeletion(ctx, types.TrashTypeApplication, app.ID)
			if err != nil {
				return nil, err
			}
			if !marked {
				live = append(live, app)
			}
		}
		out.Workspaces = append(out.Workspaces, types.TrashStructureWorkspace{
			ID:           ws.ID,
			Name:         ws.Name,
			Trashed:      ws.Trashed,
			Applications: live,
		})
	}
	return out, nil
}

// GetTrashContents returns the restorable entries of a workspace or of one
// of its applications, newest first.
func (e *Engine) GetTrashContents(ctx context.Context, user types.UserID, workspaceID int64, applicationID *int64) ([]*types.TrashEntry, error) {
	store := e.cat.Read()
	if err := e.checkContainer(ctx, store, user, workspaceID, applicationID); err != nil {
		return nil, err
	}
	return store.ListTrashContents(ctx, workspaceID, applicationID)
}

// Empty marks every restorable entry of a workspace or application for
// permanent deletion and returns how many were marked.
func (e *Engine) Empty(ctx context.Context, user types.UserID, workspaceID int64, applicationID *int64) (int, error) {
	var marked int64
	err := e.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := e.checkContainer(ctx, tx.Store, user, workspaceID, applicationID); err != nil {
			return err
		}
		entries, err := tx.ListTrashContents(ctx, workspaceID, applicationID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		marked, err = tx.MarkTrashEntries(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"marked":       marked,
		"user":         user,
	}).Info("emptied trash")
	return int(marked), nil
}

// checkContainer verifies that the workspace, and the application when
// given, exist for user and are not marked for permanent deletion.
func (e *Engine) checkContainer(ctx context.Context, store *catalog.Store, user types.UserID, workspaceID int64, applicationID *int64) error {
	if _, err := store.GetWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	member, err := store.IsWorkspaceUser(ctx, workspaceID, user)
	if err != nil {
		return err
	}
	marked, err := store.IsMarkedForDeletion(ctx, types.TrashTypeWorkspace, workspaceID)
	if err != nil {
		return err
	}
	if !member || marked {
		return errors.NewNotFoundError(errors.CodeWorkspaceDoesNotExist,
			fmt.Sprintf("workspace %d does not exist", workspaceID))
	}

	if applicationID == nil {
		return nil
	}
	app, err := store.GetApplication(ctx, *applicationID)
	if err != nil {
		return err
	}
	if app.WorkspaceID != workspaceID {
		return errors.NewValidationError(errors.CodeApplicationNotInWorkspace, "",
			fmt.Sprintf("application %d is not in workspace %d", app.ID, workspaceID))
	}
	marked, err = store.IsMarkedForDeletion(ctx, types.TrashTypeApplication, app.ID)
	if err != nil {
		return err
	}
	if marked {
		return errors.NewNotFoundError(errors.CodeApplicationDoesNotExist,
			fmt.Sprintf("application %d does not exist", app.ID))
	}
	return nil
}
