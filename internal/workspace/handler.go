// Package workspace manages workspaces, their members and their database
// applications.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/pkg/types"
)

// Handler creates workspaces and databases. Trashing goes through the
// trash engine.
type Handler struct {
	cat   *catalog.Catalog
	trash row.Trasher

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a workspace handler.
func NewHandler(cat *catalog.Catalog, trasher row.Trasher) *Handler {
	return &Handler{
		cat:   cat,
		trash: trasher,
		now:   time.Now,
		log:   logging.For("workspace"),
	}
}

// CreateWorkspace creates a workspace with user as its first member.
func (h *Handler) CreateWorkspace(ctx context.Context, user types.UserID, name string) (*types.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "workspace name must not be empty")
	}

	var ws *types.Workspace
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		if ws, err = tx.InsertWorkspace(ctx, name, h.now()); err != nil {
			return err
		}
		existing, err := tx.ListWorkspacesForUser(ctx, user)
		if err != nil {
			return err
		}
		return tx.AddWorkspaceUser(ctx, ws.ID, user, len(existing))
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"workspace_id": ws.ID, "user": user}).Info("created workspace")
	return ws, nil
}

// AddMember makes user a member of a workspace.
func (h *Handler) AddMember(ctx context.Context, workspaceID int64, user types.UserID) error {
	return h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := liveWorkspace(ctx, tx.Store, workspaceID); err != nil {
			return err
		}
		existing, err := tx.ListWorkspacesForUser(ctx, user)
		if err != nil {
			return err
		}
		return tx.AddWorkspaceUser(ctx, workspaceID, user, len(existing))
	})
}

// ListWorkspaces returns the non-trashed workspaces of user.
func (h *Handler) ListWorkspaces(ctx context.Context, user types.UserID) ([]*types.Workspace, error) {
	all, err := h.cat.Read().ListWorkspacesForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Workspace, 0, len(all))
	for _, ws := range all {
		if !ws.Trashed {
			out = append(out, ws)
		}
	}
	return out, nil
}

// CreateDatabase adds a database application to a workspace user belongs
// to.
func (h *Handler) CreateDatabase(ctx context.Context, user types.UserID, workspaceID int64, name string) (*types.Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "database name must not be empty")
	}

	app := &types.Application{WorkspaceID: workspaceID, Name: name, Type: types.ApplicationTypeDatabase}
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := checkMember(ctx, tx.Store, workspaceID, user); err != nil {
			return err
		}
		apps, err := tx.ListApplications(ctx, workspaceID)
		if err != nil {
			return err
		}
		for _, a := range apps {
			if a.Order >= app.Order {
				app.Order = a.Order + 1
			}
		}
		return tx.InsertApplication(ctx, app, h.now())
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"workspace_id": workspaceID, "application_id": app.ID}).Info("created database")
	return app, nil
}

// ListApplications returns the non-trashed applications of a workspace.
func (h *Handler) ListApplications(ctx context.Context, user types.UserID, workspaceID int64) ([]*types.Application, error) {
	store := h.cat.Read()
	if err := checkMember(ctx, store, workspaceID, user); err != nil {
		return nil, err
	}
	all, err := store.ListApplications(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Application, 0, len(all))
	for _, a := range all {
		if !a.Trashed {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteWorkspace moves a workspace to the trash.
func (h *Handler) DeleteWorkspace(ctx context.Context, user types.UserID, workspaceID int64) error {
	if err := checkMember(ctx, h.cat.Read(), workspaceID, user); err != nil {
		return err
	}
	_, err := h.trash.Trash(ctx, user, types.TrashTypeWorkspace, workspaceID, nil)
	return err
}

// DeleteApplication moves an application to the trash.
func (h *Handler) DeleteApplication(ctx context.Context, user types.UserID, applicationID int64) error {
	store := h.cat.Read()
	app, err := store.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	if err := checkMember(ctx, store, app.WorkspaceID, user); err != nil {
		return err
	}
	_, err = h.trash.Trash(ctx, user, types.TrashTypeApplication, applicationID, nil)
	return err
}

func liveWorkspace(ctx context.Context, store *catalog.Store, workspaceID int64) (*types.Workspace, error) {
	ws, err := store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeWorkspaceDoesNotExist,
			fmt.Sprintf("workspace %d does not exist", workspaceID))
	}
	return ws, nil
}

// checkMember fails with WORKSPACE_DOES_NOT_EXIST unless the workspace is
// live and user belongs to it.
func checkMember(ctx context.Context, store *catalog.Store, workspaceID int64, user types.UserID) error {
	if _, err := liveWorkspace(ctx, store, workspaceID); err != nil {
		return err
	}
	member, err := store.IsWorkspaceUser(ctx, workspaceID, user)
	if err != nil {
		return err
	}
	if !member {
		return errors.NewNotFoundError(errors.CodeWorkspaceDoesNotExist,
			fmt.Sprintf("workspace %d does not exist", workspaceID))
	}
	return nil
}
