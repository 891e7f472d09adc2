// Package view manages the named presentations of a table.
package view

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/table"
	"github.com/gridbase/gridbase/pkg/types"
)

var viewTypes = map[string]bool{
	types.ViewTypeGrid:    true,
	types.ViewTypeGallery: true,
	types.ViewTypeForm:    true,
}

// Update lists the attributes of a view to change. Nil members keep their
// value.
type Update struct {
	Name *string
	// FieldOptions maps field ids to their visibility.
	FieldOptions map[int64]bool
}

// Handler owns the view lifecycle.
type Handler struct {
	cat    *catalog.Catalog
	trash  row.Trasher
	events events.Publisher

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a view handler.
func NewHandler(cat *catalog.Catalog, trasher row.Trasher, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{
		cat:    cat,
		trash:  trasher,
		events: pub,
		now:    time.Now,
		log:    logging.For("view"),
	}
}

// CreateView adds a view of the given type to a live table.
func (h *Handler) CreateView(ctx context.Context, user types.UserID, tableID int64, name, viewType string) (*types.View, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "view name must not be empty")
	}
	if !viewTypes[viewType] {
		return nil, errors.NewValidationError(errors.CodeInvalidValue, "type",
			fmt.Sprintf("view type %q does not exist", viewType))
	}

	v := &types.View{TableID: tableID, Name: name, Type: viewType}
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := table.LiveTable(ctx, tx.Store, tableID); err != nil {
			return err
		}
		existing, err := tx.ListViews(ctx, tableID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Order >= v.Order {
				v.Order = other.Order + 1
			}
		}
		if err := tx.InsertView(ctx, v, h.now()); err != nil {
			return err
		}
		h.publish(tx, user, events.ViewCreated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"view_id": v.ID, "table_id": tableID, "type": viewType}).Debug("created view")
	return v, nil
}

// UpdateView renames a view or changes which fields it shows. Field
// options may only name fields of the view's table.
func (h *Handler) UpdateView(ctx context.Context, user types.UserID, viewID int64, upd Update) (*types.View, error) {
	var v *types.View
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		if v, err = liveView(ctx, tx.Store, viewID); err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return errors.NewValidationError(errors.CodeInvalidName, "name", "view name must not be empty")
			}
			v.Name = name
		}
		if upd.FieldOptions != nil {
			fields, err := tx.ListFields(ctx, v.TableID, false)
			if err != nil {
				return err
			}
			known := make(map[int64]bool, len(fields))
			for _, f := range fields {
				known[f.ID] = true
			}
			if v.FieldOptions == nil {
				v.FieldOptions = make(map[int64]bool, len(upd.FieldOptions))
			}
			for id, visible := range upd.FieldOptions {
				if !known[id] {
					return errors.NewValidationError(errors.CodeFieldDoesNotExist, types.FieldKey(id),
						fmt.Sprintf("field %d is not in table %d", id, v.TableID))
				}
				v.FieldOptions[id] = visible
			}
		}
		if err := tx.UpdateView(ctx, v); err != nil {
			return err
		}
		h.publish(tx, user, events.ViewUpdated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListViews returns the non-trashed views of a live table.
func (h *Handler) ListViews(ctx context.Context, tableID int64) ([]*types.View, error) {
	store := h.cat.Read()
	if _, err := table.LiveTable(ctx, store, tableID); err != nil {
		return nil, err
	}
	return store.ListViews(ctx, tableID)
}

// DeleteView moves a view to the trash.
func (h *Handler) DeleteView(ctx context.Context, user types.UserID, viewID int64) error {
	_, err := h.trash.Trash(ctx, user, types.TrashTypeView, viewID, nil)
	return err
}

func (h *Handler) publish(tx *catalog.Tx, user types.UserID, t events.Type, v *types.View) {
	tx.OnCommit(func() {
		ev := events.New(t, user, v.TableID)
		ev.View = v
		h.events.Publish(ev)
	})
}

func liveView(ctx context.Context, store *catalog.Store, viewID int64) (*types.View, error) {
	v, err := store.GetView(ctx, viewID)
	if err != nil {
		return nil, err
	}
	if v.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeViewDoesNotExist,
			fmt.Sprintf("view %d does not exist", viewID))
	}
	return v, nil
}
