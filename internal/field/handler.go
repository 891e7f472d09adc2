// Package field creates, updates, deletes and reverts the fields of user
// tables.
package field

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/pkg/types"
)

// MaxNameLength bounds field names.
const MaxNameLength = 255

var reservedNames = map[string]bool{"id": true, "order": true}

// Update lists the attributes of a field to change. Nil members keep their
// value.
type Update struct {
	Name   *string
	Type   *string
	Params *types.FieldParams
}

// Handler owns the field lifecycle. Schema changes go through the
// converter engine; formula values are refreshed through the row handler.
type Handler struct {
	cat    *catalog.Catalog
	engine *converter.Engine
	rows   *row.Handler
	types  *fieldtype.Registry
	trash  row.Trasher
	events events.Publisher

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a field handler.
func NewHandler(cat *catalog.Catalog, engine *converter.Engine, rows *row.Handler, trasher row.Trasher, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{
		cat:    cat,
		engine: engine,
		rows:   rows,
		types:  rows.Store().Types(),
		trash:  trasher,
		events: pub,
		now:    time.Now,
		log:    logging.For("field"),
	}
}

// CreateField adds a field to a table and provisions its storage. For a
// link row field the reverse field created in the linked table is
// returned as well.
func (h *Handler) CreateField(ctx context.Context, user types.UserID, tableID int64, spec *types.Field) (*types.Field, []*types.Field, error) {
	f := spec.Clone()
	f.ID = 0
	f.TableID = tableID
	f.Trashed = false
	f.Name = strings.TrimSpace(f.Name)
	if err := validateName(f.Name); err != nil {
		return nil, nil, err
	}
	if err := h.prepareParams(f, nil); err != nil {
		return nil, nil, err
	}

	var related []*types.Field
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		table, err := liveTable(ctx, tx.Store, tableID)
		if err != nil {
			return err
		}
		if err := checkNameFree(ctx, tx.Store, tableID, f.Name, 0); err != nil {
			return err
		}
		order, err := tx.MaxFieldOrder(ctx, tableID)
		if err != nil {
			return err
		}
		f.Order = order + 1

		now := h.now()
		if err := tx.InsertField(ctx, f, now); err != nil {
			return err
		}
		if related, err = h.engine.AddFieldStorage(ctx, tx, f, table); err != nil {
			return err
		}
		if err := tx.UpdateField(ctx, f, now); err != nil {
			return err
		}
		if err := h.recompute(ctx, tx, tableID); err != nil {
			return err
		}

		tx.OnCommit(func() {
			ev := events.New(events.FieldCreated, user, tableID)
			ev.Field = f
			ev.RelatedFields = related
			h.events.Publish(ev)
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	h.log.WithFields(logrus.Fields{"field_id": f.ID, "table_id": tableID, "type": f.Type}).Info("created field")
	return f, related, nil
}

// UpdateField renames a field and changes its type or parameters. A type
// or parameter change converts the stored values, which may lose data;
// the previous state stays available to UndoUpdate.
func (h *Handler) UpdateField(ctx context.Context, user types.UserID, fieldID int64, upd Update) (*types.Field, *converter.ConversionResult, error) {
	unlock := h.engine.LockField(fieldID)
	defer unlock()

	var (
		to  *types.Field
		res *converter.ConversionResult
	)
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		from, err := liveField(ctx, tx.Store, fieldID)
		if err != nil {
			return err
		}
		table, err := liveTable(ctx, tx.Store, from.TableID)
		if err != nil {
			return err
		}

		to = from.Clone()
		if upd.Name != nil {
			to.Name = strings.TrimSpace(*upd.Name)
			if err := validateName(to.Name); err != nil {
				return err
			}
			if err := checkNameFree(ctx, tx.Store, to.TableID, to.Name, to.ID); err != nil {
				return err
			}
		}
		if upd.Type != nil {
			to.Type = *upd.Type
		}
		if upd.Params != nil {
			to.Params = *upd.Params
		}
		if err := checkTransition(from, to); err != nil {
			return err
		}
		carryLinkParams(from, to)
		if err := h.prepareParams(to, from); err != nil {
			return err
		}

		if res, err = h.engine.Convert(ctx, tx, from, to, table); err != nil {
			return err
		}
		if err := tx.UpdateField(ctx, to, h.now()); err != nil {
			return err
		}
		if err := h.recompute(ctx, tx, to.TableID); err != nil {
			return err
		}

		h.publishUpdate(tx, user, to, res)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return to, res, nil
}

// DeleteField moves a field to the trash. The primary field cannot be
// deleted.
func (h *Handler) DeleteField(ctx context.Context, user types.UserID, fieldID int64) error {
	_, err := h.trash.Trash(ctx, user, types.TrashTypeField, fieldID, nil)
	return err
}

// UndoUpdate reverts the last conversion of a field: the definition and
// the values recorded before it are restored. Rows created since keep
// their value. The field keeps its current name if the old one has been
// taken.
func (h *Handler) UndoUpdate(ctx context.Context, user types.UserID, fieldID int64) (*types.Field, error) {
	unlock := h.engine.LockField(fieldID)
	defer unlock()

	var (
		to       *types.Field
		restored int
	)
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		current, err := liveField(ctx, tx.Store, fieldID)
		if err != nil {
			return err
		}
		table, err := liveTable(ctx, tx.Store, current.TableID)
		if err != nil {
			return err
		}
		b, err := h.engine.LatestBackup(ctx, tx, fieldID)
		if err != nil {
			return err
		}
		if err := h.engine.DiscardBackup(ctx, tx, b.ID); err != nil {
			return err
		}

		to = b.Field.Clone()
		to.ID, to.TableID = current.ID, current.TableID
		to.Order, to.Primary, to.ReadOnly = current.Order, current.Primary, current.ReadOnly
		to.Trashed = false
		if err := checkNameFree(ctx, tx.Store, to.TableID, to.Name, to.ID); err != nil {
			to.Name = current.Name
		}

		res, err := h.engine.Convert(ctx, tx, current, to, table)
		if err != nil {
			return err
		}
		if err := tx.UpdateField(ctx, to, h.now()); err != nil {
			return err
		}
		if restored, err = h.engine.RestoreValues(ctx, tx, to, b); err != nil {
			return err
		}
		if err := h.recompute(ctx, tx, to.TableID); err != nil {
			return err
		}

		h.publishUpdate(tx, user, to, res)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"field_id": fieldID, "rows": restored}).Info("reverted field update")
	return to, nil
}

// GetField returns a non-trashed field.
func (h *Handler) GetField(ctx context.Context, fieldID int64) (*types.Field, error) {
	return liveField(ctx, h.cat.Read(), fieldID)
}

// ListFields returns the non-trashed fields of a live table.
func (h *Handler) ListFields(ctx context.Context, tableID int64) ([]*types.Field, error) {
	store := h.cat.Read()
	if _, err := liveTable(ctx, store, tableID); err != nil {
		return nil, err
	}
	return store.ListFields(ctx, tableID, false)
}

func (h *Handler) publishUpdate(tx *catalog.Tx, user types.UserID, f *types.Field, res *converter.ConversionResult) {
	tx.OnCommit(func() {
		ev := events.New(events.FieldUpdated, user, f.TableID)
		ev.Field = f
		ev.RelatedFields = res.RelatedCreated
		h.events.Publish(ev)
		for _, r := range res.RelatedDeleted {
			dev := events.New(events.FieldDeleted, user, r.TableID)
			dev.Field = r
			h.events.Publish(dev)
		}
	})
}

func (h *Handler) prepareParams(f, prev *types.Field) error {
	ft, err := h.types.Get(f.Type)
	if err != nil {
		return err
	}
	if p, ok := ft.(fieldtype.ParamsPreparer); ok {
		return p.PrepareParams(f, prev)
	}
	return nil
}

// recompute refreshes every formula of a table. A formula may reference
// any field by name, so a schema change can alter any of them.
func (h *Handler) recompute(ctx context.Context, tx *catalog.Tx, tableID int64) error {
	fields, err := tx.ListFields(ctx, tableID, false)
	if err != nil {
		return err
	}
	return h.rows.RecomputeFormulas(ctx, tx, fields, nil)
}

func checkTransition(from, to *types.Field) error {
	if from.Type == to.Type {
		return nil
	}
	if from.ReadOnly {
		return errors.NewValidationError(errors.CodeFieldReadOnly, from.Name,
			fmt.Sprintf("field %q is read only", from.Name))
	}
	if from.Primary && to.Type == types.FieldTypeLinkRow {
		return errors.NewValidationError(errors.CodeInvalidFieldParams, from.Name,
			"the primary field cannot be a link row field")
	}
	return nil
}

// carryLinkParams keeps the relation of a link row field whose target
// does not change.
func carryLinkParams(from, to *types.Field) {
	if from.Type != types.FieldTypeLinkRow || to.Type != types.FieldTypeLinkRow {
		return
	}
	if from.Params.LinkRowTableID != to.Params.LinkRowTableID {
		return
	}
	to.Params.LinkRowRelationID = from.Params.LinkRowRelationID
	to.Params.LinkRowRelatedFieldID = from.Params.LinkRowRelatedFieldID
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.NewValidationError(errors.CodeInvalidName, "name", "field name must not be empty")
	case len(name) > MaxNameLength:
		return errors.NewValidationError(errors.CodeInvalidName, "name",
			fmt.Sprintf("field name is longer than %d characters", MaxNameLength))
	case reservedNames[strings.ToLower(name)]:
		return errors.NewValidationError(errors.CodeInvalidName, "name",
			fmt.Sprintf("%q is a reserved field name", name))
	}
	return nil
}

func checkNameFree(ctx context.Context, store *catalog.Store, tableID int64, name string, excludeID int64) error {
	taken, err := store.FieldNameExists(ctx, tableID, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errors.NewValidationError(errors.CodeFieldWithSameNameExists, name,
			fmt.Sprintf("a field named %q already exists", name))
	}
	return nil
}

func liveTable(ctx context.Context, store *catalog.Store, tableID int64) (*types.Table, error) {
	t, err := store.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeTableDoesNotExist,
			fmt.Sprintf("table %d does not exist", tableID))
	}
	return t, nil
}

func liveField(ctx context.Context, store *catalog.Store, fieldID int64) (*types.Field, error) {
	f, err := store.GetField(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if f.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeFieldDoesNotExist,
			fmt.Sprintf("field %d does not exist", fieldID))
	}
	return f, nil
}
