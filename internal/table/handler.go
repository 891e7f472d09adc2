// Package table creates, renames, lists and deletes the tables of database
// applications.
package table

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
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/pkg/types"
)

// PrimaryFieldName names the text field every new table starts with.
const PrimaryFieldName = "Name"

// DefaultViewName names the grid view every new table starts with.
const DefaultViewName = "Grid"

// Handler owns the table lifecycle.
type Handler struct {
	cat    *catalog.Catalog
	engine *converter.Engine
	trash  row.Trasher
	events events.Publisher

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a table handler.
func NewHandler(cat *catalog.Catalog, engine *converter.Engine, trasher row.Trasher, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{
		cat:    cat,
		engine: engine,
		trash:  trasher,
		events: pub,
		now:    time.Now,
		log:    logging.For("table"),
	}
}

// CreateTable adds a table to a database. The table starts with a primary
// text field and a grid view.
func (h *Handler) CreateTable(ctx context.Context, user types.UserID, databaseID int64, name string) (*types.Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "table name must not be empty")
	}

	table := &types.Table{DatabaseID: databaseID, Name: name}
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := LiveDatabase(ctx, tx.Store, databaseID); err != nil {
			return err
		}
		order, err := tx.MaxTableOrder(ctx, databaseID)
		if err != nil {
			return err
		}
		table.Order = order + 1

		now := h.now()
		if err := tx.InsertTable(ctx, table, now); err != nil {
			return err
		}
		if err := h.engine.CreateTableStorage(ctx, tx, table.ID); err != nil {
			return err
		}
		primary := &types.Field{TableID: table.ID, Name: PrimaryFieldName, Type: types.FieldTypeText, Primary: true}
		if err := tx.InsertField(ctx, primary, now); err != nil {
			return err
		}
		if _, err := h.engine.AddFieldStorage(ctx, tx, primary, table); err != nil {
			return err
		}
		view := &types.View{TableID: table.ID, Name: DefaultViewName, Type: types.ViewTypeGrid, Order: 1}
		if err := tx.InsertView(ctx, view, now); err != nil {
			return err
		}

		tx.OnCommit(func() {
			ev := events.New(events.TableCreated, user, table.ID)
			ev.Table = table
			h.events.Publish(ev)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"table_id": table.ID, "database_id": databaseID}).Info("created table")
	return table, nil
}

// RenameTable changes the name of a live table.
func (h *Handler) RenameTable(ctx context.Context, user types.UserID, tableID int64, name string) (*types.Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "table name must not be empty")
	}

	var table *types.Table
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		if table, err = LiveTable(ctx, tx.Store, tableID); err != nil {
			return err
		}
		table.Name = name
		if err := tx.UpdateTable(ctx, table); err != nil {
			return err
		}
		tx.OnCommit(func() {
			ev := events.New(events.TableUpdated, user, table.ID)
			ev.Table = table
			h.events.Publish(ev)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// GetTable returns a live table.
func (h *Handler) GetTable(ctx context.Context, tableID int64) (*types.Table, error) {
	return LiveTable(ctx, h.cat.Read(), tableID)
}

// ListTables returns the non-trashed tables of a live database.
func (h *Handler) ListTables(ctx context.Context, databaseID int64) ([]*types.Table, error) {
	store := h.cat.Read()
	if _, err := LiveDatabase(ctx, store, databaseID); err != nil {
		return nil, err
	}
	all, err := store.ListTables(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Table, 0, len(all))
	for _, t := range all {
		if !t.Trashed {
			out = append(out, t)
		}
	}
	return out, nil
}

// DeleteTable moves a table to the trash.
func (h *Handler) DeleteTable(ctx context.Context, user types.UserID, tableID int64) error {
	_, err := h.trash.Trash(ctx, user, types.TrashTypeTable, tableID, nil)
	return err
}

// LiveDatabase returns a non-trashed database application.
func LiveDatabase(ctx context.Context, store *catalog.Store, databaseID int64) (*types.Application, error) {
	app, err := store.GetApplication(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	if app.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeApplicationDoesNotExist,
			fmt.Sprintf("application %d does not exist", databaseID))
	}
	if app.Type != types.ApplicationTypeDatabase {
		return nil, errors.NewValidationError(errors.CodeIncompatibleApplication, "",
			fmt.Sprintf("application %d is not a database", databaseID))
	}
	return app, nil
}

// LiveTable returns a non-trashed table.
func LiveTable(ctx context.Context, store *catalog.Store, tableID int64) (*types.Table, error) {
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
