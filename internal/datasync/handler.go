package datasync

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/table"
	"github.com/gridbase/gridbase/pkg/types"
)

// SyncResult reports the outcome of one sync.
type SyncResult struct {
	DataSync *types.DataSync
	Created  int
	Updated  int
	Deleted  int
}

// Changed reports whether the sync wrote any row.
func (r *SyncResult) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// Handler creates synced tables and reconciles them with their source.
type Handler struct {
	cat    *catalog.Catalog
	engine *converter.Engine
	rows   *row.Handler
	types  *Registry
	events events.Publisher

	// running holds the ids of the syncs in progress.
	running sync.Map

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a data sync handler.
func NewHandler(cat *catalog.Catalog, engine *converter.Engine, rows *row.Handler, reg *Registry, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{
		cat:    cat,
		engine: engine,
		rows:   rows,
		types:  reg,
		events: pub,
		now:    time.Now,
		log:    logging.For("datasync"),
	}
}

// SetClock replaces the time source.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// CreateDataSyncTable creates a table in a database, one read-only field
// per visible property and the data sync record, then runs the first sync.
// Unique primary properties are always added, in front. A failed first
// sync keeps the table and is recorded on the data sync.
func (h *Handler) CreateDataSyncTable(ctx context.Context, user types.UserID, databaseID int64, typeName string,
	visible []string, tableName string, params map[string]string) (*SyncResult, error) {
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "table name must not be empty")
	}
	st, err := h.types.Get(typeName)
	if err != nil {
		return nil, err
	}

	ds := &types.DataSync{Type: typeName, Params: params}
	if ds.Params == nil {
		ds.Params = map[string]string{}
	}
	err = h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := table.LiveDatabase(ctx, tx.Store, databaseID); err != nil {
			return err
		}
		props, err := st.Properties(ctx, h.source(tx), ds)
		if err != nil {
			return err
		}
		keys := withUniqueFirst(props, visible)

		order, err := tx.MaxTableOrder(ctx, databaseID)
		if err != nil {
			return err
		}
		now := h.now()
		tbl := &types.Table{DatabaseID: databaseID, Name: tableName, Order: order + 1}
		if err := tx.InsertTable(ctx, tbl, now); err != nil {
			return err
		}
		if err := h.engine.CreateTableStorage(ctx, tx, tbl.ID); err != nil {
			return err
		}
		ds.TableID = tbl.ID
		if err := tx.InsertDataSync(ctx, ds, now); err != nil {
			return err
		}

		hasPrimary := false
		for i, key := range keys {
			p, err := findProperty(props, key, typeName)
			if err != nil {
				return err
			}
			primary := p.UniquePrimary && !hasPrimary
			hasPrimary = hasPrimary || primary
			if err := h.addPropertyField(ctx, tx, tbl, ds, p, i+1, primary); err != nil {
				return err
			}
		}
		if !hasPrimary {
			return errors.NewValidationError(errors.CodeUniquePrimaryPropertyMissing, "",
				fmt.Sprintf("data sync type %q has no unique primary property", typeName))
		}

		view := &types.View{TableID: tbl.ID, Name: table.DefaultViewName, Type: types.ViewTypeGrid, Order: 1}
		if err := tx.InsertView(ctx, view, now); err != nil {
			return err
		}
		tx.OnCommit(func() {
			ev := events.New(events.TableCreated, user, tbl.ID)
			ev.Table = tbl
			h.events.Publish(ev)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{
		"data_sync_id": ds.ID,
		"table_id":     ds.TableID,
		"type":         typeName,
	}).Info("created data sync table")
	return h.SyncDataSyncTable(ctx, user, ds.ID)
}

// SyncDataSyncTable reconciles a synced table with its source: missing
// rows are created, changed rows updated and rows gone from the source
// deleted, all in one transaction. Success stores last_sync and clears
// last_error. A failure rolls the row changes back and only stores
// last_error. Only one sync of a data sync runs at a time.
func (h *Handler) SyncDataSyncTable(ctx context.Context, user types.UserID, dataSyncID int64) (*SyncResult, error) {
	if _, busy := h.running.LoadOrStore(dataSyncID, struct{}{}); busy {
		return nil, errors.NewConflictError(errors.CodeSyncInProgress,
			fmt.Sprintf("data sync %d is already running", dataSyncID))
	}
	defer h.running.Delete(dataSyncID)

	res := &SyncResult{}
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		ds, err := tx.GetDataSync(ctx, dataSyncID)
		if err != nil {
			return err
		}
		if _, err := table.LiveTable(ctx, tx.Store, ds.TableID); err != nil {
			return err
		}
		if err := h.reconcile(ctx, tx, ds, res); err != nil {
			return err
		}
		if err := tx.SetDataSyncResult(ctx, ds.ID, h.now(), nil); err != nil {
			return err
		}
		tableID := ds.TableID
		tx.OnCommit(func() {
			h.events.Publish(events.New(events.TableUpdated, user, tableID))
		})
		return nil
	})
	if err != nil {
		switch errors.GetCode(err) {
		case errors.CodeDataSyncDoesNotExist, errors.CodeTableDoesNotExist:
			return nil, err
		}
		if rerr := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
			return tx.SetDataSyncResult(ctx, dataSyncID, h.now(), err)
		}); rerr != nil {
			h.log.WithError(rerr).WithField("data_sync_id", dataSyncID).Error("failed to record sync error")
		}
		h.log.WithError(err).WithField("data_sync_id", dataSyncID).Warn("data sync failed")
		return nil, err
	}

	if res.DataSync, err = h.cat.Read().GetDataSync(ctx, dataSyncID); err != nil {
		return nil, err
	}
	h.log.WithFields(logrus.Fields{
		"data_sync_id": dataSyncID,
		"created":      res.Created,
		"updated":      res.Updated,
		"deleted":      res.Deleted,
	}).Info("synced table")
	return res, nil
}

// SetVisibleProperties changes which properties are synced. Fields of
// properties no longer visible are deleted for good; fields for new
// properties are created. Unique primary properties cannot be hidden. The
// table is synced afterwards.
func (h *Handler) SetVisibleProperties(ctx context.Context, user types.UserID, dataSyncID int64, visible []string) (*SyncResult, error) {
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		ds, err := tx.GetDataSync(ctx, dataSyncID)
		if err != nil {
			return err
		}
		tbl, err := table.LiveTable(ctx, tx.Store, ds.TableID)
		if err != nil {
			return err
		}
		st, err := h.types.Get(ds.Type)
		if err != nil {
			return err
		}
		props, err := st.Properties(ctx, h.source(tx), ds)
		if err != nil {
			return err
		}
		keys := withUniqueFirst(props, visible)
		want := make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}

		mapped, err := tx.ListDataSyncProperties(ctx, ds.ID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(mapped))
		var removed []*types.Field
		for _, m := range mapped {
			if want[m.Key] {
				have[m.Key] = true
				continue
			}
			f, err := tx.GetField(ctx, m.FieldID)
			switch {
			case errors.Is(err, errors.ErrFieldDoesNotExist):
			case err != nil:
				return err
			default:
				if err := h.engine.DropFieldStorage(ctx, tx, f); err != nil {
					return err
				}
				if err := tx.DeleteField(ctx, f.ID); err != nil {
					return err
				}
				removed = append(removed, f)
			}
			if err := tx.DeleteDataSyncProperty(ctx, m.ID); err != nil {
				return err
			}
		}

		order, err := tx.MaxFieldOrder(ctx, tbl.ID)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if have[key] {
				continue
			}
			p, err := findProperty(props, key, ds.Type)
			if err != nil {
				return err
			}
			order++
			if err := h.addPropertyField(ctx, tx, tbl, ds, p, order, false); err != nil {
				return err
			}
		}

		tx.OnCommit(func() {
			for _, f := range removed {
				ev := events.New(events.FieldDeleted, user, f.TableID)
				ev.Field = f
				h.events.Publish(ev)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.SyncDataSyncTable(ctx, user, dataSyncID)
}

// GetDataSync returns a data sync by id.
func (h *Handler) GetDataSync(ctx context.Context, dataSyncID int64) (*types.DataSync, error) {
	return h.cat.Read().GetDataSync(ctx, dataSyncID)
}

// SyncDue syncs every data sync of a live table whose last sync is older
// than maxAge. Failures are recorded per data sync and do not stop the
// others. It returns the number of successful syncs.
func (h *Handler) SyncDue(ctx context.Context, maxAge time.Duration) (int, error) {
	due, err := h.cat.Read().ListDataSyncsDue(ctx, h.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, ds := range due {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if _, err := h.SyncDataSyncTable(ctx, 0, ds.ID); err != nil {
			continue
		}
		ok++
	}
	return ok, nil
}

type binding struct {
	key   string
	field *types.Field
	ft    fieldtype.FieldType
}

// reconcile diffs the table against the source by the unique primary
// properties and applies the difference.
func (h *Handler) reconcile(ctx context.Context, tx *catalog.Tx, ds *types.DataSync, res *SyncResult) error {
	st, err := h.types.Get(ds.Type)
	if err != nil {
		return err
	}
	src := h.source(tx)
	props, err := st.Properties(ctx, src, ds)
	if err != nil {
		return err
	}
	fields, err := tx.ListFields(ctx, ds.TableID, false)
	if err != nil {
		return err
	}
	bound, err := h.bindings(ctx, tx, ds, fields)
	if err != nil {
		return err
	}
	var keyBindings []binding
	for _, key := range uniqueKeys(props) {
		b, ok := bound[key]
		if !ok {
			return errors.NewValidationError(errors.CodeUniquePrimaryPropertyMissing, key,
				fmt.Sprintf("unique primary property %q is not synced", key))
		}
		keyBindings = append(keyBindings, b)
	}
	if len(keyBindings) == 0 {
		return errors.NewValidationError(errors.CodeUniquePrimaryPropertyMissing, "",
			fmt.Sprintf("data sync type %q has no unique primary property", ds.Type))
	}

	columns := make([]*types.Field, 0, len(bound))
	for _, b := range bound {
		columns = append(columns, b.field)
	}
	store := h.rows.Store()
	existing, err := store.List(ctx, tx.Conn(), ds.TableID, columns)
	if err != nil {
		return err
	}
	index := make(map[string]*types.Row, len(existing))
	for _, r := range existing {
		index[identity(keyBindings, r.Values)] = r
	}

	source, err := st.AllRows(ctx, src, ds)
	if err != nil {
		return err
	}
	now := h.now()
	seen := make(map[string]bool, len(source))
	for _, rec := range source {
		values := make(map[int64]any, len(bound))
		for _, b := range bound {
			v, err := b.ft.Coerce(b.field, rec[b.key])
			if err != nil {
				return errors.NewSyncError(fmt.Sprintf("property %q has an invalid value", b.key), err)
			}
			values[b.field.ID] = v
		}
		id := identity(keyBindings, values)
		if seen[id] {
			continue
		}
		seen[id] = true

		current, ok := index[id]
		if !ok {
			if _, err := store.Insert(ctx, tx.Conn(), ds.TableID, values, now); err != nil {
				return err
			}
			res.Created++
			continue
		}
		changed := make(map[int64]any)
		for fid, v := range values {
			if !reflect.DeepEqual(current.Values[fid], v) {
				changed[fid] = v
			}
		}
		if len(changed) > 0 {
			if err := store.Update(ctx, tx.Conn(), ds.TableID, current.ID, changed, now); err != nil {
				return err
			}
			res.Updated++
		}
	}

	for _, r := range existing {
		if seen[identity(keyBindings, r.Values)] {
			continue
		}
		if err := store.Delete(ctx, tx.Conn(), ds.TableID, r.ID, fields); err != nil {
			return err
		}
		res.Deleted++
	}

	if res.Changed() {
		return h.rows.RefreshDerived(ctx, tx, fields)
	}
	return nil
}

// bindings maps the synced property keys onto their live fields.
func (h *Handler) bindings(ctx context.Context, tx *catalog.Tx, ds *types.DataSync, fields []*types.Field) (map[string]binding, error) {
	mapped, err := tx.ListDataSyncProperties(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*types.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	out := make(map[string]binding, len(mapped))
	for _, m := range mapped {
		f, ok := byID[m.FieldID]
		if !ok {
			continue
		}
		ft, err := h.rows.Store().Types().Get(f.Type)
		if err != nil {
			return nil, err
		}
		if !fieldtype.HasColumn(ft, f) || ft.ReadOnly() {
			continue
		}
		out[m.Key] = binding{key: m.Key, field: f, ft: ft}
	}
	return out, nil
}

func (h *Handler) addPropertyField(ctx context.Context, tx *catalog.Tx, tbl *types.Table, ds *types.DataSync, p Property, order int, primary bool) error {
	f := p.Field.Clone()
	f.ID = 0
	f.TableID = tbl.ID
	f.Order = order
	f.Primary = primary
	f.ReadOnly = true
	name, err := converter.UniqueFieldName(ctx, tx, tbl.ID, p.Name)
	if err != nil {
		return err
	}
	f.Name = name

	ft, err := h.rows.Store().Types().Get(f.Type)
	if err != nil {
		return err
	}
	if pp, ok := ft.(fieldtype.ParamsPreparer); ok {
		if err := pp.PrepareParams(f, nil); err != nil {
			return err
		}
	}

	now := h.now()
	if err := tx.InsertField(ctx, f, now); err != nil {
		return err
	}
	if _, err := h.engine.AddFieldStorage(ctx, tx, f, tbl); err != nil {
		return err
	}
	return tx.InsertDataSyncProperty(ctx, &types.DataSyncProperty{DataSyncID: ds.ID, FieldID: f.ID, Key: p.Key})
}

func (h *Handler) source(tx *catalog.Tx) Source {
	return Source{Store: tx.Store, Rows: h.rows.Store()}
}

// withUniqueFirst returns the visible keys without duplicates, preceded by
// the unique primary keys that were not given.
func withUniqueFirst(props []Property, visible []string) []string {
	seen := make(map[string]bool, len(visible))
	var out []string
	for _, key := range uniqueKeys(props) {
		seen[key] = true
		out = append(out, key)
	}
	for _, key := range visible {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func findProperty(props []Property, key, typeName string) (Property, error) {
	for _, p := range props {
		if p.Key == key {
			return p, nil
		}
	}
	return Property{}, errors.NewValidationError(errors.CodePropertyNotFound, key,
		fmt.Sprintf("property %q is not offered by %s", key, typeName))
}

// identity joins the unique primary values of a row.
func identity(keys []binding, values map[int64]any) string {
	parts := make([]string, len(keys))
	for i, b := range keys {
		parts[i] = fmt.Sprintf("%T:%v", values[b.field.ID], values[b.field.ID])
	}
	return strings.Join(parts, "\x1f")
}
