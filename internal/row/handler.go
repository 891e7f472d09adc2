package row

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/formula"
	"github.com/gridbase/gridbase/internal/ledger"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/pkg/types"
)

// Trasher moves items to the trash. Rows are deleted through it.
type Trasher interface {
	Trash(ctx context.Context, user types.UserID, itemType string, itemID int64, parentID *int64) (*types.TrashEntry, error)
}

// Handler creates, updates and deletes rows of user tables. Every call is
// one transaction; events are published after commit.
type Handler struct {
	cat       *catalog.Catalog
	store     *Store
	providers *ledger.Registry
	events    events.Publisher
	trash     Trasher

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a row handler. providers may be nil.
func NewHandler(cat *catalog.Catalog, store *Store, providers *ledger.Registry, pub events.Publisher) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{
		cat:       cat,
		store:     store,
		providers: providers,
		events:    pub,
		now:       time.Now,
		log:       logging.For("row"),
	}
}

// SetTrasher sets the trash engine used by DeleteRow. The engine depends on
// the row store, so it is wired after construction.
func (h *Handler) SetTrasher(t Trasher) {
	h.trash = t
}

// Store returns the underlying row store.
func (h *Handler) Store() *Store {
	return h.store
}

// CreateRow inserts a row. values maps field ids to raw input; fields that
// are not given receive their type's default.
func (h *Handler) CreateRow(ctx context.Context, user types.UserID, tableID int64, values map[int64]any) (*types.Row, error) {
	var (
		created *types.Row
		fields  []*types.Field
	)
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		if fields, err = liveFields(ctx, tx.Store, tableID); err != nil {
			return err
		}
		columns, links, err := h.prepare(ctx, tx, fields, values, true)
		if err != nil {
			return err
		}

		now := h.now()
		id, err := h.store.Insert(ctx, tx.Conn(), tableID, columns, now)
		if err != nil {
			return err
		}
		changed, err := h.afterWrite(ctx, tx, fields, id, links)
		if err != nil {
			return err
		}
		if created, err = h.store.Get(ctx, tx.Conn(), tableID, id, fields, false); err != nil {
			return err
		}
		related, err := h.relatedEvents(ctx, tx, user, tableID, id, changed)
		if err != nil {
			return err
		}

		serialized := Serialize(h.store.types, fields, created)
		tx.OnCommit(func() {
			ev := events.New(events.RowCreated, user, tableID)
			ev.Row = serialized
			h.events.Publish(ev)
			for _, ev := range related {
				h.events.Publish(ev)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{"table_id": tableID, "row_id": created.ID}).Debug("created row")
	return created, nil
}

// UpdateRow writes the given values. Fields that are not given keep their
// value.
func (h *Handler) UpdateRow(ctx context.Context, user types.UserID, tableID, rowID int64, values map[int64]any) (*types.Row, error) {
	var updated *types.Row
	err := h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		fields, err := liveFields(ctx, tx.Store, tableID)
		if err != nil {
			return err
		}
		before, err := h.store.Get(ctx, tx.Conn(), tableID, rowID, fields, false)
		if err != nil {
			return err
		}
		columns, links, err := h.prepare(ctx, tx, fields, values, false)
		if err != nil {
			return err
		}

		if err := h.store.Update(ctx, tx.Conn(), tableID, rowID, columns, h.now()); err != nil {
			return err
		}
		changed, err := h.afterWrite(ctx, tx, fields, rowID, links)
		if err != nil {
			return err
		}
		if updated, err = h.store.Get(ctx, tx.Conn(), tableID, rowID, fields, false); err != nil {
			return err
		}
		related, err := h.relatedEvents(ctx, tx, user, tableID, rowID, changed)
		if err != nil {
			return err
		}

		serializedBefore := Serialize(h.store.types, fields, before)
		serialized := Serialize(h.store.types, fields, updated)
		tx.OnCommit(func() {
			ev := events.New(events.RowUpdated, user, tableID)
			ev.Row = serialized
			ev.RowBefore = serializedBefore
			h.events.Publish(ev)
			for _, ev := range related {
				h.events.Publish(ev)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRow moves a row to the trash.
func (h *Handler) DeleteRow(ctx context.Context, user types.UserID, tableID, rowID int64) error {
	if h.trash == nil {
		return errors.NewInternalError("row handler has no trash engine", nil)
	}
	_, err := h.trash.Trash(ctx, user, types.TrashTypeRow, rowID, &tableID)
	return err
}

// GetRow returns a non-trashed row with every value.
func (h *Handler) GetRow(ctx context.Context, tableID, rowID int64) (*types.Row, error) {
	store := h.cat.Read()
	fields, err := liveFields(ctx, store, tableID)
	if err != nil {
		return nil, err
	}
	return h.store.Get(ctx, store.Querier(), tableID, rowID, fields, false)
}

// ListRows returns the non-trashed rows of a table in order.
func (h *Handler) ListRows(ctx context.Context, tableID int64) ([]*types.Row, []*types.Field, error) {
	store := h.cat.Read()
	fields, err := liveFields(ctx, store, tableID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := h.store.List(ctx, store.Querier(), tableID, fields)
	if err != nil {
		return nil, nil, err
	}
	return rows, fields, nil
}

// RecomputeFormulas re-evaluates every formula field of a table for the
// given rows, or for every row when rowIDs is nil. Formulas run in field
// order and see the results of the formulas before them. An expression
// that fails to parse or evaluate stores null.
func (h *Handler) RecomputeFormulas(ctx context.Context, tx *catalog.Tx, fields []*types.Field, rowIDs []int64) error {
	var formulas []*types.Field
	for _, f := range fields {
		if f.Type == types.FieldTypeFormula {
			formulas = append(formulas, f)
		}
	}
	if len(formulas) == 0 {
		return nil
	}
	tableID := formulas[0].TableID

	where := "1 = 1"
	var args []any
	if rowIDs != nil {
		if len(rowIDs) == 0 {
			return nil
		}
		where = "id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(rowIDs)), ", ") + ")"
		for _, id := range rowIDs {
			args = append(args, id)
		}
	}
	rows, err := h.store.load(ctx, tx.Conn(), tableID, fields, where, args...)
	if err != nil {
		return err
	}

	parsed := make(map[int64]*formula.Formula, len(formulas))
	for _, f := range formulas {
		expr, err := formula.Parse(f.Params.Formula)
		if err != nil {
			h.log.WithError(err).WithField("field_id", f.ID).Warn("formula does not parse, storing null")
			continue
		}
		parsed[f.ID] = expr
	}

	ft, err := h.store.types.Get(types.FieldTypeFormula)
	if err != nil {
		return err
	}
	cells := make(map[int64][]Cell, len(formulas))
	for _, r := range rows {
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			t, err := h.store.types.Get(f.Type)
			if err != nil {
				return err
			}
			values[f.Name] = t.Serialize(f, r.Values[f.ID])
		}
		l := ledger.New(h.providers, ledger.NewRowProvider(values))

		for _, f := range formulas {
			var result any
			if expr, ok := parsed[f.ID]; ok {
				v, err := expr.Eval(ctx, l)
				if err == nil {
					result, _ = ft.Coerce(f, v)
				}
			}
			values[f.Name] = result
			cells[f.ID] = append(cells[f.ID], Cell{RowID: r.ID, Value: result})
		}
	}

	for _, f := range formulas {
		if _, err := h.store.WriteCells(ctx, tx.Conn(), tableID, columnName(f), cells[f.ID]); err != nil {
			return err
		}
	}
	return nil
}

// prepare validates and coerces raw input. It returns column values and
// the link field targets separately.
func (h *Handler) prepare(ctx context.Context, tx *catalog.Tx, fields []*types.Field, values map[int64]any, create bool) (map[int64]any, map[int64][]int64, error) {
	byID := make(map[int64]*types.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	columns := make(map[int64]any, len(values))
	links := make(map[int64][]int64)
	for _, id := range sortedKeys(values) {
		f, ok := byID[id]
		if !ok {
			return nil, nil, errors.NewValidationError(errors.CodeFieldDoesNotExist, types.FieldKey(id),
				fmt.Sprintf("field %d does not exist in this table", id))
		}
		ft, err := h.store.types.Get(f.Type)
		if err != nil {
			return nil, nil, err
		}
		if ft.ReadOnly() || f.ReadOnly {
			return nil, nil, errors.NewValidationError(errors.CodeFieldReadOnly, f.Name,
				fmt.Sprintf("field %q is read only", f.Name))
		}

		v, err := ft.Coerce(f, values[id])
		if err != nil {
			return nil, nil, err
		}
		if !fieldtype.HasColumn(ft, f) {
			ids, _ := v.([]int64)
			if err := h.store.CheckLinkTargets(ctx, tx.Conn(), f, ids); err != nil {
				return nil, nil, err
			}
			links[f.ID] = ids
			continue
		}
		if f.Type == types.FieldTypeFile {
			if err := checkFiles(ctx, tx, f, v); err != nil {
				return nil, nil, err
			}
		}
		columns[f.ID] = v
	}

	if create {
		for _, f := range fields {
			if _, given := values[f.ID]; given {
				continue
			}
			ft, err := h.store.types.Get(f.Type)
			if err != nil {
				return nil, nil, err
			}
			if ft.ReadOnly() || !fieldtype.HasColumn(ft, f) {
				continue
			}
			if def := ft.Default(f); def != nil {
				columns[f.ID] = def
			}
		}
	}
	return columns, links, nil
}

// afterWrite stores links, refreshes system sourced columns and recomputes
// formulas of one row. It returns, per linked table, the rows whose reverse
// link value changed.
func (h *Handler) afterWrite(ctx context.Context, tx *catalog.Tx, fields []*types.Field, rowID int64, links map[int64][]int64) (map[int64][]int64, error) {
	changed := make(map[int64][]int64)
	for _, f := range fields {
		if ids, ok := links[f.ID]; ok {
			before, err := h.store.ReadLinks(ctx, tx.Conn(), f, []int64{rowID})
			if err != nil {
				return nil, err
			}
			if err := h.store.SetLinks(ctx, tx.Conn(), f, rowID, ids); err != nil {
				return nil, err
			}
			if f.Params.LinkRowRelatedFieldID != 0 {
				target := f.Params.LinkRowTableID
				changed[target] = append(changed[target], linkDiff(before[rowID], ids)...)
			}
		}
		ft, err := h.store.types.Get(f.Type)
		if err != nil {
			return nil, err
		}
		if src, ok := ft.(fieldtype.SystemSourced); ok {
			if err := h.store.SyncSystemColumn(ctx, tx.Conn(), f, src.SourceColumn(), &rowID); err != nil {
				return nil, err
			}
		}
	}
	return changed, h.RecomputeFormulas(ctx, tx, fields, []int64{rowID})
}

// relatedEvents builds row_updated events for rows of linked tables whose
// reverse link value changed. The written row itself is skipped.
func (h *Handler) relatedEvents(ctx context.Context, tx *catalog.Tx, user types.UserID, tableID, rowID int64, changed map[int64][]int64) ([]events.Event, error) {
	var out []events.Event
	for _, target := range sortedKeys(toAnyMap(changed)) {
		ids := uniqueIDs(changed[target])
		if len(ids) == 0 {
			continue
		}
		fields, err := liveFields(ctx, tx.Store, target)
		if err != nil {
			if errors.Is(err, errors.ErrTableDoesNotExist) {
				continue
			}
			return nil, err
		}
		for _, id := range ids {
			if target == tableID && id == rowID {
				continue
			}
			r, err := h.store.Get(ctx, tx.Conn(), target, id, fields, false)
			if err != nil {
				if errors.Is(err, errors.ErrRowDoesNotExist) {
					continue
				}
				return nil, err
			}
			ev := events.New(events.RowUpdated, user, target)
			ev.Row = Serialize(h.store.types, fields, r)
			out = append(out, ev)
		}
	}
	return out, nil
}

// RefreshDerived refreshes the system sourced columns and formulas of every
// row after values were written below the handler, e.g. by a data sync.
func (h *Handler) RefreshDerived(ctx context.Context, tx *catalog.Tx, fields []*types.Field) error {
	for _, f := range fields {
		ft, err := h.store.types.Get(f.Type)
		if err != nil {
			return err
		}
		if src, ok := ft.(fieldtype.SystemSourced); ok {
			if err := h.store.SyncSystemColumn(ctx, tx.Conn(), f, src.SourceColumn(), nil); err != nil {
				return err
			}
		}
	}
	return h.RecomputeFormulas(ctx, tx, fields, nil)
}

func checkFiles(ctx context.Context, tx *catalog.Tx, f *types.Field, v any) error {
	refs, err := fieldtype.FileRefs(v)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := tx.GetUserFileByName(ctx, ref.Name); err != nil {
			if errors.Is(err, errors.ErrUserFileDoesNotExist) {
				return errors.NewValidationError(errors.CodeInvalidValue, f.Name,
					fmt.Sprintf("%s: file %q does not exist", f.Name, ref.Name))
			}
			return err
		}
	}
	return nil
}

// liveFields returns the non-trashed fields of a live table.
func liveFields(ctx context.Context, store *catalog.Store, tableID int64) ([]*types.Field, error) {
	table, err := store.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if table.Trashed {
		return nil, errors.NewNotFoundError(errors.CodeTableDoesNotExist,
			fmt.Sprintf("table %d does not exist", tableID))
	}
	return store.ListFields(ctx, tableID, false)
}

// linkDiff returns the ids present in exactly one of a and b.
func linkDiff(a, b []int64) []int64 {
	inA := make(map[int64]bool, len(a))
	for _, id := range a {
		inA[id] = true
	}
	inB := make(map[int64]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []int64
	for id := range inA {
		if !inB[id] {
			out = append(out, id)
		}
	}
	for id := range inB {
		if !inA[id] {
			out = append(out, id)
		}
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]any, len(ids))
	for _, id := range ids {
		seen[id] = nil
	}
	return sortedKeys(seen)
}

func toAnyMap(m map[int64][]int64) map[int64]any {
	out := make(map[int64]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
