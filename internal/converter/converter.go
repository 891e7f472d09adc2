// Package converter changes the physical storage of fields. It is the only
// package that issues DDL against user tables: field conversions, and the
// creation and removal of table, column and junction storage.
package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// Conversion strategies reported in ConversionResult.
const (
	// StrategyNone means the physical storage was left untouched.
	StrategyNone = "none"
	// StrategyFormula means only the computed values need a refresh.
	StrategyFormula = "formula"
	// StrategyRecreate drops the old storage and creates empty storage.
	StrategyRecreate = "recreate"
	// StrategyRecreateCoerce copies every value through the target coercer.
	StrategyRecreateCoerce = "recreate_coerce"
	// StrategyRecreateBackfill fills the new column from a system column.
	StrategyRecreateBackfill = "recreate_backfill"
)

// ConversionResult describes what a conversion did.
type ConversionResult struct {
	FieldID  int64
	Strategy string

	// Nulled counts rows whose value could not be carried over.
	Nulled int

	// RelatedCreated and RelatedDeleted are reverse link fields in other
	// tables that the conversion created or removed.
	RelatedCreated []*types.Field
	RelatedDeleted []*types.Field

	// BackupID identifies the snapshot taken before the change.
	BackupID string
}

// Converter performs the physical change for some field transitions.
type Converter interface {
	Type() string
	IsApplicable(from, to *types.Field) bool
	Alter(ctx context.Context, c *Conversion) error
}

// Conversion is the state shared with a converter while it runs.
type Conversion struct {
	Tx     *catalog.Tx
	From   *types.Field
	To     *types.Field
	Table  *types.Table
	Result *ConversionResult

	fromType fieldtype.FieldType
	toType   fieldtype.FieldType
	engine   *Engine
}

// Engine converts fields and owns every schema change of user tables.
type Engine struct {
	types      *fieldtype.Registry
	rows       *row.Store
	editor     *schema.Editor
	converters []Converter
	fallback   Converter
	locks      *keyLocks

	now func() time.Time
	log *logrus.Entry
}

// NewEngine returns an engine with the built-in converters. The converter
// list is fixed for the lifetime of the engine.
func NewEngine(rows *row.Store) *Engine {
	return &Engine{
		types:  rows.Types(),
		rows:   rows,
		editor: schema.NewEditor(),
		converters: []Converter{
			LinkRowConverter{},
			FileConverter{},
			TimestampConverter{FieldType: types.FieldTypeLastModified},
			TimestampConverter{FieldType: types.FieldTypeCreatedOn},
		},
		fallback: RecreateCoerceConverter{},
		locks:    newKeyLocks(),
		now:      time.Now,
		log:      logging.For("converter"),
	}
}

// LockField serializes work on one field. It must be taken before the
// write transaction is opened; the returned func releases it.
func (e *Engine) LockField(fieldID int64) func() {
	return e.locks.lock(fieldID)
}

// Convert changes the storage of from into the storage of to inside tx.
// from and to share the field id. Converters are consulted in priority
// order and the recreate and coerce fallback always applies. The number
// of rows is the same before and after, otherwise the conversion fails
// and the transaction must roll back.
func (e *Engine) Convert(ctx context.Context, tx *catalog.Tx, from, to *types.Field, table *types.Table) (*ConversionResult, error) {
	fromType, err := e.types.Get(from.Type)
	if err != nil {
		return nil, err
	}
	toType, err := e.types.Get(to.Type)
	if err != nil {
		return nil, err
	}

	res := &ConversionResult{FieldID: to.ID, Strategy: e.plan(from, to)}
	if res.Strategy != "" {
		return res, nil
	}

	before, err := e.rows.Count(ctx, tx.Conn(), table.ID)
	if err != nil {
		return nil, err
	}
	if res.BackupID, err = e.backup(ctx, tx, from, fromType); err != nil {
		return nil, err
	}

	c := &Conversion{
		Tx: tx, From: from, To: to, Table: table, Result: res,
		fromType: fromType, toType: toType, engine: e,
	}
	conv := e.pick(from, to)
	if err := conv.Alter(ctx, c); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryStorage, errors.CodeConversionFailed,
			fmt.Sprintf("converting field %d from %s to %s failed", from.ID, from.Type, to.Type), err)
	}

	after, err := e.rows.Count(ctx, tx.Conn(), table.ID)
	if err != nil {
		return nil, err
	}
	if after != before {
		return nil, errors.NewStorageError(errors.CodeConversionFailed,
			fmt.Sprintf("conversion of field %d changed the row count from %d to %d", from.ID, before, after), nil)
	}

	entry := e.log.WithFields(logrus.Fields{
		"field_id":  to.ID,
		"table_id":  table.ID,
		"from":      from.Type,
		"to":        to.Type,
		"converter": conv.Type(),
		"strategy":  res.Strategy,
		"rows":      after,
	})
	if res.Nulled > 0 {
		entry.WithField("nulled", res.Nulled).Info("converted field with data loss")
	} else {
		entry.Info("converted field")
	}
	return res, nil
}

// plan returns StrategyNone or StrategyFormula when no converter has to
// run, and "" otherwise.
func (e *Engine) plan(from, to *types.Field) string {
	if from.Type != to.Type {
		return ""
	}
	switch from.Type {
	case types.FieldTypeFormula:
		return StrategyFormula
	case types.FieldTypeLinkRow:
		if from.Params.LinkRowTableID != to.Params.LinkRowTableID {
			return ""
		}
		return StrategyNone
	}
	if sameParams(from.Params, to.Params) {
		return StrategyNone
	}
	return ""
}

func (e *Engine) pick(from, to *types.Field) Converter {
	for _, c := range e.converters {
		if c.IsApplicable(from, to) {
			return c
		}
	}
	return e.fallback
}

func sameParams(a, b types.FieldParams) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
