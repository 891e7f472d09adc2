package converter

import (
	"context"
	"fmt"

	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// LinkRowConverter handles every transition into, out of, or between link
// row targets. Links cannot be carried across tables, so it always
// recreates empty storage, even when the target tables look alike.
type LinkRowConverter struct{}

func (LinkRowConverter) Type() string { return "link_row" }

func (LinkRowConverter) IsApplicable(from, to *types.Field) bool {
	fromLink := from.Type == types.FieldTypeLinkRow
	toLink := to.Type == types.FieldTypeLinkRow
	if !fromLink && !toLink {
		return false
	}
	return fromLink != toLink || from.Params.LinkRowTableID != to.Params.LinkRowTableID
}

func (LinkRowConverter) Alter(ctx context.Context, c *Conversion) error {
	c.Result.Strategy = StrategyRecreate
	return c.recreate(ctx, true)
}

// FileConverter handles file to non file transitions and back. File
// references have no meaningful representation in other types.
type FileConverter struct{}

func (FileConverter) Type() string { return "file" }

func (FileConverter) IsApplicable(from, to *types.Field) bool {
	return (from.Type == types.FieldTypeFile) != (to.Type == types.FieldTypeFile)
}

func (FileConverter) Alter(ctx context.Context, c *Conversion) error {
	c.Result.Strategy = StrategyRecreate
	return c.recreate(ctx, true)
}

// TimestampConverter handles conversions into a created on or last
// modified field, including adding the time of day. The new column is
// filled from the row's own system timestamp, never from the old column.
type TimestampConverter struct {
	FieldType string
}

func (t TimestampConverter) Type() string { return t.FieldType }

func (t TimestampConverter) IsApplicable(from, to *types.Field) bool {
	if to.Type != t.FieldType {
		return false
	}
	return from.Type != to.Type || from.Params.DateIncludeTime != to.Params.DateIncludeTime
}

func (t TimestampConverter) Alter(ctx context.Context, c *Conversion) error {
	if _, ok := c.toType.(fieldtype.SystemSourced); !ok {
		return fmt.Errorf("field type %s has no source column", t.FieldType)
	}
	// addFieldStorage backfills system sourced columns.
	c.Result.Strategy = StrategyRecreateBackfill
	return c.recreate(ctx, false)
}

// RecreateCoerceConverter is the fallback. It adds a column of the new
// type, copies every value through the target coercer and swaps the
// columns. A value the coercer rejects becomes the type's default and is
// counted as nulled; one bad row never blocks the change.
type RecreateCoerceConverter struct{}

func (RecreateCoerceConverter) Type() string { return "recreate_coerce" }

func (RecreateCoerceConverter) IsApplicable(_, _ *types.Field) bool { return true }

func (RecreateCoerceConverter) Alter(ctx context.Context, c *Conversion) error {
	if c.To.Type == types.FieldTypeFormula || !fieldtype.HasColumn(c.fromType, c.From) {
		// Formula values are recomputed by the caller.
		c.Result.Strategy = StrategyRecreate
		return c.recreate(ctx, false)
	}
	c.Result.Strategy = StrategyRecreateCoerce

	e := c.engine
	q := c.Tx.Conn()
	column := schema.ColumnName(c.From.ID)
	temp := schema.TempColumnName(c.To.ID)

	cells, err := e.rows.ReadColumn(ctx, q, c.Table.ID, column)
	if err != nil {
		return err
	}
	if err := e.editor.AddColumn(ctx, q, c.Table.ID, temp, c.toType.ColumnSQL(c.To), nil); err != nil {
		return err
	}

	out := make([]row.Cell, 0, len(cells))
	for _, cell := range cells {
		src := c.fromType.Serialize(c.From, cell.Value)
		v, err := c.toType.Coerce(c.To, src)
		if err != nil {
			v = c.toType.Default(c.To)
			c.Result.Nulled++
		}
		out = append(out, row.Cell{RowID: cell.RowID, Value: v})
	}
	written, err := e.rows.WriteCells(ctx, q, c.Table.ID, temp, out)
	if err != nil {
		return err
	}
	if written != int64(len(cells)) {
		return fmt.Errorf("wrote %d of %d rows", written, len(cells))
	}

	if err := e.editor.DropColumn(ctx, q, c.Table.ID, column); err != nil {
		return err
	}
	return e.editor.RenameColumn(ctx, q, c.Table.ID, temp, column)
}

// recreate drops the storage of From and creates empty storage for To.
// With countLost every non empty old value is counted as nulled.
func (c *Conversion) recreate(ctx context.Context, countLost bool) error {
	if countLost {
		lost, err := c.countValues(ctx)
		if err != nil {
			return err
		}
		c.Result.Nulled = lost
	}

	deleted, err := c.engine.dropFieldStorage(ctx, c.Tx, c.From, true)
	if err != nil {
		return err
	}
	c.Result.RelatedDeleted = append(c.Result.RelatedDeleted, deleted...)

	if c.To.Type == types.FieldTypeLinkRow {
		c.To.Params.LinkRowRelationID = 0
		c.To.Params.LinkRowRelatedFieldID = 0
	}
	created, err := c.engine.addFieldStorage(ctx, c.Tx, c.To, c.toType, c.Table)
	if err != nil {
		return err
	}
	c.Result.RelatedCreated = append(c.Result.RelatedCreated, created...)
	return nil
}

func (c *Conversion) countValues(ctx context.Context) (int, error) {
	q := c.Tx.Conn()
	if !fieldtype.HasColumn(c.fromType, c.From) {
		pairs, err := c.engine.rows.LinkPairs(ctx, q, c.From)
		if err != nil {
			return 0, err
		}
		seen := make(map[int64]bool)
		for _, p := range pairs {
			seen[p.RowID] = true
		}
		return len(seen), nil
	}
	cells, err := c.engine.rows.ReadColumn(ctx, q, c.Table.ID, schema.ColumnName(c.From.ID))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cell := range cells {
		if cell.Value != nil && cell.Value != "" {
			n++
		}
	}
	return n, nil
}
