package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/schema"
	"github.com/gridbase/gridbase/pkg/types"
)

// Backup is the definition and data of a field before its last
// conversion. Only the latest backup of a field is kept.
type Backup struct {
	ID        string         `json:"id"`
	FieldID   int64          `json:"field_id"`
	CreatedAt time.Time      `json:"created_at"`
	Field     *types.Field   `json:"field"`
	Cells     []row.Cell     `json:"cells,omitempty"`
	Links     []row.LinkPair `json:"links,omitempty"`
}

func columnOf(f *types.Field) string {
	return schema.ColumnName(f.ID)
}

// backup snapshots f and stores it JSON encoded and snappy compressed.
func (e *Engine) backup(ctx context.Context, tx *catalog.Tx, f *types.Field, ft fieldtype.FieldType) (string, error) {
	b := &Backup{
		ID:        uuid.NewString(),
		FieldID:   f.ID,
		CreatedAt: e.now().UTC(),
		Field:     f.Clone(),
	}

	var err error
	if fieldtype.HasColumn(ft, f) {
		b.Cells, err = e.rows.ReadColumn(ctx, tx.Conn(), f.TableID, columnOf(f))
	} else {
		b.Links, err = e.rows.LinkPairs(ctx, tx.Conn(), f)
	}
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("converter: failed to encode backup: %w", err)
	}
	if err := tx.DeleteFieldBackups(ctx, f.ID); err != nil {
		return "", err
	}
	err = tx.InsertFieldBackup(ctx, &catalog.FieldBackup{
		ID:        b.ID,
		FieldID:   f.ID,
		CreatedAt: b.CreatedAt,
		Payload:   snappy.Encode(nil, payload),
	})
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

// LatestBackup returns the backup taken before the last conversion of a
// field. It fails with BACKUP_DOES_NOT_EXIST when there is none.
func (e *Engine) LatestBackup(ctx context.Context, tx *catalog.Tx, fieldID int64) (*Backup, error) {
	stored, err := tx.LatestFieldBackup(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, stored.Payload)
	if err != nil {
		return nil, fmt.Errorf("converter: corrupt backup %s: %w", stored.ID, err)
	}

	var b Backup
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("converter: failed to decode backup %s: %w", stored.ID, err)
	}
	return &b, nil
}

// DiscardBackup removes a backup once it has been applied.
func (e *Engine) DiscardBackup(ctx context.Context, tx *catalog.Tx, id string) error {
	return tx.DeleteFieldBackup(ctx, id)
}

// RestoreValues writes the data of b into the current storage of f, which
// must have been converted back to the backed up definition. Rows created
// since the backup keep their value. It returns the number of rows written.
func (e *Engine) RestoreValues(ctx context.Context, tx *catalog.Tx, f *types.Field, b *Backup) (int, error) {
	ft, err := e.types.Get(f.Type)
	if err != nil {
		return 0, err
	}
	if f.Type == types.FieldTypeFormula {
		return 0, nil
	}

	if !fieldtype.HasColumn(ft, f) {
		byRow := make(map[int64][]int64)
		var order []int64
		for _, p := range b.Links {
			if _, ok := byRow[p.RowID]; !ok {
				order = append(order, p.RowID)
			}
			byRow[p.RowID] = append(byRow[p.RowID], p.LinkedID)
		}
		for _, rowID := range order {
			if err := e.rows.SetLinks(ctx, tx.Conn(), f, rowID, byRow[rowID]); err != nil {
				return 0, err
			}
		}
		return len(order), nil
	}

	cells := make([]row.Cell, 0, len(b.Cells))
	for _, c := range b.Cells {
		v, err := ft.Coerce(f, c.Value)
		if err != nil {
			v = ft.Default(f)
		}
		cells = append(cells, row.Cell{RowID: c.RowID, Value: v})
	}
	n, err := e.rows.WriteCells(ctx, tx.Conn(), f.TableID, columnOf(f), cells)
	return int(n), err
}
