package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// InsertDataSync creates a data sync record and sets its id.
func (s *Store) InsertDataSync(ctx context.Context, ds *types.DataSync, now time.Time) error {
	params, err := json.Marshal(ds.Params)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode data sync params: %w", err)
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO data_syncs (table_id, type, params, created_on) VALUES (?, ?, ?, ?)`,
		ds.TableID, ds.Type, string(params), toNanos(now))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert data sync: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ds.ID = id
	ds.CreatedOn = now.UTC()
	return nil
}

const dataSyncColumns = `id, table_id, type, params, last_sync, last_error, created_on`

func scanDataSync(sc interface{ Scan(...any) error }) (*types.DataSync, error) {
	var (
		ds        types.DataSync
		params    string
		lastSync  sql.NullInt64
		lastError sql.NullString
		created   int64
	)
	if err := sc.Scan(&ds.ID, &ds.TableID, &ds.Type, &params, &lastSync, &lastError, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &ds.Params); err != nil {
		return nil, fmt.Errorf("catalog: corrupt params for data sync %d: %w", ds.ID, err)
	}
	if lastSync.Valid {
		t := fromNanos(lastSync.Int64)
		ds.LastSync = &t
	}
	if lastError.Valid {
		msg := lastError.String
		ds.LastError = &msg
	}
	ds.CreatedOn = fromNanos(created)
	return &ds, nil
}

// GetDataSync returns a data sync by id.
func (s *Store) GetDataSync(ctx context.Context, id int64) (*types.DataSync, error) {
	ds, err := scanDataSync(s.q.QueryRowContext(ctx,
		`SELECT `+dataSyncColumns+` FROM data_syncs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeDataSyncDoesNotExist,
			fmt.Sprintf("data sync %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get data sync: %w", err)
	}
	return ds, nil
}

// GetDataSyncByTable returns the data sync backing a table.
func (s *Store) GetDataSyncByTable(ctx context.Context, tableID int64) (*types.DataSync, error) {
	ds, err := scanDataSync(s.q.QueryRowContext(ctx,
		`SELECT `+dataSyncColumns+` FROM data_syncs WHERE table_id = ?`, tableID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeDataSyncDoesNotExist,
			fmt.Sprintf("table %d has no data sync", tableID))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get data sync: %w", err)
	}
	return ds, nil
}

// ListDataSyncsDue returns the syncs of non-trashed tables whose last sync
// is missing or older than cutoff.
func (s *Store) ListDataSyncsDue(ctx context.Context, cutoff time.Time) ([]*types.DataSync, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT d.id, d.table_id, d.type, d.params, d.last_sync, d.last_error, d.created_on
		FROM data_syncs d JOIN tables t ON t.id = d.table_id
		WHERE t.trashed = 0 AND (d.last_sync IS NULL OR d.last_sync <= ?)
		ORDER BY d.id`, toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list data syncs: %w", err)
	}
	defer rows.Close()

	var out []*types.DataSync
	for rows.Next() {
		ds, err := scanDataSync(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// SetDataSyncResult records the outcome of a sync. A nil syncErr stores
// last_sync = at and clears last_error; otherwise only last_error changes.
func (s *Store) SetDataSyncResult(ctx context.Context, id int64, at time.Time, syncErr error) error {
	var err error
	if syncErr == nil {
		_, err = s.q.ExecContext(ctx,
			`UPDATE data_syncs SET last_sync = ?, last_error = NULL WHERE id = ?`, toNanos(at), id)
	} else {
		_, err = s.q.ExecContext(ctx,
			`UPDATE data_syncs SET last_error = ? WHERE id = ?`, syncErr.Error(), id)
	}
	if err != nil {
		return fmt.Errorf("catalog: failed to record data sync result: %w", err)
	}
	return nil
}

// DeleteDataSyncByTable removes the data sync of a table and its properties.
func (s *Store) DeleteDataSyncByTable(ctx context.Context, tableID int64) error {
	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM data_sync_properties
		WHERE data_sync_id IN (SELECT id FROM data_syncs WHERE table_id = ?)`, tableID); err != nil {
		return fmt.Errorf("catalog: failed to delete data sync properties: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM data_syncs WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("catalog: failed to delete data sync: %w", err)
	}
	return nil
}

// InsertDataSyncProperty maps a property key onto a field.
func (s *Store) InsertDataSyncProperty(ctx context.Context, p *types.DataSyncProperty) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO data_sync_properties (data_sync_id, field_id, key) VALUES (?, ?, ?)`,
		p.DataSyncID, p.FieldID, p.Key)
	if err != nil {
		return fmt.Errorf("catalog: failed to insert data sync property: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// ListDataSyncProperties returns the visible properties of a sync.
func (s *Store) ListDataSyncProperties(ctx context.Context, dataSyncID int64) ([]*types.DataSyncProperty, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, data_sync_id, field_id, key FROM data_sync_properties WHERE data_sync_id = ? ORDER BY id`,
		dataSyncID)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list data sync properties: %w", err)
	}
	defer rows.Close()

	var out []*types.DataSyncProperty
	for rows.Next() {
		var p types.DataSyncProperty
		if err := rows.Scan(&p.ID, &p.DataSyncID, &p.FieldID, &p.Key); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteDataSyncProperty removes one property mapping.
func (s *Store) DeleteDataSyncProperty(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM data_sync_properties WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete data sync property: %w", err)
	}
	return nil
}
