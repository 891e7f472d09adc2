package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/errors"
)

// FieldBackup is a compressed snapshot of a field taken before conversion.
type FieldBackup struct {
	ID        string
	FieldID   int64
	CreatedAt time.Time
	Payload   []byte
}

// InsertFieldBackup stores a backup.
func (s *Store) InsertFieldBackup(ctx context.Context, b *FieldBackup) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO field_backups (id, field_id, created_at, payload) VALUES (?, ?, ?, ?)`,
		b.ID, b.FieldID, toNanos(b.CreatedAt), b.Payload)
	if err != nil {
		return fmt.Errorf("catalog: failed to insert field backup: %w", err)
	}
	return nil
}

// LatestFieldBackup returns the most recent backup of a field.
func (s *Store) LatestFieldBackup(ctx context.Context, fieldID int64) (*FieldBackup, error) {
	var (
		b       FieldBackup
		created int64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, field_id, created_at, payload FROM field_backups
		WHERE field_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, fieldID,
	).Scan(&b.ID, &b.FieldID, &created, &b.Payload)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeBackupDoesNotExist,
			fmt.Sprintf("field %d has no backup", fieldID))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get field backup: %w", err)
	}
	b.CreatedAt = fromNanos(created)
	return &b, nil
}

// DeleteFieldBackup removes one backup.
func (s *Store) DeleteFieldBackup(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM field_backups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: failed to delete field backup: %w", err)
	}
	return nil
}

// DeleteFieldBackups removes every backup of a field.
func (s *Store) DeleteFieldBackups(ctx context.Context, fieldID int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM field_backups WHERE field_id = ?`, fieldID); err != nil {
		return fmt.Errorf("catalog: failed to delete field backups: %w", err)
	}
	return nil
}
