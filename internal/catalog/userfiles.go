package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// InsertUserFile registers an uploaded file. Uploading identical content
// under the same name twice is a no-op returning the existing record.
func (s *Store) InsertUserFile(ctx context.Context, f *types.UserFile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_files (name, original_name, size, mime_type, uploaded_by, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.Name, f.OriginalName, f.Size, f.MimeType, int64(f.UploadedBy), toNanos(f.UploadedAt))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert user file: %w", err)
	}
	existing, err := s.GetUserFileByName(ctx, f.Name)
	if err != nil {
		return err
	}
	*f = *existing
	return nil
}

// GetUserFileByName returns the file registered under a unique name.
func (s *Store) GetUserFileByName(ctx context.Context, name string) (*types.UserFile, error) {
	var (
		f        types.UserFile
		user     int64
		uploaded int64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, original_name, size, mime_type, uploaded_by, uploaded_at
		FROM user_files WHERE name = ?`, name,
	).Scan(&f.ID, &f.Name, &f.OriginalName, &f.Size, &f.MimeType, &user, &uploaded)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeUserFileDoesNotExist,
			fmt.Sprintf("user file %q does not exist", name))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get user file: %w", err)
	}
	f.UploadedBy = types.UserID(user)
	f.UploadedAt = fromNanos(uploaded)
	return &f, nil
}

// ListUserFileNames returns the unique names of all registered files.
func (s *Store) ListUserFileNames(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name FROM user_files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list user files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan user file: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
