package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// InsertFile records file metadata together with its initial permissions in
// one transaction.
func (s *UserStore) InsertFile(ctx context.Context, f *model.FileMetadata, perms []model.FileAccessPermission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_metadata (id, user_id, file_path, original_name, file_type,
				size_bytes, checksum, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, s.userID, f.FilePath, f.OriginalName, f.FileType,
			f.SizeBytes, f.Checksum, f.CreatedAt, f.UpdatedAt, f.ExpiresAt)
		if err != nil {
			return fmt.Errorf("inserting file metadata: %w", err)
		}
		for _, p := range perms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO file_permissions (file_id, principal, grant_type, created_at)
				VALUES (?, ?, ?, ?)`,
				f.ID, p.Principal, p.Grant, p.CreatedAt); err != nil {
				return fmt.Errorf("inserting file permission: %w", err)
			}
		}
		return nil
	})
}

// GetFile returns one file's metadata.
func (s *UserStore) GetFile(ctx context.Context, id string) (*model.FileMetadata, error) {
	var f model.FileMetadata
	err := s.db.GetContext(ctx, &f,
		`SELECT * FROM file_metadata WHERE id = ? AND user_id = ?`, id, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("file %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", id, err)
	}
	return &f, nil
}

// ListFiles returns all file metadata rows for the user.
func (s *UserStore) ListFiles(ctx context.Context) ([]*model.FileMetadata, error) {
	var out []*model.FileMetadata
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM file_metadata WHERE user_id = ? ORDER BY created_at DESC`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return out, nil
}

// ListExpiredFiles returns files whose expiry is at or before now.
func (s *UserStore) ListExpiredFiles(ctx context.Context, now time.Time) ([]*model.FileMetadata, error) {
	var out []*model.FileMetadata
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM file_metadata WHERE user_id = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		s.userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired files: %w", err)
	}
	return out, nil
}

// GetFilePermissions returns the grants on a file.
func (s *UserStore) GetFilePermissions(ctx context.Context, fileID string) ([]model.FileAccessPermission, error) {
	var out []model.FileAccessPermission
	err := s.db.SelectContext(ctx, &out,
		`SELECT file_id, principal, grant_type, created_at FROM file_permissions WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("getting file permissions: %w", err)
	}
	return out, nil
}

// DeleteFile removes the metadata row and its permissions. The row must
// exist; callers remove the on-disk file around this call.
func (s *UserStore) DeleteFile(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM file_metadata WHERE id = ? AND user_id = ?`, id, s.userID)
		if err != nil {
			return fmt.Errorf("deleting file metadata: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NotFoundf("file %s", id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file_permissions WHERE file_id = ?`, id); err != nil {
			return fmt.Errorf("deleting file permissions: %w", err)
		}
		return nil
	})
}
