package userplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// FileManager owns the export directory tree. Every file lives under
// <archive_root>/user_<user_id>/; the prefix is computed here, never by
// callers, and enforced at the kernel level through os.Root.
type FileManager struct {
	archiveRoot string
	system      *store.SystemStore
	log         *zap.Logger
	now         func() time.Time
}

// NewFileManager builds the file access control manager. The archive root is
// created if missing.
func NewFileManager(archiveRoot string, system *store.SystemStore, log *zap.Logger) (*FileManager, error) {
	if err := os.MkdirAll(archiveRoot, 0o700); err != nil {
		return nil, fmt.Errorf("creating archive root: %w", err)
	}
	return &FileManager{
		archiveRoot: archiveRoot,
		system:      system,
		log:         log.Named("files"),
		now:         time.Now,
	}, nil
}

// UserDir returns the per-user export directory, creating it if needed.
func (fm *FileManager) UserDir(userID string) (string, error) {
	dir := filepath.Join(fm.archiveRoot, "user_"+userID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating user export dir: %w", err)
	}
	return dir, nil
}

// openUserRoot opens the user's directory as an os.Root so no write or
// delete can escape it through traversal or symlinks.
func (fm *FileManager) openUserRoot(userID string) (*os.Root, error) {
	dir, err := fm.UserDir(userID)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening user export dir: %w", err)
	}
	return root, nil
}

// WriteFile stores content under the user's directory and records metadata
// with a SHA-256 checksum plus owner read/delete grants, in one transaction.
func (fm *FileManager) WriteFile(ctx context.Context, st *store.UserStore, userID, name string, content []byte, expiresAt *time.Time) (*model.FileMetadata, error) {
	root, err := fm.openUserRoot(userID)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	base := filepath.Base(name)
	f, err := root.Create(base)
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("writing export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing export file: %w", err)
	}

	sum := sha256.Sum256(content)
	now := fm.now().UTC()
	dir, _ := fm.UserDir(userID)
	meta := &model.FileMetadata{
		ID:           uuid.NewString(),
		UserID:       userID,
		FilePath:     filepath.Join(dir, base),
		OriginalName: base,
		FileType:     model.FileTypeEmailExport,
		SizeBytes:    int64(len(content)),
		Checksum:     hex.EncodeToString(sum[:]),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expiresAt,
	}
	perms := []model.FileAccessPermission{
		{FileID: meta.ID, Principal: userID, Grant: model.GrantRead, CreatedAt: now},
		{FileID: meta.ID, Principal: userID, Grant: model.GrantDelete, CreatedAt: now},
	}
	if err := st.InsertFile(ctx, meta, perms); err != nil {
		// The row is the source of truth; remove the orphan file.
		_ = root.Remove(base)
		return nil, err
	}
	fm.appendAudit(ctx, userID, "file_create", "archive", meta.ID, true, "")

	fm.log.Info("export file written",
		zap.String("user_id", userID),
		zap.String("file_id", meta.ID),
		zap.Int64("size", meta.SizeBytes))
	return meta, nil
}

// ReadFile returns a file's content for a principal holding a read grant.
// Missing grants report NotFound so file existence does not leak.
func (fm *FileManager) ReadFile(ctx context.Context, st *store.UserStore, uc *model.UserContext, fileID string) ([]byte, error) {
	meta, err := fm.authorize(ctx, st, uc, fileID, model.GrantRead)
	if err != nil {
		return nil, err
	}
	root, err := fm.openUserRoot(meta.UserID)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	data, err := fs.ReadFile(root.FS(), filepath.Base(meta.FilePath))
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}
	return data, nil
}

// DeleteFile removes a file and its metadata for a principal holding a
// delete grant.
func (fm *FileManager) DeleteFile(ctx context.Context, st *store.UserStore, uc *model.UserContext, fileID string) error {
	meta, err := fm.authorize(ctx, st, uc, fileID, model.GrantDelete)
	if err != nil {
		return err
	}
	root, err := fm.openUserRoot(meta.UserID)
	if err != nil {
		return err
	}
	defer root.Close()

	if err := st.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if err := root.Remove(filepath.Base(meta.FilePath)); err != nil && !os.IsNotExist(err) {
		fm.log.Warn("removing export file failed",
			zap.String("file_id", fileID), zap.Error(err))
	}
	fm.appendAudit(ctx, uc.UserID, "delete_file", "file", fileID, true, "")
	return nil
}

func (fm *FileManager) authorize(ctx context.Context, st *store.UserStore, uc *model.UserContext, fileID, grant string) (*model.FileMetadata, error) {
	meta, err := st.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if uc == nil {
		return nil, model.NotFoundf("file %s", fileID)
	}
	perms, err := st.GetFilePermissions(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if p.Principal == uc.UserID && p.Grant == grant {
			return meta, nil
		}
	}
	fm.appendAudit(ctx, userIDOf(uc), grant+"_file", "file", fileID, false, "no grant")
	return nil, model.NotFoundf("file %s", fileID)
}

// CleanupExpiredFiles removes rows whose expiry has passed, deletes the
// underlying files, and audits each removal. A missing file on disk is
// tolerated; a failing row deletion is not.
func (fm *FileManager) CleanupExpiredFiles(ctx context.Context, st *store.UserStore) (int, error) {
	expired, err := st.ListExpiredFiles(ctx, fm.now().UTC())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, meta := range expired {
		if err := st.DeleteFile(ctx, meta.ID); err != nil {
			return removed, fmt.Errorf("removing expired file row %s: %w", meta.ID, err)
		}
		root, err := fm.openUserRoot(meta.UserID)
		if err == nil {
			if rmErr := root.Remove(filepath.Base(meta.FilePath)); rmErr != nil && !os.IsNotExist(rmErr) {
				fm.log.Warn("removing expired file failed",
					zap.String("file_id", meta.ID), zap.Error(rmErr))
			}
			_ = root.Close()
		}
		fm.appendAudit(ctx, "", "cleanup_expired_file", "file", meta.ID, true, "")
		removed++
	}
	return removed, nil
}

func (fm *FileManager) appendAudit(ctx context.Context, userID, action, resourceType, resourceID string, success bool, reason string) {
	e := &model.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
		Reason:       reason,
		Timestamp:    fm.now().UTC(),
	}
	if err := fm.system.AppendAudit(ctx, e); err != nil {
		fm.log.Error("audit append failed", zap.Error(err))
	}
}
