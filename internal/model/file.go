package model

import "time"

// File types recorded in file metadata.
const (
	FileTypeEmailExport = "email_export"
)

// FileMetadata describes one exported file on disk. The path is always under
// the owning user's archive subdirectory; the file manager computes it, never
// the caller.
type FileMetadata struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	FilePath     string     `db:"file_path" json:"file_path"`
	OriginalName string     `db:"original_name" json:"original_name"`
	FileType     string     `db:"file_type" json:"file_type"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	Checksum     string     `db:"checksum" json:"checksum"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// File permission grants.
const (
	GrantRead   = "read"
	GrantDelete = "delete"
)

// FileAccessPermission governs who may read or delete an exported file.
type FileAccessPermission struct {
	FileID    string    `db:"file_id" json:"file_id"`
	Principal string    `db:"principal" json:"principal"`
	Grant     string    `db:"grant_type" json:"grant"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
