// Package provider defines the opaque remote-mailbox adapter and its Gmail
// implementation. The lifecycle components never speak the Gmail dialect
// directly; they depend on the Mail interface, which keeps tests on fakes
// and the executor provider-agnostic.
package provider

import (
	"context"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Well-known labels used by the cleanup flow.
const (
	LabelInbox    = "INBOX"
	LabelArchived = "ARCHIVED"
	LabelTrash    = "TRASH"
	LabelUnread   = "UNREAD"
)

// Default call deadlines. Each provider call gets the per-call deadline; a
// whole chunk gets the batch deadline.
const (
	CallTimeout  = 30 * time.Second
	BatchTimeout = 2 * time.Minute
)

// MessageMeta is the provider-side metadata for one message.
type MessageMeta struct {
	ID             string
	ThreadID       string
	Subject        string
	Sender         string
	Recipients     []string
	Date           time.Time
	SizeBytes      int64
	HasAttachments bool
	Labels         []string
	Snippet        string
}

// Mail is an authenticated handle to one user's remote mailbox. All label
// operations are idempotent on label sets.
type Mail interface {
	// BatchModify adds and removes labels on many messages at once.
	BatchModify(ctx context.Context, messageIDs, addLabels, removeLabels []string) error
	// Modify adds and removes labels on a single message.
	Modify(ctx context.Context, messageID string, addLabels, removeLabels []string) error
	// Trash moves messages to the trash.
	Trash(ctx context.Context, messageIDs []string) error
	// Delete permanently deletes messages.
	Delete(ctx context.Context, messageIDs []string) error
	// PurgeTrash permanently deletes everything in the trash. Purging an
	// empty trash is a no-op success.
	PurgeTrash(ctx context.Context) (int, error)
	// GetMetadata fetches metadata for one message.
	GetMetadata(ctx context.Context, messageID string) (*MessageMeta, error)
	// ListIDs lists message ids matching a provider query, up to max.
	ListIDs(ctx context.Context, query string, max int64) ([]string, error)
}

// Opener produces a Mail handle for a user. Implemented by the Gmail
// adapter; swapped for fakes in tests.
type Opener interface {
	Open(ctx context.Context, userID string) (Mail, error)
}

// ToMessageIndex converts provider metadata into the local index entity.
// Messages without a parseable date are treated as fresh rather than ancient.
func ToMessageIndex(userID string, meta *MessageMeta) *model.MessageIndex {
	date := meta.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return &model.MessageIndex{
		UserID:         userID,
		ID:             meta.ID,
		ThreadID:       meta.ThreadID,
		Subject:        meta.Subject,
		Sender:         meta.Sender,
		Recipients:     meta.Recipients,
		Date:           date,
		Year:           date.Year(),
		SizeBytes:      meta.SizeBytes,
		HasAttachments: meta.HasAttachments,
		Labels:         meta.Labels,
		Snippet:        meta.Snippet,
	}
}
