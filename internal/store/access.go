package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mailsteward/mailsteward/internal/model"
)

// InsertAccessEvent appends one access event.
func (s *UserStore) InsertAccessEvent(ctx context.Context, e *model.AccessEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_events (user_id, message_id, access_type, timestamp, search_query)
		 VALUES (?, ?, ?, ?, ?)`,
		s.userID, e.MessageID, e.AccessType, e.Timestamp, e.SearchQuery)
	if err != nil {
		return fmt.Errorf("inserting access event: %w", err)
	}
	return nil
}

// UpsertAccessSummary writes the full summary row for a message.
func (s *UserStore) UpsertAccessSummary(ctx context.Context, sum *model.AccessSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_summary (user_id, message_id, total_accesses, last_accessed,
			search_appearances, search_interactions, access_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			total_accesses = excluded.total_accesses,
			last_accessed = excluded.last_accessed,
			search_appearances = excluded.search_appearances,
			search_interactions = excluded.search_interactions,
			access_score = excluded.access_score`,
		s.userID, sum.MessageID, sum.TotalAccesses, sum.LastAccessed,
		sum.SearchAppearances, sum.SearchInteractions, sum.AccessScore)
	if err != nil {
		return fmt.Errorf("upserting access summary: %w", err)
	}
	return nil
}

// GetAccessSummary returns the summary for one message, or nil when the
// message has never been accessed.
func (s *UserStore) GetAccessSummary(ctx context.Context, messageID string) (*model.AccessSummary, error) {
	var sum model.AccessSummary
	err := s.db.GetContext(ctx, &sum, `
		SELECT message_id, total_accesses, last_accessed, search_appearances,
			search_interactions, access_score
		FROM access_summary WHERE message_id = ? AND user_id = ?`, messageID, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting access summary: %w", err)
	}
	return &sum, nil
}
