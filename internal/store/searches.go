package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

type savedSearchRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Criteria  string    `db:"criteria"`
	CreatedAt time.Time `db:"created_at"`
}

// SaveSearch persists a named search, replacing any previous search with the
// same name.
func (s *UserStore) SaveSearch(ctx context.Context, search *model.SavedSearch) error {
	criteria, err := marshalJSON(search.Criteria)
	if err != nil {
		return fmt.Errorf("encoding search criteria: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_searches (id, user_id, name, criteria, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET criteria = excluded.criteria`,
		search.ID, s.userID, search.Name, criteria, search.Created)
	if err != nil {
		return fmt.Errorf("saving search %q: %w", search.Name, err)
	}
	return nil
}

// ListSavedSearches returns all saved searches for the user.
func (s *UserStore) ListSavedSearches(ctx context.Context) ([]*model.SavedSearch, error) {
	var rows []savedSearchRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM saved_searches WHERE user_id = ? ORDER BY created_at ASC`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing saved searches: %w", err)
	}
	out := make([]*model.SavedSearch, 0, len(rows))
	for _, r := range rows {
		ss := &model.SavedSearch{ID: r.ID, UserID: r.UserID, Name: r.Name, Created: r.CreatedAt}
		if err := json.Unmarshal([]byte(r.Criteria), &ss.Criteria); err != nil {
			return nil, fmt.Errorf("decoding saved search %q: %w", r.Name, err)
		}
		out = append(out, ss)
	}
	return out, nil
}
