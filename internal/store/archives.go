package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

type archiveRuleRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Criteria  string    `db:"criteria"`
	Action    string    `db:"action"`
	Schedule  string    `db:"schedule"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *archiveRuleRow) toModel() (*model.ArchiveRule, error) {
	rule := &model.ArchiveRule{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Criteria), &rule.Criteria); err != nil {
		return nil, fmt.Errorf("decoding archive rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Action), &rule.Action); err != nil {
		return nil, fmt.Errorf("decoding archive rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Schedule), &rule.Schedule); err != nil {
		return nil, fmt.Errorf("decoding archive rule %s: %w", r.ID, err)
	}
	return rule, nil
}

// InsertArchiveRule stores a new archive rule.
func (s *UserStore) InsertArchiveRule(ctx context.Context, r *model.ArchiveRule) error {
	criteria, err := marshalJSON(r.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	action, err := marshalJSON(r.Action)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	schedule, err := marshalJSON(r.Schedule)
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archive_rules (id, user_id, name, criteria, action, schedule, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, s.userID, r.Name, criteria, action, schedule, r.Enabled, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting archive rule %s: %w", r.ID, err)
	}
	return nil
}

// ListArchiveRules returns all archive rules for the user.
func (s *UserStore) ListArchiveRules(ctx context.Context) ([]*model.ArchiveRule, error) {
	var rows []archiveRuleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM archive_rules WHERE user_id = ? ORDER BY created_at ASC`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing archive rules: %w", err)
	}
	out := make([]*model.ArchiveRule, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// InsertArchiveRecord appends one archive/delete invocation record.
func (s *UserStore) InsertArchiveRecord(ctx context.Context, r *model.ArchiveRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive_records (id, user_id, action, method, message_ids, location, size_bytes, restorable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, s.userID, r.Action, r.Method, r.MessageIDs, r.Location, r.SizeBytes, r.Restorable, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting archive record: %w", err)
	}
	return nil
}

// ListArchiveRecords returns records created at or after the cutoff, newest
// first. A zero cutoff returns everything.
func (s *UserStore) ListArchiveRecords(ctx context.Context, since time.Time) ([]*model.ArchiveRecord, error) {
	q := `SELECT id, user_id, action, method, message_ids, location, size_bytes, restorable, created_at
		FROM archive_records WHERE user_id = ?`
	args := []any{s.userID}
	if !since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, since)
	}
	q += ` ORDER BY created_at DESC`

	var out []*model.ArchiveRecord
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("listing archive records: %w", err)
	}
	return out, nil
}

// GetArchiveRecord returns one record by id.
func (s *UserStore) GetArchiveRecord(ctx context.Context, id string) (*model.ArchiveRecord, error) {
	var r model.ArchiveRecord
	err := s.db.GetContext(ctx, &r, `
		SELECT id, user_id, action, method, message_ids, location, size_bytes, restorable, created_at
		FROM archive_records WHERE id = ? AND user_id = ?`, id, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("archive record %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting archive record %s: %w", id, err)
	}
	return &r, nil
}
