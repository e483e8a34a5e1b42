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

type policyRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Enabled   bool      `db:"enabled"`
	Priority  int       `db:"priority"`
	Criteria  string    `db:"criteria"`
	Action    string    `db:"action"`
	Safety    string    `db:"safety"`
	Schedule  string    `db:"schedule"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *policyRow) toModel() (*model.CleanupPolicy, error) {
	p := &model.CleanupPolicy{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	fields := []struct {
		raw string
		dst any
	}{
		{r.Criteria, &p.Criteria},
		{r.Action, &p.Action},
		{r.Safety, &p.Safety},
		{r.Schedule, &p.Schedule},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decoding policy %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// InsertPolicy stores a new cleanup policy.
func (s *UserStore) InsertPolicy(ctx context.Context, p *model.CleanupPolicy) error {
	criteria, err := marshalJSON(p.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	action, err := marshalJSON(p.Action)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	safety, err := marshalJSON(p.Safety)
	if err != nil {
		return fmt.Errorf("encoding safety: %w", err)
	}
	schedule, err := marshalJSON(p.Schedule)
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleanup_policies (id, user_id, name, enabled, priority, criteria, action, safety, schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, s.userID, p.Name, p.Enabled, p.Priority, criteria, action, safety, schedule, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting policy %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePolicy overwrites an existing policy.
func (s *UserStore) UpdatePolicy(ctx context.Context, p *model.CleanupPolicy) error {
	criteria, err := marshalJSON(p.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	action, err := marshalJSON(p.Action)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	safety, err := marshalJSON(p.Safety)
	if err != nil {
		return fmt.Errorf("encoding safety: %w", err)
	}
	schedule, err := marshalJSON(p.Schedule)
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cleanup_policies SET name = ?, enabled = ?, priority = ?, criteria = ?,
			action = ?, safety = ?, schedule = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		p.Name, p.Enabled, p.Priority, criteria, action, safety, schedule, time.Now().UTC(),
		p.ID, s.userID)
	if err != nil {
		return fmt.Errorf("updating policy %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("policy %s", p.ID)
	}
	return nil
}

// GetPolicy returns one policy by id.
func (s *UserStore) GetPolicy(ctx context.Context, id string) (*model.CleanupPolicy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM cleanup_policies WHERE id = ? AND user_id = ?`, id, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("policy %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting policy %s: %w", id, err)
	}
	return row.toModel()
}

// ListPolicies returns policies ordered by priority descending, then
// creation time ascending.
func (s *UserStore) ListPolicies(ctx context.Context, enabledOnly bool) ([]*model.CleanupPolicy, error) {
	q := `SELECT * FROM cleanup_policies WHERE user_id = ?`
	if enabledOnly {
		q += ` AND enabled = 1`
	}
	q += ` ORDER BY priority DESC, created_at ASC`

	var rows []policyRow
	if err := s.db.SelectContext(ctx, &rows, q, s.userID); err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	out := make([]*model.CleanupPolicy, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeletePolicy removes a policy.
func (s *UserStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cleanup_policies WHERE id = ? AND user_id = ?`, id, s.userID)
	if err != nil {
		return fmt.Errorf("deleting policy %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("policy %s", id)
	}
	return nil
}
