package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/mailsteward/mailsteward/internal/model"
)

// SystemStore holds cross-user state: the user registry, sessions, the job
// queue, the audit log, and automation state.
type SystemStore struct {
	db *sqlx.DB
}

// OpenSystem opens and migrates the system database. A migration failure
// here must abort startup: the caller exits non-zero.
func OpenSystem(path string) (*SystemStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening system store: %w", err)
	}
	if err := migrate(db, "migrations/system"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating system store: %w", err)
	}
	return &SystemStore{db: db}, nil
}

// Close closes the system database.
func (s *SystemStore) Close() error { return s.db.Close() }

// --- users ---

// InsertUser registers a new user. Duplicate emails are a conflict.
func (s *SystemStore) InsertUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.Role, u.Active, u.CreatedAt)
	if isUniqueViolation(err) {
		return model.Conflictf("user with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser returns one user by id.
func (s *SystemStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail returns one user by email.
func (s *SystemStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("user with email %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *SystemStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	var out []*model.User
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM users ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return out, nil
}

// CountUsers returns the number of registered users.
func (s *SystemStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// TouchLastLogin updates the user's last login instant.
func (s *SystemStore) TouchLastLogin(ctx context.Context, userID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, t, userID)
	if err != nil {
		return fmt.Errorf("touching last login: %w", err)
	}
	return nil
}

// DeleteUser removes a user and invalidates their sessions in one
// transaction. The caller destroys the per-user database separately.
func (s *SystemStore) DeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("user %s", userID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_valid = 0 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("invalidating sessions: %w", err)
	}
	return tx.Commit()
}

// --- sessions ---

// InsertSession stores a new session.
func (s *SystemStore) InsertSession(ctx context.Context, sess *model.UserSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, created_at, expires_at, last_accessed, ip, agent, is_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.Created, sess.Expires, sess.LastAccessed, sess.IP, sess.Agent, sess.IsValid)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession returns one session.
func (s *SystemStore) GetSession(ctx context.Context, sessionID string) (*model.UserSession, error) {
	var sess model.UserSession
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("session")
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// UpdateSession writes back validity and last-accessed.
func (s *SystemStore) UpdateSession(ctx context.Context, sess *model.UserSession) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed = ?, is_valid = ? WHERE session_id = ?`,
		sess.LastAccessed, sess.IsValid, sess.SessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// --- jobs ---

// InsertJob persists a new job record.
func (s *SystemStore) InsertJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, job_type, status, request_params, progress, results, error_details, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.JobType, j.Status, j.RequestParams, j.Progress, j.Results, j.ErrorDetails, j.CreatedAt, j.StartedAt, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// UpdateJob writes back mutable job fields.
func (s *SystemStore) UpdateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, results = ?, error_details = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		j.Status, j.Progress, j.Results, j.ErrorDetails, j.StartedAt, j.CompletedAt, j.ID)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob returns one job by id.
func (s *SystemStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job
	err := s.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("job %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return &j, nil
}

// ListJobs applies the filter, newest first.
func (s *SystemStore) ListJobs(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	where := []string{"1=1"}
	args := []any{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, f.JobType)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var out []*model.Job
	q := `SELECT * FROM jobs WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return out, nil
}

// NextPendingJob returns the oldest pending job of the given type, preferring
// users other than lastUser. Within one user, submission order holds.
func (s *SystemStore) NextPendingJob(ctx context.Context, jobType, lastUser string) (*model.Job, error) {
	var j model.Job
	err := s.db.GetContext(ctx, &j,
		`SELECT * FROM jobs WHERE job_type = ? AND status = ?
		 ORDER BY CASE WHEN user_id = ? THEN 1 ELSE 0 END, created_at ASC LIMIT 1`,
		jobType, model.JobPending, lastUser)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next pending job: %w", err)
	}
	return &j, nil
}

// HasActiveJob reports whether a job of this type is already in progress for
// the user. Single-flight is enforced against this check.
func (s *SystemStore) HasActiveJob(ctx context.Context, userID, jobType string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE user_id = ? AND job_type = ? AND status = ?`,
		userID, jobType, model.JobInProgress)
	if err != nil {
		return false, fmt.Errorf("checking active jobs: %w", err)
	}
	return n > 0, nil
}

// DeleteJob removes a job record.
func (s *SystemStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("job %s", id)
	}
	return nil
}

// DeleteJobsOlderThan prunes terminal jobs created before the cutoff.
func (s *SystemStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`,
		cutoff, model.JobCompleted, model.JobFailed, model.JobCancelled)
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- audit ---

// AppendAudit writes one audit entry.
func (s *SystemStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.UserID == "" {
		e.UserID = "system"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (user_id, action, resource_type, resource_id, success, reason, ip, agent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Success, e.Reason, e.IP, e.Agent, e.Timestamp)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for one user, newest first.
func (s *SystemStore) ListAudit(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*model.AuditEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM audit_log WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return out, nil
}

// --- automation state ---

// SetAutomationState stores one key's JSON value.
func (s *SystemStore) SetAutomationState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting automation state %q: %w", key, err)
	}
	return nil
}

// GetAutomationState returns one key's value, or "" when unset.
func (s *SystemStore) GetAutomationState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM automation_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting automation state %q: %w", key, err)
	}
	return v, nil
}

// LastFired returns when a policy's schedule last fired, zero if never.
func (s *SystemStore) LastFired(ctx context.Context, userID, policyID string) (time.Time, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t,
		`SELECT last_fired FROM schedule_state WHERE user_id = ? AND policy_id = ?`, userID, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last fired: %w", err)
	}
	return t, nil
}

// SetLastFired persists the fired instant for a policy schedule.
func (s *SystemStore) SetLastFired(ctx context.Context, userID, policyID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (user_id, policy_id, last_fired) VALUES (?, ?, ?)
		ON CONFLICT(user_id, policy_id) DO UPDATE SET last_fired = excluded.last_fired`,
		userID, policyID, t)
	if err != nil {
		return fmt.Errorf("setting last fired: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
