package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// messageRow flattens MessageIndex plus analyzer columns for scanning.
type messageRow struct {
	UserID          string         `db:"user_id"`
	ID              string         `db:"id"`
	ThreadID        string         `db:"thread_id"`
	Subject         string         `db:"subject"`
	Sender          string         `db:"sender"`
	Recipients      model.Strings  `db:"recipients"`
	Date            sql.NullTime   `db:"date"`
	Year            int            `db:"year"`
	SizeBytes       int64          `db:"size_bytes"`
	HasAttachments  bool           `db:"has_attachments"`
	Labels          model.Strings  `db:"labels"`
	Snippet         string         `db:"snippet"`
	Archived        bool           `db:"archived"`
	ArchiveDate     sql.NullTime   `db:"archive_date"`
	ArchiveLocation string         `db:"archive_location"`

	ImportanceScore      float64       `db:"importance_score"`
	ImportanceLevel      string        `db:"importance_level"`
	ImportanceRules      model.Strings `db:"importance_rules"`
	ImportanceConfidence float64       `db:"importance_confidence"`
	AgeCategory          string        `db:"age_category"`
	SizeCategory         string        `db:"size_category"`
	RecencyScore         float64       `db:"recency_score"`
	SizePenalty          float64       `db:"size_penalty"`
	GmailCategory        string        `db:"gmail_category"`
	SpamScore            float64       `db:"spam_score"`
	PromotionalScore     float64       `db:"promotional_score"`
	SocialScore          float64       `db:"social_score"`
	SpamIndicators       model.Strings `db:"spam_indicators"`
	PromoIndicators      model.Strings `db:"promo_indicators"`
	SocialIndicators     model.Strings `db:"social_indicators"`
	AnalysisVersion      string        `db:"analysis_version"`
	AnalysisTimestamp    sql.NullTime  `db:"analysis_timestamp"`
}

func (r *messageRow) toModel() *model.MessageIndex {
	m := &model.MessageIndex{
		UserID:          r.UserID,
		ID:              r.ID,
		ThreadID:        r.ThreadID,
		Subject:         r.Subject,
		Sender:          r.Sender,
		Recipients:      r.Recipients,
		Year:            r.Year,
		SizeBytes:       r.SizeBytes,
		HasAttachments:  r.HasAttachments,
		Labels:          r.Labels,
		Snippet:         r.Snippet,
		Archived:        r.Archived,
		ArchiveLocation: r.ArchiveLocation,
	}
	if r.Date.Valid {
		m.Date = r.Date.Time
	}
	if r.ArchiveDate.Valid {
		t := r.ArchiveDate.Time
		m.ArchiveDate = &t
	}
	if r.AnalysisVersion != "" {
		res := &model.AnalyzerResult{
			ImportanceScore:      r.ImportanceScore,
			ImportanceLevel:      model.ImportanceLevel(r.ImportanceLevel),
			ImportanceRules:      r.ImportanceRules,
			ImportanceConfidence: r.ImportanceConfidence,
			AgeCategory:          model.AgeCategory(r.AgeCategory),
			SizeCategory:         model.SizeCategory(r.SizeCategory),
			RecencyScore:         r.RecencyScore,
			SizePenalty:          r.SizePenalty,
			GmailCategory:        model.GmailCategory(r.GmailCategory),
			SpamScore:            r.SpamScore,
			PromotionalScore:     r.PromotionalScore,
			SocialScore:          r.SocialScore,
			SpamIndicators:       r.SpamIndicators,
			PromoIndicators:      r.PromoIndicators,
			SocialIndicators:     r.SocialIndicators,
			AnalysisVersion:      r.AnalysisVersion,
		}
		if r.AnalysisTimestamp.Valid {
			t := r.AnalysisTimestamp.Time
			res.AnalysisTimestamp = &t
		}
		m.Analysis = res
	}
	return m
}

const messageColumns = `user_id, id, thread_id, subject, sender, recipients, date, year,
	size_bytes, has_attachments, labels, snippet, archived, archive_date, archive_location,
	importance_score, importance_level, importance_rules, importance_confidence,
	age_category, size_category, recency_score, size_penalty,
	gmail_category, spam_score, promotional_score, social_score,
	spam_indicators, promo_indicators, social_indicators,
	analysis_version, analysis_timestamp`

// UpsertMessage inserts or updates a message by primary key. Analyzer fields
// are preserved when the caller supplies none: ingestion never clobbers the
// categorization engine's writes.
func (s *UserStore) UpsertMessage(ctx context.Context, m *model.MessageIndex) error {
	if m.ID == "" {
		return model.Validationf("message id is required")
	}
	year := m.Year
	if year == 0 && !m.Date.IsZero() {
		year = m.Date.Year()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, id, thread_id, subject, sender, recipients, date, year,
			size_bytes, has_attachments, labels, snippet, archived, archive_date, archive_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			subject = excluded.subject,
			sender = excluded.sender,
			recipients = excluded.recipients,
			date = excluded.date,
			year = excluded.year,
			size_bytes = excluded.size_bytes,
			has_attachments = excluded.has_attachments,
			labels = excluded.labels,
			snippet = excluded.snippet
		WHERE messages.user_id = ?`,
		s.userID, m.ID, m.ThreadID, m.Subject, m.Sender, m.Recipients, nullTime(m.Date), year,
		m.SizeBytes, m.HasAttachments, m.Labels, m.Snippet, m.Archived, m.ArchiveDate, m.ArchiveLocation,
		s.userID)
	if err != nil {
		return fmt.Errorf("upserting message %s: %w", m.ID, err)
	}
	if m.Analysis != nil {
		return s.WriteAnalysis(ctx, m.ID, m.Analysis)
	}
	return nil
}

// WriteAnalysis atomically writes the full analyzer field set for a message.
func (s *UserStore) WriteAnalysis(ctx context.Context, messageID string, a *model.AnalyzerResult) error {
	ts := time.Now().UTC()
	if a.AnalysisTimestamp != nil {
		ts = *a.AnalysisTimestamp
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			importance_score = ?, importance_level = ?, importance_rules = ?, importance_confidence = ?,
			age_category = ?, size_category = ?, recency_score = ?, size_penalty = ?,
			gmail_category = ?, spam_score = ?, promotional_score = ?, social_score = ?,
			spam_indicators = ?, promo_indicators = ?, social_indicators = ?,
			analysis_version = ?, analysis_timestamp = ?
		WHERE id = ? AND user_id = ?`,
		a.ImportanceScore, a.ImportanceLevel, a.ImportanceRules, a.ImportanceConfidence,
		a.AgeCategory, a.SizeCategory, a.RecencyScore, a.SizePenalty,
		a.GmailCategory, a.SpamScore, a.PromotionalScore, a.SocialScore,
		a.SpamIndicators, a.PromoIndicators, a.SocialIndicators,
		a.AnalysisVersion, ts,
		messageID, s.userID)
	if err != nil {
		return fmt.Errorf("writing analysis for %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("message %s", messageID)
	}
	return nil
}

// GetMessage returns one message by id.
func (s *UserStore) GetMessage(ctx context.Context, id string) (*model.MessageIndex, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND user_id = ?`, id, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("message %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return row.toModel(), nil
}

// SearchMessages applies the conjunctive criteria, ordered by date descending.
func (s *UserStore) SearchMessages(ctx context.Context, c model.SearchCriteria) ([]*model.MessageIndex, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{s.userID}
	)
	if c.Query != "" {
		where = append(where, "(subject LIKE ? OR sender LIKE ? OR snippet LIKE ?)")
		pat := "%" + c.Query + "%"
		args = append(args, pat, pat, pat)
	}
	if c.Category != "" {
		where = append(where, "gmail_category = ?")
		args = append(args, c.Category)
	}
	if c.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, c.Year)
	}
	if c.YearFrom != 0 {
		where = append(where, "year >= ?")
		args = append(args, c.YearFrom)
	}
	if c.YearTo != 0 {
		where = append(where, "year <= ?")
		args = append(args, c.YearTo)
	}
	if c.SizeMin > 0 {
		where = append(where, "size_bytes >= ?")
		args = append(args, c.SizeMin)
	}
	if c.SizeMax > 0 {
		where = append(where, "size_bytes <= ?")
		args = append(args, c.SizeMax)
	}
	if c.Sender != "" {
		where = append(where, "sender LIKE ?")
		args = append(args, "%"+c.Sender+"%")
	}
	if c.HasAttachments != nil {
		where = append(where, "has_attachments = ?")
		args = append(args, *c.HasAttachments)
	}
	if c.Archived != nil {
		where = append(where, "archived = ?")
		args = append(args, *c.Archived)
	}
	if len(c.Labels) > 0 {
		// Any-of match on the JSON-encoded label set.
		var ors []string
		for _, l := range c.Labels {
			ors = append(ors, "labels LIKE ?")
			args = append(args, `%"`+l+`"%`)
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if len(c.IDs) > 0 {
		ph := strings.Repeat("?,", len(c.IDs))
		where = append(where, "id IN ("+ph[:len(ph)-1]+")")
		for _, id := range c.IDs {
			args = append(args, id)
		}
	}

	limit := c.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date DESC LIMIT ? OFFSET ?`
	args = append(args, limit, c.Offset)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	out := make([]*model.MessageIndex, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// GetMessagesForCleanup prefilters messages against policy criteria at the
// storage level. This is an efficiency filter only: every returned message
// still goes through the full safety checklist before becoming a candidate.
func (s *UserStore) GetMessagesForCleanup(ctx context.Context, p *model.CleanupPolicy, limit int) ([]*model.MessageIndex, error) {
	where := []string{"user_id = ?", "archived = 0"}
	args := []any{s.userID}

	if p.Criteria.AgeDaysMin > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -p.Criteria.AgeDaysMin)
		where = append(where, "date <= ?")
		args = append(args, cutoff)
	}
	if p.Criteria.SizeThresholdMin > 0 {
		where = append(where, "size_bytes >= ?")
		args = append(args, p.Criteria.SizeThresholdMin)
	}
	if p.Criteria.SpamScoreMin != nil {
		where = append(where, "spam_score >= ?")
		args = append(args, *p.Criteria.SpamScoreMin)
	}
	if p.Criteria.PromotionalScoreMin != nil {
		where = append(where, "promotional_score >= ?")
		args = append(args, *p.Criteria.PromotionalScoreMin)
	}
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date ASC LIMIT ?`
	args = append(args, limit)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("selecting cleanup candidates: %w", err)
	}
	out := make([]*model.MessageIndex, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// SetArchived flips archive state for a set of messages in one transaction.
func (s *UserStore) SetArchived(ctx context.Context, ids []string, archived bool, location string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var err error
			if archived {
				_, err = tx.ExecContext(ctx,
					`UPDATE messages SET archived = 1, archive_date = ?, archive_location = ?
					 WHERE id = ? AND user_id = ?`,
					time.Now().UTC(), location, id, s.userID)
			} else {
				_, err = tx.ExecContext(ctx,
					`UPDATE messages SET archived = 0, archive_date = NULL, archive_location = ''
					 WHERE id = ? AND user_id = ?`,
					id, s.userID)
			}
			if err != nil {
				return fmt.Errorf("updating archive state for %s: %w", id, err)
			}
		}
		return nil
	})
}

// ReplaceLabels overwrites the stored label set for one message.
func (s *UserStore) ReplaceLabels(ctx context.Context, id string, labels []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET labels = ? WHERE id = ? AND user_id = ?`,
		model.Strings(labels), id, s.userID)
	if err != nil {
		return fmt.Errorf("replacing labels for %s: %w", id, err)
	}
	return nil
}

// DeleteMessages hard-deletes rows after a successful provider delete.
func (s *UserStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM messages WHERE id = ? AND user_id = ?`, id, s.userID); err != nil {
				return fmt.Errorf("deleting message %s: %w", id, err)
			}
		}
		return nil
	})
}

// AnalysisSelection narrows which messages the categorization engine visits.
// An empty selection means every message; SkipVersion excludes messages whose
// stored analysis already matches the given version.
type AnalysisSelection struct {
	Year        int
	IDs         []string
	SkipVersion string
}

// ListAnalysisTargets returns the ids of messages matching the selection,
// oldest first so long backfills make visible progress on historical mail.
func (s *UserStore) ListAnalysisTargets(ctx context.Context, sel AnalysisSelection) ([]string, error) {
	where := []string{"user_id = ?"}
	args := []any{s.userID}

	if sel.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, sel.Year)
	}
	if len(sel.IDs) > 0 {
		ph := strings.Repeat("?,", len(sel.IDs))
		where = append(where, "id IN ("+ph[:len(ph)-1]+")")
		for _, id := range sel.IDs {
			args = append(args, id)
		}
	}
	if sel.SkipVersion != "" {
		where = append(where, "analysis_version != ?")
		args = append(args, sel.SkipVersion)
	}

	var ids []string
	q := `SELECT id FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY date ASC`
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("listing analysis targets: %w", err)
	}
	return ids, nil
}

// CountMessages returns total and unanalyzed counts for the current engine
// version.
func (s *UserStore) CountMessages(ctx context.Context, analysisVersion string) (total, unanalyzed int, err error) {
	if err = s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM messages WHERE user_id = ?`, s.userID); err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}
	if err = s.db.GetContext(ctx, &unanalyzed,
		`SELECT COUNT(*) FROM messages WHERE user_id = ? AND analysis_version != ?`,
		s.userID, analysisVersion); err != nil {
		return 0, 0, fmt.Errorf("counting unanalyzed messages: %w", err)
	}
	return total, unanalyzed, nil
}

func (s *UserStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
