// Package model holds the domain entities shared across the mail lifecycle
// components: the message index, cleanup policies, jobs, users, and exported
// files. Entities carry their owning user_id explicitly; isolation is enforced
// by the store factory, not by these types.
package model

import "time"

// ImportanceLevel buckets the importance score.
type ImportanceLevel string

const (
	ImportanceLow    ImportanceLevel = "low"
	ImportanceMedium ImportanceLevel = "medium"
	ImportanceHigh   ImportanceLevel = "high"
)

// AgeCategory buckets message age.
type AgeCategory string

const (
	AgeRecent   AgeCategory = "recent"
	AgeModerate AgeCategory = "moderate"
	AgeOld      AgeCategory = "old"
)

// SizeCategory buckets message size.
type SizeCategory string

const (
	SizeSmall  SizeCategory = "small"
	SizeMedium SizeCategory = "medium"
	SizeLarge  SizeCategory = "large"
)

// GmailCategory is the label-derived category of a message.
type GmailCategory string

const (
	CategoryPrimary    GmailCategory = "primary"
	CategoryImportant  GmailCategory = "important"
	CategorySpam       GmailCategory = "spam"
	CategoryPromotions GmailCategory = "promotions"
	CategorySocial     GmailCategory = "social"
	CategoryUpdates    GmailCategory = "updates"
	CategoryForums     GmailCategory = "forums"
)

// MessageIndex is the local mirror of one Gmail message's metadata plus the
// analyzer outputs written back by the categorization engine. Identity is
// (user_id, id); a message is never mutated by a different user.
type MessageIndex struct {
	UserID         string    `db:"user_id" json:"user_id"`
	ID             string    `db:"id" json:"id"`
	ThreadID       string    `db:"thread_id" json:"thread_id"`
	Subject        string    `db:"subject" json:"subject"`
	Sender         string    `db:"sender" json:"sender"`
	Recipients     Strings   `db:"recipients" json:"recipients"`
	Date           time.Time `db:"date" json:"date"`
	Year           int       `db:"year" json:"year"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	HasAttachments bool      `db:"has_attachments" json:"has_attachments"`
	Labels         Strings   `db:"labels" json:"labels"`
	Snippet        string    `db:"snippet" json:"snippet"`

	Archived        bool       `db:"archived" json:"archived"`
	ArchiveDate     *time.Time `db:"archive_date" json:"archive_date,omitempty"`
	ArchiveLocation string     `db:"archive_location" json:"archive_location,omitempty"`

	Analysis *AnalyzerResult `db:"-" json:"analysis,omitempty"`
}

// HasLabel reports whether the message carries the given label (exact match,
// Gmail label ids are case sensitive).
func (m *MessageIndex) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AgeDays returns the message age in whole days relative to now.
func (m *MessageIndex) AgeDays(now time.Time) int {
	if m.Date.IsZero() {
		return 0
	}
	return int(now.Sub(m.Date).Hours() / 24)
}

// AnalyzerResult is the merged output of the three analyzers for one message.
// Each analyzer's field set is written atomically; analyzers never overwrite
// each other's fields.
type AnalyzerResult struct {
	// Importance analyzer.
	ImportanceScore      float64         `db:"importance_score" json:"importance_score"`
	ImportanceLevel      ImportanceLevel `db:"importance_level" json:"importance_level"`
	ImportanceRules      Strings         `db:"importance_rules" json:"importance_rules"`
	ImportanceConfidence float64         `db:"importance_confidence" json:"importance_confidence"`

	// DateSize analyzer.
	AgeCategory  AgeCategory  `db:"age_category" json:"age_category"`
	SizeCategory SizeCategory `db:"size_category" json:"size_category"`
	RecencyScore float64      `db:"recency_score" json:"recency_score"`
	SizePenalty  float64      `db:"size_penalty" json:"size_penalty"`

	// Label classifier.
	GmailCategory     GmailCategory `db:"gmail_category" json:"gmail_category"`
	SpamScore         float64       `db:"spam_score" json:"spam_score"`
	PromotionalScore  float64       `db:"promotional_score" json:"promotional_score"`
	SocialScore       float64       `db:"social_score" json:"social_score"`
	SpamIndicators    Strings       `db:"spam_indicators" json:"spam_indicators"`
	PromoIndicators   Strings       `db:"promo_indicators" json:"promo_indicators"`
	SocialIndicators  Strings       `db:"social_indicators" json:"social_indicators"`

	AnalysisVersion   string     `db:"analysis_version" json:"analysis_version"`
	AnalysisTimestamp *time.Time `db:"analysis_timestamp" json:"analysis_timestamp,omitempty"`
}

// AccessType classifies how a message was accessed.
type AccessType string

const (
	AccessSearchResult AccessType = "search_result"
	AccessDirectView   AccessType = "direct_view"
	AccessThreadView   AccessType = "thread_view"
)

// AccessEvent is one recorded access to a message, local to the user's store.
type AccessEvent struct {
	MessageID   string     `db:"message_id" json:"message_id"`
	AccessType  AccessType `db:"access_type" json:"access_type"`
	Timestamp   time.Time  `db:"timestamp" json:"timestamp"`
	SearchQuery string     `db:"search_query" json:"search_query,omitempty"`
}

// AccessSummary aggregates access events per message. AccessScore is high
// when the message has NOT been accessed recently (it measures deletability,
// not popularity).
type AccessSummary struct {
	MessageID          string     `db:"message_id" json:"message_id"`
	TotalAccesses      int        `db:"total_accesses" json:"total_accesses"`
	LastAccessed       *time.Time `db:"last_accessed" json:"last_accessed,omitempty"`
	SearchAppearances  int        `db:"search_appearances" json:"search_appearances"`
	SearchInteractions int        `db:"search_interactions" json:"search_interactions"`
	AccessScore        float64    `db:"access_score" json:"access_score"`
}

// SearchCriteria is the conjunctive filter accepted by the message search.
type SearchCriteria struct {
	Query          string   `json:"query,omitempty"`
	Category       string   `json:"category,omitempty"`
	Year           int      `json:"year,omitempty"`
	YearFrom       int      `json:"year_from,omitempty"`
	YearTo         int      `json:"year_to,omitempty"`
	SizeMin        int64    `json:"size_min,omitempty"`
	SizeMax        int64    `json:"size_max,omitempty"`
	Sender         string   `json:"sender,omitempty"`
	HasAttachments *bool    `json:"has_attachments,omitempty"`
	Archived       *bool    `json:"archived,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	IDs            []string `json:"ids,omitempty"`
	Offset         int      `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// SavedSearch is a named, persisted SearchCriteria.
type SavedSearch struct {
	ID       string         `db:"id" json:"id"`
	UserID   string         `db:"user_id" json:"user_id"`
	Name     string         `db:"name" json:"name"`
	Criteria SearchCriteria `db:"-" json:"criteria"`
	Created  time.Time      `db:"created_at" json:"created_at"`
}
