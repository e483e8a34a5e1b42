package model

import "time"

// CleanupAction is what a policy does with a matched message.
type CleanupAction string

const (
	ActionArchive CleanupAction = "archive"
	ActionDelete  CleanupAction = "delete"
)

// CleanupMethod is how the action is carried out.
type CleanupMethod string

const (
	MethodProvider CleanupMethod = "provider"
	MethodExport   CleanupMethod = "export"
)

// ScheduleFrequency controls when automation fires a policy.
type ScheduleFrequency string

const (
	FrequencyContinuous ScheduleFrequency = "continuous"
	FrequencyDaily      ScheduleFrequency = "daily"
	FrequencyWeekly     ScheduleFrequency = "weekly"
	FrequencyMonthly    ScheduleFrequency = "monthly"
)

// PolicyCriteria are the conjunctive match conditions of a policy. Every
// field is optional; an unset field does not constrain the match.
type PolicyCriteria struct {
	AgeDaysMin          int      `json:"age_days_min,omitempty" validate:"gte=0"`
	ImportanceLevelMax  string   `json:"importance_level_max,omitempty" validate:"omitempty,oneof=low medium high"`
	SizeThresholdMin    int64    `json:"size_threshold_min,omitempty" validate:"gte=0"`
	SpamScoreMin        *float64 `json:"spam_score_min,omitempty" validate:"omitempty,gte=0,lte=1"`
	PromotionalScoreMin *float64 `json:"promotional_score_min,omitempty" validate:"omitempty,gte=0,lte=1"`
	AccessScoreMax      *float64 `json:"access_score_max,omitempty" validate:"omitempty,gte=0,lte=1"`
	NoAccessDays        int      `json:"no_access_days,omitempty" validate:"gte=0"`
}

// PolicyAction pairs the action type with its execution method.
type PolicyAction struct {
	Type         CleanupAction `json:"type" validate:"required,oneof=archive delete"`
	Method       CleanupMethod `json:"method" validate:"required,oneof=provider export"`
	ExportFormat string        `json:"export_format,omitempty" validate:"omitempty,oneof=mbox json"`
}

// PolicySafety carries per-policy overrides of the cross-cutting limits.
type PolicySafety struct {
	MaxEmailsPerRun     int  `json:"max_emails_per_run" validate:"gte=1"`
	RequireConfirmation bool `json:"require_confirmation"`
	DryRunFirst         bool `json:"dry_run_first"`
	PreserveImportant   bool `json:"preserve_important"`
}

// PolicySchedule says when automation runs this policy. Time is "HH:MM".
type PolicySchedule struct {
	Frequency ScheduleFrequency `json:"frequency" validate:"omitempty,oneof=continuous daily weekly monthly"`
	Time      string            `json:"time,omitempty" validate:"omitempty,schedule_time"`
	Enabled   bool              `json:"enabled"`
}

// CleanupPolicy is a named, prioritized rule set. Ordering across policies is
// by priority descending, then creation time ascending.
type CleanupPolicy struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Name      string         `db:"name" json:"name" validate:"required"`
	Enabled   bool           `db:"enabled" json:"enabled"`
	Priority  int            `db:"priority" json:"priority" validate:"gte=0,lte=100"`
	Criteria  PolicyCriteria `db:"-" json:"criteria"`
	Action    PolicyAction   `db:"-" json:"action"`
	Safety    PolicySafety   `db:"-" json:"safety"`
	Schedule  PolicySchedule `db:"-" json:"schedule"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// StalenessScore is the derived deletability score for one message. It is
// computed on demand and never persisted.
type StalenessScore struct {
	TotalScore     float64            `json:"total_score"`
	Factors        map[string]float64 `json:"factors"`
	Recommendation string             `json:"recommendation"`
	Confidence     float64            `json:"confidence"`
}

// Staleness recommendations.
const (
	RecommendKeep    = "keep"
	RecommendArchive = "archive"
	RecommendDelete  = "delete"
)

// CleanupCandidate is a message selected by a policy and passed by every
// safety gate, eligible for execution.
type CleanupCandidate struct {
	Message           *MessageIndex  `json:"message"`
	Policy            *CleanupPolicy `json:"policy"`
	Staleness         StalenessScore `json:"staleness_score"`
	RecommendedAction CleanupAction  `json:"recommended_action"`
}

// ProtectedEmail is a message excluded from cleanup with the reason.
type ProtectedEmail struct {
	Message *MessageIndex `json:"message"`
	Reason  string        `json:"reason"`
}

// EvaluationSummary counts the outcome of one policy evaluation batch.
type EvaluationSummary struct {
	Total           int `json:"total"`
	Candidates      int `json:"candidates"`
	Protected       int `json:"protected"`
	PoliciesApplied int `json:"policies_applied"`
}

// EvaluationResult is the full outcome of evaluate_emails_for_cleanup.
type EvaluationResult struct {
	Candidates []CleanupCandidate `json:"cleanup_candidates"`
	Protected  []ProtectedEmail   `json:"protected_emails"`
	Summary    EvaluationSummary  `json:"evaluation_summary"`
}

// ArchiveRule is a stored selector + action with an optional schedule.
type ArchiveRule struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Name      string         `db:"name" json:"name" validate:"required"`
	Criteria  SearchCriteria `db:"-" json:"criteria"`
	Action    PolicyAction   `db:"-" json:"action"`
	Schedule  PolicySchedule `db:"-" json:"schedule"`
	Enabled   bool           `db:"enabled" json:"enabled"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ArchiveRecord is one concrete archive/delete invocation.
type ArchiveRecord struct {
	ID         string        `db:"id" json:"id"`
	UserID     string        `db:"user_id" json:"user_id"`
	Action     CleanupAction `db:"action" json:"action"`
	Method     CleanupMethod `db:"method" json:"method"`
	MessageIDs Strings       `db:"message_ids" json:"message_ids"`
	Location   string        `db:"location" json:"location,omitempty"`
	SizeBytes  int64         `db:"size_bytes" json:"size_bytes"`
	Restorable bool          `db:"restorable" json:"restorable"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}
