package cleanup

import (
	"strings"
	"sync"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Severity grades how strongly a safety check protects a message.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SafetyCheckResult is the outcome of running the checklist for one message.
type SafetyCheckResult struct {
	Safe      bool           `json:"safe"`
	Reason    string         `json:"reason,omitempty"`
	CheckType string         `json:"check_type,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SafetyConfig holds the tunable protection rules. Zero values fall back to
// the defaults; list fields merge additively with the defaults.
type SafetyConfig struct {
	MaxDeletionsPerHour int `yaml:"max_deletions_per_hour"`
	MaxDeletionsPerDay  int `yaml:"max_deletions_per_day"`

	VIPDomains       []string `yaml:"vip_domains"`
	TrustedDomains   []string `yaml:"trusted_domains"`
	WhitelistDomains []string `yaml:"whitelist_domains"`

	ExecutiveTokens []string `yaml:"executive_tokens"`

	CriticalLabels  []string `yaml:"critical_labels"`
	ProtectedLabels []string `yaml:"protected_labels"`

	LegalKeywords      []string `yaml:"legal_keywords"`
	ComplianceTerms    []string `yaml:"compliance_terms"`
	RegulatoryKeywords []string `yaml:"regulatory_keywords"`

	ConsumerDomains      []string `yaml:"consumer_domains"`
	ImportantSenderScore float64  `yaml:"important_sender_score"`

	ActiveThreadDays int `yaml:"active_thread_days"`
	RecentReplyDays  int `yaml:"recent_reply_days"`

	UnreadRecentDays         int     `yaml:"unread_recent_days"`
	UnreadImportanceBoost    float64 `yaml:"unread_importance_boost"`
	ImportanceScoreThreshold float64 `yaml:"importance_score_threshold"`

	LargeEmailThreshold   int64   `yaml:"large_email_threshold"`
	AverageSize           int64   `yaml:"average_size"`
	UnusualSizeMultiplier float64 `yaml:"unusual_size_multiplier"`

	MinStalenessScore float64 `yaml:"min_staleness_score"`
	MaxAccessScore    float64 `yaml:"max_access_score"`

	// RecentAccessDays is a pointer so an explicit zero can disable the
	// recency guard; nil keeps the default.
	RecentAccessDays *int `yaml:"recent_access_days"`
}

// IntPtr returns a pointer to v, for the optional override fields.
func IntPtr(v int) *int { return &v }

// DefaultSafetyConfig returns the shipped protection rules.
func DefaultSafetyConfig() *SafetyConfig {
	return &SafetyConfig{
		MaxDeletionsPerHour: 500,
		MaxDeletionsPerDay:  2000,
		VIPDomains:          []string{},
		TrustedDomains:      []string{},
		WhitelistDomains:    []string{},
		ExecutiveTokens: []string{
			"ceo", "cto", "cfo", "president", "director", "executive", "board",
		},
		CriticalLabels:  []string{"IMPORTANT", "STARRED"},
		ProtectedLabels: []string{"legal", "contract", "tax", "receipt"},
		LegalKeywords: []string{
			"subpoena", "lawsuit", "litigation", "legal notice", "court order",
		},
		ComplianceTerms: []string{
			"audit", "compliance", "sox", "gdpr", "hipaa",
		},
		RegulatoryKeywords: []string{
			"sec filing", "regulatory", "irs", "tax return",
		},
		ConsumerDomains: []string{
			"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "aol.com",
			"icloud.com", "example.com",
		},
		ImportantSenderScore:     0.7,
		ActiveThreadDays:         30,
		RecentReplyDays:          14,
		UnreadRecentDays:         30,
		UnreadImportanceBoost:    0.2,
		ImportanceScoreThreshold: 0.8,
		LargeEmailThreshold:      25 << 20,
		AverageSize:              75 << 10,
		UnusualSizeMultiplier:    10,
		MinStalenessScore:        0.5,
		MaxAccessScore:           0.3,
		RecentAccessDays:         IntPtr(7),
	}
}

// recentAccessDays returns the guard window; zero disables the guard.
func (c *SafetyConfig) recentAccessDays() int {
	if c.RecentAccessDays == nil {
		return 0
	}
	return *c.RecentAccessDays
}

// Merge overlays non-zero scalar overrides onto the defaults and appends list
// overrides to the default lists.
func (c *SafetyConfig) Merge(o *SafetyConfig) *SafetyConfig {
	if o == nil {
		return c
	}
	out := *c
	if o.MaxDeletionsPerHour > 0 {
		out.MaxDeletionsPerHour = o.MaxDeletionsPerHour
	}
	if o.MaxDeletionsPerDay > 0 {
		out.MaxDeletionsPerDay = o.MaxDeletionsPerDay
	}
	out.VIPDomains = append(out.VIPDomains, o.VIPDomains...)
	out.TrustedDomains = append(out.TrustedDomains, o.TrustedDomains...)
	out.WhitelistDomains = append(out.WhitelistDomains, o.WhitelistDomains...)
	out.ExecutiveTokens = append(out.ExecutiveTokens, o.ExecutiveTokens...)
	out.CriticalLabels = append(out.CriticalLabels, o.CriticalLabels...)
	out.ProtectedLabels = append(out.ProtectedLabels, o.ProtectedLabels...)
	out.LegalKeywords = append(out.LegalKeywords, o.LegalKeywords...)
	out.ComplianceTerms = append(out.ComplianceTerms, o.ComplianceTerms...)
	out.RegulatoryKeywords = append(out.RegulatoryKeywords, o.RegulatoryKeywords...)
	out.ConsumerDomains = append(out.ConsumerDomains, o.ConsumerDomains...)
	if o.ImportantSenderScore > 0 {
		out.ImportantSenderScore = o.ImportantSenderScore
	}
	if o.ActiveThreadDays > 0 {
		out.ActiveThreadDays = o.ActiveThreadDays
	}
	if o.RecentReplyDays > 0 {
		out.RecentReplyDays = o.RecentReplyDays
	}
	if o.UnreadRecentDays > 0 {
		out.UnreadRecentDays = o.UnreadRecentDays
	}
	if o.UnreadImportanceBoost > 0 {
		out.UnreadImportanceBoost = o.UnreadImportanceBoost
	}
	if o.ImportanceScoreThreshold > 0 {
		out.ImportanceScoreThreshold = o.ImportanceScoreThreshold
	}
	if o.LargeEmailThreshold > 0 {
		out.LargeEmailThreshold = o.LargeEmailThreshold
	}
	if o.AverageSize > 0 {
		out.AverageSize = o.AverageSize
	}
	if o.UnusualSizeMultiplier > 0 {
		out.UnusualSizeMultiplier = o.UnusualSizeMultiplier
	}
	if o.MinStalenessScore > 0 {
		out.MinStalenessScore = o.MinStalenessScore
	}
	if o.MaxAccessScore > 0 {
		out.MaxAccessScore = o.MaxAccessScore
	}
	if o.RecentAccessDays != nil {
		out.RecentAccessDays = o.RecentAccessDays
	}
	return &out
}

// SafetyMetrics counts checklist activity. Shared across workers.
type SafetyMetrics struct {
	mu          sync.Mutex
	TotalChecks int            `json:"total_checks"`
	Protected   int            `json:"protected_emails"`
	ByCheckType map[string]int `json:"by_check_type"`
}

// NewSafetyMetrics returns zeroed metrics.
func NewSafetyMetrics() *SafetyMetrics {
	return &SafetyMetrics{ByCheckType: make(map[string]int)}
}

func (m *SafetyMetrics) record(res *SafetyCheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalChecks++
	if !res.Safe {
		m.Protected++
		m.ByCheckType[res.CheckType]++
	}
}

// Snapshot returns a copy safe to serialize.
func (m *SafetyMetrics) Snapshot() SafetyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	by := make(map[string]int, len(m.ByCheckType))
	for k, v := range m.ByCheckType {
		by[k] = v
	}
	return SafetyMetrics{TotalChecks: m.TotalChecks, Protected: m.Protected, ByCheckType: by}
}

// rateCounters tracks deletions in sliding hour and day windows.
type rateCounters struct {
	mu        sync.Mutex
	hourStart time.Time
	hourCount int
	dayStart  time.Time
	dayCount  int
}

func (r *rateCounters) counts(now time.Time) (hour, day int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll(now)
	return r.hourCount, r.dayCount
}

// Add records n completed deletions.
func (r *rateCounters) Add(now time.Time, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll(now)
	r.hourCount += n
	r.dayCount += n
}

func (r *rateCounters) roll(now time.Time) {
	if now.Sub(r.hourStart) >= time.Hour {
		r.hourStart = now
		r.hourCount = 0
	}
	if now.Sub(r.dayStart) >= 24*time.Hour {
		r.dayStart = now
		r.dayCount = 0
	}
}

// SafetyChecker runs the ordered checklist. One checker is shared by all
// workers of an engine instance; the metrics and rate counters are guarded.
type SafetyChecker struct {
	cfg     *SafetyConfig
	metrics *SafetyMetrics
	rates   *rateCounters
}

// NewSafetyChecker builds a checker over the merged config.
func NewSafetyChecker(overrides *SafetyConfig) *SafetyChecker {
	return &SafetyChecker{
		cfg:     DefaultSafetyConfig().Merge(overrides),
		metrics: NewSafetyMetrics(),
		rates:   &rateCounters{},
	}
}

// Metrics returns the shared metrics.
func (sc *SafetyChecker) Metrics() *SafetyMetrics { return sc.metrics }

// RecordDeletions feeds completed deletions into the rate counters.
func (sc *SafetyChecker) RecordDeletions(now time.Time, n int) { sc.rates.Add(now, n) }

var safe = SafetyCheckResult{Safe: true}

func protect(checkType, reason string, sev Severity, meta map[string]any) SafetyCheckResult {
	return SafetyCheckResult{Reason: reason, CheckType: checkType, Severity: sev, Metadata: meta}
}

// Check runs the full ordered checklist; the first failing rule wins. Bad
// inputs protect rather than raise.
func (sc *SafetyChecker) Check(msg *model.MessageIndex, stale model.StalenessScore, now time.Time) SafetyCheckResult {
	res := sc.check(msg, stale, now)
	sc.metrics.record(&res)
	return res
}

func (sc *SafetyChecker) check(msg *model.MessageIndex, stale model.StalenessScore, now time.Time) SafetyCheckResult {
	if msg == nil {
		return protect("internal", "missing message", SeverityCritical, nil)
	}

	cfg := sc.cfg
	subject := strings.ToLower(msg.Subject)
	sender := strings.ToLower(msg.Sender)
	domain := senderDomain(msg.Sender)
	ageDays := msg.AgeDays(now)

	var importance float64
	if msg.Analysis != nil {
		importance = msg.Analysis.ImportanceScore
	}

	// 1. Batch limits.
	hour, day := sc.rates.counts(now)
	if hour >= cfg.MaxDeletionsPerHour {
		return protect("batch_limits", "hourly deletion limit reached", SeverityHigh,
			map[string]any{"deletions_this_hour": hour})
	}
	if day >= cfg.MaxDeletionsPerDay {
		return protect("batch_limits", "daily deletion limit reached", SeverityHigh,
			map[string]any{"deletions_this_day": day})
	}

	// 2. Domain protection.
	if domainIn(domain, cfg.VIPDomains) {
		return protect("domain_protection", "sender domain is VIP protected", SeverityCritical,
			map[string]any{"domain": domain})
	}
	if domainIn(domain, cfg.TrustedDomains) {
		return protect("domain_protection", "sender domain is trusted", SeverityHigh,
			map[string]any{"domain": domain})
	}
	if domainIn(domain, cfg.WhitelistDomains) {
		return protect("domain_protection", "sender domain is whitelisted", SeverityMedium,
			map[string]any{"domain": domain})
	}

	// 3. VIP / executive.
	for _, tok := range cfg.ExecutiveTokens {
		if strings.Contains(subject, tok) || strings.Contains(sender, tok) {
			return protect("vip_executive", "executive correspondence", SeverityHigh,
				map[string]any{"token": tok})
		}
	}

	// 4. Label safety.
	for _, l := range msg.Labels {
		ll := strings.ToLower(l)
		for _, crit := range cfg.CriticalLabels {
			if strings.Contains(ll, strings.ToLower(crit)) {
				return protect("label_safety", "message carries a critical label", SeverityCritical,
					map[string]any{"label": l})
			}
		}
		for _, prot := range cfg.ProtectedLabels {
			if strings.Contains(ll, strings.ToLower(prot)) {
				return protect("label_safety", "message carries a protected label", SeverityHigh,
					map[string]any{"label": l})
			}
		}
	}

	// 5. Legal / compliance.
	text := subject + " " + strings.ToLower(msg.Snippet)
	if kw := firstContained(text, cfg.LegalKeywords); kw != "" {
		return protect("legal_compliance", "legal keyword present", SeverityCritical,
			map[string]any{"keyword": kw})
	}
	if kw := firstContained(text, cfg.ComplianceTerms); kw != "" {
		return protect("legal_compliance", "compliance term present", SeverityHigh,
			map[string]any{"keyword": kw})
	}
	if kw := firstContained(text, cfg.RegulatoryKeywords); kw != "" {
		return protect("legal_compliance", "regulatory keyword present", SeverityHigh,
			map[string]any{"keyword": kw})
	}

	// 6. Attachment safety.
	if msg.HasAttachments {
		return protect("attachment_safety", "message has attachments", SeverityMedium, nil)
	}

	// 7. Sender reputation.
	if domain != "" && !domainIn(domain, cfg.ConsumerDomains) {
		return protect("sender_reputation", "sender appears to be a frequent contact", SeverityMedium,
			map[string]any{"domain": domain})
	}
	if importance >= cfg.ImportantSenderScore {
		return protect("sender_reputation", "sender importance above threshold", SeverityMedium,
			map[string]any{"importance_score": importance})
	}

	// 8. Thread safety.
	if msg.ThreadID != "" && ageDays <= cfg.ActiveThreadDays {
		return protect("thread_safety", "message belongs to an active thread", SeverityMedium,
			map[string]any{"age_days": ageDays})
	}
	if hasReplyMarker(msg.Subject) && ageDays <= cfg.RecentReplyDays {
		return protect("thread_safety", "recent reply or forward", SeverityMedium,
			map[string]any{"age_days": ageDays})
	}

	// 9. Unread protection.
	if msg.HasLabel("UNREAD") {
		if ageDays <= cfg.UnreadRecentDays {
			return protect("unread_protection", "recent unread message", SeverityHigh,
				map[string]any{"age_days": ageDays})
		}
		if importance+cfg.UnreadImportanceBoost >= cfg.ImportanceScoreThreshold {
			return protect("unread_protection", "unread message of likely importance", SeverityMedium,
				map[string]any{"importance_score": importance})
		}
	}

	// 10. Size anomaly.
	if msg.SizeBytes >= cfg.LargeEmailThreshold {
		return protect("size_anomaly", "unusually large message", SeverityMedium,
			map[string]any{"size_bytes": msg.SizeBytes})
	}
	if cfg.AverageSize > 0 && float64(msg.SizeBytes) > float64(cfg.AverageSize)*cfg.UnusualSizeMultiplier {
		return protect("size_anomaly", "message size above the unusual multiplier", SeverityLow,
			map[string]any{"size_bytes": msg.SizeBytes})
	}

	// 11. Staleness / access thresholds.
	if stale.TotalScore < cfg.MinStalenessScore || stale.Factors["access_score"] < cfg.MaxAccessScore {
		return protect("staleness_threshold", "message not stale enough to act on", SeverityMedium,
			map[string]any{
				"total_score":  stale.TotalScore,
				"access_score": stale.Factors["access_score"],
			})
	}

	return safe
}

func domainIn(domain string, list []string) bool {
	for _, d := range list {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}

func firstContained(text string, keywords []string) string {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

func hasReplyMarker(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	return strings.HasPrefix(s, "re:") || strings.HasPrefix(s, "fwd:") || strings.HasPrefix(s, "fw:")
}

func senderDomain(sender string) string {
	at := strings.LastIndexByte(sender, '@')
	if at < 0 || at == len(sender)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(sender[at+1:], "> "))
}

func (s Severity) String() string { return string(s) }
