package analyzer

import (
	"strings"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// ImportanceRule is one weighted predicate over message metadata. All set
// conditions must hold for the rule to match.
type ImportanceRule struct {
	ID              string   `yaml:"id"`
	SenderContains  []string `yaml:"sender_contains,omitempty"`
	SubjectContains []string `yaml:"subject_contains,omitempty"`
	LabelsAny       []string `yaml:"labels_any,omitempty"`
	MinSizeBytes    int64    `yaml:"min_size_bytes,omitempty"`
	MaxAgeDays      int      `yaml:"max_age_days,omitempty"`
	Weight          float64  `yaml:"weight"`
}

// ImportanceConfig holds the ordered rule set and level thresholds.
type ImportanceConfig struct {
	Rules         []ImportanceRule `yaml:"rules"`
	LowThreshold  float64          `yaml:"low_threshold"`
	HighThreshold float64          `yaml:"high_threshold"`
}

// DefaultImportanceConfig mirrors the shipped rule set: explicit importance
// labels and starred mail dominate, personal correspondence and recency add
// smaller weights, bulk markers subtract.
func DefaultImportanceConfig() *ImportanceConfig {
	return &ImportanceConfig{
		LowThreshold:  0.33,
		HighThreshold: 0.66,
		Rules: []ImportanceRule{
			{ID: "label-important", LabelsAny: []string{"IMPORTANT", "STARRED"}, Weight: 0.5},
			{ID: "subject-urgent", SubjectContains: []string{"urgent", "asap", "action required", "deadline"}, Weight: 0.35},
			{ID: "direct-correspondence", LabelsAny: []string{"CATEGORY_PERSONAL"}, Weight: 0.25},
			{ID: "recent-activity", MaxAgeDays: 7, Weight: 0.15},
			{ID: "large-attachment", MinSizeBytes: 5 << 20, Weight: 0.1},
			{ID: "bulk-sender", SenderContains: []string{"noreply", "no-reply", "donotreply", "newsletter"}, Weight: -0.3},
		},
	}
}

// ImportanceAnalyzer applies the ordered rule set; the score is a clipped
// weighted sum.
type ImportanceAnalyzer struct {
	cfg *ImportanceConfig
}

// NewImportanceAnalyzer builds the analyzer; nil gets the default config.
func NewImportanceAnalyzer(cfg *ImportanceConfig) *ImportanceAnalyzer {
	if cfg == nil {
		cfg = DefaultImportanceConfig()
	}
	return &ImportanceAnalyzer{cfg: cfg}
}

func (a *ImportanceAnalyzer) analyze(msg *model.MessageIndex, now time.Time, res *model.AnalyzerResult) {
	var (
		score   float64
		matched []string
	)
	for _, rule := range a.cfg.Rules {
		if ruleMatches(&rule, msg, now) {
			score += rule.Weight
			matched = append(matched, rule.ID)
		}
	}

	res.ImportanceScore = clip01(score)
	res.ImportanceRules = matched
	res.ImportanceLevel = a.level(res.ImportanceScore)
	// Confidence grows with the amount of agreeing evidence.
	res.ImportanceConfidence = clip01(0.4 + 0.2*float64(len(matched)))
}

func (a *ImportanceAnalyzer) level(score float64) model.ImportanceLevel {
	switch {
	case score < a.cfg.LowThreshold:
		return model.ImportanceLow
	case score < a.cfg.HighThreshold:
		return model.ImportanceMedium
	default:
		return model.ImportanceHigh
	}
}

func ruleMatches(rule *ImportanceRule, msg *model.MessageIndex, now time.Time) bool {
	if len(rule.SenderContains) > 0 && !containsAny(strings.ToLower(msg.Sender), rule.SenderContains) {
		return false
	}
	if len(rule.SubjectContains) > 0 && !containsAny(strings.ToLower(msg.Subject), rule.SubjectContains) {
		return false
	}
	if len(rule.LabelsAny) > 0 && !labelAny(msg.Labels, rule.LabelsAny) {
		return false
	}
	if rule.MinSizeBytes > 0 && msg.SizeBytes < rule.MinSizeBytes {
		return false
	}
	if rule.MaxAgeDays > 0 && msg.AgeDays(now) > rule.MaxAgeDays {
		return false
	}
	return true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func labelAny(labels []string, wanted []string) bool {
	for _, l := range labels {
		for _, w := range wanted {
			if strings.EqualFold(l, w) {
				return true
			}
		}
	}
	return false
}
