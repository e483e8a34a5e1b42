// Package analyzer scores email metadata along three axes: importance,
// age/size, and label-derived category. Each analyzer is a pure function of
// the message and its configuration; results may be memoized in a versioned
// cache keyed on a canonical projection of the inputs.
package analyzer

import (
	"sort"
	"strings"
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Version identifies the current analyzer configuration generation. The
// categorization engine skips messages whose stored analysis_version matches.
const Version = "v2"

// Set bundles the three analyzers behind one Analyze call.
type Set struct {
	Importance *ImportanceAnalyzer
	DateSize   *DateSizeAnalyzer
	Labels     *LabelClassifier
	cache      *Cache
}

// NewSet builds an analyzer set with the given configs. Nil configs get
// defaults. A shared memo cache is attached.
func NewSet(imp *ImportanceConfig, ds *DateSizeConfig, lc *LabelConfig) *Set {
	return &Set{
		Importance: NewImportanceAnalyzer(imp),
		DateSize:   NewDateSizeAnalyzer(ds),
		Labels:     NewLabelClassifier(lc),
		cache:      NewCache(Version),
	}
}

// Analyze runs all three analyzers and merges their field sets. Bad inputs
// never raise: a message without a date scores as recent and unimportant
// rather than failing the batch.
func (s *Set) Analyze(msg *model.MessageIndex, now time.Time) *model.AnalyzerResult {
	key := CacheKey(msg, now)
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}

	res := &model.AnalyzerResult{AnalysisVersion: Version}
	s.Importance.analyze(msg, now, res)
	s.DateSize.analyze(msg, now, res)
	s.Labels.analyze(msg, res)
	ts := now.UTC()
	res.AnalysisTimestamp = &ts

	s.cache.Put(key, res)
	return res
}

// CacheKey builds the canonical memo key: sorted labels, normalized sender,
// and age/size buckets rather than raw values, so equivalent inputs hit.
func CacheKey(msg *model.MessageIndex, now time.Time) string {
	labels := append([]string(nil), msg.Labels...)
	sort.Strings(labels)
	var sb strings.Builder
	sb.WriteString(strings.ToLower(strings.TrimSpace(msg.Sender)))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(labels, ","))
	sb.WriteByte('|')
	sb.WriteString(string(sizeBucket(msg.SizeBytes)))
	sb.WriteByte('|')
	sb.WriteString(string(ageBucket(msg.AgeDays(now))))
	sb.WriteByte('|')
	sb.WriteString(msg.ID)
	return sb.String()
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// senderDomain returns the part after '@', lowercased.
func senderDomain(sender string) string {
	at := strings.LastIndexByte(sender, '@')
	if at < 0 || at == len(sender)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(sender[at+1:], "> "))
}
