// Package staleness combines stored analyzer outputs and access summaries
// into a single deletability score with a keep/archive/delete recommendation.
package staleness

import (
	"math"
	"time"

	"github.com/mailsteward/mailsteward/internal/access"
	"github.com/mailsteward/mailsteward/internal/model"
)

// Weights are the non-negative factor weights; they must sum to one.
type Weights struct {
	Age        float64 `yaml:"age"`
	Importance float64 `yaml:"importance"`
	Size       float64 `yaml:"size"`
	Spam       float64 `yaml:"spam"`
	Access     float64 `yaml:"access"`
}

// DefaultWeights returns the shipped weighting.
func DefaultWeights() Weights {
	return Weights{Age: 0.25, Importance: 0.30, Size: 0.10, Spam: 0.15, Access: 0.20}
}

// Thresholds control how the total score maps to a recommendation.
type Thresholds struct {
	Delete       float64 `yaml:"delete"`
	DeleteAccess float64 `yaml:"delete_access"`
	Archive      float64 `yaml:"archive"`
}

// DefaultThresholds: delete needs both a high total and clear lack of access.
func DefaultThresholds() Thresholds {
	return Thresholds{Delete: 0.75, DeleteAccess: 0.5, Archive: 0.5}
}

// Scorer computes StalenessScore values. It is pure and safe for concurrent
// use.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer builds a scorer; zero-value weights get the defaults.
func NewScorer(w Weights, t Thresholds) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	return &Scorer{weights: w, thresholds: t}
}

// Score computes the staleness of one message. A missing analysis or summary
// never raises: absent evidence scores toward keep, except for access, where
// a message nobody ever opened is maximally deletable.
func (s *Scorer) Score(msg *model.MessageIndex, sum *model.AccessSummary, now time.Time) model.StalenessScore {
	var (
		ageScore        float64
		importanceScore float64
		sizePenalty     float64
		spamScore       float64
	)
	if msg != nil && msg.Analysis != nil {
		ageScore = 1 - msg.Analysis.RecencyScore
		importanceScore = msg.Analysis.ImportanceScore
		sizePenalty = msg.Analysis.SizePenalty
		spamScore = msg.Analysis.SpamScore
	}
	accessScore := access.Score(sum, now)

	factors := map[string]float64{
		"age_score":        ageScore,
		"importance_score": importanceScore,
		"size_penalty":     sizePenalty,
		"spam_score":       spamScore,
		"access_score":     accessScore,
	}

	total := s.weights.Age*ageScore +
		s.weights.Importance*(1-importanceScore) +
		s.weights.Size*sizePenalty +
		s.weights.Spam*spamScore +
		s.weights.Access*accessScore
	total = clip01(total)

	rec := model.RecommendKeep
	switch {
	case total >= s.thresholds.Delete && accessScore >= s.thresholds.DeleteAccess:
		rec = model.RecommendDelete
	case total >= s.thresholds.Archive:
		rec = model.RecommendArchive
	}

	return model.StalenessScore{
		TotalScore:     total,
		Factors:        factors,
		Recommendation: rec,
		Confidence:     confidence(ageScore, accessScore, total),
	}
}

// confidence is high when the age and access evidence agree with each other
// and with the total. Disagreeing factors pull it toward 0.5.
func confidence(ageScore, accessScore, total float64) float64 {
	agreement := 1 - math.Abs(ageScore-accessScore)
	decisiveness := math.Abs(total-0.5) * 2
	return clip01(0.3 + 0.4*agreement + 0.3*decisiveness)
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
