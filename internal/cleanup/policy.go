// Package cleanup implements the policy-driven mail lifecycle engine: policy
// CRUD and matching, the layered safety checklist, the executor that applies
// archive/delete actions through the mail provider, and the automation loop
// that drives it all in the background.
package cleanup

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
)

var scheduleTimeRE = regexp.MustCompile(`^[0-2]?\d:[0-5]\d$`)

// newValidator builds the policy validator with the schedule_time tag.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("schedule_time", func(fl validator.FieldLevel) bool {
		return scheduleTimeRE.MatchString(fl.Field().String())
	})
	return v
}

// PolicyEngine owns cleanup policy CRUD and batch evaluation. One engine
// serves all users; the store handle is passed per call.
type PolicyEngine struct {
	validate *validator.Validate
	scorer   *staleness.Scorer
	checker  *SafetyChecker
	log      *zap.Logger
	now      func() time.Time
}

// NewPolicyEngine builds an engine with the given safety overrides.
func NewPolicyEngine(scorer *staleness.Scorer, overrides *SafetyConfig, log *zap.Logger) *PolicyEngine {
	return &PolicyEngine{
		validate: newValidator(),
		scorer:   scorer,
		checker:  NewSafetyChecker(overrides),
		log:      log.Named("cleanup"),
		now:      time.Now,
	}
}

// Checker exposes the shared safety checker for the executor and metrics.
func (e *PolicyEngine) Checker() *SafetyChecker { return e.checker }

// CreatePolicy validates and persists a new policy.
func (e *PolicyEngine) CreatePolicy(ctx context.Context, st *store.UserStore, p *model.CleanupPolicy) (*model.CleanupPolicy, error) {
	e.applyDefaults(p)
	if err := e.validate.Struct(p); err != nil {
		return nil, model.Validationf("invalid policy: %v", err)
	}
	p.ID = uuid.NewString()
	p.UserID = st.UserID()
	p.CreatedAt = e.now().UTC()
	p.UpdatedAt = p.CreatedAt
	if err := st.InsertPolicy(ctx, p); err != nil {
		return nil, err
	}
	e.log.Info("policy created",
		zap.String("user_id", p.UserID),
		zap.String("policy_id", p.ID),
		zap.String("name", p.Name))
	return p, nil
}

// UpdatePolicy validates and rewrites an existing policy.
func (e *PolicyEngine) UpdatePolicy(ctx context.Context, st *store.UserStore, p *model.CleanupPolicy) (*model.CleanupPolicy, error) {
	if _, err := st.GetPolicy(ctx, p.ID); err != nil {
		return nil, err
	}
	e.applyDefaults(p)
	if err := e.validate.Struct(p); err != nil {
		return nil, model.Validationf("invalid policy: %v", err)
	}
	p.UserID = st.UserID()
	p.UpdatedAt = e.now().UTC()
	if err := st.UpdatePolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePolicy removes a policy.
func (e *PolicyEngine) DeletePolicy(ctx context.Context, st *store.UserStore, id string) error {
	return st.DeletePolicy(ctx, id)
}

// ListPolicies returns the user's policies in evaluation order.
func (e *PolicyEngine) ListPolicies(ctx context.Context, st *store.UserStore, enabledOnly bool) ([]*model.CleanupPolicy, error) {
	return st.ListPolicies(ctx, enabledOnly)
}

func (e *PolicyEngine) applyDefaults(p *model.CleanupPolicy) {
	if p.Safety.MaxEmailsPerRun == 0 {
		p.Safety.MaxEmailsPerRun = 100
	}
	if p.Action.Method == "" {
		p.Action.Method = model.MethodProvider
	}
}

// importantTier reports whether the message clears the preserve-important
// pre-filter: explicit important category, high importance level, or a legacy
// numeric importance tier above five.
func importantTier(msg *model.MessageIndex) bool {
	if msg.Analysis == nil {
		return false
	}
	a := msg.Analysis
	return a.GmailCategory == model.CategoryImportant ||
		a.ImportanceLevel == model.ImportanceHigh ||
		a.ImportanceScore > 5
}

// EvaluateEmailsForCleanup classifies each message as a candidate or
// protected. Evaluation is deterministic given the same inputs and safety
// configuration; any unexpected failure protects the message instead of
// failing the batch.
func (e *PolicyEngine) EvaluateEmailsForCleanup(ctx context.Context, st *store.UserStore, msgs []*model.MessageIndex) (*model.EvaluationResult, error) {
	policies, err := st.ListPolicies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}

	res := &model.EvaluationResult{
		Summary: model.EvaluationSummary{Total: len(msgs), PoliciesApplied: len(policies)},
	}
	now := e.now().UTC()

	for _, msg := range msgs {
		cand, reason := e.evaluateOne(ctx, st, policies, msg, now)
		if cand != nil {
			res.Candidates = append(res.Candidates, *cand)
		} else {
			res.Protected = append(res.Protected, model.ProtectedEmail{Message: msg, Reason: reason})
		}
	}
	res.Summary.Candidates = len(res.Candidates)
	res.Summary.Protected = len(res.Protected)
	return res, nil
}

// evaluateOne runs the per-message decision flow. The deferred recover turns
// any panic into a protective outcome.
func (e *PolicyEngine) evaluateOne(ctx context.Context, st *store.UserStore, policies []*model.CleanupPolicy, msg *model.MessageIndex, now time.Time) (cand *model.CleanupCandidate, reason string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("safety check panic",
				zap.String("message_id", msg.ID), zap.Any("panic", r))
			cand, reason = nil, "safety check error"
		}
	}()

	// Recency guard: never touch very fresh mail, regardless of policy.
	// An explicit zero in the config disables the guard.
	if msg.AgeDays(now) < e.checker.cfg.recentAccessDays() {
		return nil, "too recent"
	}

	// Preserve-important acts as a pre-filter across policies, before any
	// criteria are tested.
	for _, p := range policies {
		if p.Safety.PreserveImportant && importantTier(msg) {
			return nil, "policy configured to preserve important emails"
		}
	}

	sum, err := st.GetAccessSummary(ctx, msg.ID)
	if err != nil {
		e.log.Warn("access summary load failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil, "safety check error"
	}
	stale := e.scorer.Score(msg, sum, now)

	var firstFailure string
	matched := false
	for _, p := range policies {
		if !criteriaMatch(&p.Criteria, msg, sum, now) {
			continue
		}
		matched = true
		check := e.checker.Check(msg, stale, now)
		if check.Safe {
			return &model.CleanupCandidate{
				Message:           msg,
				Policy:            p,
				Staleness:         stale,
				RecommendedAction: p.Action.Type,
			}, ""
		}
		if firstFailure == "" {
			firstFailure = check.Reason
		}
	}

	if matched {
		return nil, firstFailure
	}
	return nil, "no applicable policy"
}

// criteriaMatch tests the conjunctive policy criteria. Unset fields do not
// constrain the match.
func criteriaMatch(c *model.PolicyCriteria, msg *model.MessageIndex, sum *model.AccessSummary, now time.Time) bool {
	if c.AgeDaysMin > 0 && msg.AgeDays(now) < c.AgeDaysMin {
		return false
	}
	if c.ImportanceLevelMax != "" {
		level := model.ImportanceLow
		if msg.Analysis != nil {
			level = msg.Analysis.ImportanceLevel
		}
		if levelRank(level) > levelRank(model.ImportanceLevel(c.ImportanceLevelMax)) {
			return false
		}
	}
	if c.SizeThresholdMin > 0 && msg.SizeBytes < c.SizeThresholdMin {
		return false
	}
	if c.SpamScoreMin != nil {
		if msg.Analysis == nil || msg.Analysis.SpamScore < *c.SpamScoreMin {
			return false
		}
	}
	if c.PromotionalScoreMin != nil {
		if msg.Analysis == nil || msg.Analysis.PromotionalScore < *c.PromotionalScoreMin {
			return false
		}
	}
	if c.AccessScoreMax != nil {
		var score float64 = 1.0
		if sum != nil {
			score = sum.AccessScore
		}
		if score > *c.AccessScoreMax {
			return false
		}
	}
	if c.NoAccessDays > 0 && sum != nil && sum.LastAccessed != nil {
		if now.Sub(*sum.LastAccessed) < time.Duration(c.NoAccessDays)*24*time.Hour {
			return false
		}
	}
	return true
}

func levelRank(l model.ImportanceLevel) int {
	switch l {
	case model.ImportanceHigh:
		return 2
	case model.ImportanceMedium:
		return 1
	default:
		return 0
	}
}
