package app

import (
	"context"
	"encoding/json"

	"github.com/mailsteward/mailsteward/internal/categorize"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/model"
)

// Handlers maps job types to their worker handlers.
func (a *App) Handlers() map[string]jobs.Handler {
	return map[string]jobs.Handler{
		model.JobTypeCategorize: a.runCategorize,
		model.JobTypeCleanup:    a.runCleanup,
	}
}

func (a *App) runCategorize(ctx context.Context, job *model.Job, report jobs.ProgressFunc) (any, error) {
	var req categorize.Request
	if len(job.RequestParams) > 0 {
		if err := json.Unmarshal(job.RequestParams, &req); err != nil {
			return nil, model.Validationf("decoding categorize request: %v", err)
		}
	}
	st, err := a.Factory.ForUser(job.UserID)
	if err != nil {
		return nil, err
	}
	return a.Categorizer.Run(ctx, st, req, func(p categorize.Progress) {
		report(p.Analyzed, p.Percent())
	})
}

// cleanupResults is the persisted outcome of one cleanup job.
type cleanupResults struct {
	Evaluation model.EvaluationSummary  `json:"evaluation_summary"`
	Protected  []model.ProtectedEmail   `json:"protected_emails,omitempty"`
	Execution  *cleanup.ExecutionResult `json:"execution"`
}

func (a *App) runCleanup(ctx context.Context, job *model.Job, report jobs.ProgressFunc) (any, error) {
	var req cleanup.CleanupRequest
	if len(job.RequestParams) > 0 {
		if err := json.Unmarshal(job.RequestParams, &req); err != nil {
			return nil, model.Validationf("decoding cleanup request: %v", err)
		}
	}
	st, err := a.Factory.ForUser(job.UserID)
	if err != nil {
		return nil, err
	}
	mail, err := a.Opener.Open(ctx, job.UserID)
	if err != nil {
		return nil, err
	}

	var policies []*model.CleanupPolicy
	if req.PolicyID != "" {
		p, err := st.GetPolicy(ctx, req.PolicyID)
		if err != nil {
			return nil, err
		}
		policies = []*model.CleanupPolicy{p}
	} else {
		policies, err = a.Policies.ListPolicies(ctx, st, true)
		if err != nil {
			return nil, err
		}
	}
	if len(policies) == 0 {
		return &cleanupResults{Execution: &cleanup.ExecutionResult{DryRun: req.DryRun}}, nil
	}

	// Gather each policy's pre-filtered candidate pool, deduplicated.
	seen := map[string]bool{}
	var msgs []*model.MessageIndex
	for _, p := range policies {
		limit := p.Safety.MaxEmailsPerRun
		if req.MaxEmails > 0 && req.MaxEmails < limit {
			limit = req.MaxEmails
		}
		batch, err := st.GetMessagesForCleanup(ctx, p, limit)
		if err != nil {
			return nil, err
		}
		for _, m := range batch {
			if !seen[m.ID] {
				seen[m.ID] = true
				msgs = append(msgs, m)
			}
		}
	}
	report(0, 10)

	eval, err := a.Policies.EvaluateEmailsForCleanup(ctx, st, msgs)
	if err != nil {
		return nil, err
	}
	report(eval.Summary.Total, 50)

	candidates := eval.Candidates
	if req.MaxEmails > 0 && len(candidates) > req.MaxEmails {
		candidates = candidates[:req.MaxEmails]
	}
	dryRun := req.DryRun
	for _, p := range policies {
		if p.Safety.DryRunFirst {
			dryRun = true
			break
		}
	}

	exec, err := a.Executor.Execute(ctx, st, mail, candidates, dryRun)
	if err != nil {
		return nil, err
	}
	report(eval.Summary.Total, 100)

	return &cleanupResults{
		Evaluation: eval.Summary,
		Protected:  eval.Protected,
		Execution:  exec,
	}, nil
}
