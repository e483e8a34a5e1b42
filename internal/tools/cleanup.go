package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- delete_emails ---

type deleteEmailsInput struct {
	SessionID  string   `json:"session_id" jsonschema:"Session id of the caller"`
	MessageIDs []string `json:"message_ids" jsonschema:"Messages to delete"`
	DryRun     bool     `json:"dry_run,omitempty" jsonschema:"Plan only, change nothing"`
	MaxCount   int      `json:"max_count,omitempty" jsonschema:"Cap on how many messages are deleted"`
}

func registerDeleteEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "delete_emails",
		Description: "Delete the given messages (to trash). Every message still runs the full " +
			"safety checklist; protected messages are skipped with a reason.",
		Annotations: &mcp.ToolAnnotations{DestructiveHint: server.BoolPtr(true)},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input deleteEmailsInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if len(input.MessageIDs) == 0 {
			return nil, nil, d.fail(model.Validationf("message_ids is required"))
		}
		mail, err := d.Opener.Open(ctx, uc.UserID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		msgs, err := st.SearchMessages(ctx, model.SearchCriteria{IDs: input.MessageIDs})
		if err != nil {
			return nil, nil, d.fail(err)
		}

		now := time.Now().UTC()
		checker := d.Policies.Checker()
		var eligible []*model.MessageIndex
		var protected []model.ProtectedEmail
		for _, msg := range msgs {
			sum, _ := st.GetAccessSummary(ctx, msg.ID)
			stale := d.Scorer.Score(msg, sum, now)
			if check := checker.Check(msg, stale, now); !check.Safe {
				protected = append(protected, model.ProtectedEmail{Message: msg, Reason: check.Reason})
				continue
			}
			eligible = append(eligible, msg)
		}
		if input.MaxCount > 0 && len(eligible) > input.MaxCount {
			eligible = eligible[:input.MaxCount]
		}

		out := map[string]any{"protected": protected}
		if len(eligible) > 0 {
			candidates := manualCandidates(uc.UserID, "manual-delete", model.ActionDelete, model.MethodProvider, "", eligible)
			result, err := d.Executor.Execute(ctx, st, mail, candidates, input.DryRun)
			if err != nil {
				return nil, nil, d.fail(err)
			}
			out["result"] = result
		}
		res, err := jsonResult(out)
		return res, nil, err
	})
}

// --- empty_trash ---

type emptyTrashInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerEmptyTrash(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "empty_trash",
		Description: "Permanently delete everything in the provider trash. Irreversible.",
		Annotations: &mcp.ToolAnnotations{DestructiveHint: server.BoolPtr(true)},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input emptyTrashInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		mail, err := d.Opener.Open(ctx, uc.UserID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		n, err := mail.PurgeTrash(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		return textResult(fmt.Sprintf("Permanently deleted %d messages from trash.", n)), nil, nil
	})
}

// --- create_cleanup_policy ---

type createCleanupPolicyInput struct {
	SessionID string               `json:"session_id" jsonschema:"Session id of the caller"`
	Name      string               `json:"name" jsonschema:"Policy name"`
	Enabled   bool                 `json:"enabled,omitempty" jsonschema:"Whether the policy is active"`
	Priority  int                  `json:"priority,omitempty" jsonschema:"Priority 0-100, higher wins"`
	Criteria  model.PolicyCriteria `json:"criteria" jsonschema:"Conjunctive match conditions"`
	Action    model.PolicyAction   `json:"action" jsonschema:"Action and method to run on matches"`
	Safety    model.PolicySafety   `json:"safety,omitempty" jsonschema:"Per-policy safety overrides"`
	Schedule  model.PolicySchedule `json:"schedule,omitempty" jsonschema:"Automation schedule"`
}

func registerCreateCleanupPolicy(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "create_cleanup_policy",
		Description: "Create a cleanup policy. Matched messages still pass the safety checklist before any action.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input createCleanupPolicyInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		p := &model.CleanupPolicy{
			UserID:   uc.UserID,
			Name:     input.Name,
			Enabled:  input.Enabled,
			Priority: input.Priority,
			Criteria: input.Criteria,
			Action:   input.Action,
			Safety:   input.Safety,
			Schedule: input.Schedule,
		}
		created, err := d.Policies.CreatePolicy(ctx, st, p)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(created)
		return res, nil, err
	})
}

// --- update_cleanup_policy ---

type updateCleanupPolicyInput struct {
	SessionID string               `json:"session_id" jsonschema:"Session id of the caller"`
	PolicyID  string               `json:"policy_id" jsonschema:"Policy to update"`
	Name      string               `json:"name" jsonschema:"Policy name"`
	Enabled   bool                 `json:"enabled,omitempty" jsonschema:"Whether the policy is active"`
	Priority  int                  `json:"priority,omitempty" jsonschema:"Priority 0-100, higher wins"`
	Criteria  model.PolicyCriteria `json:"criteria" jsonschema:"Conjunctive match conditions"`
	Action    model.PolicyAction   `json:"action" jsonschema:"Action and method to run on matches"`
	Safety    model.PolicySafety   `json:"safety,omitempty" jsonschema:"Per-policy safety overrides"`
	Schedule  model.PolicySchedule `json:"schedule,omitempty" jsonschema:"Automation schedule"`
}

func registerUpdateCleanupPolicy(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "update_cleanup_policy",
		Description: "Replace an existing cleanup policy's definition.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input updateCleanupPolicyInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		p := &model.CleanupPolicy{
			ID:       input.PolicyID,
			UserID:   uc.UserID,
			Name:     input.Name,
			Enabled:  input.Enabled,
			Priority: input.Priority,
			Criteria: input.Criteria,
			Action:   input.Action,
			Safety:   input.Safety,
			Schedule: input.Schedule,
		}
		updated, err := d.Policies.UpdatePolicy(ctx, st, p)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(updated)
		return res, nil, err
	})
}

// --- list_cleanup_policies ---

type listCleanupPoliciesInput struct {
	SessionID   string `json:"session_id" jsonschema:"Session id of the caller"`
	EnabledOnly bool   `json:"enabled_only,omitempty" jsonschema:"Only list enabled policies"`
}

func registerListCleanupPolicies(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_cleanup_policies",
		Description: "List the caller's cleanup policies, highest priority first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listCleanupPoliciesInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		policies, err := d.Policies.ListPolicies(ctx, st, input.EnabledOnly)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(policies)
		return res, nil, err
	})
}

// --- delete_cleanup_policy ---

type deleteCleanupPolicyInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	PolicyID  string `json:"policy_id" jsonschema:"Policy to delete"`
}

func registerDeleteCleanupPolicy(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "delete_cleanup_policy",
		Description: "Delete a cleanup policy.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input deleteCleanupPolicyInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if err := d.Policies.DeletePolicy(ctx, st, input.PolicyID); err != nil {
			return nil, nil, d.fail(err)
		}
		return textResult(fmt.Sprintf("Policy %s deleted.", input.PolicyID)), nil, nil
	})
}

// --- create_cleanup_schedule ---

type createCleanupScheduleInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	PolicyID  string `json:"policy_id" jsonschema:"Policy to schedule"`
	Frequency string `json:"frequency" jsonschema:"continuous, daily, weekly, or monthly"`
	Time      string `json:"time,omitempty" jsonschema:"Time of day HH:MM for daily, weekly, and monthly"`
	Enabled   bool   `json:"enabled" jsonschema:"Whether the schedule is active"`
}

func registerCreateCleanupSchedule(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "create_cleanup_schedule",
		Description: "Attach or replace the automation schedule of a cleanup policy.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input createCleanupScheduleInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		p, err := st.GetPolicy(ctx, input.PolicyID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		p.Schedule = model.PolicySchedule{
			Frequency: model.ScheduleFrequency(input.Frequency),
			Time:      input.Time,
			Enabled:   input.Enabled,
		}
		updated, err := d.Policies.UpdatePolicy(ctx, st, p)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(updated)
		return res, nil, err
	})
}

// --- trigger_cleanup ---

type triggerCleanupInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	PolicyID  string `json:"policy_id,omitempty" jsonschema:"Run one policy; omit to run all enabled policies"`
	DryRun    bool   `json:"dry_run,omitempty" jsonschema:"Plan only, change nothing"`
	MaxEmails int    `json:"max_emails,omitempty" jsonschema:"Cap on processed messages for this run"`
}

func registerTriggerCleanup(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "trigger_cleanup",
		Description: "Run cleanup now as a background job. Only one cleanup job per user " +
			"may be pending or running.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input triggerCleanupInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		jobID, err := d.Queue.SubmitCleanup(ctx, uc.UserID, cleanup.CleanupRequest{
			PolicyID:  input.PolicyID,
			DryRun:    input.DryRun,
			MaxEmails: input.MaxEmails,
			Priority:  "normal",
			Trigger:   "manual",
		})
		if err != nil {
			return nil, nil, d.fail(err)
		}
		return textResult(fmt.Sprintf("Cleanup started, job_id: %s", jobID)), nil, nil
	})
}

// --- get_cleanup_status ---

type getCleanupStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerGetCleanupStatus(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "get_cleanup_status",
		Description: "Show the caller's recent cleanup jobs and the automation state.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getCleanupStatusInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		recent, err := d.Queue.List(ctx, model.JobFilter{
			UserID: uc.UserID, JobType: model.JobTypeCleanup, Limit: 20,
		})
		if err != nil {
			return nil, nil, d.fail(err)
		}
		active, err := d.Queue.ActiveCleanupJobs(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		cfg := d.Automation.Config()
		res, err := jsonResult(map[string]any{
			"recent_jobs":        recent,
			"active_cleanup_ops": active,
			"continuous_enabled": cfg.ContinuousEnabled,
			"peak_hours":         cfg.PeakHours,
		})
		return res, nil, err
	})
}

// --- get_cleanup_metrics ---

type getCleanupMetricsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	Hours     int    `json:"hours,omitempty" jsonschema:"Aggregation window in hours (default 24)"`
}

func registerGetCleanupMetrics(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "get_cleanup_metrics",
		Description: "Aggregate archive/delete/export activity over a time window, " +
			"plus safety checklist counters and automation run metrics.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getCleanupMetricsInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		hours := input.Hours
		if hours <= 0 {
			hours = 24
		}
		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		records, err := st.ListArchiveRecords(ctx, since)
		if err != nil {
			return nil, nil, d.fail(err)
		}

		var archived, deleted, exported int
		var bytes int64
		for _, r := range records {
			n := len(r.MessageIDs)
			bytes += r.SizeBytes
			switch r.Action {
			case model.ActionArchive:
				archived += n
			case model.ActionDelete:
				deleted += n
			}
			if r.Method == model.MethodExport {
				exported += n
			}
		}
		res, err := jsonResult(map[string]any{
			"window_hours":      hours,
			"runs":              len(records),
			"messages_archived": archived,
			"messages_deleted":  deleted,
			"messages_exported": exported,
			"bytes_processed":   bytes,
			"safety":            d.Policies.Checker().Metrics().Snapshot(),
			"automation":        d.Automation.Metrics(),
		})
		return res, nil, err
	})
}

// --- get_cleanup_recommendations ---

type getCleanupRecommendationsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum recommendations (default 20)"`
}

type recommendation struct {
	MessageID      string  `json:"message_id"`
	Subject        string  `json:"subject"`
	Sender         string  `json:"sender"`
	TotalScore     float64 `json:"total_score"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}

func registerGetCleanupRecommendations(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "get_cleanup_recommendations",
		Description: "Rank unarchived messages by staleness and suggest archive or delete " +
			"actions. Nothing is changed.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getCleanupRecommendationsInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}

		archived := false
		msgs, err := st.SearchMessages(ctx, model.SearchCriteria{Archived: &archived, Limit: 500})
		if err != nil {
			return nil, nil, d.fail(err)
		}

		now := time.Now().UTC()
		var recs []recommendation
		for _, msg := range msgs {
			sum, _ := st.GetAccessSummary(ctx, msg.ID)
			stale := d.Scorer.Score(msg, sum, now)
			if stale.Recommendation == model.RecommendKeep {
				continue
			}
			recs = append(recs, recommendation{
				MessageID:      msg.ID,
				Subject:        msg.Subject,
				Sender:         msg.Sender,
				TotalScore:     stale.TotalScore,
				Recommendation: stale.Recommendation,
				Confidence:     stale.Confidence,
			})
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].TotalScore > recs[j].TotalScore })
		if len(recs) > limit {
			recs = recs[:limit]
		}
		res, err := jsonResult(map[string]any{"count": len(recs), "recommendations": recs})
		return res, nil, err
	})
}

// --- get_system_health ---

type getSystemHealthInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerGetSystemHealth(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "get_system_health",
		Description: "Report index coverage, job activity, and automation state for the caller.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getSystemHealthInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		total, unanalyzed, err := st.CountMessages(ctx, analyzer.Version)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		active, err := d.Queue.ActiveCleanupJobs(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		out := map[string]any{
			"messages_indexed":    total,
			"messages_unanalyzed": unanalyzed,
			"active_cleanup_ops":  active,
			"automation":          d.Automation.Config(),
		}
		if uc.IsAdmin() {
			if users, err := d.Users.ListUsers(ctx); err == nil {
				out["user_count"] = len(users)
			}
		}
		res, err := jsonResult(out)
		return res, nil, err
	})
}

// --- update_cleanup_automation_config ---

type updateAutomationConfigInput struct {
	SessionID string                   `json:"session_id" jsonschema:"Admin session id"`
	Config    cleanup.AutomationConfig `json:"config" jsonschema:"Full automation configuration to apply"`
}

func registerUpdateAutomationConfig(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "update_cleanup_automation_config",
		Description: "Replace the system-wide cleanup automation configuration. Admin only.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input updateAutomationConfigInput) (*mcp.CallToolResult, any, error) {
		uc, err := d.Users.ValidateSession(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if !d.Users.ValidateAccess(ctx, uc, "system_config", "automation", "write", "") {
			return nil, nil, d.fail(model.Unauthorizedf("automation config requires an admin session"))
		}
		if err := d.Automation.UpdateConfig(ctx, input.Config); err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(d.Automation.Config())
		return res, nil, err
	})
}
