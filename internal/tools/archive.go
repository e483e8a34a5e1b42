package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- archive_emails ---

type archiveEmailsInput struct {
	SessionID    string   `json:"session_id" jsonschema:"Session id of the caller"`
	MessageIDs   []string `json:"message_ids" jsonschema:"Messages to archive"`
	ExportFirst  bool     `json:"export_first,omitempty" jsonschema:"Export the messages to a local file before archiving"`
	ExportFormat string   `json:"export_format,omitempty" jsonschema:"Export format when export_first is set (json or mbox, default json)"`
	DryRun       bool     `json:"dry_run,omitempty" jsonschema:"Plan only, change nothing"`
}

func registerArchiveEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "archive_emails",
		Description: "Archive the given messages: local export when requested, then the " +
			"archived label at the provider. Archived messages remain restorable.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input archiveEmailsInput) (*mcp.CallToolResult, any, error) {
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
		if len(msgs) == 0 {
			return nil, nil, d.fail(model.NotFoundf("no indexed messages match the given ids"))
		}

		method := model.MethodProvider
		if input.ExportFirst {
			method = model.MethodExport
		}
		candidates := manualCandidates(uc.UserID, "manual-archive", model.ActionArchive, method, input.ExportFormat, msgs)
		result, err := d.Executor.Execute(ctx, st, mail, candidates, input.DryRun)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(result)
		return res, nil, err
	})
}

// manualCandidates wraps messages in a one-off policy so the executor can run
// an explicitly requested action outside any stored policy.
func manualCandidates(userID, name string, action model.CleanupAction, method model.CleanupMethod, format string, msgs []*model.MessageIndex) []model.CleanupCandidate {
	policy := &model.CleanupPolicy{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Action: model.PolicyAction{Type: action, Method: method, ExportFormat: format},
		Safety: model.PolicySafety{MaxEmailsPerRun: len(msgs)},
	}
	candidates := make([]model.CleanupCandidate, len(msgs))
	for i, m := range msgs {
		candidates[i] = model.CleanupCandidate{
			Message:           m,
			Policy:            policy,
			RecommendedAction: action,
		}
	}
	return candidates
}

// --- restore_emails ---

type restoreEmailsInput struct {
	SessionID  string   `json:"session_id" jsonschema:"Session id of the caller"`
	MessageIDs []string `json:"message_ids" jsonschema:"Archived messages to restore"`
	AddLabels  []string `json:"add_labels,omitempty" jsonschema:"Labels to add back (default INBOX)"`
}

func registerRestoreEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "restore_emails",
		Description: "Restore archived messages, re-applying their pre-archive labels.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input restoreEmailsInput) (*mcp.CallToolResult, any, error) {
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
		result, err := d.Executor.Restore(ctx, st, mail, input.MessageIDs, input.AddLabels)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(result)
		return res, nil, err
	})
}

// --- create_archive_rule ---

type createArchiveRuleInput struct {
	SessionID string               `json:"session_id" jsonschema:"Session id of the caller"`
	Name      string               `json:"name" jsonschema:"Name for the rule"`
	Criteria  model.SearchCriteria `json:"criteria" jsonschema:"Messages the rule selects"`
	Action    model.PolicyAction   `json:"action" jsonschema:"Action to run (type archive or delete, method provider or export)"`
	Schedule  model.PolicySchedule `json:"schedule,omitempty" jsonschema:"Optional schedule"`
	Enabled   bool                 `json:"enabled,omitempty" jsonschema:"Whether the rule is active"`
}

func registerCreateArchiveRule(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "create_archive_rule",
		Description: "Create a stored archive rule: a selector plus action with an optional schedule.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input createArchiveRuleInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if input.Name == "" {
			return nil, nil, d.fail(model.Validationf("archive rule name is required"))
		}
		action := input.Action
		if action.Type == "" {
			action.Type = model.ActionArchive
		}
		if action.Method == "" {
			action.Method = model.MethodProvider
		}
		rule := &model.ArchiveRule{
			ID:        uuid.NewString(),
			UserID:    uc.UserID,
			Name:      input.Name,
			Criteria:  input.Criteria,
			Action:    action,
			Schedule:  input.Schedule,
			Enabled:   input.Enabled,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.InsertArchiveRule(ctx, rule); err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(rule)
		return res, nil, err
	})
}

// --- list_archive_rules ---

type listArchiveRulesInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerListArchiveRules(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_archive_rules",
		Description: "List the caller's archive rules.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listArchiveRulesInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		rules, err := st.ListArchiveRules(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(rules)
		return res, nil, err
	})
}

// --- export_emails ---

type exportEmailsInput struct {
	SessionID string   `json:"session_id" jsonschema:"Session id of the caller"`
	Format    string   `json:"format" jsonschema:"Export format: json, mbox, or csv"`
	Query     string   `json:"query,omitempty" jsonschema:"Free-text query selecting messages"`
	Category  string   `json:"category,omitempty" jsonschema:"Filter by category"`
	Year      int      `json:"year,omitempty" jsonschema:"Filter by year"`
	Sender    string   `json:"sender,omitempty" jsonschema:"Filter by sender substring"`
	IDs       []string `json:"message_ids,omitempty" jsonschema:"Explicit message ids to export"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum messages to export (default 500)"`
}

func registerExportEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "export_emails",
		Description: "Export selected messages to a local file in json, mbox, or csv format. " +
			"The file lands in the caller's export directory.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input exportEmailsInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		switch input.Format {
		case export.FormatJSON, export.FormatMbox, export.FormatCSV:
		default:
			return nil, nil, d.fail(model.Validationf("unsupported export format %q", input.Format))
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 500
		}
		msgs, err := st.SearchMessages(ctx, model.SearchCriteria{
			Query:    input.Query,
			Category: input.Category,
			Year:     input.Year,
			Sender:   input.Sender,
			IDs:      input.IDs,
			Limit:    limit,
		})
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if len(msgs) == 0 {
			return nil, nil, d.fail(model.NotFoundf("no messages match the export selection"))
		}
		location, size, err := d.Exporter.Export(ctx, uc.UserID, msgs, input.Format)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		return textResult(fmt.Sprintf("Exported %d messages to %s (%d bytes).",
			len(msgs), location, size)), nil, nil
	})
}
