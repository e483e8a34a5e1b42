package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/access"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
)

const defaultListLimit = 50

// --- list_emails ---

type listEmailsInput struct {
	SessionID string   `json:"session_id" jsonschema:"Session id of the caller"`
	Category  string   `json:"category,omitempty" jsonschema:"Filter by category (primary, social, promotions, updates, forums, important, spam)"`
	Year      int      `json:"year,omitempty" jsonschema:"Filter by year"`
	Sender    string   `json:"sender,omitempty" jsonschema:"Filter by sender substring"`
	Labels    []string `json:"labels,omitempty" jsonschema:"Filter by labels (all must be present)"`
	Archived  *bool    `json:"archived,omitempty" jsonschema:"Filter by archived state"`
	Offset    int      `json:"offset,omitempty" jsonschema:"Pagination offset"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

func registerListEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_emails",
		Description: "List emails from the local index with optional filters.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listEmailsInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		msgs, err := st.SearchMessages(ctx, model.SearchCriteria{
			Category: input.Category,
			Year:     input.Year,
			Sender:   input.Sender,
			Labels:   input.Labels,
			Archived: input.Archived,
			Offset:   input.Offset,
			Limit:    limit,
		})
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(map[string]any{"count": len(msgs), "emails": msgs})
		return res, nil, err
	})
}

// --- get_email_details ---

type getEmailDetailsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	MessageID string `json:"message_id" jsonschema:"Message id to look up"`
}

func registerGetEmailDetails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "get_email_details",
		Description: "Get one email's full indexed metadata, analysis, and access summary. " +
			"Counts as a direct view for access tracking.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getEmailDetailsInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		msg, err := st.GetMessage(ctx, input.MessageID)
		if err != nil {
			return nil, nil, d.fail(err)
		}

		access.NewTracker(st, d.log()).RecordView(ctx, msg.ID, model.AccessDirectView)

		out := map[string]any{"email": msg}
		if sum, err := st.GetAccessSummary(ctx, msg.ID); err == nil {
			out["access_summary"] = sum
		}
		res, err := jsonResult(out)
		return res, nil, err
	})
}

// --- sync_emails ---

type syncEmailsInput struct {
	SessionID  string `json:"session_id" jsonschema:"Session id of the caller"`
	Query      string `json:"query,omitempty" jsonschema:"Provider search query limiting what to sync (empty syncs recent mail)"`
	MaxResults int64  `json:"max_results,omitempty" jsonschema:"Maximum messages to sync (default 100, max 1000)"`
}

func registerSyncEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "sync_emails",
		Description: "Fetch message metadata from the mail provider into the local index. " +
			"Run this before categorize_emails on a fresh mailbox.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input syncEmailsInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		mail, err := d.Opener.Open(ctx, uc.UserID)
		if err != nil {
			return nil, nil, d.fail(err)
		}

		max := input.MaxResults
		if max <= 0 {
			max = 100
		}
		if max > 1000 {
			max = 1000
		}
		ids, err := mail.ListIDs(ctx, input.Query, max)
		if err != nil {
			return nil, nil, d.fail(err)
		}

		synced, failed := 0, 0
		for _, id := range ids {
			meta, err := mail.GetMetadata(ctx, id)
			if err != nil {
				failed++
				d.log().Warn("sync: fetching metadata failed",
					zap.String("message_id", id), zap.Error(err))
				continue
			}
			if err := st.UpsertMessage(ctx, provider.ToMessageIndex(uc.UserID, meta)); err != nil {
				failed++
				d.log().Warn("sync: indexing failed",
					zap.String("message_id", id), zap.Error(err))
			} else {
				synced++
			}
		}
		return textResult(fmt.Sprintf("Synced %d messages (%d failed) of %d listed.",
			synced, failed, len(ids))), nil, nil
	})
}
