package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/categorize"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- categorize_emails ---

type categorizeEmailsInput struct {
	SessionID    string   `json:"session_id" jsonschema:"Session id of the caller"`
	Year         int      `json:"year,omitempty" jsonschema:"Restrict analysis to one year"`
	MessageIDs   []string `json:"message_ids,omitempty" jsonschema:"Restrict analysis to specific messages"`
	ForceRefresh bool     `json:"force_refresh,omitempty" jsonschema:"Re-analyze messages that already carry a current analysis"`
}

func registerCategorizeEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "categorize_emails",
		Description: "Run the analyzer pipeline over the selected messages as a background job. " +
			"Returns a job_id; poll get_job_status for progress.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input categorizeEmailsInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		jobID, err := d.Queue.Enqueue(ctx, uc.UserID, model.JobTypeCategorize, categorize.Request{
			Year:         input.Year,
			IDs:          input.MessageIDs,
			ForceRefresh: input.ForceRefresh,
		})
		if err != nil {
			return nil, nil, d.fail(err)
		}
		return textResult(fmt.Sprintf("Categorization started, job_id: %s", jobID)), nil, nil
	})
}
