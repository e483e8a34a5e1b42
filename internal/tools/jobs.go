package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- list_jobs ---

type listJobsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	JobType   string `json:"job_type,omitempty" jsonschema:"Filter by job type (categorize, cleanup)"`
	Status    string `json:"status,omitempty" jsonschema:"Filter by status (pending, in_progress, completed, failed, cancelled)"`
	AllUsers  bool   `json:"all_users,omitempty" jsonschema:"List every user's jobs. Admin only"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

func registerListJobs(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_jobs",
		Description: "List the caller's background jobs, newest first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listJobsInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		filter := model.JobFilter{
			UserID:  uc.UserID,
			JobType: input.JobType,
			Status:  model.JobStatus(input.Status),
			Limit:   input.Limit,
		}
		if input.AllUsers {
			if !uc.IsAdmin() {
				return nil, nil, d.fail(model.Unauthorizedf("listing all users' jobs requires an admin session"))
			}
			filter.UserID = ""
		}
		listed, err := d.Queue.List(ctx, filter)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(listed)
		return res, nil, err
	})
}

// --- get_job_status ---

type getJobStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	JobID     string `json:"job_id" jsonschema:"Job to look up"`
}

func registerGetJobStatus(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Get one job's status, progress, and results.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getJobStatusInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		job, err := d.Queue.Get(ctx, input.JobID, uc.UserID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(job)
		return res, nil, err
	})
}

// --- cancel_job ---

type cancelJobInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	JobID     string `json:"job_id" jsonschema:"Job to cancel"`
}

func registerCancelJob(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a pending or running job. Terminal jobs are left unchanged.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input cancelJobInput) (*mcp.CallToolResult, any, error) {
		uc, _, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		job, err := d.Queue.Cancel(ctx, input.JobID, uc.UserID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(job)
		return res, nil, err
	})
}
