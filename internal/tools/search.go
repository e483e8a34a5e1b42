package tools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/access"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- search_emails ---

type searchEmailsInput struct {
	SessionID      string   `json:"session_id" jsonschema:"Session id of the caller"`
	Query          string   `json:"query,omitempty" jsonschema:"Free-text query over subject, sender, and snippet"`
	Category       string   `json:"category,omitempty" jsonschema:"Filter by category"`
	Year           int      `json:"year,omitempty" jsonschema:"Filter by year"`
	YearFrom       int      `json:"year_from,omitempty" jsonschema:"Lower bound year (inclusive)"`
	YearTo         int      `json:"year_to,omitempty" jsonschema:"Upper bound year (inclusive)"`
	SizeMin        int64    `json:"size_min,omitempty" jsonschema:"Minimum size in bytes"`
	SizeMax        int64    `json:"size_max,omitempty" jsonschema:"Maximum size in bytes"`
	Sender         string   `json:"sender,omitempty" jsonschema:"Filter by sender substring"`
	HasAttachments *bool    `json:"has_attachments,omitempty" jsonschema:"Filter by attachment presence"`
	Archived       *bool    `json:"archived,omitempty" jsonschema:"Filter by archived state"`
	Labels         []string `json:"labels,omitempty" jsonschema:"Filter by labels (all must be present)"`
	Offset         int      `json:"offset,omitempty" jsonschema:"Pagination offset"`
	Limit          int      `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

func (in *searchEmailsInput) criteria() model.SearchCriteria {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return model.SearchCriteria{
		Query:          in.Query,
		Category:       in.Category,
		Year:           in.Year,
		YearFrom:       in.YearFrom,
		YearTo:         in.YearTo,
		SizeMin:        in.SizeMin,
		SizeMax:        in.SizeMax,
		Sender:         in.Sender,
		HasAttachments: in.HasAttachments,
		Archived:       in.Archived,
		Labels:         in.Labels,
		Offset:         in.Offset,
		Limit:          limit,
	}
}

func registerSearchEmails(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "search_emails",
		Description: "Search the local email index with structured criteria. " +
			"Result appearances are recorded as weak access signals.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input searchEmailsInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		msgs, err := st.SearchMessages(ctx, input.criteria())
		if err != nil {
			return nil, nil, d.fail(err)
		}

		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		access.NewTracker(st, d.log()).RecordSearchResults(ctx, input.Query, ids)

		res, err := jsonResult(map[string]any{"count": len(msgs), "emails": msgs})
		return res, nil, err
	})
}

// --- save_search ---

type saveSearchInput struct {
	SessionID string               `json:"session_id" jsonschema:"Session id of the caller"`
	Name      string               `json:"name" jsonschema:"Name for the saved search"`
	Criteria  model.SearchCriteria `json:"criteria" jsonschema:"Search criteria to persist"`
}

func registerSaveSearch(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "save_search",
		Description: "Persist a named search for later reuse.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input saveSearchInput) (*mcp.CallToolResult, any, error) {
		uc, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if input.Name == "" {
			return nil, nil, d.fail(model.Validationf("saved search name is required"))
		}
		search := &model.SavedSearch{
			ID:       uuid.NewString(),
			UserID:   uc.UserID,
			Name:     input.Name,
			Criteria: input.Criteria,
			Created:  time.Now().UTC(),
		}
		if err := st.SaveSearch(ctx, search); err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(search)
		return res, nil, err
	})
}

// --- list_saved_searches ---

type listSavedSearchesInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerListSavedSearches(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_saved_searches",
		Description: "List the caller's saved searches.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listSavedSearchesInput) (*mcp.CallToolResult, any, error) {
		_, st, err := d.resolve(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		searches, err := st.ListSavedSearches(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(searches)
		return res, nil, err
	})
}
