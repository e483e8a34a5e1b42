// Package tools provides the MCP tool surface of the mail lifecycle service.
// Every tool takes a session_id; handlers resolve it to a UserContext through
// the user plane before touching any other component, so per-user isolation
// holds at the outermost boundary.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/auth"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

// Deps carries the wired components the tool handlers call into.
type Deps struct {
	Log        *zap.Logger
	Users      *userplane.Manager
	Auth       *auth.Manager
	Opener     provider.Opener
	Scorer     *staleness.Scorer
	Policies   *cleanup.PolicyEngine
	Executor   *cleanup.Executor
	Automation *cleanup.Automation
	Queue      *jobs.Queue
	Exporter   *export.Exporter
}

// RegisterTools registers the full tool surface on the given server.
func RegisterTools(srv *server.Server, d *Deps) {
	// users.go
	registerAuthenticate(srv, d)
	registerRegisterUser(srv, d)
	registerListUsers(srv, d)
	registerGetUserProfile(srv, d)
	registerSwitchUser(srv, d)
	// emails.go
	registerListEmails(srv, d)
	registerGetEmailDetails(srv, d)
	registerSyncEmails(srv, d)
	// categorize.go
	registerCategorizeEmails(srv, d)
	// search.go
	registerSearchEmails(srv, d)
	registerSaveSearch(srv, d)
	registerListSavedSearches(srv, d)
	// archive.go
	registerArchiveEmails(srv, d)
	registerRestoreEmails(srv, d)
	registerCreateArchiveRule(srv, d)
	registerListArchiveRules(srv, d)
	registerExportEmails(srv, d)
	// cleanup.go
	registerDeleteEmails(srv, d)
	registerEmptyTrash(srv, d)
	registerCreateCleanupPolicy(srv, d)
	registerUpdateCleanupPolicy(srv, d)
	registerListCleanupPolicies(srv, d)
	registerDeleteCleanupPolicy(srv, d)
	registerCreateCleanupSchedule(srv, d)
	registerTriggerCleanup(srv, d)
	registerGetCleanupStatus(srv, d)
	registerGetCleanupMetrics(srv, d)
	registerGetCleanupRecommendations(srv, d)
	registerGetSystemHealth(srv, d)
	registerUpdateAutomationConfig(srv, d)
	// jobs.go
	registerListJobs(srv, d)
	registerGetJobStatus(srv, d)
	registerCancelJob(srv, d)
}

// resolve validates the session and opens the caller's store.
func (d *Deps) resolve(ctx context.Context, sessionID string) (*model.UserContext, *store.UserStore, error) {
	uc, err := d.Users.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	st, err := d.Users.StoreFor(uc)
	if err != nil {
		return nil, nil, err
	}
	return uc, st, nil
}

// fail maps internal errors to client-facing ones. The error kind keeps a
// stable reason; everything else is replaced by an opaque request id that can
// be correlated with the server log.
func (d *Deps) fail(err error) error {
	reqID := uuid.NewString()
	d.log().Warn("tool call failed", zap.String("request_id", reqID), zap.Error(err))
	switch {
	case errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("not found (request %s)", reqID)
	case errors.Is(err, model.ErrValidation):
		// Validation messages are safe to show as-is.
		return fmt.Errorf("%s (request %s)", err.Error(), reqID)
	case errors.Is(err, model.ErrUnauthorized):
		return fmt.Errorf("unauthorized (request %s)", reqID)
	case errors.Is(err, model.ErrConflict):
		return fmt.Errorf("conflict: %s (request %s)", err.Error(), reqID)
	case errors.Is(err, model.ErrTransient):
		return fmt.Errorf("temporarily unavailable, retry later (request %s)", reqID)
	default:
		return fmt.Errorf("internal error (request %s)", reqID)
	}
}

func (d *Deps) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// jsonResult renders a value as indented JSON text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(out)), nil
}
