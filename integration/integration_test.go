// Package integration exercises the whole service in process: the MCP tool
// surface wired to real stores, the job workers, and the fake mail provider.
package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/app"
	"github.com/mailsteward/mailsteward/internal/auth"
	"github.com/mailsteward/mailsteward/internal/categorize"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/config"
	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/tools"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

// harness is one running service instance with a connected MCP client and the
// job workers draining the queue in the background.
type harness struct {
	app     *app.App
	fake    *provider.Fake
	srv     *server.Server
	cs      *mcp.ClientSession
	admin   *model.User
	session string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	system, err := store.OpenSystem(filepath.Join(dir, "system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = system.Close() })
	factory, err := store.NewFactory(filepath.Join(dir, "users"), time.Minute, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })
	files, err := userplane.NewFileManager(filepath.Join(dir, "archive"), system, log)
	require.NoError(t, err)
	authMgr, err := auth.NewManager(filepath.Join(dir, "tokens"),
		config.GoogleConfig{ClientID: "id", ClientSecret: "secret"}, "")
	require.NoError(t, err)

	fake := provider.NewFake()
	analyzers := analyzer.NewSet(nil, nil, nil)
	scorer := staleness.NewScorer(staleness.DefaultWeights(), staleness.DefaultThresholds())
	policies := cleanup.NewPolicyEngine(scorer, nil, log)
	exporter := export.NewExporter(files, factory, log)
	queue := jobs.NewQueue(system, log)

	a := &app.App{
		Log:         log,
		System:      system,
		Factory:     factory,
		Users:       userplane.NewManager(system, factory, log),
		Files:       files,
		Auth:        authMgr,
		Opener:      &provider.FakeOpener{Mail: fake},
		Analyzers:   analyzers,
		Categorizer: categorize.NewEngine(analyzers, log),
		Scorer:      scorer,
		Policies:    policies,
		Executor:    cleanup.NewExecutor(exporter, policies.Checker(), log),
		Exporter:    exporter,
		Queue:       queue,
	}
	a.Automation = cleanup.NewAutomation(cleanup.DefaultAutomationConfig(), system, factory, queue, log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	t.Cleanup(stopWorkers)
	go func() { _ = jobs.RunWorkers(workerCtx, a.Queue, a.Handlers(), log) }()

	srv := server.NewServer(&mcp.Implementation{Name: "mailsteward", Version: "test"}, nil)
	tools.RegisterTools(srv, a.ToolDeps())

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })
	client := mcp.NewClient(&mcp.Implementation{Name: "integration-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	admin, err := a.Users.RegisterUser(ctx, nil, "owner@example.com", "Owner")
	require.NoError(t, err)
	sess, err := a.Users.CreateSession(ctx, admin.ID, "", "integration")
	require.NoError(t, err)

	return &harness{app: a, fake: fake, srv: srv, cs: cs, admin: admin, session: sess.SessionID}
}

func (h *harness) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := h.cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error(), true
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text += tc.Text
		}
	}
	return text, result.IsError
}

// jobIDFrom extracts the id from "... job_id: <id>" tool responses.
func jobIDFrom(t *testing.T, out string) string {
	t.Helper()
	i := strings.LastIndex(out, "job_id: ")
	require.GreaterOrEqual(t, i, 0, "no job_id in %q", out)
	return strings.TrimSpace(out[i+len("job_id: "):])
}

func (h *harness) waitForJob(t *testing.T, jobID string) *model.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		out, isErr := h.call(t, "get_job_status", map[string]any{
			"session_id": h.session, "job_id": jobID,
		})
		require.False(t, isErr, out)
		var job model.Job
		require.NoError(t, json.Unmarshal([]byte(out), &job))
		if job.Status.Terminal() {
			return &job
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return nil
}

// seedMailbox populates the fake provider with one message worth keeping and
// two long-forgotten bulk messages.
func (h *harness) seedMailbox() {
	now := time.Now().UTC()
	h.fake.SetMeta(&provider.MessageMeta{
		ID: "keep-1", ThreadID: "t-keep-1",
		Subject: "Planning for next quarter",
		Sender:  "alice@company.io",
		Date:    now.AddDate(0, 0, -20),
		Labels:  []string{"INBOX", "IMPORTANT"}, SizeBytes: 8 << 10,
	})
	h.fake.SetMeta(&provider.MessageMeta{
		ID: "promo-1", ThreadID: "t-promo-1",
		Subject: "50% off everything this week",
		Sender:  "promo-bot@example.com",
		Date:    now.AddDate(0, 0, -400),
		Labels:  []string{"CATEGORY_PROMOTIONS"}, SizeBytes: 4 << 10,
	})
	h.fake.SetMeta(&provider.MessageMeta{
		ID: "digest-1", ThreadID: "t-digest-1",
		Subject: "Weekly digest no. 142",
		Sender:  "updates@gmail.com",
		Date:    now.AddDate(0, 0, -500),
		Labels:  []string{"CATEGORY_UPDATES"}, SizeBytes: 3 << 10,
	})
}

func TestMailboxLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedMailbox()
	ctx := context.Background()

	// Sync pulls metadata for every message the provider lists.
	out, isErr := h.call(t, "sync_emails", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Synced 3 messages")

	st, err := h.app.Factory.ForUser(h.admin.ID)
	require.NoError(t, err)
	msg, err := st.GetMessage(ctx, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, "promo-bot@example.com", msg.Sender)
	assert.False(t, msg.Date.IsZero())

	// Categorization runs as a background job.
	out, isErr = h.call(t, "categorize_emails", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)
	job := h.waitForJob(t, jobIDFrom(t, out))
	assert.Equal(t, model.JobCompleted, job.Status, "results: %s", job.Results)

	msg, err = st.GetMessage(ctx, "promo-1")
	require.NoError(t, err)
	require.NotNil(t, msg.Analysis)
	assert.Equal(t, analyzer.Version, msg.Analysis.AnalysisVersion)
	assert.Equal(t, model.ImportanceLow, msg.Analysis.ImportanceLevel)

	// A policy targeting year-old mail archives the two bulk messages but
	// leaves the recent important one alone.
	out, isErr = h.call(t, "create_cleanup_policy", map[string]any{
		"session_id": h.session,
		"name":       "archive forgotten bulk mail",
		"enabled":    true,
		"priority":   10,
		"criteria":   map[string]any{"age_days_min": 365},
		"action":     map[string]any{"type": "archive", "method": "provider"},
	})
	require.False(t, isErr, out)

	out, isErr = h.call(t, "trigger_cleanup", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)
	job = h.waitForJob(t, jobIDFrom(t, out))
	assert.Equal(t, model.JobCompleted, job.Status, "results: %s", job.Results)

	for _, id := range []string{"promo-1", "digest-1"} {
		msg, err = st.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.True(t, msg.Archived, "%s should be archived", id)
		assert.True(t, h.fake.Labels(id)[provider.LabelArchived], "%s missing provider label", id)
	}
	msg, err = st.GetMessage(ctx, "keep-1")
	require.NoError(t, err)
	assert.False(t, msg.Archived)
	assert.False(t, h.fake.Labels("keep-1")[provider.LabelArchived])

	// Archived mail can come back.
	out, isErr = h.call(t, "restore_emails", map[string]any{
		"session_id": h.session, "message_ids": []string{"digest-1"},
	})
	require.False(t, isErr, out)
	msg, err = st.GetMessage(ctx, "digest-1")
	require.NoError(t, err)
	assert.False(t, msg.Archived)

	// Exports land as files tracked with an expiry.
	out, isErr = h.call(t, "export_emails", map[string]any{
		"session_id": h.session, "format": "json",
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Exported 3 messages")

	// The safety checklist and automation state are visible to operators.
	out, isErr = h.call(t, "get_cleanup_metrics", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "total_checks")

	out, isErr = h.call(t, "get_system_health", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "messages_indexed")
}

func TestSafetyChecklistBlocksManualDeletion(t *testing.T) {
	h := newHarness(t)
	h.seedMailbox()

	out, isErr := h.call(t, "sync_emails", map[string]any{"session_id": h.session})
	require.False(t, isErr, out)

	// The IMPORTANT label trips the checklist even on an explicit request.
	out, isErr = h.call(t, "delete_emails", map[string]any{
		"session_id": h.session, "message_ids": []string{"keep-1"},
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "critical label")
	assert.Empty(t, h.fake.Deleted)
}

func TestReadOnlyFilterOverFullSurface(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.srv.ApplyFilter(server.ToolFilter{ReadOnly: true}))

	listed, err := h.cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range listed.Tools {
		names[tool.Name] = true
	}
	assert.True(t, names["list_emails"])
	assert.True(t, names["get_cleanup_status"])
	assert.False(t, names["delete_emails"])
	assert.False(t, names["trigger_cleanup"])
	assert.False(t, names["empty_trash"])
}
