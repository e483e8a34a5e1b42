package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/auth"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/config"
	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

type fixture struct {
	srv     *server.Server
	deps    *Deps
	factory *store.Factory
	fake    *provider.Fake
	admin   *model.User
	session string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	system, err := store.OpenSystem(filepath.Join(dir, "system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = system.Close() })
	factory, err := store.NewFactory(filepath.Join(dir, "users"), time.Minute, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	users := userplane.NewManager(system, factory, log)
	files, err := userplane.NewFileManager(filepath.Join(dir, "archive"), system, log)
	require.NoError(t, err)

	authMgr, err := auth.NewManager(filepath.Join(dir, "tokens"),
		config.GoogleConfig{ClientID: "id", ClientSecret: "secret"}, "")
	require.NoError(t, err)

	fake := provider.NewFake()
	scorer := staleness.NewScorer(staleness.DefaultWeights(), staleness.DefaultThresholds())
	policies := cleanup.NewPolicyEngine(scorer, nil, log)
	exporter := export.NewExporter(files, factory, log)
	executor := cleanup.NewExecutor(exporter, policies.Checker(), log)
	queue := jobs.NewQueue(system, log)
	automation := cleanup.NewAutomation(cleanup.DefaultAutomationConfig(), system, factory, queue, log)

	deps := &Deps{
		Log:        log,
		Users:      users,
		Auth:       authMgr,
		Opener:     &provider.FakeOpener{Mail: fake},
		Scorer:     scorer,
		Policies:   policies,
		Executor:   executor,
		Automation: automation,
		Queue:      queue,
		Exporter:   exporter,
	}

	srv := server.NewServer(&mcp.Implementation{Name: "tools-test", Version: "test"}, nil)
	RegisterTools(srv, deps)

	ctx := context.Background()
	admin, err := users.RegisterUser(ctx, nil, "root@example.com", "Root")
	require.NoError(t, err)
	sess, err := users.CreateSession(ctx, admin.ID, "", "test")
	require.NoError(t, err)

	return &fixture{srv: srv, deps: deps, factory: factory, fake: fake, admin: admin, session: sess.SessionID}
}

// callTool invokes a tool through an in-memory transport and returns the text
// content plus the error flag.
func (f *fixture) callTool(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := f.srv.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	result, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		// Protocol-level rejection counts as a tool error for assertions.
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

func (f *fixture) seedMessage(t *testing.T, id, subject, sender string, ageDays int) {
	t.Helper()
	st, err := f.factory.ForUser(f.admin.ID)
	require.NoError(t, err)
	date := time.Now().UTC().AddDate(0, 0, -ageDays)
	require.NoError(t, st.UpsertMessage(context.Background(), &model.MessageIndex{
		UserID:    f.admin.ID,
		ID:        id,
		ThreadID:  "t-" + id,
		Subject:   subject,
		Sender:    sender,
		Date:      date,
		Year:      date.Year(),
		SizeBytes: 2048,
		Labels:    model.Strings{"INBOX"},
	}))
	f.fake.SetLabels(id, "INBOX")
}

func TestToolSurfaceComplete(t *testing.T) {
	f := newFixture(t)
	want := []string{
		"authenticate", "register_user", "list_users", "get_user_profile", "switch_user",
		"list_emails", "get_email_details", "sync_emails",
		"categorize_emails",
		"search_emails", "save_search", "list_saved_searches",
		"archive_emails", "restore_emails", "create_archive_rule", "list_archive_rules", "export_emails",
		"delete_emails", "empty_trash",
		"create_cleanup_policy", "update_cleanup_policy", "list_cleanup_policies", "delete_cleanup_policy",
		"create_cleanup_schedule", "trigger_cleanup",
		"get_cleanup_status", "get_cleanup_metrics", "get_cleanup_recommendations",
		"get_system_health", "update_cleanup_automation_config",
		"list_jobs", "get_job_status", "cancel_job",
	}
	registered := map[string]bool{}
	for _, ti := range f.srv.Tools() {
		registered[ti.Name] = true
	}
	for _, name := range want {
		assert.True(t, registered[name], "tool %s not registered", name)
	}
	assert.Len(t, f.srv.Tools(), len(want))
}

func TestRegisterUserTool_RequiresAdminAfterBootstrap(t *testing.T) {
	f := newFixture(t)

	// Anonymous registration after the first user fails.
	_, isErr := f.callTool(t, "register_user", map[string]any{"email": "b@example.com"})
	assert.True(t, isErr)

	out, isErr := f.callTool(t, "register_user", map[string]any{
		"session_id": f.session, "email": "b@example.com", "display_name": "Bee",
	})
	require.False(t, isErr, out)
	var u model.User
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.Equal(t, model.RoleUser, u.Role)
	assert.Equal(t, "b@example.com", u.Email)
}

func TestInvalidSessionRejected(t *testing.T) {
	f := newFixture(t)
	out, isErr := f.callTool(t, "list_emails", map[string]any{"session_id": "bogus"})
	assert.True(t, isErr)
	assert.Contains(t, out, "unauthorized")
}

func TestListAndGetEmailDetails_RecordsAccess(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, "m1", "hello", "alice@example.com", 10)
	f.seedMessage(t, "m2", "news", "news@letters.io", 400)

	out, isErr := f.callTool(t, "list_emails", map[string]any{"session_id": f.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "m2")

	out, isErr = f.callTool(t, "get_email_details", map[string]any{
		"session_id": f.session, "message_id": "m1",
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "hello")

	st, err := f.factory.ForUser(f.admin.ID)
	require.NoError(t, err)
	sum, err := st.GetAccessSummary(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalAccesses)
	assert.NotNil(t, sum.LastAccessed)
}

func TestSearchTools(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, "m1", "invoice march", "billing@corp.io", 30)

	out, isErr := f.callTool(t, "search_emails", map[string]any{
		"session_id": f.session, "query": "invoice",
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "m1")

	out, isErr = f.callTool(t, "save_search", map[string]any{
		"session_id": f.session,
		"name":       "invoices",
		"criteria":   map[string]any{"query": "invoice"},
	})
	require.False(t, isErr, out)

	out, isErr = f.callTool(t, "list_saved_searches", map[string]any{"session_id": f.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "invoices")
}

func TestPolicyTools_CRUD(t *testing.T) {
	f := newFixture(t)

	out, isErr := f.callTool(t, "create_cleanup_policy", map[string]any{
		"session_id": f.session,
		"name":       "old promos",
		"enabled":    true,
		"priority":   10,
		"criteria":   map[string]any{"age_days_min": 365},
		"action":     map[string]any{"type": "archive", "method": "provider"},
	})
	require.False(t, isErr, out)
	var created model.CleanupPolicy
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.NotEmpty(t, created.ID)
	// Defaults applied by the engine.
	assert.Equal(t, 100, created.Safety.MaxEmailsPerRun)

	out, isErr = f.callTool(t, "list_cleanup_policies", map[string]any{"session_id": f.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "old promos")

	out, isErr = f.callTool(t, "create_cleanup_schedule", map[string]any{
		"session_id": f.session,
		"policy_id":  created.ID,
		"frequency":  "daily",
		"time":       "03:00",
		"enabled":    true,
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "03:00")

	// Invalid schedule time is rejected with a validation message.
	out, isErr = f.callTool(t, "create_cleanup_schedule", map[string]any{
		"session_id": f.session,
		"policy_id":  created.ID,
		"frequency":  "daily",
		"time":       "25:99",
		"enabled":    true,
	})
	assert.True(t, isErr, out)

	out, isErr = f.callTool(t, "delete_cleanup_policy", map[string]any{
		"session_id": f.session, "policy_id": created.ID,
	})
	require.False(t, isErr, out)
}

func TestTriggerCleanup_SingleFlight(t *testing.T) {
	f := newFixture(t)

	out, isErr := f.callTool(t, "trigger_cleanup", map[string]any{
		"session_id": f.session, "dry_run": true,
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "job_id")

	// No worker is draining the queue, so a second submit conflicts.
	out, isErr = f.callTool(t, "trigger_cleanup", map[string]any{
		"session_id": f.session, "dry_run": true,
	})
	assert.True(t, isErr)
	assert.Contains(t, out, "conflict")
}

func TestJobTools_OwnershipAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.deps.Queue.Enqueue(ctx, f.admin.ID, model.JobTypeCategorize, nil)
	require.NoError(t, err)

	out, isErr := f.callTool(t, "get_job_status", map[string]any{
		"session_id": f.session, "job_id": jobID,
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "pending")

	// Another user cannot see the job.
	other, err := f.deps.Users.RegisterUser(ctx,
		&model.UserContext{UserID: f.admin.ID, Roles: []string{model.RoleAdmin}},
		"other@example.com", "")
	require.NoError(t, err)
	otherSess, err := f.deps.Users.CreateSession(ctx, other.ID, "", "test")
	require.NoError(t, err)
	out, isErr = f.callTool(t, "get_job_status", map[string]any{
		"session_id": otherSess.SessionID, "job_id": jobID,
	})
	assert.True(t, isErr)
	assert.Contains(t, out, "not found")

	out, isErr = f.callTool(t, "cancel_job", map[string]any{
		"session_id": f.session, "job_id": jobID,
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "cancelled")
}

func TestArchiveAndExportTools(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, "m1", "old newsletter", "news@letters.io", 400)

	out, isErr := f.callTool(t, "archive_emails", map[string]any{
		"session_id":  f.session,
		"message_ids": []string{"m1"},
	})
	require.False(t, isErr, out)

	st, err := f.factory.ForUser(f.admin.ID)
	require.NoError(t, err)
	msg, err := st.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, msg.Archived)
	assert.True(t, f.fake.Labels("m1")[provider.LabelArchived])

	out, isErr = f.callTool(t, "restore_emails", map[string]any{
		"session_id":  f.session,
		"message_ids": []string{"m1"},
	})
	require.False(t, isErr, out)
	msg, err = st.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, msg.Archived)

	out, isErr = f.callTool(t, "export_emails", map[string]any{
		"session_id": f.session,
		"format":     "json",
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Exported 1 messages")

	out, isErr = f.callTool(t, "export_emails", map[string]any{
		"session_id": f.session,
		"format":     "xml",
	})
	assert.True(t, isErr, out)
}

func TestGetCleanupMetrics_AggregatesWindow(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, "m1", "old newsletter", "news@letters.io", 400)

	out, isErr := f.callTool(t, "archive_emails", map[string]any{
		"session_id":  f.session,
		"message_ids": []string{"m1"},
	})
	require.False(t, isErr, out)

	out, isErr = f.callTool(t, "get_cleanup_metrics", map[string]any{
		"session_id": f.session, "hours": 1,
	})
	require.False(t, isErr, out)
	assert.Contains(t, out, `"messages_archived": 1`)
	assert.Contains(t, out, `"window_hours": 1`)
	assert.Contains(t, out, "total_checks")
}

func TestUpdateAutomationConfig_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg := cleanup.DefaultAutomationConfig()
	cfg.ContinuousEnabled = true

	other, err := f.deps.Users.RegisterUser(ctx,
		&model.UserContext{UserID: f.admin.ID, Roles: []string{model.RoleAdmin}},
		"plain@example.com", "")
	require.NoError(t, err)
	otherSess, err := f.deps.Users.CreateSession(ctx, other.ID, "", "test")
	require.NoError(t, err)

	_, isErr := f.callTool(t, "update_cleanup_automation_config", map[string]any{
		"session_id": otherSess.SessionID,
		"config":     cfg,
	})
	assert.True(t, isErr)

	out, isErr := f.callTool(t, "update_cleanup_automation_config", map[string]any{
		"session_id": f.session,
		"config":     cfg,
	})
	require.False(t, isErr, out)
	assert.True(t, f.deps.Automation.Config().ContinuousEnabled)
}

func TestGetSystemHealth(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, "m1", "hello", "alice@example.com", 10)

	out, isErr := f.callTool(t, "get_system_health", map[string]any{"session_id": f.session})
	require.False(t, isErr, out)
	assert.Contains(t, out, "messages_indexed")
	assert.Contains(t, out, "user_count")
}
