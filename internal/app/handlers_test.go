package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/categorize"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

func newTestApp(t *testing.T) (*App, *provider.Fake) {
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

	fake := provider.NewFake()
	analyzers := analyzer.NewSet(nil, nil, nil)
	scorer := staleness.NewScorer(staleness.DefaultWeights(), staleness.DefaultThresholds())
	policies := cleanup.NewPolicyEngine(scorer, nil, log)
	exporter := export.NewExporter(files, factory, log)

	a := &App{
		Log:         log,
		System:      system,
		Factory:     factory,
		Users:       userplane.NewManager(system, factory, log),
		Files:       files,
		Opener:      &provider.FakeOpener{Mail: fake},
		Analyzers:   analyzers,
		Categorizer: categorize.NewEngine(analyzers, log),
		Scorer:      scorer,
		Policies:    policies,
		Executor:    cleanup.NewExecutor(exporter, policies.Checker(), log),
		Exporter:    exporter,
		Queue:       jobs.NewQueue(system, log),
	}
	a.Automation = cleanup.NewAutomation(cleanup.DefaultAutomationConfig(), system, factory, a.Queue, log)
	return a, fake
}

func seedStale(t *testing.T, st *store.UserStore, fake *provider.Fake, id string) {
	t.Helper()
	date := time.Now().UTC().AddDate(-1, 0, -5)
	msg := &model.MessageIndex{
		UserID:    "u1",
		ID:        id,
		ThreadID:  "t-" + id,
		Subject:   "weekly deals",
		Sender:    "news@gmail.com",
		Date:      date,
		Year:      date.Year(),
		SizeBytes: 4096,
		Labels:    model.Strings{"CATEGORY_PROMOTIONS"},
	}
	require.NoError(t, st.UpsertMessage(context.Background(), msg))
	require.NoError(t, st.WriteAnalysis(context.Background(), id, &model.AnalyzerResult{
		ImportanceScore: 0.1,
		ImportanceLevel: model.ImportanceLow,
		SpamScore:       0.6,
		AnalysisVersion: analyzer.Version,
	}))
	fake.SetLabels(id, "CATEGORY_PROMOTIONS")
}

func TestCategorizeHandler(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	st, err := a.Factory.ForUser("u1")
	require.NoError(t, err)

	for _, id := range []string{"m1", "m2", "m3"} {
		date := time.Now().UTC().AddDate(0, 0, -40)
		require.NoError(t, st.UpsertMessage(ctx, &model.MessageIndex{
			UserID: "u1", ID: id, Subject: "subject " + id,
			Sender: "alice@example.com", Date: date, Year: date.Year(),
			SizeBytes: 1024, Labels: model.Strings{"INBOX"},
		}))
	}

	job := &model.Job{ID: "j1", UserID: "u1", JobType: model.JobTypeCategorize}
	var lastPercent int
	res, err := a.runCategorize(ctx, job, func(_, percent int) { lastPercent = percent })
	require.NoError(t, err)

	result, ok := res.(*categorize.Result)
	require.True(t, ok)
	assert.Equal(t, 3, result.Analyzed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 100, lastPercent)

	msg, err := st.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg.Analysis)
	assert.Equal(t, analyzer.Version, msg.Analysis.AnalysisVersion)
}

func TestCategorizeHandler_BadParams(t *testing.T) {
	a, _ := newTestApp(t)
	job := &model.Job{ID: "j1", UserID: "u1", JobType: model.JobTypeCategorize,
		RequestParams: []byte("{not json")}
	_, err := a.runCategorize(context.Background(), job, func(int, int) {})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCleanupHandler_ArchivesThroughPolicy(t *testing.T) {
	a, fake := newTestApp(t)
	ctx := context.Background()
	st, err := a.Factory.ForUser("u1")
	require.NoError(t, err)
	seedStale(t, st, fake, "m1")

	_, err = a.Policies.CreatePolicy(ctx, st, &model.CleanupPolicy{
		UserID:   "u1",
		Name:     "archive old promos",
		Enabled:  true,
		Priority: 10,
		Criteria: model.PolicyCriteria{AgeDaysMin: 300},
		Action:   model.PolicyAction{Type: model.ActionArchive, Method: model.MethodProvider},
	})
	require.NoError(t, err)

	job := &model.Job{ID: "j1", UserID: "u1", JobType: model.JobTypeCleanup}
	res, err := a.runCleanup(ctx, job, func(int, int) {})
	require.NoError(t, err)

	results, ok := res.(*cleanupResults)
	require.True(t, ok)
	assert.Equal(t, 1, results.Execution.Archived)

	msg, err := st.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, msg.Archived)
	assert.True(t, fake.Labels("m1")[provider.LabelArchived])
}

func TestCleanupHandler_DryRunChangesNothing(t *testing.T) {
	a, fake := newTestApp(t)
	ctx := context.Background()
	st, err := a.Factory.ForUser("u1")
	require.NoError(t, err)
	seedStale(t, st, fake, "m1")

	_, err = a.Policies.CreatePolicy(ctx, st, &model.CleanupPolicy{
		UserID:   "u1",
		Name:     "archive old promos",
		Enabled:  true,
		Priority: 10,
		Criteria: model.PolicyCriteria{AgeDaysMin: 300},
		Action:   model.PolicyAction{Type: model.ActionArchive, Method: model.MethodProvider},
	})
	require.NoError(t, err)

	params := []byte(`{"dry_run":true}`)
	job := &model.Job{ID: "j1", UserID: "u1", JobType: model.JobTypeCleanup, RequestParams: params}
	res, err := a.runCleanup(ctx, job, func(int, int) {})
	require.NoError(t, err)

	results := res.(*cleanupResults)
	assert.True(t, results.Execution.DryRun)
	assert.Equal(t, 1, results.Execution.Planned)

	msg, err := st.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, msg.Archived)
	assert.Equal(t, 0, fake.CallCount("batch_modify"))
}

func TestCleanupHandler_NoPolicies(t *testing.T) {
	a, _ := newTestApp(t)
	job := &model.Job{ID: "j1", UserID: "u1", JobType: model.JobTypeCleanup}
	res, err := a.runCleanup(context.Background(), job, func(int, int) {})
	require.NoError(t, err)
	results := res.(*cleanupResults)
	assert.Zero(t, results.Execution.Archived)
	assert.Zero(t, results.Execution.Deleted)
}
