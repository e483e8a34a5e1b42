package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(t.TempDir(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func testMessage(id string, age time.Duration) *model.MessageIndex {
	date := time.Now().UTC().Add(-age)
	return &model.MessageIndex{
		ID:        id,
		ThreadID:  "t-" + id,
		Subject:   "subject " + id,
		Sender:    "alice@example.com",
		Date:      date,
		Year:      date.Year(),
		SizeBytes: 2048,
		Labels:    model.Strings{"INBOX"},
		Snippet:   "snippet " + id,
	}
}

func TestUpsertAndGetMessage(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.ForUser("u1")
	require.NoError(t, err)

	ctx := context.Background()
	msg := testMessage("m1", 48*time.Hour)
	require.NoError(t, s.UpsertMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "subject m1", got.Subject)
	assert.Equal(t, msg.Date.Year(), got.Year)
	assert.Nil(t, got.Analysis)
}

func TestUpsertPreservesAnalysis(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	ctx := context.Background()

	msg := testMessage("m1", time.Hour)
	require.NoError(t, s.UpsertMessage(ctx, msg))
	require.NoError(t, s.WriteAnalysis(ctx, "m1", &model.AnalyzerResult{
		ImportanceScore: 0.8,
		ImportanceLevel: model.ImportanceHigh,
		GmailCategory:   model.CategoryPrimary,
		AnalysisVersion: "v1",
	}))

	// Re-ingesting without analysis must not clobber analyzer fields.
	msg.Subject = "updated"
	require.NoError(t, s.UpsertMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Subject)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, 0.8, got.Analysis.ImportanceScore)
	assert.Equal(t, "v1", got.Analysis.AnalysisVersion)
}

func TestSearchMessagesCriteria(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	ctx := context.Background()

	old := testMessage("old", 300*24*time.Hour)
	old.SizeBytes = 5 << 20
	recent := testMessage("recent", time.Hour)
	recent.Sender = "bob@example.com"
	require.NoError(t, s.UpsertMessage(ctx, old))
	require.NoError(t, s.UpsertMessage(ctx, recent))

	got, err := s.SearchMessages(ctx, model.SearchCriteria{Sender: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].ID)

	got, err = s.SearchMessages(ctx, model.SearchCriteria{SizeMin: 1 << 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)

	// Results ordered by date descending.
	got, err = s.SearchMessages(ctx, model.SearchCriteria{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "recent", got[0].ID)
}

func TestCrossUserIsolation(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	a, err := f.ForUser("user-a")
	require.NoError(t, err)
	b, err := f.ForUser("user-b")
	require.NoError(t, err)

	require.NoError(t, a.UpsertMessage(ctx, testMessage("email-a1", time.Hour)))
	require.NoError(t, a.UpsertMessage(ctx, testMessage("email-a2", time.Hour)))
	require.NoError(t, b.UpsertMessage(ctx, testMessage("email-b1", time.Hour)))

	got, err := a.SearchMessages(ctx, model.SearchCriteria{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Contains(t, m.ID, "email-a")
		assert.Equal(t, "user-a", m.UserID)
	}

	_, err = b.GetMessage(ctx, "email-a1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFactoryCachesAndInvalidates(t *testing.T) {
	f := newTestFactory(t)

	s1, err := f.ForUser("u1")
	require.NoError(t, err)
	s2, err := f.ForUser("u1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	f.Invalidate("u1")
	s3, err := f.ForUser("u1")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
}

func TestPolicyCRUDAndOrdering(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now().UTC()
	low := &model.CleanupPolicy{
		ID: "p-low", Name: "low", Enabled: true, Priority: 50,
		Action:    model.PolicyAction{Type: model.ActionArchive, Method: model.MethodProvider},
		CreatedAt: now, UpdatedAt: now,
	}
	high := &model.CleanupPolicy{
		ID: "p-high", Name: "high", Enabled: true, Priority: 80,
		Action:    model.PolicyAction{Type: model.ActionDelete, Method: model.MethodProvider},
		CreatedAt: now.Add(time.Second), UpdatedAt: now,
	}
	require.NoError(t, s.InsertPolicy(ctx, low))
	require.NoError(t, s.InsertPolicy(ctx, high))

	got, err := s.ListPolicies(ctx, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p-high", got[0].ID)
	assert.Equal(t, model.ActionDelete, got[0].Action.Type)

	high.Priority = 10
	require.NoError(t, s.UpdatePolicy(ctx, high))
	got, err = s.ListPolicies(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "p-low", got[0].ID)

	require.NoError(t, s.DeletePolicy(ctx, "p-low"))
	_, err = s.GetPolicy(ctx, "p-low")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAccessSummaryRoundTrip(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.GetAccessSummary(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	last := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpsertAccessSummary(ctx, &model.AccessSummary{
		MessageID: "m1", TotalAccesses: 3, LastAccessed: &last, AccessScore: 0.2,
	}))
	got, err = s.GetAccessSummary(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TotalAccesses)
	assert.InDelta(t, 0.2, got.AccessScore, 1e-9)
}

func TestSystemStoreJobs(t *testing.T) {
	sys, err := OpenSystem(t.TempDir() + "/system.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	ctx := context.Background()

	j := &model.Job{
		ID: "j1", UserID: "u1", JobType: model.JobTypeCategorize,
		Status: model.JobPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, sys.InsertJob(ctx, j))

	active, err := sys.HasActiveJob(ctx, "u1", model.JobTypeCategorize)
	require.NoError(t, err)
	assert.False(t, active)

	next, err := sys.NextPendingJob(ctx, model.JobTypeCategorize, "")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "j1", next.ID)

	j.Status = model.JobInProgress
	require.NoError(t, sys.UpdateJob(ctx, j))
	active, err = sys.HasActiveJob(ctx, "u1", model.JobTypeCategorize)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = sys.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSystemStoreUsersAndAudit(t *testing.T) {
	sys, err := OpenSystem(t.TempDir() + "/system.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	ctx := context.Background()

	u := &model.User{ID: "u1", Email: "a@b.c", Role: model.RoleAdmin, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, sys.InsertUser(ctx, u))
	err = sys.InsertUser(ctx, &model.User{ID: "u2", Email: "a@b.c", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, sys.AppendAudit(ctx, &model.AuditEntry{
		UserID: "u1", Action: "file_create", ResourceType: "archive", ResourceID: "f1", Success: true,
	}))
	entries, err := sys.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file_create", entries[0].Action)
}

func TestScheduleState(t *testing.T) {
	sys, err := OpenSystem(t.TempDir() + "/system.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	ctx := context.Background()

	got, err := sys.LastFired(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	fired := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, sys.SetLastFired(ctx, "u1", "p1", fired))
	got, err = sys.LastFired(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.True(t, fired.Equal(got))
}
