package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.UserStore) {
	t.Helper()
	f, err := store.NewFactory(t.TempDir(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	return NewTracker(s, zap.NewNop()), s
}

func TestScore_NeverAccessed(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1.0, Score(nil, now))
	assert.Equal(t, 1.0, Score(&model.AccessSummary{MessageID: "m"}, now))
}

func TestScore_RecentAccessDropsToZero(t *testing.T) {
	now := time.Now()
	last := now.Add(-time.Hour)
	sum := &model.AccessSummary{MessageID: "m", LastAccessed: &last, SearchInteractions: 1}
	assert.Less(t, Score(sum, now), 0.01)
}

func TestScore_ClimbsWithStaleness(t *testing.T) {
	now := time.Now()
	at := func(daysAgo int) float64 {
		last := now.AddDate(0, 0, -daysAgo)
		return Score(&model.AccessSummary{MessageID: "m", LastAccessed: &last}, now)
	}
	assert.Less(t, at(30), at(90))
	assert.Less(t, at(90), at(180))
	assert.Equal(t, at(180), at(400))
}

func TestScore_HeavyUseDampens(t *testing.T) {
	now := time.Now()
	last := now.AddDate(0, 0, -180)
	light := &model.AccessSummary{MessageID: "m", LastAccessed: &last}
	heavy := &model.AccessSummary{MessageID: "m", LastAccessed: &last, SearchInteractions: 20}
	assert.Greater(t, Score(light, now), Score(heavy, now))
}

func TestRecordView_UpdatesSummary(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	tr.RecordView(ctx, "m1", model.AccessDirectView)
	tr.RecordView(ctx, "m1", model.AccessThreadView)

	sum, err := s.GetAccessSummary(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.TotalAccesses)
	assert.Equal(t, 2, sum.SearchInteractions)
	require.NotNil(t, sum.LastAccessed)
	assert.Less(t, sum.AccessScore, 0.01)
}

func TestRecordSearchResults_WeakSignal(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	tr.RecordSearchResults(ctx, "from:alice", []string{"m1", "m2"})

	sum, err := s.GetAccessSummary(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.SearchAppearances)
	assert.Equal(t, 0, sum.SearchInteractions)
	// Appearing in results alone does not make the message look used.
	assert.Nil(t, sum.LastAccessed)
	assert.Equal(t, 1.0, sum.AccessScore)
}

func TestScoreFor_MissingSummary(t *testing.T) {
	tr, _ := newTestTracker(t)
	score, err := tr.ScoreFor(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}
