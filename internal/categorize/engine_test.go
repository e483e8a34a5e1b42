package categorize

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

func newTestStore(t *testing.T) *store.UserStore {
	t.Helper()
	f, err := store.NewFactory(t.TempDir(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	s, err := f.ForUser("u1")
	require.NoError(t, err)
	return s
}

func seedMessages(t *testing.T, s *store.UserStore, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%03d", i)
		ids[i] = id
		date := time.Now().UTC().AddDate(0, 0, -i)
		require.NoError(t, s.UpsertMessage(ctx, &model.MessageIndex{
			ID:        id,
			ThreadID:  "t-" + id,
			Subject:   "subject " + id,
			Sender:    "alice@example.com",
			Date:      date,
			Year:      date.Year(),
			SizeBytes: 2048,
			Labels:    model.Strings{"INBOX"},
		}))
	}
	return ids
}

func TestRun_AnalyzesAllAndReportsProgress(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	engine.batchSize = 10
	seedMessages(t, s, 25)

	var progress []Progress
	res, err := engine.Run(context.Background(), s, Request{}, func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 25, res.Analyzed)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Analyzed: 10, Total: 25}, progress[0])
	assert.Equal(t, Progress{Analyzed: 25, Total: 25}, progress[2])

	got, err := s.GetMessage(context.Background(), "m000")
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, analyzer.Version, got.Analysis.AnalysisVersion)
}

func TestRun_SkipsCurrentVersion(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	seedMessages(t, s, 5)

	first, err := engine.Run(context.Background(), s, Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Analyzed)

	second, err := engine.Run(context.Background(), s, Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total)
}

func TestRun_ForceRefreshRecomputes(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	seedMessages(t, s, 5)

	_, err := engine.Run(context.Background(), s, Request{}, nil)
	require.NoError(t, err)

	again, err := engine.Run(context.Background(), s, Request{ForceRefresh: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Analyzed)
}

func TestRun_SelectionByIDs(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	ids := seedMessages(t, s, 10)

	res, err := engine.Run(context.Background(), s, Request{IDs: ids[:3]}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Analyzed)

	got, err := s.GetMessage(context.Background(), ids[5])
	require.NoError(t, err)
	assert.Nil(t, got.Analysis)
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	engine.batchSize = 5
	seedMessages(t, s, 20)

	ctx, cancel := context.WithCancel(context.Background())
	var res *Result
	var err error
	res, err = engine.Run(ctx, s, Request{}, func(p Progress) {
		if p.Analyzed >= 5 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	// Batches analyzed before cancellation stay written.
	assert.GreaterOrEqual(t, res.Analyzed, 5)
	assert.Less(t, res.Analyzed, 20)
}

func TestRun_DoesNotTouchLabelsOrArchived(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(analyzer.NewSet(nil, nil, nil), zap.NewNop())
	seedMessages(t, s, 1)

	_, err := engine.Run(context.Background(), s, Request{}, nil)
	require.NoError(t, err)

	got, err := s.GetMessage(context.Background(), "m000")
	require.NoError(t, err)
	assert.False(t, got.Archived)
	assert.Equal(t, model.Strings{"INBOX"}, got.Labels)
}

func TestProgress_Percent(t *testing.T) {
	assert.Equal(t, 100, Progress{}.Percent())
	assert.Equal(t, 40, Progress{Analyzed: 2, Total: 5}.Percent())
}
