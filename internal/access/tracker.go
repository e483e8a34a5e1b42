// Package access tracks how messages are read and searched, and distills the
// events into a per-message access score. The score measures deletability:
// it is high when a message has not been touched in a long time and low when
// it is actively used.
package access

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// Tracker records access events against one user's store and keeps the
// per-message summaries current.
type Tracker struct {
	store *store.UserStore
	log   *zap.Logger
	now   func() time.Time
}

// NewTracker builds a tracker over the given user store.
func NewTracker(st *store.UserStore, log *zap.Logger) *Tracker {
	return &Tracker{store: st, log: log.Named("access"), now: time.Now}
}

// RecordView records a direct or thread view of a message and refreshes its
// summary. Recording failures are logged, never surfaced: access tracking
// must not break the read path.
func (t *Tracker) RecordView(ctx context.Context, messageID string, typ model.AccessType) {
	ev := &model.AccessEvent{
		MessageID:  messageID,
		AccessType: typ,
		Timestamp:  t.now().UTC(),
	}
	if err := t.store.InsertAccessEvent(ctx, ev); err != nil {
		t.log.Warn("record view failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	t.refresh(ctx, messageID, ev, false)
}

// RecordSearchResults records the messages surfaced by a search. Appearing in
// results counts as a weak signal; an interaction is recorded separately via
// RecordView when the user opens a result.
func (t *Tracker) RecordSearchResults(ctx context.Context, query string, messageIDs []string) {
	ts := t.now().UTC()
	for _, id := range messageIDs {
		ev := &model.AccessEvent{
			MessageID:   id,
			AccessType:  model.AccessSearchResult,
			Timestamp:   ts,
			SearchQuery: query,
		}
		if err := t.store.InsertAccessEvent(ctx, ev); err != nil {
			t.log.Warn("record search result failed", zap.String("message_id", id), zap.Error(err))
			continue
		}
		t.refresh(ctx, id, ev, true)
	}
}

func (t *Tracker) refresh(ctx context.Context, messageID string, ev *model.AccessEvent, searchAppearance bool) {
	sum, err := t.store.GetAccessSummary(ctx, messageID)
	if err != nil {
		t.log.Warn("load access summary failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	if sum == nil {
		sum = &model.AccessSummary{MessageID: messageID}
	}

	sum.TotalAccesses++
	if searchAppearance {
		sum.SearchAppearances++
	} else {
		sum.SearchInteractions++
		ts := ev.Timestamp
		sum.LastAccessed = &ts
	}
	sum.AccessScore = Score(sum, t.now())

	if err := t.store.UpsertAccessSummary(ctx, sum); err != nil {
		t.log.Warn("store access summary failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

// Score computes the deletability score for a summary. A message never opened
// scores 1.0. Opening it drops the score to zero; the score then climbs back
// linearly over 180 days, reduced by how heavily the message is used overall.
func Score(sum *model.AccessSummary, now time.Time) float64 {
	if sum == nil || sum.LastAccessed == nil {
		return 1.0
	}

	days := now.Sub(*sum.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	staleness := days / 180
	if staleness > 1 {
		staleness = 1
	}

	// Heavy use dampens the climb: ten interactions halve it.
	usage := float64(sum.SearchInteractions)
	damp := 1.0 / (1.0 + usage/10.0)

	return staleness * damp
}

// ScoreFor is a convenience for callers holding only a message id. A missing
// summary scores 1.0.
func (t *Tracker) ScoreFor(ctx context.Context, messageID string) (float64, error) {
	sum, err := t.store.GetAccessSummary(ctx, messageID)
	if err != nil {
		return 0, err
	}
	return Score(sum, t.now()), nil
}
