// Package categorize orchestrates the analyzers over a selection of stored
// messages and writes the merged results back. It never mutates labels or the
// archived flag; those belong to the cleanup executor.
package categorize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// DefaultBatchSize bounds how many messages are loaded and analyzed at once.
const DefaultBatchSize = 100

// Request selects which messages to categorize. Zero value means every
// message not yet analyzed with the current engine version.
type Request struct {
	Year         int      `json:"year,omitempty"`
	IDs          []string `json:"ids,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// Progress is reported after every batch as analyzed out of total.
type Progress struct {
	Analyzed int `json:"analyzed"`
	Total    int `json:"total"`
}

// Percent maps progress onto the 0..100 job scale.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Analyzed * 100 / p.Total
}

// Result summarizes one categorization run.
type Result struct {
	Total    int `json:"total"`
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
}

// Engine drives analyzer runs over per-user stores. One engine serves all
// users; per-run state lives on the stack.
type Engine struct {
	analyzers *analyzer.Set
	log       *zap.Logger
	batchSize int
	now       func() time.Time
}

// NewEngine builds an engine around the given analyzer set.
func NewEngine(set *analyzer.Set, log *zap.Logger) *Engine {
	return &Engine{
		analyzers: set,
		log:       log.Named("categorize"),
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Run categorizes the selected messages in bounded batches. Cancellation is
// honored at batch boundaries; analyzed batches stay written. A message that
// fails to load or persist is counted and skipped, never fails the run.
func (e *Engine) Run(ctx context.Context, st *store.UserStore, req Request, report func(Progress)) (*Result, error) {
	sel := store.AnalysisSelection{Year: req.Year, IDs: req.IDs}
	if !req.ForceRefresh {
		sel.SkipVersion = analyzer.Version
	}
	ids, err := st.ListAnalysisTargets(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}

	res := &Result{Total: len(ids)}
	e.log.Info("categorization started",
		zap.String("user_id", st.UserID()),
		zap.Int("total", res.Total),
		zap.Bool("force_refresh", req.ForceRefresh))

	for start := 0; start < len(ids); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start + e.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		msgs, err := st.SearchMessages(ctx, model.SearchCriteria{IDs: batch, Limit: len(batch)})
		if err != nil {
			return res, fmt.Errorf("loading batch: %w", err)
		}

		now := e.now().UTC()
		for _, msg := range msgs {
			analysis := e.analyzers.Analyze(msg, now)
			if err := st.WriteAnalysis(ctx, msg.ID, analysis); err != nil {
				res.Failed++
				e.log.Warn("write analysis failed",
					zap.String("message_id", msg.ID), zap.Error(err))
				continue
			}
			res.Analyzed++
		}

		if report != nil {
			report(Progress{Analyzed: res.Analyzed, Total: res.Total})
		}
	}

	e.log.Info("categorization finished",
		zap.String("user_id", st.UserID()),
		zap.Int("analyzed", res.Analyzed),
		zap.Int("failed", res.Failed))
	return res, nil
}
