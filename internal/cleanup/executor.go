package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/store"
)

// DefaultChunkSize bounds how many messages one provider call touches.
const DefaultChunkSize = 50

// maxChunkRetries bounds transient-error retries per chunk.
const maxChunkRetries = 3

// Exporter writes messages to an export file and returns its location and
// size. Implemented by the export subsystem; injected to keep the executor
// independent of file layout.
type Exporter interface {
	Export(ctx context.Context, userID string, msgs []*model.MessageIndex, format string) (location string, size int64, err error)
}

// ExecutionResult summarizes one executor run.
type ExecutionResult struct {
	DryRun    bool     `json:"dry_run"`
	Planned   int      `json:"planned"`
	Archived  int      `json:"archived"`
	Deleted   int      `json:"deleted"`
	Exported  int      `json:"exported"`
	RecordIDs []string `json:"record_ids,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Executor applies archive and delete actions through the mail provider and
// keeps the local mirror and archive records consistent.
type Executor struct {
	exporter  Exporter
	checker   *SafetyChecker
	log       *zap.Logger
	chunkSize int
	now       func() time.Time
}

// NewExecutor builds an executor. The checker feeds completed deletions into
// the shared rate counters; exporter may be nil when export is not wired.
func NewExecutor(exporter Exporter, checker *SafetyChecker, log *zap.Logger) *Executor {
	return &Executor{
		exporter:  exporter,
		checker:   checker,
		log:       log.Named("executor"),
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
}

// chunkKey groups candidates that can share one provider call.
type chunkKey struct {
	action model.CleanupAction
	method model.CleanupMethod
	format string
}

// Execute applies the candidates. Dry runs return planned counts without any
// mutation. A failing chunk records its error and the run continues; the
// caller decides about coarser retries.
func (x *Executor) Execute(ctx context.Context, st *store.UserStore, mail provider.Mail, candidates []model.CleanupCandidate, dryRun bool) (*ExecutionResult, error) {
	bounded := boundPerPolicy(candidates)
	res := &ExecutionResult{DryRun: dryRun, Planned: len(bounded)}
	if dryRun || len(bounded) == 0 {
		return res, nil
	}

	groups := make(map[chunkKey][]*model.MessageIndex)
	var order []chunkKey
	for i := range bounded {
		c := &bounded[i]
		key := chunkKey{action: c.Policy.Action.Type, method: c.Policy.Action.Method, format: c.Policy.Action.ExportFormat}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c.Message)
	}

	for _, key := range order {
		msgs := groups[key]
		for start := 0; start < len(msgs); start += x.chunkSize {
			end := start + x.chunkSize
			if end > len(msgs) {
				end = len(msgs)
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := x.executeChunk(ctx, st, mail, key, msgs[start:end], res); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", key.action, key.method, err))
				x.log.Warn("chunk failed",
					zap.String("action", string(key.action)),
					zap.String("method", string(key.method)),
					zap.Int("size", end-start),
					zap.Error(err))
			}
		}
	}
	return res, nil
}

// boundPerPolicy trims the candidate list to each policy's max_emails_per_run.
func boundPerPolicy(candidates []model.CleanupCandidate) []model.CleanupCandidate {
	taken := make(map[string]int)
	out := make([]model.CleanupCandidate, 0, len(candidates))
	for _, c := range candidates {
		limit := c.Policy.Safety.MaxEmailsPerRun
		if limit > 0 && taken[c.Policy.ID] >= limit {
			continue
		}
		taken[c.Policy.ID]++
		out = append(out, c)
	}
	return out
}

func (x *Executor) executeChunk(ctx context.Context, st *store.UserStore, mail provider.Mail, key chunkKey, msgs []*model.MessageIndex, res *ExecutionResult) error {
	ids := make([]string, len(msgs))
	var total int64
	for i, m := range msgs {
		ids[i] = m.ID
		total += m.SizeBytes
	}

	var location string
	if key.method == model.MethodExport {
		if x.exporter == nil {
			return errors.New("export method requested but no exporter configured")
		}
		format := key.format
		if format == "" {
			format = "json"
		}
		loc, _, err := x.exporter.Export(ctx, st.UserID(), msgs, format)
		if err != nil {
			return fmt.Errorf("exporting chunk: %w", err)
		}
		location = loc
		res.Exported += len(msgs)
	}

	switch key.action {
	case model.ActionArchive:
		if err := x.callProvider(ctx, func(cctx context.Context) error {
			return mail.BatchModify(cctx, ids, []string{provider.LabelArchived}, []string{provider.LabelInbox})
		}); err != nil {
			return err
		}
		if err := st.SetArchived(ctx, ids, true, location); err != nil {
			return fmt.Errorf("marking archived: %w", err)
		}
		res.Archived += len(msgs)

	case model.ActionDelete:
		call := func(cctx context.Context) error { return mail.Trash(cctx, ids) }
		if key.method == model.MethodExport {
			// Exported mail is removed for good; the export is the backup.
			call = func(cctx context.Context) error { return mail.Delete(cctx, ids) }
		}
		if err := x.callProvider(ctx, call); err != nil {
			return err
		}
		if err := st.DeleteMessages(ctx, ids); err != nil {
			return fmt.Errorf("removing rows: %w", err)
		}
		res.Deleted += len(msgs)
		if x.checker != nil {
			x.checker.RecordDeletions(x.now(), len(msgs))
		}

	default:
		return fmt.Errorf("unknown action %q", key.action)
	}

	record := &model.ArchiveRecord{
		ID:         uuid.NewString(),
		UserID:     st.UserID(),
		Action:     key.action,
		Method:     key.method,
		MessageIDs: ids,
		Location:   location,
		SizeBytes:  total,
		Restorable: key.action == model.ActionArchive || key.method == model.MethodExport,
		CreatedAt:  x.now().UTC(),
	}
	if err := st.InsertArchiveRecord(ctx, record); err != nil {
		return fmt.Errorf("recording chunk: %w", err)
	}
	res.RecordIDs = append(res.RecordIDs, record.ID)
	return nil
}

// callProvider retries transient provider failures with exponential backoff,
// bounded to a few attempts. The whole chunk, retries included, runs under
// the provider batch deadline. Permanent failures return immediately.
func (x *Executor) callProvider(ctx context.Context, call func(context.Context) error) error {
	bctx, cancel := context.WithTimeout(ctx, provider.BatchTimeout)
	defer cancel()
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxChunkRetries), bctx)
	return backoff.Retry(func() error {
		err := call(bctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// Restore reverses an archive: the ARCHIVED label is removed, the requested
// labels (INBOX by default) are re-added, and pre-archive labels stay intact.
func (x *Executor) Restore(ctx context.Context, st *store.UserStore, mail provider.Mail, ids []string, addLabels []string) (*ExecutionResult, error) {
	if len(addLabels) == 0 {
		addLabels = []string{provider.LabelInbox}
	}
	res := &ExecutionResult{Planned: len(ids)}

	for start := 0; start < len(ids); start += x.chunkSize {
		end := start + x.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := x.callProvider(ctx, func(cctx context.Context) error {
			return mail.BatchModify(cctx, chunk, addLabels, []string{provider.LabelArchived})
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("restore: %v", err))
			continue
		}
		if err := st.SetArchived(ctx, chunk, false, ""); err != nil {
			return res, fmt.Errorf("clearing archive state: %w", err)
		}
		res.Archived += len(chunk)
	}
	return res, nil
}
