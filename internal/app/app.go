// Package app wires the service components together: stores, provider,
// analyzers, lifecycle engines, job workers, and the MCP tool surface.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailsteward/mailsteward/internal/analyzer"
	"github.com/mailsteward/mailsteward/internal/auth"
	"github.com/mailsteward/mailsteward/internal/categorize"
	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/config"
	"github.com/mailsteward/mailsteward/internal/export"
	"github.com/mailsteward/mailsteward/internal/jobs"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/staleness"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/tools"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

// Retention for finished job rows.
const jobRetention = 30 * 24 * time.Hour

// janitorInterval is how often expired exports and old jobs are swept.
const janitorInterval = time.Hour

// App owns every long-lived component of the service.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	System      *store.SystemStore
	Factory     *store.Factory
	Users       *userplane.Manager
	Files       *userplane.FileManager
	Auth        *auth.Manager
	Opener      provider.Opener
	Analyzers   *analyzer.Set
	Categorizer *categorize.Engine
	Scorer      *staleness.Scorer
	Policies    *cleanup.PolicyEngine
	Executor    *cleanup.Executor
	Exporter    *export.Exporter
	Queue       *jobs.Queue
	Automation  *cleanup.Automation
}

// New builds the full component graph. A migration failure on the system
// database is fatal.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	system, err := store.OpenSystem(cfg.SystemDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening system store: %w", err)
	}
	factory, err := store.NewFactory(cfg.UsersDir(), cfg.CacheTTL, log)
	if err != nil {
		_ = system.Close()
		return nil, fmt.Errorf("opening store factory: %w", err)
	}

	users := userplane.NewManager(system, factory, log)
	files, err := userplane.NewFileManager(cfg.ArchivePath, system, log)
	if err != nil {
		_ = factory.Close()
		_ = system.Close()
		return nil, err
	}

	authMgr, err := auth.NewManager(cfg.TokensDir(), cfg.Google, cfg.TokenKey)
	if err != nil {
		_ = factory.Close()
		_ = system.Close()
		return nil, err
	}
	opener := provider.NewGmailOpener(authMgr)

	analyzers := analyzer.NewSet(nil, nil, nil)
	categorizer := categorize.NewEngine(analyzers, log)
	scorer := staleness.NewScorer(staleness.DefaultWeights(), staleness.DefaultThresholds())
	policies := cleanup.NewPolicyEngine(scorer, nil, log)
	exporter := export.NewExporter(files, factory, log)
	executor := cleanup.NewExecutor(exporter, policies.Checker(), log)
	queue := jobs.NewQueue(system, log)
	automation := cleanup.NewAutomation(cleanup.DefaultAutomationConfig(), system, factory, queue, log)

	return &App{
		Config:      cfg,
		Log:         log,
		System:      system,
		Factory:     factory,
		Users:       users,
		Files:       files,
		Auth:        authMgr,
		Opener:      opener,
		Analyzers:   analyzers,
		Categorizer: categorizer,
		Scorer:      scorer,
		Policies:    policies,
		Executor:    executor,
		Exporter:    exporter,
		Queue:       queue,
		Automation:  automation,
	}, nil
}

// ToolDeps exposes the components the MCP tool handlers need.
func (a *App) ToolDeps() *tools.Deps {
	return &tools.Deps{
		Log:        a.Log,
		Users:      a.Users,
		Auth:       a.Auth,
		Opener:     a.Opener,
		Scorer:     a.Scorer,
		Policies:   a.Policies,
		Executor:   a.Executor,
		Automation: a.Automation,
		Queue:      a.Queue,
		Exporter:   a.Exporter,
	}
}

// Run starts the background machinery: one worker per job type, the
// automation loops, and the janitor. Blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return jobs.RunWorkers(ctx, a.Queue, a.Handlers(), a.Log)
	})
	g.Go(func() error {
		return a.Automation.Run(ctx)
	})
	g.Go(func() error {
		return a.janitor(ctx)
	})
	return g.Wait()
}

// janitor periodically drops expired export files and old finished jobs.
func (a *App) janitor(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if n, err := a.System.DeleteJobsOlderThan(ctx, time.Now().UTC().Add(-jobRetention)); err != nil {
			a.Log.Warn("pruning old jobs failed", zap.Error(err))
		} else if n > 0 {
			a.Log.Info("pruned old jobs", zap.Int64("count", n))
		}

		users, err := a.Users.ListUsers(ctx)
		if err != nil {
			a.Log.Warn("janitor: listing users failed", zap.Error(err))
			continue
		}
		for _, u := range users {
			st, err := a.Factory.ForUser(u.ID)
			if err != nil {
				a.Log.Warn("janitor: opening user store failed",
					zap.String("user_id", u.ID), zap.Error(err))
				continue
			}
			if n, err := a.Files.CleanupExpiredFiles(ctx, st); err != nil {
				a.Log.Warn("janitor: expired file cleanup failed",
					zap.String("user_id", u.ID), zap.Error(err))
			} else if n > 0 {
				a.Log.Info("removed expired export files",
					zap.String("user_id", u.ID), zap.Int("count", n))
			}
		}
	}
}

// Close releases every handle. Safe to call once after Run returns.
func (a *App) Close() error {
	var firstErr error
	if err := a.Factory.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.System.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
