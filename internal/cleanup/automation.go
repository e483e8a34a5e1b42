package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// Clock abstracts time for the scheduler so schedule evaluation is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CleanupRequest is the payload of an automation-submitted cleanup job.
type CleanupRequest struct {
	PolicyID  string `json:"policy_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
	MaxEmails int    `json:"max_emails,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
}

// JobSubmitter materializes automation decisions as queued cleanup jobs.
// Implemented by the job queue; injected to keep automation queue-agnostic.
type JobSubmitter interface {
	SubmitCleanup(ctx context.Context, userID string, req CleanupRequest) (string, error)
	ActiveCleanupJobs(ctx context.Context) (int, error)
}

// PeakHours is a daily local-time window.
type PeakHours struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Contains reports whether t falls inside the window. Windows may wrap past
// midnight.
func (p PeakHours) Contains(t time.Time) bool {
	h := t.Hour()
	if p.StartHour <= p.EndHour {
		return h >= p.StartHour && h < p.EndHour
	}
	return h >= p.StartHour || h < p.EndHour
}

// AutomationConfig tunes the three automation responsibilities.
type AutomationConfig struct {
	ContinuousEnabled      bool      `yaml:"continuous_enabled" json:"continuous_enabled"`
	TargetEmailsPerMinute  int       `yaml:"target_emails_per_minute" json:"target_emails_per_minute"`
	MaxConcurrentOps       int       `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`
	PauseDuringPeakHours   bool      `yaml:"pause_during_peak_hours" json:"pause_during_peak_hours"`
	PeakHours              PeakHours `yaml:"peak_hours" json:"peak_hours"`
	ScheduleCheckInterval  time.Duration `yaml:"schedule_check_interval" json:"schedule_check_interval"`
	StorageWarningPercent  float64   `yaml:"storage_warning_percent" json:"storage_warning_percent"`
	StorageCriticalPercent float64   `yaml:"storage_critical_percent" json:"storage_critical_percent"`
	EmergencyPolicyIDs     []string  `yaml:"emergency_policy_ids" json:"emergency_policy_ids"`
	AvgQueryMsThreshold    float64   `yaml:"avg_query_ms_threshold" json:"avg_query_ms_threshold"`
	CacheHitRateThreshold  float64   `yaml:"cache_hit_rate_threshold" json:"cache_hit_rate_threshold"`
	DailyVolumeThreshold   int       `yaml:"daily_volume_threshold" json:"daily_volume_threshold"`
	ImmediatePolicyIDs     []string  `yaml:"immediate_policy_ids" json:"immediate_policy_ids"`
}

// DefaultAutomationConfig returns conservative automation defaults:
// continuous cleanup off, modest throughput when enabled.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		ContinuousEnabled:      false,
		TargetEmailsPerMinute:  60,
		MaxConcurrentOps:       2,
		PauseDuringPeakHours:   true,
		PeakHours:              PeakHours{StartHour: 9, EndHour: 17},
		ScheduleCheckInterval:  time.Minute,
		StorageWarningPercent:  80,
		StorageCriticalPercent: 95,
		AvgQueryMsThreshold:    500,
		CacheHitRateThreshold:  0.5,
		DailyVolumeThreshold:   1000,
	}
}

const automationConfigKey = "automation_config"

// SystemMetrics is the snapshot the event triggers evaluate.
type SystemMetrics struct {
	StorageUsagePercent float64 `json:"storage_usage_percent"`
	AvgQueryMs          float64 `json:"avg_query_ms"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	DailyEmailCount     int     `json:"daily_email_count"`
}

// AutomationMetrics counts automation activity since start.
type AutomationMetrics struct {
	mu             sync.Mutex
	ContinuousRuns int `json:"continuous_runs"`
	ScheduledRuns  int `json:"scheduled_runs"`
	TriggeredRuns  int `json:"triggered_runs"`
	SkippedPeak    int `json:"skipped_peak"`
}

func (m *AutomationMetrics) snapshot() AutomationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AutomationMetrics{
		ContinuousRuns: m.ContinuousRuns,
		ScheduledRuns:  m.ScheduledRuns,
		TriggeredRuns:  m.TriggeredRuns,
		SkippedPeak:    m.SkippedPeak,
	}
}

// Automation drives the continuous loop, per-policy schedules, and event
// triggers. Every fired operation becomes a queued cleanup job.
type Automation struct {
	cfgMu   sync.RWMutex
	cfg     AutomationConfig
	system  *store.SystemStore
	factory *store.Factory
	submit  JobSubmitter
	clock   Clock
	log     *zap.Logger
	metrics AutomationMetrics
}

// NewAutomation builds the automation engine. Persisted config overrides the
// passed defaults so automation survives restarts.
func NewAutomation(cfg AutomationConfig, system *store.SystemStore, factory *store.Factory, submit JobSubmitter, log *zap.Logger) *Automation {
	a := &Automation{
		cfg:     cfg,
		system:  system,
		factory: factory,
		submit:  submit,
		clock:   realClock{},
		log:     log.Named("automation"),
	}
	a.loadPersistedConfig()
	return a
}

func (a *Automation) loadPersistedConfig() {
	raw, err := a.system.GetAutomationState(context.Background(), automationConfigKey)
	if err != nil || raw == "" {
		return
	}
	var cfg AutomationConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		a.log.Warn("persisted automation config unreadable", zap.Error(err))
		return
	}
	a.cfg = cfg
}

// Config returns the active configuration.
func (a *Automation) Config() AutomationConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// UpdateConfig replaces and persists the configuration.
func (a *Automation) UpdateConfig(ctx context.Context, cfg AutomationConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding automation config: %w", err)
	}
	if err := a.system.SetAutomationState(ctx, automationConfigKey, string(raw)); err != nil {
		return err
	}
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
	a.log.Info("automation config updated", zap.Bool("continuous", cfg.ContinuousEnabled))
	return nil
}

// Metrics returns a copy of the automation counters.
func (a *Automation) Metrics() AutomationMetrics { return a.metrics.snapshot() }

// Run starts the loops and blocks until the context is cancelled.
func (a *Automation) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.continuousLoop(ctx) })
	g.Go(func() error { return a.scheduleLoop(ctx) })
	return g.Wait()
}

// continuousLoop submits cleanup jobs at a rate derived from
// target_emails_per_minute, pausing during peak hours and whenever the
// in-flight cap is reached.
func (a *Automation) continuousLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.continuousInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cfg := a.Config()
		if !cfg.ContinuousEnabled {
			continue
		}
		now := a.clock.Now()
		if cfg.PauseDuringPeakHours && cfg.PeakHours.Contains(now) {
			a.metrics.mu.Lock()
			a.metrics.SkippedPeak++
			a.metrics.mu.Unlock()
			continue
		}
		active, err := a.submit.ActiveCleanupJobs(ctx)
		if err != nil {
			a.log.Warn("active job count failed", zap.Error(err))
			continue
		}
		if active >= cfg.MaxConcurrentOps {
			continue
		}

		if err := a.submitForAllUsers(ctx, CleanupRequest{
			MaxEmails: cfg.TargetEmailsPerMinute,
			Trigger:   "continuous",
		}); err != nil {
			a.log.Warn("continuous submission failed", zap.Error(err))
			continue
		}
		a.metrics.mu.Lock()
		a.metrics.ContinuousRuns++
		a.metrics.mu.Unlock()
	}
}

func (a *Automation) continuousInterval() time.Duration {
	cfg := a.Config()
	batch := cfg.TargetEmailsPerMinute
	if batch <= 0 {
		batch = 60
	}
	// One batch-sized job per minute keeps the average at the target rate.
	return time.Minute
}

// scheduleLoop evaluates every enabled policy schedule. Firing is driven by
// persisted last-fired instants, never a live tick, so a missed or repeated
// wall-clock minute cannot double-fire a schedule.
func (a *Automation) scheduleLoop(ctx context.Context) error {
	interval := a.Config().ScheduleCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		a.EvaluateSchedules(ctx)
	}
}

// EvaluateSchedules fires every schedule that is due. Exported for tests and
// for the trigger_cleanup force path.
func (a *Automation) EvaluateSchedules(ctx context.Context) {
	users, err := a.system.ListUsers(ctx)
	if err != nil {
		a.log.Warn("listing users for schedules failed", zap.Error(err))
		return
	}
	now := a.clock.Now()

	for _, u := range users {
		st, err := a.factory.ForUser(u.ID)
		if err != nil {
			a.log.Warn("opening user store failed", zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		policies, err := st.ListPolicies(ctx, true)
		if err != nil {
			a.log.Warn("listing policies failed", zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		for _, p := range policies {
			if !p.Schedule.Enabled {
				continue
			}
			due, err := a.scheduleDue(ctx, u.ID, p, now)
			if err != nil {
				a.log.Warn("schedule evaluation failed",
					zap.String("policy_id", p.ID), zap.Error(err))
				continue
			}
			if !due {
				continue
			}
			if _, err := a.submit.SubmitCleanup(ctx, u.ID, CleanupRequest{
				PolicyID: p.ID,
				Trigger:  "schedule",
			}); err != nil {
				a.log.Warn("scheduled submission failed",
					zap.String("policy_id", p.ID), zap.Error(err))
				continue
			}
			if err := a.system.SetLastFired(ctx, u.ID, p.ID, now); err != nil {
				a.log.Warn("persisting last fired failed",
					zap.String("policy_id", p.ID), zap.Error(err))
			}
			a.metrics.mu.Lock()
			a.metrics.ScheduledRuns++
			a.metrics.mu.Unlock()
		}
	}
}

// scheduleDue decides whether a schedule should fire at now, given when it
// last fired. Each scheduled instant fires at most once.
func (a *Automation) scheduleDue(ctx context.Context, userID string, p *model.CleanupPolicy, now time.Time) (bool, error) {
	last, err := a.system.LastFired(ctx, userID, p.ID)
	if err != nil {
		return false, err
	}

	switch p.Schedule.Frequency {
	case model.FrequencyContinuous:
		// Continuous schedules belong to the continuous loop.
		return false, nil
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
	default:
		return false, nil
	}

	due := lastScheduledInstant(p.Schedule, now)
	if due.IsZero() || now.Before(due) {
		return false, nil
	}
	return last.Before(due), nil
}

// lastScheduledInstant returns the most recent instant at or before now at
// which the schedule was supposed to fire.
func lastScheduledInstant(s model.PolicySchedule, now time.Time) time.Time {
	hh, mm := parseScheduleTime(s.Time)
	at := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())

	switch s.Frequency {
	case model.FrequencyDaily:
		if at.After(now) {
			at = at.AddDate(0, 0, -1)
		}
		return at
	case model.FrequencyWeekly:
		// Fires on Sundays.
		for at.Weekday() != time.Sunday || at.After(now) {
			at = at.AddDate(0, 0, -1)
			at = time.Date(at.Year(), at.Month(), at.Day(), hh, mm, 0, 0, now.Location())
		}
		return at
	case model.FrequencyMonthly:
		// Fires on the first of the month.
		at = time.Date(now.Year(), now.Month(), 1, hh, mm, 0, 0, now.Location())
		if at.After(now) {
			at = at.AddDate(0, -1, 0)
		}
		return at
	}
	return time.Time{}
}

func parseScheduleTime(s string) (hh, mm int) {
	if s == "" {
		return 0, 0
	}
	_, _ = fmt.Sscanf(s, "%d:%d", &hh, &mm)
	if hh < 0 || hh > 23 {
		hh = 0
	}
	if mm < 0 || mm > 59 {
		mm = 0
	}
	return hh, mm
}

// HandleMetrics evaluates the event triggers against a metrics snapshot and
// submits jobs as configured.
func (a *Automation) HandleMetrics(ctx context.Context, m SystemMetrics) {
	cfg := a.Config()

	switch {
	case cfg.StorageCriticalPercent > 0 && m.StorageUsagePercent >= cfg.StorageCriticalPercent:
		a.fireTriggered(ctx, "storage_critical", "emergency", cfg.EmergencyPolicyIDs)
	case cfg.StorageWarningPercent > 0 && m.StorageUsagePercent >= cfg.StorageWarningPercent:
		a.fireTriggered(ctx, "storage_warning", "normal", nil)
	}

	if (cfg.AvgQueryMsThreshold > 0 && m.AvgQueryMs > cfg.AvgQueryMsThreshold) ||
		(cfg.CacheHitRateThreshold > 0 && m.CacheHitRate > 0 && m.CacheHitRate < cfg.CacheHitRateThreshold) {
		a.fireTriggered(ctx, "performance", "normal", nil)
	}

	if cfg.DailyVolumeThreshold > 0 && m.DailyEmailCount > cfg.DailyVolumeThreshold {
		a.fireTriggered(ctx, "volume", "normal", cfg.ImmediatePolicyIDs)
	}
}

func (a *Automation) fireTriggered(ctx context.Context, trigger, priority string, policyIDs []string) {
	reqs := []CleanupRequest{{Trigger: trigger, Priority: priority}}
	if len(policyIDs) > 0 {
		reqs = reqs[:0]
		for _, id := range policyIDs {
			reqs = append(reqs, CleanupRequest{Trigger: trigger, Priority: priority, PolicyID: id})
		}
	}
	for _, req := range reqs {
		if err := a.submitForAllUsers(ctx, req); err != nil {
			a.log.Warn("triggered submission failed",
				zap.String("trigger", trigger), zap.Error(err))
			return
		}
	}
	a.metrics.mu.Lock()
	a.metrics.TriggeredRuns++
	a.metrics.mu.Unlock()
	a.log.Info("event trigger fired",
		zap.String("trigger", trigger), zap.String("priority", priority))
}

func (a *Automation) submitForAllUsers(ctx context.Context, req CleanupRequest) error {
	users, err := a.system.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if _, err := a.submit.SubmitCleanup(ctx, u.ID, req); err != nil {
			// Single-flight conflicts are expected under continuous load.
			a.log.Debug("submission skipped",
				zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return nil
}
