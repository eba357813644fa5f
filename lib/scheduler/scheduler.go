// Package scheduler owns the registry of named refresh schedules, their
// timers, and run-result notification dispatch.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/store"
	"github.com/fiffu/feedbucket/senders"
)

// RefreshFunc runs one feed's refresh cycle and reports the result
// in-band; it never panics the run.
type RefreshFunc func(ctx context.Context, feedID uint, maxItems int) models.RefreshResult

const defaultMaxItems = 10

type schedule struct {
	cfg models.Schedule

	// runMu is the per-schedule run lock: at most one in-flight
	// execution; a firing that finds it held is dropped, not queued.
	runMu        sync.Mutex
	cancel       context.CancelFunc
	lastRun      *models.RunSummary
	skippedTicks int
}

type Scheduler struct {
	log           *zap.Logger
	store         store.Store
	refresh       RefreshFunc
	senders       senders.Registry
	notifyTimeout time.Duration

	// mu guards the registry and the running state so that add/remove/
	// list are atomic with respect to concurrently executing runs.
	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	schedules map[string]*schedule
	lastAdHoc *models.RunSummary
}

func New(cfg *config.Config, log *zap.Logger, st store.Store, refresh RefreshFunc, reg senders.Registry) *Scheduler {
	return &Scheduler{
		log:           log,
		store:         st,
		refresh:       refresh,
		senders:       reg,
		notifyTimeout: cfg.WebhookTimeout(),
		schedules:     make(map[string]*schedule),
	}
}

// Start begins ticking every enabled schedule. Safe to call once per
// Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already started")
	}
	// Timers outlive the Start call; runs get their own contexts.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	for name, e := range s.schedules {
		if e.cfg.Enabled {
			s.startTimerLocked(name, e)
		}
	}
	s.log.Sugar().Infow("Scheduler started", "schedules", len(s.schedules))
	return nil
}

// Stop cancels all pending timers. In-flight runs are not aborted; they
// simply will not be retriggered.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.log.Sugar().Info("Scheduler stopped")
}

func (s *Scheduler) startTimerLocked(name string, e *schedule) {
	tctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	next := time.Now().UTC().Add(e.cfg.Interval)
	e.cfg.NextRun = &next

	go func() {
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				s.fire(context.Background(), name, e, "timer")
			}
		}
	}()
}

// Create registers a schedule. If the scheduler is already running and
// the schedule is enabled, its timer starts immediately.
func (s *Scheduler) Create(cfg models.Schedule) error {
	if cfg.Name == "" {
		return models.NewValidationError("schedule name must not be empty")
	}
	if cfg.Interval < time.Second {
		return models.NewValidationError("schedule interval must be at least 1s, got %s", cfg.Interval)
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.Webhook != nil && cfg.Webhook.URL == "" {
		return models.NewValidationError("schedule webhook URL must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[cfg.Name]; exists {
		return &models.ConflictError{Resource: "schedule", Key: cfg.Name}
	}

	e := &schedule{cfg: cfg}
	s.schedules[cfg.Name] = e
	if s.running && cfg.Enabled {
		s.startTimerLocked(cfg.Name, e)
	}

	s.log.Sugar().Infow("Created schedule",
		"schedule", cfg.Name, "interval", cfg.Interval, "feed_id", cfg.FeedID, "enabled", cfg.Enabled)
	return nil
}

// ScheduleUpdate carries optional schedule mutations; nil fields are
// left untouched. A non-nil Webhook replaces the target wholesale.
type ScheduleUpdate struct {
	Enabled  *bool
	Interval *time.Duration
	MaxItems *int
	Webhook  *models.WebhookTarget
}

// Update mutates a registered schedule. The timer restarts on the new
// interval; disabling stops it. An in-flight run is allowed to finish.
func (s *Scheduler) Update(name string, upd ScheduleUpdate) (*models.Schedule, error) {
	if upd.Interval != nil && *upd.Interval < time.Second {
		return nil, models.NewValidationError("schedule interval must be at least 1s, got %s", *upd.Interval)
	}
	if upd.MaxItems != nil && *upd.MaxItems <= 0 {
		return nil, models.NewValidationError("schedule max items must be positive, got %d", *upd.MaxItems)
	}
	if upd.Webhook != nil && upd.Webhook.URL == "" {
		return nil, models.NewValidationError("schedule webhook URL must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedules[name]
	if !ok {
		return nil, &models.NotFoundError{Resource: "schedule", Key: name}
	}

	if upd.Interval != nil {
		e.cfg.Interval = *upd.Interval
	}
	if upd.MaxItems != nil {
		e.cfg.MaxItems = *upd.MaxItems
	}
	if upd.Webhook != nil {
		e.cfg.Webhook = upd.Webhook
	}
	if upd.Enabled != nil {
		e.cfg.Enabled = *upd.Enabled
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.cfg.NextRun = nil
	if s.running && e.cfg.Enabled {
		s.startTimerLocked(name, e)
	}

	s.log.Sugar().Infow("Updated schedule",
		"schedule", name, "interval", e.cfg.Interval, "enabled", e.cfg.Enabled)
	cfg := e.cfg
	return &cfg, nil
}

// Remove stops a schedule's timer and drops it from the registry. An
// in-flight run is allowed to finish.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedules[name]
	if !ok {
		return &models.NotFoundError{Resource: "schedule", Key: name}
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(s.schedules, name)
	s.log.Sugar().Infow("Removed schedule", "schedule", name)
	return nil
}

func (s *Scheduler) Get(name string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedules[name]
	if !ok {
		return nil, &models.NotFoundError{Resource: "schedule", Key: name}
	}
	cfg := e.cfg
	return &cfg, nil
}

func (s *Scheduler) List() []models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		out = append(out, e.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger manually fires a schedule. If a run for the same schedule is
// already executing, the trigger is dropped and a nil summary returned.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*models.RunSummary, error) {
	s.mu.Lock()
	e, ok := s.schedules[name]
	s.mu.Unlock()
	if !ok {
		return nil, &models.NotFoundError{Resource: "schedule", Key: name}
	}
	return s.fire(ctx, name, e, "manual"), nil
}

func (s *Scheduler) fire(ctx context.Context, name string, e *schedule, trigger string) *models.RunSummary {
	if !e.runMu.TryLock() {
		s.mu.Lock()
		e.skippedTicks++
		s.mu.Unlock()
		s.log.Sugar().Warnw("Skipped tick: previous run still executing", "schedule", name, "trigger", trigger)
		return nil
	}
	defer e.runMu.Unlock()

	s.mu.Lock()
	cfg := e.cfg
	s.mu.Unlock()

	summary := s.runScope(ctx, name, cfg.FeedID, cfg.MaxItems)

	now := time.Now().UTC()
	next := now.Add(cfg.Interval)
	s.mu.Lock()
	e.cfg.LastRun = &now
	e.cfg.NextRun = &next
	e.lastRun = summary
	s.mu.Unlock()

	if cfg.Webhook != nil {
		// Detached so dispatch latency never delays reporting the run
		// result to the triggering caller.
		go s.notify(cfg, summary)
	}
	return summary
}

// RunAdHoc performs a one-off fan-out outside any schedule, for the
// triggerRefresh operation.
func (s *Scheduler) RunAdHoc(ctx context.Context, feedID uint, maxItems int) *models.RunSummary {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	summary := s.runScope(ctx, "manual", feedID, maxItems)

	s.mu.Lock()
	s.lastAdHoc = summary
	s.mu.Unlock()
	return summary
}

// runScope resolves the target scope to concrete feeds and refreshes
// them concurrently. One feed's failure never cancels or rolls back a
// sibling's refresh.
func (s *Scheduler) runScope(ctx context.Context, label string, feedID uint, maxItems int) *models.RunSummary {
	started := time.Now().UTC()
	summary := &models.RunSummary{
		RunID:        uuid.NewString(),
		ScheduleName: label,
		StartedAt:    started,
	}

	var feeds models.Feeds
	if feedID != 0 {
		feed, err := s.store.GetFeed(ctx, feedID)
		if err != nil {
			summary.Feeds = []models.RefreshResult{{FeedID: feedID, Err: err}}
			summary.Failed = 1
			summary.ElapsedMsecs = time.Since(started).Milliseconds()
			return summary
		}
		feeds = models.Feeds{*feed}
	} else {
		var err error
		feeds, err = s.store.ListFeeds(ctx, true)
		if err != nil {
			s.log.Sugar().Errorw("Failed to resolve active feeds", "schedule", label, "err", err)
			summary.ElapsedMsecs = time.Since(started).Milliseconds()
			return summary
		}
	}

	results := make([]models.RefreshResult, len(feeds))
	var wg sync.WaitGroup
	for i, feed := range feeds {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			results[i] = s.refresh(ctx, id, maxItems)
		}(i, feed.ID)
	}
	wg.Wait()

	summary.Feeds = results
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
		} else {
			summary.TotalNew += r.NewCount
		}
	}
	summary.ElapsedMsecs = time.Since(started).Milliseconds()

	s.log.Sugar().Infow("Run completed",
		"run_id", summary.RunID, "schedule", label,
		"feeds", len(results), "total_new", summary.TotalNew, "failed", summary.Failed,
		"elapsed_msecs", summary.ElapsedMsecs,
	)
	return summary
}

// notify dispatches the run summary to the schedule's webhook target.
// Best effort: one attempt, own timeout, failures logged and swallowed.
func (s *Scheduler) notify(cfg models.Schedule, summary *models.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	payload := map[string]any{
		"schedule":  summary.ScheduleName,
		"run_id":    summary.RunID,
		"timestamp": summary.StartedAt.Format(time.RFC3339),
		"total_new": summary.TotalNew,
		"feeds":     summary.Feeds,
		"errors":    summary.Errors(),
	}
	for k, v := range cfg.Webhook.Extra {
		payload[k] = v
	}

	sender, ok := s.senders["webhook"]
	if !ok {
		s.log.Sugar().Warnw("No webhook sender registered", "schedule", cfg.Name)
		return
	}
	if _, err := sender.Send(ctx, senders.Message{Target: cfg.Webhook.URL, Payload: payload}); err != nil {
		s.log.Sugar().Warnw("Failed to dispatch notification", "schedule", cfg.Name, "url", cfg.Webhook.URL, "err", err)
		return
	}
	s.log.Sugar().Infow("Dispatched notification", "schedule", cfg.Name, "run_id", summary.RunID)
}

// ScheduleStatus is one schedule's registry entry plus its run
// bookkeeping.
type ScheduleStatus struct {
	models.Schedule
	SkippedTicks int                `json:"skipped_ticks"`
	LastSummary  *models.RunSummary `json:"last_summary,omitempty"`
}

type Stats struct {
	Running    bool               `json:"running"`
	Schedules  []ScheduleStatus   `json:"schedules"`
	LastManual *models.RunSummary `json:"last_manual,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Running: s.running, LastManual: s.lastAdHoc}
	for _, e := range s.schedules {
		stats.Schedules = append(stats.Schedules, ScheduleStatus{
			Schedule:     e.cfg,
			SkippedTicks: e.skippedTicks,
			LastSummary:  e.lastRun,
		})
	}
	sort.Slice(stats.Schedules, func(i, j int) bool {
		return stats.Schedules[i].Name < stats.Schedules[j].Name
	})
	return stats
}
