package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/store"
	"github.com/fiffu/feedbucket/senders"
)

func newTestScheduler(t *testing.T, st store.Store, refresh RefreshFunc, reg senders.Registry) *Scheduler {
	t.Helper()
	cfg := &config.Config{WebhookTimeoutSecs: 5}
	if reg == nil {
		reg = senders.Registry{}
	}
	return New(cfg, zap.NewNop(), st, refresh, reg)
}

func seedFeeds(t *testing.T, st store.Store, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		feed := &models.Feed{URL: "https://example.com/rss/" + string(rune('a'+i)), Name: "Feed", Active: true}
		require.NoError(t, st.CreateFeed(context.Background(), feed))
		ids = append(ids, feed.ID)
	}
	return ids
}

func countingRefresh(counter *atomic.Int32, newPerFeed int) RefreshFunc {
	return func(ctx context.Context, feedID uint, maxItems int) models.RefreshResult {
		counter.Add(1)
		return models.RefreshResult{FeedID: feedID, NewCount: newPerFeed}
	}
}

func TestScheduler_CreateValidation(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)

	var verr *models.ValidationError
	assert.ErrorAs(t, s.Create(models.Schedule{Interval: time.Minute}), &verr)
	assert.ErrorAs(t, s.Create(models.Schedule{Name: "fast", Interval: 100 * time.Millisecond}), &verr)
	assert.ErrorAs(t, s.Create(models.Schedule{
		Name: "hooked", Interval: time.Minute, Webhook: &models.WebhookTarget{},
	}), &verr)

	require.NoError(t, s.Create(models.Schedule{Name: "hourly", Interval: time.Hour}))
	assert.True(t, models.IsConflict(s.Create(models.Schedule{Name: "hourly", Interval: time.Minute})))
}

func TestScheduler_CreateDefaultsMaxItems(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)
	require.NoError(t, s.Create(models.Schedule{Name: "hourly", Interval: time.Hour}))

	got, err := s.Get("hourly")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxItems, got.MaxItems)
}

func TestScheduler_Update(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)
	require.NoError(t, s.Create(models.Schedule{Name: "hourly", Interval: time.Hour}))

	interval := 30 * time.Minute
	maxItems := 25
	enabled := false
	cfg, err := s.Update("hourly", ScheduleUpdate{
		Interval: &interval,
		MaxItems: &maxItems,
		Enabled:  &enabled,
		Webhook:  &models.WebhookTarget{URL: "https://hooks.example.com/x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Interval)
	assert.Equal(t, 25, cfg.MaxItems)
	assert.False(t, cfg.Enabled)
	require.NotNil(t, cfg.Webhook)

	got, err := s.Get("hourly")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got.Interval)
	assert.False(t, got.Enabled)

	// Untouched fields survive a partial update.
	enabled = true
	cfg, err = s.Update("hourly", ScheduleUpdate{Enabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Interval)
	assert.True(t, cfg.Enabled)
}

func TestScheduler_UpdateValidation(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)
	require.NoError(t, s.Create(models.Schedule{Name: "hourly", Interval: time.Hour}))

	var verr *models.ValidationError
	short := 100 * time.Millisecond
	_, err := s.Update("hourly", ScheduleUpdate{Interval: &short})
	assert.ErrorAs(t, err, &verr)

	zero := 0
	_, err = s.Update("hourly", ScheduleUpdate{MaxItems: &zero})
	assert.ErrorAs(t, err, &verr)

	_, err = s.Update("hourly", ScheduleUpdate{Webhook: &models.WebhookTarget{}})
	assert.ErrorAs(t, err, &verr)

	_, err = s.Update("missing", ScheduleUpdate{})
	assert.True(t, models.IsNotFound(err))
}

func TestScheduler_DisableStopsTimer(t *testing.T) {
	st := store.NewMemoryStore()
	seedFeeds(t, st, 1)

	var calls atomic.Int32
	s := newTestScheduler(t, st, countingRefresh(&calls, 1), nil)
	require.NoError(t, s.Create(models.Schedule{Name: "tick", Interval: time.Second, Enabled: true}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	enabled := false
	_, err := s.Update("tick", ScheduleUpdate{Enabled: &enabled})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())

	// Re-enabling resumes ticking.
	enabled = true
	_, err = s.Update("tick", ScheduleUpdate{Enabled: &enabled})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return calls.Load() > settled }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RegistryOperations(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)

	require.NoError(t, s.Create(models.Schedule{Name: "b", Interval: time.Hour}))
	require.NoError(t, s.Create(models.Schedule{Name: "a", Interval: time.Hour}))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)

	require.NoError(t, s.Remove("a"))
	assert.True(t, models.IsNotFound(s.Remove("a")))

	_, err := s.Get("a")
	assert.True(t, models.IsNotFound(err))
}

func TestScheduler_TriggerFansOut(t *testing.T) {
	st := store.NewMemoryStore()
	seedFeeds(t, st, 3)

	var calls atomic.Int32
	s := newTestScheduler(t, st, countingRefresh(&calls, 2), nil)
	require.NoError(t, s.Create(models.Schedule{Name: "all", Interval: time.Hour}))

	summary, err := s.Trigger(context.Background(), "all")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 6, summary.TotalNew)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, summary.Feeds, 3)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "all", summary.ScheduleName)

	got, err := s.Get("all")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRun)
	assert.NotNil(t, got.NextRun)
}

func TestScheduler_TriggerSingleFeedScope(t *testing.T) {
	st := store.NewMemoryStore()
	ids := seedFeeds(t, st, 2)

	var calls atomic.Int32
	s := newTestScheduler(t, st, countingRefresh(&calls, 1), nil)
	require.NoError(t, s.Create(models.Schedule{Name: "one", FeedID: ids[1], Interval: time.Hour}))

	summary, err := s.Trigger(context.Background(), "one")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, summary.Feeds, 1)
	assert.Equal(t, ids[1], summary.Feeds[0].FeedID)
}

func TestScheduler_TriggerUnknownSchedule(t *testing.T) {
	s := newTestScheduler(t, store.NewMemoryStore(), nil, nil)
	_, err := s.Trigger(context.Background(), "nope")
	assert.True(t, models.IsNotFound(err))
}

func TestScheduler_ConcurrentTriggerIsDropped(t *testing.T) {
	st := store.NewMemoryStore()
	seedFeeds(t, st, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	refresh := func(ctx context.Context, feedID uint, maxItems int) models.RefreshResult {
		close(entered)
		<-release
		return models.RefreshResult{FeedID: feedID, NewCount: 1}
	}

	s := newTestScheduler(t, st, refresh, nil)
	require.NoError(t, s.Create(models.Schedule{Name: "slow", Interval: time.Hour}))

	done := make(chan *models.RunSummary)
	go func() {
		summary, err := s.Trigger(context.Background(), "slow")
		assert.NoError(t, err)
		done <- summary
	}()

	<-entered

	// Second trigger while the first is mid-run: dropped, not queued.
	dropped, err := s.Trigger(context.Background(), "slow")
	require.NoError(t, err)
	assert.Nil(t, dropped)

	close(release)
	summary := <-done
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.TotalNew)

	stats := s.Stats()
	require.Len(t, stats.Schedules, 1)
	assert.Equal(t, 1, stats.Schedules[0].SkippedTicks)
}

func TestScheduler_FailureIsolation(t *testing.T) {
	st := store.NewMemoryStore()
	ids := seedFeeds(t, st, 2)

	refresh := func(ctx context.Context, feedID uint, maxItems int) models.RefreshResult {
		if feedID == ids[0] {
			return models.RefreshResult{FeedID: feedID, Err: &models.FetchFailure{Cause: models.CauseNetwork, URL: "x"}}
		}
		return models.RefreshResult{FeedID: feedID, NewCount: 3}
	}

	s := newTestScheduler(t, st, refresh, nil)
	summary := s.RunAdHoc(context.Background(), 0, 0)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.TotalNew)
	assert.Len(t, summary.Errors(), 1)

	stats := s.Stats()
	require.NotNil(t, stats.LastManual)
	assert.Equal(t, summary.RunID, stats.LastManual.RunID)
}

func TestScheduler_NotifyWebhook(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	seedFeeds(t, st, 1)

	var calls atomic.Int32
	cfg := &config.Config{WebhookTimeoutSecs: 5}
	reg := senders.NewSenderRegistry(zap.NewNop(), cfg, http.DefaultTransport)
	s := New(cfg, zap.NewNop(), st, countingRefresh(&calls, 2), reg)

	require.NoError(t, s.Create(models.Schedule{
		Name:     "notified",
		Interval: time.Hour,
		Webhook: &models.WebhookTarget{
			URL:   srv.URL,
			Extra: map[string]any{"channel": "#feeds"},
		},
	}))

	summary, err := s.Trigger(context.Background(), "notified")
	require.NoError(t, err)
	require.NotNil(t, summary)

	select {
	case payload := <-received:
		assert.Equal(t, "notified", payload["schedule"])
		assert.Equal(t, summary.RunID, payload["run_id"])
		assert.Equal(t, float64(2), payload["total_new"])
		assert.Equal(t, "#feeds", payload["channel"])
	case <-time.After(3 * time.Second):
		t.Fatal("webhook notification never arrived")
	}
}

func TestScheduler_NotifyFailureDoesNotFailRun(t *testing.T) {
	attempted := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempted <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	seedFeeds(t, st, 1)

	var calls atomic.Int32
	cfg := &config.Config{WebhookTimeoutSecs: 5}
	reg := senders.NewSenderRegistry(zap.NewNop(), cfg, http.DefaultTransport)
	s := New(cfg, zap.NewNop(), st, countingRefresh(&calls, 2), reg)

	require.NoError(t, s.Create(models.Schedule{
		Name:     "doomed-hook",
		Interval: time.Hour,
		Webhook:  &models.WebhookTarget{URL: srv.URL},
	}))

	// The failing webhook target never surfaces as a run failure.
	summary, err := s.Trigger(context.Background(), "doomed-hook")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.TotalNew)
	assert.Equal(t, 0, summary.Failed)

	select {
	case <-attempted:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook dispatch was never attempted")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	seedFeeds(t, st, 1)

	var calls atomic.Int32
	s := newTestScheduler(t, st, countingRefresh(&calls, 1), nil)
	require.NoError(t, s.Create(models.Schedule{Name: "tick", Interval: time.Second, Enabled: true}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.Stats().Running)

	// Stopped timers no longer fire.
	time.Sleep(100 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}
