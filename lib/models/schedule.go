package models

import (
	"strconv"
	"time"
)

// WebhookTarget is a schedule's optional notification endpoint. Extra
// is an opaque payload fragment merged into the notification body.
type WebhookTarget struct {
	URL   string         `json:"url"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Schedule is a named, independently-timed recurring trigger. FeedID 0
// targets all active feeds. Schedules live only in the scheduler's
// in-process registry.
type Schedule struct {
	Name     string         `json:"name"`
	FeedID   uint           `json:"feed_id,omitempty"`
	Interval time.Duration  `json:"interval"`
	MaxItems int            `json:"max_items"`
	Enabled  bool           `json:"enabled"`
	Webhook  *WebhookTarget `json:"webhook,omitempty"`

	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// RefreshResult summarizes one feed's fetch->dedup->persist cycle.
type RefreshResult struct {
	FeedID    uint   `json:"feed_id"`
	FeedName  string `json:"feed,omitempty"`
	NewCount  int    `json:"new"`
	Skipped   int    `json:"skipped,omitempty"`   // candidates beyond the per-run cap
	Malformed int    `json:"malformed,omitempty"` // entries skipped during parse
	Err       error  `json:"-"`
}

func (r RefreshResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RunSummary aggregates the per-feed results of one fan-out run.
type RunSummary struct {
	RunID        string          `json:"run_id"`
	ScheduleName string          `json:"schedule"`
	StartedAt    time.Time       `json:"started_at"`
	ElapsedMsecs int64           `json:"elapsed_msecs"`
	TotalNew     int             `json:"total_new"`
	Failed       int             `json:"failed"`
	Feeds        []RefreshResult `json:"feeds"`
}

// Errors maps feed name (or id) to the failure message for each feed
// that could not be refreshed.
func (s *RunSummary) Errors() map[string]string {
	out := make(map[string]string)
	for _, r := range s.Feeds {
		msg := r.ErrorString()
		if msg == "" {
			continue
		}
		name := r.FeedName
		if name == "" {
			name = strconv.FormatUint(uint64(r.FeedID), 10)
		}
		out[name] = msg
	}
	return out
}
