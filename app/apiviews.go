package app

import (
	"time"

	"github.com/fiffu/feedbucket/lib/models"
)

type ScheduleView struct {
	Name     string                `json:"name"`
	FeedID   uint                  `json:"feed_id,omitempty"`
	Interval string                `json:"interval"`
	MaxItems int                   `json:"max_items"`
	Enabled  bool                  `json:"enabled"`
	Webhook  *models.WebhookTarget `json:"webhook,omitempty"`
	LastRun  *string               `json:"last_run,omitempty"`
	NextRun  *string               `json:"next_run,omitempty"`
}

func (view ScheduleView) From(entity models.Schedule) ScheduleView {
	return ScheduleView{
		Name:     entity.Name,
		FeedID:   entity.FeedID,
		Interval: entity.Interval.String(),
		MaxItems: entity.MaxItems,
		Enabled:  entity.Enabled,
		Webhook:  entity.Webhook,
		LastRun:  isoformat(entity.LastRun),
		NextRun:  isoformat(entity.NextRun),
	}
}

type RunView struct {
	RunID        string                 `json:"run_id"`
	Schedule     string                 `json:"schedule"`
	StartedAt    string                 `json:"started_at"`
	ElapsedMsecs int64                  `json:"elapsed_msecs"`
	TotalNew     int                    `json:"total_new"`
	Failed       int                    `json:"failed"`
	Feeds        []models.RefreshResult `json:"feeds"`
	Errors       map[string]string      `json:"errors,omitempty"`
}

func (view RunView) From(entity *models.RunSummary) RunView {
	return RunView{
		RunID:        entity.RunID,
		Schedule:     entity.ScheduleName,
		StartedAt:    entity.StartedAt.UTC().Format(time.RFC3339),
		ElapsedMsecs: entity.ElapsedMsecs,
		TotalNew:     entity.TotalNew,
		Failed:       entity.Failed,
		Feeds:        entity.Feeds,
		Errors:       entity.Errors(),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
