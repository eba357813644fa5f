package models

import "time"

// Window is a half-open time range [Since, Until) evaluated against
// item discovery timestamps.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// LastDays builds the common "last N days" window ending now.
func LastDays(days int) Window {
	until := time.Now().UTC()
	return Window{Since: until.AddDate(0, 0, -days), Until: until}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

// ItemFilters optionally restrict a digest query. Zero values mean no
// restriction.
type ItemFilters struct {
	FeedID      uint     `json:"feed_id,omitempty"`
	Tags        []string `json:"tags,omitempty"` // any-match
	MinPriority Priority `json:"min_priority,omitempty"`
}

func (f ItemFilters) Match(item *Item) bool {
	if f.FeedID != 0 && item.FeedID != f.FeedID {
		return false
	}
	if f.MinPriority != "" && item.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range item.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DigestCaps bound the assembled digest. Zero means uncapped.
type DigestCaps struct {
	PerFeed int `json:"per_feed,omitempty"`
	Total   int `json:"total,omitempty"`
}

type DigestGroup struct {
	FeedID   uint   `json:"feed_id"`
	FeedName string `json:"feed"`
	Items    Items  `json:"items"`
}

// Digest is the assembled, capped, sorted selection handed to a
// renderer. Assembly never mutates item status.
type Digest struct {
	Window             Window        `json:"window"`
	Groups             []DigestGroup `json:"groups"`
	TotalItems         int           `json:"total_items"`
	FeedCount          int           `json:"feed_count"`
	ReadingTimeMinutes int           `json:"reading_time_minutes"`
	GeneratedAt        time.Time     `json:"generated_at"`
}
