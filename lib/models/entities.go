package models

import (
	"strings"
	"time"
)

// ItemStatus moves strictly forward: new -> processed -> delivered.
type ItemStatus string

const (
	StatusNew       ItemStatus = "new"
	StatusProcessed ItemStatus = "processed"
	StatusDelivered ItemStatus = "delivered"
)

var statusRank = map[ItemStatus]int{
	StatusNew:       0,
	StatusProcessed: 1,
	StatusDelivered: 2,
}

func (s ItemStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s ItemStatus) Valid() bool { return s.Rank() >= 0 }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return r
}

func (p Priority) Valid() bool { return p.Rank() >= 0 }

type Feed struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	URL         string    `gorm:"uniqueIndex" json:"url"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `gorm:"serializer:json" json:"tags"`
	Active      bool      `json:"active"`

	// Cursor state carried across refreshes.
	LastFetched *time.Time `json:"last_fetched,omitempty"`
	CacheToken  string     `json:"-"`
}

type Feeds []Feed

type Item struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	FeedID       uint       `gorm:"index:idx_feed_dedup,unique" json:"feed_id"`
	DedupKey     string     `gorm:"index:idx_feed_dedup,unique" json:"-"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Content      string     `json:"content,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	Status       ItemStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	Tags         []string   `gorm:"serializer:json" json:"tags"`
}

type Items []Item

// EffectiveTime orders items by publication, substituting the discovery
// timestamp when the feed never reported one.
func (i *Item) EffectiveTime() time.Time {
	if i.PublishedAt != nil {
		return *i.PublishedAt
	}
	return i.DiscoveredAt
}

const wordsPerMinute = 200

// ReadingTime estimates minutes to read the item content, minimum 1 for
// any non-empty content.
func (i *Item) ReadingTime() int {
	words := len(strings.Fields(i.Content))
	if words == 0 {
		return 0
	}
	minutes := words / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
