// Package store defines the persistence contract consumed by the
// ingestion core, with a gorm-backed implementation and an in-memory
// one.
package store

import (
	"context"
	"time"

	"github.com/fiffu/feedbucket/lib/models"
)

// Store is the narrow persistence contract. Lookups report not-found
// (models.NotFoundError) distinctly from empty results, and each write
// is atomic: no partial item or feed is ever visible to readers.
type Store interface {
	Close() error

	// Feed operations.
	CreateFeed(ctx context.Context, feed *models.Feed) error // ConflictError on duplicate URL
	GetFeed(ctx context.Context, id uint) (*models.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*models.Feed, error)
	UpdateFeed(ctx context.Context, feed *models.Feed) error
	DeleteFeed(ctx context.Context, id uint) error
	ListFeeds(ctx context.Context, activeOnly bool) (models.Feeds, error)
	UpdateFeedCursor(ctx context.Context, feedID uint, token string, fetchedAt time.Time) error

	// Item operations.
	InsertItem(ctx context.Context, item *models.Item) error
	FindItemByDedupKey(ctx context.Context, feedID uint, key string) (*models.Item, error)
	UpdateItemStatus(ctx context.Context, itemID uint, status models.ItemStatus) error
	QueryItems(ctx context.Context, w models.Window, f models.ItemFilters) (models.Items, error)
}
