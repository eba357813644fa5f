package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fiffu/feedbucket/lib/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection in the Store contract.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) CreateFeed(ctx context.Context, feed *models.Feed) error {
	// Pre-check keeps the common duplicate case a clean conflict; the
	// unique index on url backstops races.
	var count int64
	tx := s.db.WithContext(ctx).Model(&models.Feed{}).Where("url = ?", feed.URL).Count(&count)
	if tx.Error != nil {
		return tx.Error
	}
	if count > 0 {
		return &models.ConflictError{Resource: "feed", Key: feed.URL}
	}

	tx = s.db.WithContext(ctx).Create(feed)
	if err := tx.Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &models.ConflictError{Resource: "feed", Key: feed.URL}
		}
		return err
	}
	return nil
}

func (s *gormStore) GetFeed(ctx context.Context, id uint) (*models.Feed, error) {
	feed := &models.Feed{}
	tx := s.db.WithContext(ctx).First(feed, id)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Resource: "feed", Key: id}
	} else if err != nil {
		return nil, err
	}
	return feed, nil
}

func (s *gormStore) GetFeedByURL(ctx context.Context, url string) (*models.Feed, error) {
	feed := &models.Feed{}
	tx := s.db.WithContext(ctx).Where("url = ?", url).First(feed)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Resource: "feed", Key: url}
	} else if err != nil {
		return nil, err
	}
	return feed, nil
}

func (s *gormStore) UpdateFeed(ctx context.Context, feed *models.Feed) error {
	tx := s.db.WithContext(ctx).Save(feed)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &models.NotFoundError{Resource: "feed", Key: feed.ID}
	}
	return nil
}

func (s *gormStore) DeleteFeed(ctx context.Context, id uint) error {
	tx := s.db.WithContext(ctx).Delete(&models.Feed{}, id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &models.NotFoundError{Resource: "feed", Key: id}
	}
	// Items stay owned by the feed id; the digest query simply stops
	// matching them once the feed row is gone.
	return nil
}

func (s *gormStore) ListFeeds(ctx context.Context, activeOnly bool) (models.Feeds, error) {
	var feeds models.Feeds
	tx := s.db.WithContext(ctx)
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	if err := tx.Order("id").Find(&feeds).Error; err != nil {
		return nil, err
	}
	return feeds, nil
}

func (s *gormStore) UpdateFeedCursor(ctx context.Context, feedID uint, token string, fetchedAt time.Time) error {
	tx := s.db.WithContext(ctx).Model(&models.Feed{}).Where("id = ?", feedID).
		Updates(map[string]any{"cache_token": token, "last_fetched": fetchedAt})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &models.NotFoundError{Resource: "feed", Key: feedID}
	}
	return nil
}

func (s *gormStore) InsertItem(ctx context.Context, item *models.Item) error {
	tx := s.db.WithContext(ctx).Create(item)
	if err := tx.Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &models.ConflictError{Resource: "item", Key: item.DedupKey}
		}
		return err
	}
	return nil
}

func (s *gormStore) FindItemByDedupKey(ctx context.Context, feedID uint, key string) (*models.Item, error) {
	item := &models.Item{}
	tx := s.db.WithContext(ctx).Where("feed_id = ? AND dedup_key = ?", feedID, key).First(item)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Resource: "item", Key: key}
	} else if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *gormStore) UpdateItemStatus(ctx context.Context, itemID uint, status models.ItemStatus) error {
	if !status.Valid() {
		return models.NewValidationError("unknown item status: %s", status)
	}

	item := &models.Item{}
	tx := s.db.WithContext(ctx).First(item, itemID)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.NotFoundError{Resource: "item", Key: itemID}
	} else if err != nil {
		return err
	}

	if status.Rank() < item.Status.Rank() {
		return models.NewValidationError("item %d status cannot move backward from %s to %s", itemID, item.Status, status)
	}

	return s.db.WithContext(ctx).Model(item).Update("status", status).Error
}

func (s *gormStore) QueryItems(ctx context.Context, w models.Window, f models.ItemFilters) (models.Items, error) {
	var items models.Items
	tx := s.db.WithContext(ctx).
		Where("discovered_at >= ? AND discovered_at < ?", w.Since, w.Until)
	if f.FeedID != 0 {
		tx = tx.Where("feed_id = ?", f.FeedID)
	}
	if err := tx.Order("discovered_at desc").Find(&items).Error; err != nil {
		return nil, err
	}

	// Tag and priority filters run over the decoded rows; tags are
	// JSON-serialized in sqlite and priority ranks are not ordered
	// lexically.
	filtered := items[:0]
	for _, item := range items {
		if f.Match(&item) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}
