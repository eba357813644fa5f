package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fiffu/feedbucket/lib/models"
)

// MemoryStore keeps everything in mutex-guarded maps. It backs tests
// and small single-process deployments that do not need durability.
type MemoryStore struct {
	mu         sync.Mutex
	feeds      map[uint]*models.Feed
	items      map[uint]*models.Item
	itemsByKey map[uint]map[string]uint // feedID -> dedupKey -> itemID
	nextFeedID uint
	nextItemID uint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		feeds:      make(map[uint]*models.Feed),
		items:      make(map[uint]*models.Item),
		itemsByKey: make(map[uint]map[string]uint),
	}
}

func (s *MemoryStore) Close() error { return nil }

func copyFeed(f *models.Feed) *models.Feed {
	out := *f
	out.Tags = append([]string(nil), f.Tags...)
	return &out
}

func copyItem(i *models.Item) *models.Item {
	out := *i
	out.Tags = append([]string(nil), i.Tags...)
	return &out
}

func (s *MemoryStore) CreateFeed(ctx context.Context, feed *models.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.feeds {
		if existing.URL == feed.URL {
			return &models.ConflictError{Resource: "feed", Key: feed.URL}
		}
	}

	s.nextFeedID++
	feed.ID = s.nextFeedID
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now
	s.feeds[feed.ID] = copyFeed(feed)
	return nil
}

func (s *MemoryStore) GetFeed(ctx context.Context, id uint) (*models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "feed", Key: id}
	}
	return copyFeed(feed), nil
}

func (s *MemoryStore) GetFeedByURL(ctx context.Context, url string) (*models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, feed := range s.feeds {
		if feed.URL == url {
			return copyFeed(feed), nil
		}
	}
	return nil, &models.NotFoundError{Resource: "feed", Key: url}
}

func (s *MemoryStore) UpdateFeed(ctx context.Context, feed *models.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[feed.ID]; !ok {
		return &models.NotFoundError{Resource: "feed", Key: feed.ID}
	}
	feed.UpdatedAt = time.Now().UTC()
	s.feeds[feed.ID] = copyFeed(feed)
	return nil
}

func (s *MemoryStore) DeleteFeed(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return &models.NotFoundError{Resource: "feed", Key: id}
	}
	delete(s.feeds, id)
	return nil
}

func (s *MemoryStore) ListFeeds(ctx context.Context, activeOnly bool) (models.Feeds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(models.Feeds, 0, len(s.feeds))
	for _, feed := range s.feeds {
		if activeOnly && !feed.Active {
			continue
		}
		out = append(out, *copyFeed(feed))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateFeedCursor(ctx context.Context, feedID uint, token string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[feedID]
	if !ok {
		return &models.NotFoundError{Resource: "feed", Key: feedID}
	}
	feed.CacheToken = token
	t := fetchedAt
	feed.LastFetched = &t
	feed.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) InsertItem(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.itemsByKey[item.FeedID]
	if !ok {
		keys = make(map[string]uint)
		s.itemsByKey[item.FeedID] = keys
	}
	if _, exists := keys[item.DedupKey]; exists {
		return &models.ConflictError{Resource: "item", Key: item.DedupKey}
	}

	s.nextItemID++
	item.ID = s.nextItemID
	s.items[item.ID] = copyItem(item)
	keys[item.DedupKey] = item.ID
	return nil
}

func (s *MemoryStore) FindItemByDedupKey(ctx context.Context, feedID uint, key string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.itemsByKey[feedID][key]; ok {
		return copyItem(s.items[id]), nil
	}
	return nil, &models.NotFoundError{Resource: "item", Key: key}
}

func (s *MemoryStore) UpdateItemStatus(ctx context.Context, itemID uint, status models.ItemStatus) error {
	if !status.Valid() {
		return models.NewValidationError("unknown item status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return &models.NotFoundError{Resource: "item", Key: itemID}
	}
	if status.Rank() < item.Status.Rank() {
		return models.NewValidationError("item %d status cannot move backward from %s to %s", itemID, item.Status, status)
	}
	item.Status = status
	return nil
}

func (s *MemoryStore) QueryItems(ctx context.Context, w models.Window, f models.ItemFilters) (models.Items, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(models.Items, 0)
	for _, item := range s.items {
		if !w.Contains(item.DiscoveredAt) {
			continue
		}
		if !f.Match(item) {
			continue
		}
		out = append(out, *copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.After(out[j].DiscoveredAt) })
	return out, nil
}
