package lib

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/store"
)

// Coordinator runs one feed's fetch -> dedup -> persist cycle. Failures
// are confined to the returned result; a fan-out caller decides how to
// aggregate them.
type Coordinator struct {
	log     *zap.Logger
	store   store.Store
	fetcher *Fetcher
	dedup   *Deduper

	// mu guards feedRuns. Persist phases for one feed run under that
	// feed's lock, with the discovery timestamp stamped inside it, so
	// DiscoveredAt never moves backward across a feed's inserts even
	// when a manual refresh overlaps a schedule tick.
	mu       sync.Mutex
	feedRuns map[uint]*sync.Mutex
}

func NewCoordinator(log *zap.Logger, st store.Store, fetcher *Fetcher, dedup *Deduper) *Coordinator {
	return &Coordinator{
		log:      log,
		store:    st,
		fetcher:  fetcher,
		dedup:    dedup,
		feedRuns: make(map[uint]*sync.Mutex),
	}
}

func (c *Coordinator) feedLock(feedID uint) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	mu, ok := c.feedRuns[feedID]
	if !ok {
		mu = &sync.Mutex{}
		c.feedRuns[feedID] = mu
	}
	return mu
}

// RefreshOne refreshes a single feed, persisting at most maxItems new
// items (0 means uncapped). Candidates beyond the cap are not persisted
// and not recorded as seen, so the next refresh picks them up while the
// source still lists them. The cursor advances whenever the fetch phase
// completed, regardless of how many items were new. Overlapping
// refreshes of the same feed serialize their persist phases.
func (c *Coordinator) RefreshOne(ctx context.Context, feedID uint, maxItems int) models.RefreshResult {
	res := models.RefreshResult{FeedID: feedID}

	feed, err := c.store.GetFeed(ctx, feedID)
	if err != nil {
		res.Err = err
		return res
	}
	res.FeedName = feed.Name

	if !feed.Active {
		res.Err = models.NewValidationError("feed %d (%s) is not active", feed.ID, feed.Name)
		return res
	}

	outcome, err := c.fetcher.Fetch(ctx, feed)
	if err != nil {
		res.Err = err
		return res
	}
	res.Malformed = outcome.Malformed

	mu := c.feedLock(feed.ID)
	mu.Lock()

	now := time.Now().UTC()
	for _, cand := range outcome.Candidates {
		if maxItems > 0 && res.NewCount >= maxItems {
			res.Skipped++
			continue
		}

		inserted, err := c.persistIfNew(ctx, feed, cand, now)
		if err != nil {
			c.log.Sugar().Warnw("Failed to persist candidate", "feed_id", feed.ID, "url", cand.URL, "err", err)
			continue
		}
		if inserted {
			res.NewCount++
		}
	}

	if err := c.store.UpdateFeedCursor(ctx, feed.ID, outcome.CacheToken, now); err != nil {
		c.log.Sugar().Warnw("Failed to advance feed cursor", "feed_id", feed.ID, "err", err)
	}
	mu.Unlock()

	c.log.Sugar().Infow("Refreshed feed",
		"feed_id", feed.ID, "feed", feed.Name,
		"new", res.NewCount, "skipped", res.Skipped, "malformed", res.Malformed,
		"not_modified", outcome.NotModified,
	)
	return res
}

func (c *Coordinator) persistIfNew(ctx context.Context, feed *models.Feed, cand Candidate, discoveredAt time.Time) (bool, error) {
	key := models.DedupKey(cand.URL, cand.Title, cand.Content)

	release := c.dedup.Acquire(feed.ID, key)
	defer release()

	isNew, err := c.dedup.IsNew(ctx, feed.ID, key)
	if err != nil {
		return false, err
	}
	if !isNew {
		return false, nil
	}

	item := &models.Item{
		FeedID:       feed.ID,
		DedupKey:     key,
		URL:          cand.URL,
		Title:        cand.Title,
		Content:      cand.Content,
		PublishedAt:  cand.PublishedAt,
		DiscoveredAt: discoveredAt,
		Status:       models.StatusNew,
		Priority:     models.PriorityNormal,
		Tags:         append([]string(nil), feed.Tags...),
	}
	if err := c.store.InsertItem(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}
