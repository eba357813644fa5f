package lib

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/store"
)

// Assembler produces time-windowed digests for downstream rendering.
// Assembly is a pure read: it never mutates item status.
type Assembler struct {
	log   *zap.Logger
	store store.Store
}

func NewAssembler(log *zap.Logger, st store.Store) *Assembler {
	return &Assembler{log: log, store: st}
}

// Assemble selects items within the window and filters, groups by feed,
// sorts each group by priority then recency, truncates each group to
// the per-feed cap, then truncates the merged global list to the total
// cap.
func (a *Assembler) Assemble(ctx context.Context, w models.Window, f models.ItemFilters, caps models.DigestCaps) (*models.Digest, error) {
	items, err := a.store.QueryItems(ctx, w, f)
	if err != nil {
		return nil, err
	}

	feeds, err := a.store.ListFeeds(ctx, false)
	if err != nil {
		return nil, err
	}
	feedNames := make(map[uint]string, len(feeds))
	for _, feed := range feeds {
		feedNames[feed.ID] = feed.Name
	}

	byFeed := make(map[uint]models.Items)
	var feedOrder []uint
	for _, item := range items {
		if _, ok := byFeed[item.FeedID]; !ok {
			feedOrder = append(feedOrder, item.FeedID)
		}
		byFeed[item.FeedID] = append(byFeed[item.FeedID], item)
	}
	sort.Slice(feedOrder, func(i, j int) bool { return feedOrder[i] < feedOrder[j] })

	var merged models.Items
	for _, feedID := range feedOrder {
		group := byFeed[feedID]
		sortDigestItems(group)
		if caps.PerFeed > 0 && len(group) > caps.PerFeed {
			group = group[:caps.PerFeed]
		}
		byFeed[feedID] = group
		merged = append(merged, group...)
	}

	sortDigestItems(merged)
	if caps.Total > 0 && len(merged) > caps.Total {
		merged = merged[:caps.Total]
	}

	included := make(map[uint]bool, len(merged))
	readingTime := 0
	for _, item := range merged {
		included[item.ID] = true
		readingTime += item.ReadingTime()
	}

	digest := &models.Digest{
		Window:             w,
		TotalItems:         len(merged),
		ReadingTimeMinutes: readingTime,
		GeneratedAt:        time.Now().UTC(),
	}
	for _, feedID := range feedOrder {
		group := models.DigestGroup{FeedID: feedID, FeedName: feedNames[feedID]}
		for _, item := range byFeed[feedID] {
			if included[item.ID] {
				group.Items = append(group.Items, item)
			}
		}
		if len(group.Items) > 0 {
			digest.Groups = append(digest.Groups, group)
		}
	}
	digest.FeedCount = len(digest.Groups)

	a.log.Sugar().Debugw("Assembled digest",
		"items", digest.TotalItems, "feeds", digest.FeedCount,
		"since", w.Since, "until", w.Until,
	)
	return digest, nil
}

// Priority descending, then published/discovery timestamp descending.
func sortDigestItems(items models.Items) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := items[i].Priority.Rank(), items[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return items[i].EffectiveTime().After(items[j].EffectiveTime())
	})
}
