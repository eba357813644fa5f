package lib

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/store"
)

// Deduper answers whether a dedup key has been recorded for a feed,
// backed by the store's unique (feed_id, dedup_key) index. Checks for
// different keys proceed concurrently; check-then-record for the same
// (feed, key) pair is serialized through a striped lock so concurrent
// refreshes never both treat one entry as new.
type Deduper struct {
	store store.Store
	locks [64]sync.Mutex
}

func NewDeduper(st store.Store) *Deduper {
	return &Deduper{store: st}
}

func (d *Deduper) lockFor(feedID uint, key string) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s", feedID, key)
	return &d.locks[h.Sum32()%uint32(len(d.locks))]
}

// Acquire serializes the check-and-record window for one (feed, key)
// pair. Callers must invoke the returned release once done.
func (d *Deduper) Acquire(feedID uint, key string) (release func()) {
	mu := d.lockFor(feedID, key)
	mu.Lock()
	return mu.Unlock
}

func (d *Deduper) IsNew(ctx context.Context, feedID uint, key string) (bool, error) {
	_, err := d.store.FindItemByDedupKey(ctx, feedID, key)
	if err == nil {
		return false, nil
	}
	if models.IsNotFound(err) {
		return true, nil
	}
	return false, err
}
