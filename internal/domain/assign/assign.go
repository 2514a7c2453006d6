// Package assign builds the per-user work queue of items to rate.
package assign

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/okian/kickrate/pkg/logger"
	"github.com/okian/kickrate/pkg/metrics"
)

// RecordReader is the read side of the rating record store the assigner needs.
type RecordReader interface {
	// RatedBy returns the ids of items the user has any record for.
	RatedBy(ctx context.Context, userID string) (map[string]struct{}, error)
	// CountsByItem returns the number of records per item across all users.
	CountsByItem(ctx context.Context) (map[string]int, error)
}

// Result is a built queue plus how it was built.
type Result struct {
	Items     []string
	Fallback  bool // the count query failed and the saturation filter was skipped
	Saturated int  // catalog items at or over quota
}

// Assigner computes queues from the record store.
type Assigner struct {
	reader RecordReader
	log    logger.Logger

	mu      sync.Mutex
	shuffle func([]string)
}

// New creates an Assigner.
func New(reader RecordReader, opts ...Option) *Assigner {
	a := &Assigner{
		reader:  reader,
		log:     logger.Get().Named("assign"),
		shuffle: defaultShuffle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func defaultShuffle(items []string) {
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

// BuildQueue returns the catalog items the user should rate next: items the user
// has not rated and that have fewer than minRatings records, in a fresh random
// order. The count is read without locking so concurrent raters may overshoot
// the quota by at most the number of racing writers minus one.
//
// If the count query fails the saturation filter is skipped and the unrated
// items are returned in catalog order.
func (a *Assigner) BuildQueue(ctx context.Context, userID string, catalog []string, minRatings int) Result {
	rated, err := a.reader.RatedBy(ctx, userID)
	if err != nil {
		a.log.Warn(ctx, "rated-by query failed, assuming nothing rated",
			logger.String("user", userID), logger.Error(err))
		metrics.RecordErrorByComponent("assign", "rated_by")
		rated = nil
	}

	counts, err := a.reader.CountsByItem(ctx)
	if err != nil {
		a.log.Warn(ctx, "count query failed, skipping saturation filter",
			logger.String("user", userID), logger.Error(err))
		metrics.RecordErrorByComponent("assign", "counts_by_item")
		items := subtract(catalog, rated, nil, 0)
		metrics.RecordQueueBuild(len(items), true)
		return Result{Items: items, Fallback: true}
	}

	saturated := 0
	for _, item := range catalog {
		if counts[item] >= minRatings {
			saturated++
		}
	}
	metrics.UpdateSaturatedItems(saturated)

	items := subtract(catalog, rated, counts, minRatings)
	a.mu.Lock()
	a.shuffle(items)
	a.mu.Unlock()

	a.log.Debug(ctx, "queue built",
		logger.String("user", userID),
		logger.Int("catalog", len(catalog)),
		logger.Int("eligible", len(items)),
		logger.Int("saturated", saturated))
	metrics.RecordQueueBuild(len(items), false)
	return Result{Items: items, Saturated: saturated}
}

// subtract keeps catalog order, drops rated items and, when counts is non-nil,
// items with at least minRatings records. Duplicate catalog entries collapse.
func subtract(catalog []string, rated map[string]struct{}, counts map[string]int, minRatings int) []string {
	out := make([]string, 0, len(catalog))
	seen := make(map[string]struct{}, len(catalog))
	for _, item := range catalog {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		if _, ok := rated[item]; ok {
			continue
		}
		if counts != nil && counts[item] >= minRatings {
			continue
		}
		out = append(out, item)
	}
	return out
}
