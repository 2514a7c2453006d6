package ratersim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/okian/kickrate/internal/domain/model"
	"github.com/okian/kickrate/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Defaults applied to zero Config fields.
const (
	DefaultRaters  = 20
	DefaultTimeout = 30 * time.Second
	DefaultPrefix  = "sim"
)

func (c *Config) withDefaults() Config {
	out := *c
	if out.Raters <= 0 {
		out.Raters = DefaultRaters
	}
	if out.Concurrency <= 0 {
		out.Concurrency = runtime.NumCPU()
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Prefix == "" {
		out.Prefix = DefaultPrefix
	}
	if out.Client == nil {
		out.Client = &http.Client{Timeout: out.Timeout}
	}
	return out
}

// tally accumulates outcomes across participants.
type tally struct {
	mu        sync.Mutex
	exhausted int
	outcomes  map[string]int
	perItem   map[string]int
}

func (t *tally) record(outcome, itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[outcome]++
	if outcome == outcomeAccepted {
		t.perItem[itemID]++
	}
}

func (t *tally) markExhausted() {
	t.mu.Lock()
	t.exhausted++
	t.mu.Unlock()
}

// Run simulates cfg.Raters participants rating concurrently and reports how
// the per-item quota held up.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	c := cfg.withDefaults()
	log := logger.Get().Named("ratersim")
	start := time.Now()

	log.Info(ctx, "starting rater simulation",
		logger.String("baseURL", c.BaseURL),
		logger.Int("raters", c.Raters),
		logger.Int("concurrency", c.Concurrency),
		logger.Int("maxItems", c.MaxItems),
	)

	api := newClient(c.BaseURL, c.Client)
	if err := api.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	scales, err := api.scales(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch scales: %w", err)
	}
	stats, err := api.stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}

	gen := newGenerator(c.Seed)
	t := &tally{outcomes: map[string]int{}, perItem: map[string]int{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for i := range c.Raters {
		userID := raterID(c.Prefix, i)
		g.Go(func() error {
			return rate(gctx, api, gen, scales, userID, c.MaxItems, t)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Raters:     c.Raters,
		Exhausted:  t.exhausted,
		Accepted:   t.outcomes[outcomeAccepted],
		Duplicate:  t.outcomes[outcomeDuplicate],
		Conflict:   t.outcomes[outcomeConflict],
		Failed:     t.outcomes[outcomeFailed],
		MinRatings: intStat(stats, "minRatings"),
		PerItem:    t.perItem,
		Overshoot:  map[string]int{},
		Duration:   time.Since(start),
	}
	if report.MinRatings > 0 {
		// Overshoot is judged on what the store holds, including ratings
		// written before this run.
		after, err := api.stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch stats: %w", err)
		}
		for item, n := range itemCounts(after) {
			if n > report.MinRatings {
				report.Overshoot[item] = n
			}
		}
	}
	displayReport(ctx, log, report)
	return report, nil
}

// rate runs one participant through their queue.
func rate(ctx context.Context, api *client, gen *generator, scales model.ScaleSet, userID string, maxItems int, t *tally) error {
	sess, err := api.startSession(ctx, userID)
	if err != nil {
		return fmt.Errorf("start session for %s: %w", userID, err)
	}
	defer func() {
		if err := api.endSession(context.WithoutCancel(ctx), sess.SessionID); err != nil {
			logger.Get().Warn(ctx, "end session failed", logger.String("userID", userID), logger.Error(err))
		}
	}()

	if sess.State != "active" {
		t.markExhausted()
		return nil
	}

	for rated := 0; sess.State == "active" && (maxItems <= 0 || rated < maxItems); rated++ {
		item := sess.CurrentItem
		outcome, next, err := api.submit(ctx, sess.SessionID, ratingRequest{
			ItemID:    item,
			Responses: gen.responses(scales, item),
		})
		t.record(outcome, item)
		if errors.Is(err, ErrUnexpectedStatus) {
			logger.Get().Warn(ctx, "rating rejected", logger.String("userID", userID), logger.String("itemID", item), logger.Error(err))
			return nil
		}
		if err != nil {
			return fmt.Errorf("submit %s for %s: %w", item, userID, err)
		}
		if outcome == outcomeConflict {
			return nil
		}
		sess = next
	}
	return nil
}

// intStat reads a JSON number from the stats map.
func intStat(stats map[string]any, key string) int {
	if f, ok := stats[key].(float64); ok {
		return int(f)
	}
	return 0
}

// itemCounts reads the stored per-item totals from a stats payload.
func itemCounts(stats map[string]any) map[string]int {
	raw, _ := stats["itemCounts"].(map[string]any)
	out := make(map[string]int, len(raw))
	for item, v := range raw {
		if f, ok := v.(float64); ok {
			out[item] = int(f)
		}
	}
	return out
}

func displayReport(ctx context.Context, log logger.Logger, r *Report) {
	items := make([]string, 0, len(r.Overshoot))
	for item := range r.Overshoot {
		items = append(items, item)
	}
	sort.Strings(items)

	log.Info(ctx, "simulation finished",
		logger.Int("raters", r.Raters),
		logger.Int("exhausted", r.Exhausted),
		logger.Int("accepted", r.Accepted),
		logger.Int("duplicate", r.Duplicate),
		logger.Int("conflict", r.Conflict),
		logger.Int("failed", r.Failed),
		logger.Int("itemsRated", len(r.PerItem)),
		logger.Int("minRatings", r.MinRatings),
		logger.Strings("overshoot", items),
		logger.Duration("duration", r.Duration),
	)
}
