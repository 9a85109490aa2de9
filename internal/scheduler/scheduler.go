// Package scheduler polls every registered filter and notifies owners about
// listings they have not seen yet.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"olx_bot/internal/metrics"
	"olx_bot/internal/model"
	"olx_bot/internal/parser"
	"olx_bot/internal/storage"
)

// PageFetcher downloads search and listing pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
	FetchDetail(ctx context.Context, url string) ([]byte, error)
}

// ErrUndeliverable marks a delivery failure that retrying cannot fix, such as
// a chat that blocked the bot.
var ErrUndeliverable = errors.New("undeliverable")

// Notifier delivers a new-listing message to an owner. A nil error means the
// transport accepted it.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, l model.Listing) error
}

// CycleStats summarizes one pass over all filters.
type CycleStats struct {
	Filters        int
	FailedFilters  int
	Listings       int
	Notified       int
	DeliveryFailed int
}

// Scheduler runs the polling loop.
type Scheduler struct {
	store    storage.Storage
	fetcher  PageFetcher
	parser   *parser.Parser
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger

	interval    time.Duration
	notifyDelay time.Duration
	filterDelay time.Duration
	enrich      bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDelays sets the pauses between notifications and between filters.
func WithDelays(notify, filter time.Duration) Option {
	return func(s *Scheduler) {
		s.notifyDelay = notify
		s.filterDelay = filter
	}
}

// WithEnrichment toggles fetching each new listing's page for details.
func WithEnrichment(on bool) Option {
	return func(s *Scheduler) { s.enrich = on }
}

// New creates a Scheduler. m may be nil.
func New(store storage.Storage, f PageFetcher, p *parser.Parser, n Notifier, m *metrics.Metrics, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		fetcher:     f,
		parser:      p,
		notifier:    n,
		metrics:     m,
		log:         log,
		interval:    time.Minute,
		notifyDelay: 500 * time.Millisecond,
		filterDelay: time.Second,
		enrich:      true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run runs a cycle immediately and then one per interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval, "enrich", s.enrich)
	for {
		s.RunCycle(ctx)
		if !sleep(ctx, s.interval) {
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// RunCycle processes every filter once. Failures of individual filters are
// logged and counted; they never stop the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (stats CycleStats) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panicked", "panic", r)
		}
		s.metrics.ObserveCycle(time.Since(start))
	}()

	filters, err := s.store.ListAllFilters(ctx)
	if err != nil {
		s.log.Error("list filters", "error", err)
		return stats
	}

	first := true
	for _, group := range groupByOwner(filters) {
		for _, f := range group {
			if !first && !sleep(ctx, s.filterDelay) {
				return stats
			}
			first = false

			stats.Filters++
			if err := s.processFilter(ctx, f, &stats); err != nil {
				stats.FailedFilters++
				s.log.Error("process filter",
					"filter_id", f.ID, "owner_id", f.OwnerID, "url", f.URL, "error", err)
			}
		}
	}

	s.log.Info("cycle finished",
		"filters", stats.Filters,
		"failed", stats.FailedFilters,
		"listings", stats.Listings,
		"notified", stats.Notified,
		"delivery_failed", stats.DeliveryFailed,
		"duration", time.Since(start).Round(time.Millisecond))
	return stats
}

func (s *Scheduler) processFilter(ctx context.Context, f model.Filter, stats *CycleStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	page, err := s.fetcher.FetchPage(ctx, f.URL)
	s.metrics.Fetch(err)
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}

	res := s.parser.Extract(page)
	for strategy, n := range res.Counts {
		s.metrics.Parsed(string(strategy), n)
	}
	stats.Listings += len(res.Listings)
	s.log.Debug("parsed filter page", "filter_id", f.ID, "listings", len(res.Listings))

	attempted := 0
	for _, l := range res.Listings {
		seen, err := s.store.HasSeen(ctx, l.ID)
		if err != nil {
			s.log.Error("check seen", "listing_id", l.ID, "error", err)
			continue
		}
		if seen {
			s.log.Debug("skip seen listing", "listing_id", l.ID)
			continue
		}

		if attempted > 0 && !sleep(ctx, s.notifyDelay) {
			return ctx.Err()
		}
		attempted++

		if s.enrich {
			l.Details = s.details(ctx, l.URL)
		}

		err = s.notifier.Notify(ctx, f.OwnerID, l)
		s.metrics.Notified(err == nil)
		switch {
		case errors.Is(err, ErrUndeliverable):
			stats.DeliveryFailed++
			s.log.Warn("drop undeliverable listing", "owner_id", f.OwnerID, "listing_id", l.ID, "error", err)
		case err != nil:
			// Left unseen so the next cycle retries delivery.
			stats.DeliveryFailed++
			continue
		default:
			stats.Notified++
		}

		if err := s.store.MarkSeen(ctx, l.Seen()); err != nil {
			s.log.Error("mark seen", "listing_id", l.ID, "error", err)
		}
	}
	return nil
}

// details fetches the listing page for extra fragments. Any failure yields
// no details.
func (s *Scheduler) details(ctx context.Context, url string) []string {
	page, err := s.fetcher.FetchDetail(ctx, url)
	if err != nil {
		s.log.Warn("fetch listing details", "url", url, "error", err)
		return nil
	}
	return s.parser.ParseDetails(page)
}

// groupByOwner keeps owners in order of first appearance.
func groupByOwner(filters []model.Filter) [][]model.Filter {
	index := make(map[string]int)
	var groups [][]model.Filter
	for _, f := range filters {
		i, ok := index[f.OwnerID]
		if !ok {
			i = len(groups)
			index[f.OwnerID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	return groups
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
