package agenda

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"printcal/internal/ics"
	appLog "printcal/internal/log"
	"printcal/internal/model"
)

const defaultConcurrency = 4

// FeedFetcher downloads one feed. *ics.Fetcher satisfies it.
type FeedFetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Failure records a feed that contributed no events.
type Failure struct {
	Source ics.Source
	Err    error
}

// Collection is the merged, unordered output of one aggregation pass.
// Events are grouped by feed in configured order.
type Collection struct {
	Events   []model.CalendarEvent
	Failures []Failure

	FeedsTotal     int
	SkippedBlocks  int
	MalformedDates int
}

// Aggregator fetches and extracts N feeds concurrently.
type Aggregator struct {
	fetcher     FeedFetcher
	extractor   *ics.Extractor
	concurrency int
}

// NewAggregator builds an Aggregator. concurrency <= 0 uses the default.
func NewAggregator(fetcher FeedFetcher, extractor *ics.Extractor, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Aggregator{fetcher: fetcher, extractor: extractor, concurrency: concurrency}
}

type feedResult struct {
	events []model.CalendarEvent
	res    ics.ExtractResult
	err    error
}

// Collect fetches every source, extracts its events and tags them with the
// feed identifier. A feed that fails is logged and recorded in Failures;
// Collect itself never fails because of a feed.
func (a *Aggregator) Collect(ctx context.Context, sources []ics.Source) Collection {
	start := time.Now()
	results := make([]feedResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			// Each task writes only its own slot.
			results[i] = a.collectOne(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	out := Collection{FeedsTotal: len(sources)}
	for i, r := range results {
		if r.err != nil {
			out.Failures = append(out.Failures, Failure{Source: sources[i], Err: r.err})
			continue
		}
		out.Events = append(out.Events, r.events...)
		out.SkippedBlocks += r.res.SkippedBlocks
		out.MalformedDates += r.res.MalformedDates
	}

	appLog.Info("aggregate completed",
		"feeds", len(sources),
		"failed", len(out.Failures),
		"events", len(out.Events),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return out
}

func (a *Aggregator) collectOne(ctx context.Context, src ics.Source) feedResult {
	fr, err := a.fetcher.FetchOne(ctx, src)
	if err != nil {
		var fe *ics.FeedUnavailableError
		if !errors.As(err, &fe) {
			fe = &ics.FeedUnavailableError{Source: src, Err: err}
			err = fe
		}
		appLog.Warn("feed unavailable; skipping", "feed", ics.DisplayName(src), "err", fe.Err)
		return feedResult{err: err}
	}

	res := a.extractor.Extract(ics.DisplayName(src), fr.Body)
	events := make([]model.CalendarEvent, 0, len(res.Events))
	for _, ev := range res.Events {
		events = append(events, ev.WithSource(src.ID))
	}
	return feedResult{events: events, res: res}
}
