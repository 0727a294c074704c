// Package job wires one agenda run: aggregate feeds, pick today's events,
// render and deliver.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"printcal/internal/agenda"
	"printcal/internal/config"
	"printcal/internal/deliver"
	"printcal/internal/ics"
	appLog "printcal/internal/log"
	"printcal/internal/render"
)

var (
	// ErrRenderFailure wraps every renderer error.
	ErrRenderFailure = errors.New("render failure")
	// ErrDeliveryFailure wraps every delivery error.
	ErrDeliveryFailure = errors.New("delivery failure")
)

// Options configures a Job. Only Config is required; the rest default to
// implementations built from it.
type Options struct {
	Config *config.Config

	Fetcher   agenda.FeedFetcher
	Renderer  render.Renderer
	Deliverer deliver.Deliverer

	// Now defaults to time.Now.
	Now func() time.Time
	// Day pins the agenda date instead of today.
	Day *agenda.Date
}

// Job runs the agenda pipeline. It keeps no state between runs.
type Job struct {
	cfg       *config.Config
	loc       *time.Location
	strategy  ics.Strategy
	fetcher   agenda.FeedFetcher
	renderer  render.Renderer
	deliverer deliver.Deliverer
	now       func() time.Time
	day       *agenda.Date
}

// New validates the config and builds a Job.
func New(opts Options) (*Job, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrConfigurationMissing)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ics.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	j := &Job{
		cfg:       cfg,
		loc:       cfg.Location(),
		strategy:  strategy,
		fetcher:   opts.Fetcher,
		renderer:  opts.Renderer,
		deliverer: opts.Deliverer,
		now:       opts.Now,
		day:       opts.Day,
	}
	if j.fetcher == nil {
		j.fetcher = ics.NewFetcher(ics.FetcherOptions{Timeout: cfg.FetchTimeout()})
	}
	if j.renderer == nil {
		if j.renderer, err = NewRenderer(cfg); err != nil {
			return nil, err
		}
	}
	if j.deliverer == nil {
		j.deliverer = NewDeliverer(cfg)
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

// NewRenderer returns the renderer selected by cfg.Render.Format.
func NewRenderer(cfg *config.Config) (render.Renderer, error) {
	switch cfg.Render.Format {
	case config.FormatHTML:
		return render.HTMLRenderer{}, nil
	case config.FormatPDF:
		r, err := render.NewPDFRenderer(render.PDFOptions{
			Paper:    cfg.Render.Paper,
			ExecPath: cfg.Render.ChromePath,
			Timeout:  cfg.RenderTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown render format %q", config.ErrInvalidConfig, cfg.Render.Format)
	}
}

// NewDeliverer returns the deliverer selected by cfg.Delivery.Method.
func NewDeliverer(cfg *config.Config) deliver.Deliverer {
	d := cfg.Delivery
	if d.Method == config.MethodEmail {
		return deliver.NewMailDeliverer(deliver.MailOptions{
			Host:     d.SMTP.Host,
			Port:     d.SMTP.Port,
			Username: d.SMTP.Username,
			Password: d.SMTP.Password,
			From:     d.SMTP.From,
			To:       d.PrinterEmail,
			Subject:  cfg.Title,
		})
	}
	return deliver.NewFileDeliverer(d.OutputPath)
}

// Location is the target timezone.
func (j *Job) Location() *time.Location {
	return j.loc
}

// Today returns the agenda date for a run started now.
func (j *Job) Today() agenda.Date {
	if j.day != nil {
		return *j.day
	}
	return agenda.DateOf(j.now(), j.loc)
}

// Agenda fetches every feed and builds the document for day. Feed failures
// are reflected in the summary, never returned.
func (j *Job) Agenda(ctx context.Context, day agenda.Date) (render.Document, Summary) {
	midnight := day.Midnight(j.loc)
	extractor := ics.NewExtractor(ics.ExtractOptions{
		Location:               j.loc,
		Strategy:               j.strategy,
		WindowStart:            midnight,
		Lookahead:              j.cfg.Lookahead(),
		MaxOccurrencesPerEvent: j.cfg.MaxOccurrences,
	})
	agg := agenda.NewAggregator(j.fetcher, extractor, j.cfg.Concurrency)

	col := agg.Collect(ctx, j.cfg.Sources())
	today := agenda.Today(col.Events, day, j.loc)

	doc := render.Document{
		Title:       j.cfg.Title,
		Day:         midnight,
		Location:    j.loc,
		Events:      today,
		GeneratedAt: j.now().In(j.loc),
	}
	sum := Summary{
		Day:              day,
		FeedsTotal:       col.FeedsTotal,
		FeedsFailed:      len(col.Failures),
		EventsAggregated: len(col.Events),
		EventsToday:      len(today),
		SkippedBlocks:    col.SkippedBlocks,
		MalformedDates:   col.MalformedDates,
	}
	return doc, sum
}

// Run performs one complete pass. The returned Summary is filled as far as
// the run got, also on error. Errors wrap ErrRenderFailure or
// ErrDeliveryFailure.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	start := j.now()
	runID := uuid.NewString()
	day := j.Today()

	appLog.Info("run started", "run_id", runID, "day", day.String(), "feeds", len(j.cfg.Sources()), "timezone", j.loc.String())

	doc, sum := j.Agenda(ctx, day)
	sum.RunID = runID

	art, err := j.renderer.Render(ctx, doc)
	if err != nil {
		sum.Elapsed = j.now().Sub(start)
		appLog.Error("render failed", err, "run_id", runID)
		return sum, fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}
	sum.ArtifactBytes = len(art.Data)
	sum.Destination = j.deliverer.Destination(art)

	if err := j.deliverer.Deliver(ctx, art); err != nil {
		sum.Elapsed = j.now().Sub(start)
		appLog.Error("delivery failed", err, "run_id", runID, "destination", sum.Destination)
		return sum, fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	sum.Elapsed = j.now().Sub(start)
	appLog.Info("run completed",
		"run_id", runID,
		"events_today", sum.EventsToday,
		"feeds_failed", sum.FeedsFailed,
		"bytes", sum.ArtifactBytes,
		"destination", sum.Destination,
	)
	return sum, nil
}
