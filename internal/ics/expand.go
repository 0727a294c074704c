package ics

import (
	"errors"
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	"printcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// DefaultLookahead is the legacy two-year expansion span.
	DefaultLookahead = 2 * 365 * 24 * time.Hour

	day = 24 * time.Hour
)

// Definition is one VEVENT as written in the feed, before expansion. A
// Definition with a non-empty RRule describes a series; one with a non-zero
// RecurrenceID overrides a single instance of the series sharing its UID.
type Definition struct {
	UID         string
	Title       string
	Description string
	Location    string

	Start    DateValue
	HasStart bool

	// Duration is DTEND-DTSTART, or the DURATION property. HasEnd is false
	// when neither was present.
	Duration time.Duration
	HasEnd   bool

	RRule        string
	ExDates      []DateValue
	RecurrenceID time.Time
}

// Window is the half-open interval [Start, End) occurrences are taken from.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [start, start+lookahead).
func NewWindow(start time.Time, lookahead time.Duration) Window {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return Window{Start: start, End: start.Add(lookahead)}
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Occurrences expands def into concrete events inside w, expressed in loc.
// Overrides whose RECURRENCE-ID matches a generated instance replace it;
// overrides that match nothing but start inside w are yielded after the
// series. At most limit instances are generated (defaultMaxOccurrencesPerEvent
// when limit <= 0).
//
// The returned sequence computes nothing until ranged over and can be
// ranged over any number of times.
func Occurrences(def Definition, overrides []Definition, w Window, loc *time.Location, limit int) iter.Seq[model.CalendarEvent] {
	if loc == nil {
		loc = time.UTC
	}
	if limit <= 0 {
		limit = defaultMaxOccurrencesPerEvent
	}

	return func(yield func(model.CalendarEvent) bool) {
		starts, err := instanceStarts(def, w, limit)
		if err != nil {
			return
		}

		used := make([]bool, len(overrides))
		for _, s := range starts {
			if excluded(def, s, loc) {
				continue
			}
			ev := def.instance(s, loc)
			for i, ov := range overrides {
				if !used[i] && ov.RecurrenceID.Equal(s) {
					used[i] = true
					ev = ov.instance(ov.Start.Wall(), loc)
					break
				}
			}
			if !yield(ev) {
				return
			}
		}

		for i, ov := range overrides {
			if used[i] || !ov.HasStart || !w.contains(ov.Start.Time) {
				continue
			}
			if !yield(ov.instance(ov.Start.Wall(), loc)) {
				return
			}
		}
	}
}

// instanceStarts returns the series' start instants in the definition's
// own wall zone, so that DST shifts keep the written local time.
func instanceStarts(def Definition, w Window, limit int) ([]time.Time, error) {
	if !def.HasStart {
		return nil, errors.New("recurring definition without DTSTART")
	}
	wall := def.Start.Wall()
	zone := wall.Location()

	// DTSTART goes into the options before the rule is built: defaults such
	// as the BYDAY of a plain WEEKLY rule derive from it.
	opt, err := rrule.StrToROptionInLocation(def.RRule, zone)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = wall
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	starts := r.Between(w.Start.In(zone), w.End.In(zone), true)
	// Between is inclusive on both ends; the window is half-open.
	if n := len(starts); n > 0 && !starts[n-1].Before(w.End) {
		starts = starts[:n-1]
	}
	if len(starts) > limit {
		starts = starts[:limit]
	}
	return starts, nil
}

func excluded(def Definition, s time.Time, loc *time.Location) bool {
	for _, ex := range def.ExDates {
		if ex.DateOnly {
			if sameDate(ex.Time, s.In(loc)) {
				return true
			}
			continue
		}
		if ex.Time.Equal(s) {
			return true
		}
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// instance builds the event for one occurrence starting at s.
func (def Definition) instance(s time.Time, loc *time.Location) model.CalendarEvent {
	ev := model.CalendarEvent{
		UID:         def.UID,
		Title:       def.Title,
		Description: def.Description,
		Location:    def.Location,
	}
	if ev.Title == "" {
		ev.Title = model.DefaultTitle
	}
	if !def.HasStart {
		return ev
	}

	ev.Start = s.In(loc)
	if def.HasEnd {
		if def.Start.DateOnly && def.Duration%day == 0 {
			// Whole days stay whole days across DST changes.
			ev.End = s.AddDate(0, 0, int(def.Duration/day)).In(loc)
		} else {
			ev.End = s.Add(def.Duration).In(loc)
		}
	}
	ev.AllDay = def.Start.DateOnly || looksAllDay(ev)
	return ev
}

// looksAllDay infers an all-day instance from its shape: local midnight
// start, and either no end or an end a whole number of days later.
func looksAllDay(ev model.CalendarEvent) bool {
	h, m, sec := ev.Start.Clock()
	if h != 0 || m != 0 || sec != 0 || ev.Start.Nanosecond() != 0 {
		return false
	}
	if !ev.HasEnd() {
		return true
	}
	d := ev.End.Sub(ev.Start)
	return d > 0 && d%day == 0
}
