package agenda

import (
	"fmt"
	"slices"
	"time"

	"printcal/internal/model"
)

const dateLayout = "2006-01-02"

// Date is a calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// Midnight is the first instant of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Today keeps the events with a usable start whose local date in loc is day,
// sorted ascending by start. Events with equal starts keep their input
// order, which is feed order for a Collection.
func Today(events []model.CalendarEvent, day Date, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if !ev.HasStart() {
			continue
		}
		if DateOf(ev.Start, loc) != day {
			continue
		}
		out = append(out, ev)
	}
	slices.SortStableFunc(out, func(a, b model.CalendarEvent) int {
		return a.Start.Compare(b.Start)
	})
	return out
}
