package model

import "time"

// DefaultTitle is used when a VEVENT carries no SUMMARY.
const DefaultTitle = "Untitled Event"

// CalendarEvent is a single concrete event after parsing, recurrence
// expansion and timezone normalization. Values are not modified after
// construction; use the With* helpers to derive a copy.
type CalendarEvent struct {
	// Source is the feed identifier (label or URL) the event came from.
	// Diagnostics only; never used for dedup or ordering.
	Source string

	UID string

	Title       string
	Description string // full text; truncation is a rendering concern
	Location    string

	AllDay bool

	// Start / End are in the configured target timezone. A zero Start
	// means the source carried no usable start; a zero End means no end.
	Start time.Time
	End   time.Time
}

// HasStart reports whether the event can be placed on a calendar day.
func (e CalendarEvent) HasStart() bool {
	return !e.Start.IsZero()
}

// HasEnd reports whether an end instant was present.
func (e CalendarEvent) HasEnd() bool {
	return !e.End.IsZero()
}

// HasRange reports whether a start-end range should be shown. An end
// equal to the start is a zero-duration marker.
func (e CalendarEvent) HasRange() bool {
	return e.HasStart() && e.HasEnd() && !e.End.Equal(e.Start)
}

// WithSource returns a copy of e tagged with the given feed identifier.
func (e CalendarEvent) WithSource(source string) CalendarEvent {
	e.Source = source
	return e
}

// DisplayTitle returns the title, or DefaultTitle when it is empty.
func (e CalendarEvent) DisplayTitle() string {
	if e.Title == "" {
		return DefaultTitle
	}
	return e.Title
}
