package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcal/internal/model"
)

func mustDate(t *testing.T, n *Normalizer, token, tzid string) DateValue {
	t.Helper()
	dv, err := n.NormalizeIn(token, tzid)
	require.NoError(t, err)
	return dv
}

func collect(seq func(func(model.CalendarEvent) bool)) []model.CalendarEvent {
	var out []model.CalendarEvent
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func TestOccurrencesKeepWallClockAcrossDST(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Title:    "Standup",
		Start:    mustDate(t, n, "20250324T090000", "Europe/Berlin"),
		HasStart: true,
		Duration: 15 * time.Minute,
		HasEnd:   true,
		RRule:    "FREQ=WEEKLY;COUNT=3",
	}
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0)

	got := collect(Occurrences(def, nil, w, time.UTC, 0))

	require.Len(t, got, 3)
	// Berlin switches to CEST on 2025-03-30.
	assertInstant(t, time.Date(2025, 3, 24, 8, 0, 0, 0, time.UTC), got[0].Start)
	assertInstant(t, time.Date(2025, 3, 31, 7, 0, 0, 0, time.UTC), got[1].Start)
	assertInstant(t, time.Date(2025, 4, 7, 7, 0, 0, 0, time.UTC), got[2].Start)
	for _, ev := range got {
		assert.Equal(t, "Standup", ev.Title)
		assert.Equal(t, 15*time.Minute, ev.End.Sub(ev.Start))
		assert.False(t, ev.AllDay)
		assert.Equal(t, time.UTC, ev.Start.Location())
	}
}

func TestOccurrencesRestartableAndLazy(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Start:    mustDate(t, n, "20250101T070000Z", ""),
		HasStart: true,
		RRule:    "FREQ=DAILY",
	}
	w := NewWindow(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), 10*24*time.Hour)
	seq := Occurrences(def, nil, w, time.UTC, 0)

	first := collect(seq)
	second := collect(seq)
	require.Len(t, first, 10)
	assert.Equal(t, first, second)
	assertInstant(t, time.Date(2025, 3, 15, 7, 0, 0, 0, time.UTC), first[0].Start)
	assert.Equal(t, model.DefaultTitle, first[0].Title)

	taken := 0
	for range seq {
		taken++
		if taken == 2 {
			break
		}
	}
	assert.Equal(t, 2, taken)
}

func TestOccurrencesWindowIsHalfOpen(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Start:    mustDate(t, n, "20250101T000000Z", ""),
		HasStart: true,
		RRule:    "FREQ=DAILY",
	}
	w := Window{
		Start: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC),
	}

	got := collect(Occurrences(def, nil, w, time.UTC, 0))

	require.Len(t, got, 3)
	assert.Equal(t, 17, got[2].Start.Day())
}

func TestOccurrencesLimit(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Start:    mustDate(t, n, "20250101T120000Z", ""),
		HasStart: true,
		RRule:    "FREQ=HOURLY",
	}
	w := NewWindow(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	got := collect(Occurrences(def, nil, w, time.UTC, 10))
	assert.Len(t, got, 10)
}

func TestOccurrencesExDates(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Start:    mustDate(t, n, "20250310T090000Z", ""),
		HasStart: true,
		RRule:    "FREQ=DAILY;COUNT=4",
		ExDates: []DateValue{
			mustDate(t, n, "20250311T090000Z", ""),
			mustDate(t, n, "20250313", ""),
		},
	}
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0)

	got := collect(Occurrences(def, nil, w, time.UTC, 0))

	require.Len(t, got, 2)
	assert.Equal(t, 10, got[0].Start.Day())
	assert.Equal(t, 12, got[1].Start.Day())
}

func TestOccurrencesOverrides(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		UID:      "series@example.com",
		Title:    "Review",
		Start:    mustDate(t, n, "20250310T090000Z", ""),
		HasStart: true,
		Duration: time.Hour,
		HasEnd:   true,
		RRule:    "FREQ=DAILY;COUNT=3",
	}
	moved := Definition{
		UID:          "series@example.com",
		Title:        "Review (moved)",
		Start:        mustDate(t, n, "20250311T110000Z", ""),
		HasStart:     true,
		Duration:     30 * time.Minute,
		HasEnd:       true,
		RecurrenceID: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
	}
	orphan := Definition{
		UID:          "series@example.com",
		Title:        "Extra",
		Start:        mustDate(t, n, "20250320T090000Z", ""),
		HasStart:     true,
		RecurrenceID: time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC),
	}
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0)

	got := collect(Occurrences(def, []Definition{moved, orphan}, w, time.UTC, 0))

	require.Len(t, got, 4)
	assert.Equal(t, "Review", got[0].Title)
	assert.Equal(t, "Review (moved)", got[1].Title)
	assertInstant(t, time.Date(2025, 3, 11, 11, 0, 0, 0, time.UTC), got[1].Start)
	assert.Equal(t, 30*time.Minute, got[1].End.Sub(got[1].Start))
	assert.Equal(t, "Review", got[2].Title)
	assert.Equal(t, "Extra", got[3].Title)
}

func TestOccurrencesInferAllDay(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	n := NewNormalizer(berlin)
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, berlin), 0)

	midnight := Definition{
		Start:    mustDate(t, n, "20250315T000000", ""),
		HasStart: true,
		Duration: 24 * time.Hour,
		HasEnd:   true,
		RRule:    "FREQ=DAILY;COUNT=2",
	}
	for _, ev := range collect(Occurrences(midnight, nil, w, berlin, 0)) {
		assert.True(t, ev.AllDay, ev.Start)
	}

	morning := midnight
	morning.Start = mustDate(t, n, "20250315T090000", "")
	for _, ev := range collect(Occurrences(morning, nil, w, berlin, 0)) {
		assert.False(t, ev.AllDay, ev.Start)
	}

	short := midnight
	short.Duration = 2 * time.Hour
	for _, ev := range collect(Occurrences(short, nil, w, berlin, 0)) {
		assert.False(t, ev.AllDay, ev.Start)
	}
}

func TestOccurrencesDateOnlySeries(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	n := NewNormalizer(berlin)
	def := Definition{
		Title:    "Bin day",
		Start:    mustDate(t, n, "20250329", ""),
		HasStart: true,
		Duration: 24 * time.Hour,
		HasEnd:   true,
		RRule:    "FREQ=DAILY;COUNT=2",
	}
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, berlin), 0)

	got := collect(Occurrences(def, nil, w, berlin, 0))

	require.Len(t, got, 2)
	// The second instance spans the 23-hour DST day and still ends at midnight.
	assert.True(t, got[1].AllDay)
	assert.Equal(t, 0, got[1].End.Hour())
	assert.Equal(t, 31, got[1].End.Day())
}

func TestOccurrencesInvalidRule(t *testing.T) {
	n := NewNormalizer(time.UTC)
	def := Definition{
		Start:    mustDate(t, n, "20250310T090000Z", ""),
		HasStart: true,
		RRule:    "FREQ=SOMETIMES",
	}
	w := NewWindow(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0)

	assert.Empty(t, collect(Occurrences(def, nil, w, time.UTC, 0)))
}
