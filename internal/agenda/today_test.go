package agenda

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcal/internal/ics"
	"printcal/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-15")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 15}, d)
	assert.Equal(t, "2025-03-15", d.String())

	_, err = ParseDate("15/03/2025")
	assert.Error(t, err)
}

func TestDateOfUsesZone(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	instant := time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, Date{2025, time.March, 15}, DateOf(instant, time.UTC))
	assert.Equal(t, Date{2025, time.March, 16}, DateOf(instant, tokyo))
}

func TestTodayFiltersAndSorts(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	day := Date{2025, time.March, 15}
	at := func(d, h, m int) time.Time { return time.Date(2025, 3, d, h, m, 0, 0, ny) }

	events := []model.CalendarEvent{
		{Title: "late", Start: at(15, 18, 0)},
		{Title: "yesterday", Start: at(14, 23, 59)},
		{Title: "no start"},
		{Title: "early", Start: at(15, 7, 30)},
		{Title: "tomorrow", Start: at(16, 0, 0)},
		{Title: "all day", Start: at(15, 0, 0), AllDay: true},
		{Title: "last minute", Start: at(15, 23, 59)},
	}

	got := Today(events, day, ny)

	titles := make([]string, len(got))
	for i, ev := range got {
		titles[i] = ev.Title
	}
	assert.Equal(t, []string{"all day", "early", "late", "last minute"}, titles)
}

func TestTodayTiesKeepInputOrder(t *testing.T) {
	start := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{Title: "feed1", Source: "1", Start: start},
		{Title: "earlier", Source: "2", Start: start.Add(-time.Hour)},
		{Title: "feed2", Source: "2", Start: start},
		{Title: "feed3", Source: "3", Start: start},
	}

	got := Today(events, Date{2025, time.March, 15}, time.UTC)

	require.Len(t, got, 4)
	assert.Equal(t, "earlier", got[0].Title)
	assert.Equal(t, "feed1", got[1].Title)
	assert.Equal(t, "feed2", got[2].Title)
	assert.Equal(t, "feed3", got[3].Title)
}

func TestTodayProperties(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	day := Date{2025, time.March, 30}
	rng := rand.New(rand.NewSource(7))

	base := time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC)
	events := make([]model.CalendarEvent, 500)
	for i := range events {
		events[i] = model.CalendarEvent{Start: base.Add(time.Duration(rng.Int63n(int64(96 * time.Hour))))}
	}

	got := Today(events, day, berlin)

	require.NotEmpty(t, got)
	for i, ev := range got {
		assert.Equal(t, day, DateOf(ev.Start, berlin))
		if i > 0 {
			assert.False(t, ev.Start.Before(got[i-1].Start))
		}
	}
}

func TestLunchScenario(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	payload := "BEGIN:VEVENT\nSUMMARY:Lunch\nDTSTART:20250315T120000\nDTEND:20250315T130000\nEND:VEVENT"
	f := &fakeFetcher{bodies: map[string]string{"https://family.example.com/cal.ics": payload}}
	x := ics.NewExtractor(ics.ExtractOptions{Location: ny})

	col := NewAggregator(f, x, 1).Collect(context.Background(), []ics.Source{
		{ID: "family", URL: "https://family.example.com/cal.ics"},
	})
	got := Today(col.Events, Date{2025, time.March, 15}, ny)

	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, "Lunch", ev.Title)
	assert.False(t, ev.AllDay)
	assert.True(t, ev.Start.Equal(time.Date(2025, 3, 15, 12, 0, 0, 0, ny)))
	assert.True(t, ev.End.Equal(time.Date(2025, 3, 15, 13, 0, 0, 0, ny)))
	assert.Equal(t, "family", ev.Source)
}
