package job

import (
	"fmt"
	"time"

	"printcal/internal/agenda"
)

// Summary describes one run.
type Summary struct {
	RunID string
	Day   agenda.Date

	FeedsTotal  int
	FeedsFailed int

	EventsAggregated int
	EventsToday      int
	SkippedBlocks    int
	MalformedDates   int

	ArtifactBytes int
	Destination   string
	Elapsed       time.Duration
}

// Line formats the terminal summary line. err is the run error, if any.
func (s Summary) Line(err error) string {
	status := "ok"
	if err != nil {
		status = "FAILED: " + err.Error()
	}
	feeds := fmt.Sprintf("%d/%d feeds", s.FeedsTotal-s.FeedsFailed, s.FeedsTotal)
	dest := s.Destination
	if dest == "" {
		dest = "-"
	}
	return fmt.Sprintf("printcal %s: %s, %d events today (%d aggregated), %d bytes -> %s in %s: %s",
		s.Day, feeds, s.EventsToday, s.EventsAggregated, s.ArtifactBytes, dest,
		s.Elapsed.Round(time.Millisecond), status)
}
