package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "printcal/internal/log"
	"printcal/internal/model"
)

// Strategy selects how a feed payload is turned into events.
type Strategy string

const (
	// StrategyAuto uses StrategyRecurring for payloads containing an RRULE
	// and StrategyFlat otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyFlat reads VEVENT blocks line by line without expansion.
	StrategyFlat Strategy = "flat"
	// StrategyRecurring parses a full VCALENDAR and expands RRULEs.
	StrategyRecurring Strategy = "recurring"
)

// ParseStrategy validates a config value. The empty string means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyFlat:
		return StrategyFlat, nil
	case StrategyRecurring:
		return StrategyRecurring, nil
	default:
		return "", fmt.Errorf("unknown parser strategy %q", s)
	}
}

// ExtractOptions configures an Extractor.
type ExtractOptions struct {
	// Location is the target zone every event is converted into.
	Location *time.Location
	Strategy Strategy

	// WindowStart and Lookahead bound recurrence expansion.
	WindowStart time.Time
	Lookahead   time.Duration

	// MaxOccurrencesPerEvent caps the instances of one series.
	MaxOccurrencesPerEvent int
}

// ExtractResult is the outcome of extracting one payload.
type ExtractResult struct {
	Events   []model.CalendarEvent
	Strategy Strategy

	SkippedBlocks  int
	MalformedDates int
	// TruncatedSeries counts series that hit MaxOccurrencesPerEvent.
	TruncatedSeries int
}

// Extractor turns feed payloads into normalized events.
type Extractor struct {
	opts ExtractOptions
	norm *Normalizer
}

// NewExtractor returns an Extractor for opts, filling defaults.
func NewExtractor(opts ExtractOptions) *Extractor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	return &Extractor{opts: opts, norm: NewNormalizer(opts.Location)}
}

// Window returns the recurrence expansion window.
func (x *Extractor) Window() Window {
	return NewWindow(x.opts.WindowStart, x.opts.Lookahead)
}

// Extract parses one payload. Content problems never abort extraction; they
// are logged and reflected in the result counters. origin is used for log
// lines only; callers tag events with their feed.
func (x *Extractor) Extract(origin string, payload []byte) ExtractResult {
	if len(bytes.TrimSpace(payload)) == 0 {
		appLog.Warn("ics payload empty", "source", origin)
		return ExtractResult{Strategy: x.opts.Strategy}
	}

	var res ExtractResult
	useRecurring := x.opts.Strategy == StrategyRecurring ||
		(x.opts.Strategy == StrategyAuto && hasRRule(payload))

	if useRecurring {
		r, err := x.parseRecurring(origin, payload)
		if err == nil {
			res = r
		} else {
			appLog.Warn("ics calendar parse failed; falling back to flat blocks", "source", origin, "err", err)
			res = x.parseFlat(origin, payload)
		}
	} else {
		res = x.parseFlat(origin, payload)
	}

	appLog.Info("ics extract completed",
		"source", origin,
		"strategy", string(res.Strategy),
		"event_count", len(res.Events),
		"skipped_blocks", res.SkippedBlocks,
		"malformed_dates", res.MalformedDates,
	)
	return res
}

func hasRRule(payload []byte) bool {
	for _, line := range unfoldLines(payload) {
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "RRULE:") || strings.HasPrefix(upper, "RRULE;") {
			return true
		}
	}
	return false
}

// parseRecurring is the recurrence-aware strategy. Every VEVENT block is
// parsed on its own, so one block the calendar library rejects is skipped
// without losing the other series of the feed.
func (x *Extractor) parseRecurring(origin string, payload []byte) (ExtractResult, error) {
	blocks, unterminated, hasCalendar := veventBlocks(unfoldLines(payload))
	if !hasCalendar {
		return ExtractResult{}, errors.New("no VCALENDAR in payload")
	}
	if len(blocks) == 0 && len(unterminated) == 0 {
		return ExtractResult{}, errors.New("no VEVENT in calendar")
	}

	res := ExtractResult{Strategy: StrategyRecurring}
	for _, line := range unterminated {
		res.SkippedBlocks++
		appLog.Warn("ics block skipped", "source", origin, "line", line, "reason", "missing END:VEVENT", "err", ErrMalformedBlock)
	}

	var defs []Definition
	overrides := make(map[string][]Definition)

	for _, b := range blocks {
		ve, err := parseBlock(b.lines)
		if err != nil {
			res.SkippedBlocks++
			appLog.Warn("ics block skipped", "source", origin, "line", b.line, "reason", err.Error(), "err", ErrMalformedBlock)
			continue
		}
		def, badDates := x.definition(origin, ve)
		res.MalformedDates += badDates
		if !def.RecurrenceID.IsZero() {
			if def.HasStart && def.UID != "" {
				overrides[def.UID] = append(overrides[def.UID], def)
			} else {
				res.SkippedBlocks++
				appLog.Warn("ics override skipped", "source", origin, "uid", def.UID, "err", ErrMalformedBlock)
			}
			continue
		}
		defs = append(defs, def)
	}

	w := x.Window()
	limit := x.opts.MaxOccurrencesPerEvent
	for _, def := range defs {
		if def.RRule == "" || !def.HasStart {
			ev := def.instance(def.Start.Wall(), x.opts.Location)
			if def.HasStart {
				ev.AllDay = def.Start.DateOnly
			}
			res.Events = append(res.Events, ev)
			continue
		}

		starts, err := instanceStarts(def, w, limit+1)
		if err != nil {
			res.SkippedBlocks++
			appLog.Warn("ics RRULE invalid; series skipped", "source", origin, "uid", def.UID, "rrule", def.RRule, "err", err)
			continue
		}

		for ev := range Occurrences(def, overrides[def.UID], w, x.opts.Location, limit) {
			res.Events = append(res.Events, ev)
		}
		if len(starts) > limit {
			res.TruncatedSeries++
			appLog.Warn("ics series truncated", "source", origin, "uid", def.UID, "cap", limit)
		}
	}

	return res, nil
}

// eventBlock is the content lines of one VEVENT, nested components included.
type eventBlock struct {
	line  int // 1-based logical line of BEGIN:VEVENT
	lines []string
}

// veventBlocks splits unfolded lines into VEVENT blocks. It also returns the
// start lines of blocks that were never closed and whether a VCALENDAR
// header was seen.
func veventBlocks(lines []string) (blocks []eventBlock, unterminated []int, hasCalendar bool) {
	var cur *eventBlock
	depth := 0
	for i, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if upper == "BEGIN:VCALENDAR" {
			hasCalendar = true
		}

		if upper == "BEGIN:VEVENT" {
			if cur != nil {
				unterminated = append(unterminated, cur.line)
			}
			cur = &eventBlock{line: i + 1}
			depth = 0
		}
		if cur == nil {
			continue
		}
		cur.lines = append(cur.lines, line)

		switch {
		case upper == "END:VEVENT" && depth == 0:
			blocks = append(blocks, *cur)
			cur = nil
		case upper == "BEGIN:VEVENT":
		case strings.HasPrefix(upper, "BEGIN:"):
			depth++
		case strings.HasPrefix(upper, "END:") && depth > 0:
			depth--
		}
	}
	if cur != nil {
		unterminated = append(unterminated, cur.line)
	}
	return blocks, unterminated, hasCalendar
}

// parseBlock parses one VEVENT block inside a minimal VCALENDAR wrapper.
func parseBlock(lines []string) (ve *ical.VEvent, err error) {
	defer func() {
		// The calendar library panics on some truncated inputs.
		if r := recover(); r != nil {
			ve, err = nil, fmt.Errorf("ics parse panic: %v", r)
		}
	}()

	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//printcal//block//EN\r\n")
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteString("\r\n")
	}
	buf.WriteString("END:VCALENDAR\r\n")

	cal, err := ical.ParseCalendar(&buf)
	if err != nil {
		return nil, err
	}
	events := cal.Events()
	if len(events) != 1 {
		return nil, fmt.Errorf("expected one VEVENT, got %d", len(events))
	}
	return events[0], nil
}

// definition reads one VEVENT and returns it with the number of dates that
// had to be dropped.
func (x *Extractor) definition(origin string, ve *ical.VEvent) (Definition, int) {
	var def Definition
	bad := 0

	// The calendar library has already unescaped TEXT values.
	text := func(p ical.ComponentProperty) string {
		if prop := ve.GetProperty(p); prop != nil {
			return prop.Value
		}
		return ""
	}
	def.UID = strings.TrimSpace(text(ical.ComponentPropertyUniqueId))
	def.Title = text(ical.ComponentPropertySummary)
	def.Description = text(ical.ComponentPropertyDescription)
	def.Location = text(ical.ComponentPropertyLocation)

	date := func(p ical.ComponentProperty) (DateValue, bool) {
		prop := ve.GetProperty(p)
		if prop == nil {
			return DateValue{}, false
		}
		dv, err := x.norm.NormalizeIn(prop.Value, param(prop.ICalParameters, "TZID"))
		if err != nil {
			bad++
			appLog.Warn("ics date dropped", "source", origin, "uid", def.UID, "field", string(p), "err", err)
			return DateValue{}, false
		}
		if strings.EqualFold(param(prop.ICalParameters, "VALUE"), "DATE") {
			dv.DateOnly = true
		}
		return dv, true
	}

	def.Start, def.HasStart = date(ical.ComponentPropertyDtStart)
	if end, ok := date(ical.ComponentPropertyDtEnd); ok && def.HasStart {
		def.Duration = end.Time.Sub(def.Start.Time)
		def.HasEnd = true
	} else if prop := ve.GetProperty(ical.ComponentProperty("DURATION")); prop != nil && def.HasStart {
		if d, err := parseDuration(prop.Value); err == nil {
			def.Duration = d
			def.HasEnd = true
		}
	}

	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		def.RRule = strings.TrimSpace(prop.Value)
	}

	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := param(prop.ICalParameters, "TZID")
		for _, part := range strings.Split(prop.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			dv, err := x.norm.NormalizeIn(part, tzid)
			if err != nil {
				bad++
				appLog.Warn("ics EXDATE dropped", "source", origin, "uid", def.UID, "err", err)
				continue
			}
			def.ExDates = append(def.ExDates, dv)
		}
	}

	if prop := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); prop != nil {
		dv, err := x.norm.NormalizeIn(prop.Value, param(prop.ICalParameters, "TZID"))
		if err != nil {
			bad++
			appLog.Warn("ics RECURRENCE-ID dropped", "source", origin, "uid", def.UID, "err", err)
		} else {
			def.RecurrenceID = dv.Time
		}
	}

	return def, bad
}

func param(params map[string][]string, name string) string {
	for k, vs := range params {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return strings.Trim(vs[0], `"`)
		}
	}
	return ""
}
