package ics

import (
	"bufio"
	"bytes"
	"errors"
	"strings"

	appLog "printcal/internal/log"
	"printcal/internal/model"
)

// ErrMalformedBlock marks a VEVENT block that cannot produce an event.
var ErrMalformedBlock = errors.New("malformed VEVENT block")

// unfoldLines splits a payload into logical content lines. Continuation
// lines (leading space or tab) are joined onto the previous line; CRLF and
// LF endings are both accepted and blank lines dropped.
func unfoldLines(payload []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(payload))
	sc.Buffer(make([]byte, 0, 64*1024), maxFeedBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// flatBlock accumulates the fields of one BEGIN:VEVENT ... END:VEVENT block.
type flatBlock struct {
	line       int // 1-based logical line of BEGIN:VEVENT
	depth      int // nested components (VALARM, ...)
	recognized int

	uid, title, description, location string

	start, end       DateValue
	hasStart, hasEnd bool
	startDateOnly    bool
}

// parseFlat is the flat-block strategy: every VEVENT block is read line by
// line, without recurrence expansion. Bad blocks and bad dates are logged,
// counted and skipped.
func (x *Extractor) parseFlat(origin string, payload []byte) ExtractResult {
	res := ExtractResult{Strategy: StrategyFlat}

	var cur *flatBlock
	skip := func(b *flatBlock, reason string) {
		res.SkippedBlocks++
		appLog.Warn("ics block skipped", "source", origin, "line", b.line, "reason", reason, "err", ErrMalformedBlock)
	}

	for i, line := range unfoldLines(payload) {
		upper := strings.ToUpper(strings.TrimSpace(line))

		if upper == "BEGIN:VEVENT" {
			if cur != nil {
				skip(cur, "missing END:VEVENT")
			}
			cur = &flatBlock{line: i + 1}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case upper == "END:VEVENT" && cur.depth == 0:
			if cur.recognized == 0 {
				skip(cur, "no recognized fields")
			} else {
				res.Events = append(res.Events, cur.event(origin))
			}
			cur = nil
			continue
		case strings.HasPrefix(upper, "BEGIN:"):
			cur.depth++
			continue
		case strings.HasPrefix(upper, "END:"):
			if cur.depth > 0 {
				cur.depth--
			}
			continue
		}
		if cur.depth > 0 {
			continue
		}

		f, ok := ParseField(line)
		if !ok {
			appLog.Debug("ics line without separator ignored", "source", origin, "line", i+1)
			continue
		}
		if f.Kind == FieldIgnored {
			continue
		}
		cur.recognized++
		x.applyField(origin, cur, f, i+1, &res)
	}

	if cur != nil {
		skip(cur, "missing END:VEVENT")
	}
	return res
}

func (x *Extractor) applyField(origin string, b *flatBlock, f Field, line int, res *ExtractResult) {
	switch f.Kind {
	case FieldSummary:
		b.title = unescapeText(f.Value)
	case FieldDescription:
		b.description = unescapeText(f.Value)
	case FieldLocation:
		b.location = unescapeText(f.Value)
	case FieldUID:
		b.uid = strings.TrimSpace(f.Value)
	case FieldStart, FieldEnd:
		dv, err := x.norm.NormalizeIn(f.Value, f.TZID)
		if err != nil {
			res.MalformedDates++
			appLog.Warn("ics date dropped", "source", origin, "line", line, "field", f.Kind.String(), "err", err)
			return
		}
		if f.Kind == FieldStart {
			b.start, b.hasStart = dv, true
			b.startDateOnly = f.DateOnly || dv.DateOnly
		} else {
			b.end, b.hasEnd = dv, true
		}
	}
}

func (b *flatBlock) event(origin string) model.CalendarEvent {
	ev := model.CalendarEvent{
		Source:      origin,
		UID:         b.uid,
		Title:       b.title,
		Description: b.description,
		Location:    b.location,
	}
	if ev.Title == "" {
		ev.Title = model.DefaultTitle
	}
	if b.hasStart {
		ev.Start = b.start.Time
		ev.AllDay = b.startDateOnly
	}
	if b.hasEnd {
		ev.End = b.end.Time
	}
	return ev
}
