package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "printcal/internal/log"
)

// ErrMalformedDate is returned when a date token matches none of the
// recognized DATE / DATE-TIME shapes.
var ErrMalformedDate = errors.New("malformed date")

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
)

// DateValue is a normalized DTSTART/DTEND value.
type DateValue struct {
	// Time is the absolute instant, already expressed in the target zone.
	Time time.Time
	// DateOnly is true for YYYYMMDD tokens (all-day values).
	DateOnly bool
	// Zone is the zone the wall clock was read in: UTC for "Z" tokens, the
	// TZID zone when one applied, otherwise the target zone. Recurrence
	// rules are expanded in this zone.
	Zone *time.Location
}

// Wall returns the instant in the zone it was written in.
func (d DateValue) Wall() time.Time {
	if d.Zone == nil {
		return d.Time
	}
	return d.Time.In(d.Zone)
}

// Normalizer converts raw iCalendar date tokens into instants in a fixed
// target zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer for the given target zone. A nil
// location means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the target zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize classifies and parses token, treating floating date-times as
// wall clock in the target zone.
func (n *Normalizer) Normalize(token string) (DateValue, error) {
	return n.NormalizeIn(token, "")
}

// NormalizeIn is Normalize for a value carrying a TZID parameter. Floating
// date-times are read as wall clock in tzid and then converted to the
// target zone. An unknown tzid falls back to the target zone.
//
// Recognized shapes, in order:
//
//	YYYYMMDD          date-only, local midnight in the target zone
//	YYYYMMDDTHHMMSSZ  UTC
//	YYYYMMDDTHHMMSS   local wall clock
func (n *Normalizer) NormalizeIn(token, tzid string) (DateValue, error) {
	v := strings.TrimSpace(token)

	switch {
	case len(v) == len(layoutDate) && isDigits(v):
		t, err := time.ParseInLocation(layoutDate, v, n.loc)
		if err != nil {
			return DateValue{}, fmt.Errorf("%w: %q: %v", ErrMalformedDate, token, err)
		}
		return DateValue{Time: t, DateOnly: true, Zone: n.loc}, nil

	case len(v) >= len(layoutDateTime)+1 && strings.HasSuffix(v, "Z") && isDateTime(v[:len(layoutDateTime)]):
		t, err := time.ParseInLocation(layoutDateTime, v[:len(layoutDateTime)], time.UTC)
		if err != nil {
			return DateValue{}, fmt.Errorf("%w: %q: %v", ErrMalformedDate, token, err)
		}
		return DateValue{Time: t.In(n.loc), Zone: time.UTC}, nil

	case len(v) >= len(layoutDateTime) && isDateTime(v[:len(layoutDateTime)]):
		wall := n.zone(tzid)
		t, err := time.ParseInLocation(layoutDateTime, v[:len(layoutDateTime)], wall)
		if err != nil {
			return DateValue{}, fmt.Errorf("%w: %q: %v", ErrMalformedDate, token, err)
		}
		return DateValue{Time: t.In(n.loc), Zone: wall}, nil
	}

	return DateValue{}, fmt.Errorf("%w: %q", ErrMalformedDate, token)
}

// zone resolves a TZID parameter. Quoted names and the common
// "/mozilla.org/..." style prefixes are tolerated.
func (n *Normalizer) zone(tzid string) *time.Location {
	name := strings.Trim(strings.TrimSpace(tzid), `"`)
	if name == "" {
		return n.loc
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	// e.g. "/mozilla.org/20050126_1/Europe/Berlin" -> try trailing "Area/City".
	if parts := strings.Split(strings.Trim(name, "/"), "/"); len(parts) > 2 {
		if l, err := time.LoadLocation(strings.Join(parts[len(parts)-2:], "/")); err == nil {
			return l
		}
	}
	appLog.Warn("unknown TZID; using target timezone", "tzid", name, "timezone", n.loc.String())
	return n.loc
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDateTime reports whether s has the YYYYMMDDTHHMMSS shape.
func isDateTime(s string) bool {
	return len(s) == len(layoutDateTime) &&
		isDigits(s[:8]) &&
		s[8] == 'T' &&
		isDigits(s[9:])
}

// parseDuration reads an RFC 5545 DURATION value such as "PT1H30M",
// "P1D" or "-PT15M".
func parseDuration(s string) (time.Duration, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(v, "-"):
		sign, v = -1, v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	num := 0
	digits := 0
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			digits++
			continue
		case c == 'T':
			inTime = true
			continue
		}
		if digits == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n := time.Duration(num)
		switch {
		case c == 'W' && !inTime:
			total += n * 7 * day
		case c == 'D' && !inTime:
			total += n * day
		case c == 'H' && inTime:
			total += n * time.Hour
		case c == 'M' && inTime:
			total += n * time.Minute
		case c == 'S' && inTime:
			total += n * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		num, digits = 0, 0
	}
	if digits != 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return sign * total, nil
}
