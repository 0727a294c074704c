package ics

import "strings"

// FieldKind is the closed set of VEVENT properties the flat-block parser
// understands. Everything else is FieldIgnored.
type FieldKind int

const (
	FieldIgnored FieldKind = iota
	FieldSummary
	FieldStart
	FieldEnd
	FieldDescription
	FieldLocation
	FieldUID
)

func (k FieldKind) String() string {
	switch k {
	case FieldSummary:
		return "summary"
	case FieldStart:
		return "start"
	case FieldEnd:
		return "end"
	case FieldDescription:
		return "description"
	case FieldLocation:
		return "location"
	case FieldUID:
		return "uid"
	default:
		return "ignored"
	}
}

var fieldKinds = map[string]FieldKind{
	"SUMMARY":     FieldSummary,
	"DTSTART":     FieldStart,
	"DTEND":       FieldEnd,
	"DESCRIPTION": FieldDescription,
	"LOCATION":    FieldLocation,
	"UID":         FieldUID,
}

// Field is one decoded content line.
type Field struct {
	Kind  FieldKind
	Name  string // upper-cased property name, without parameters
	Value string // raw value, not unescaped

	// DateOnly is set by a VALUE=DATE parameter.
	DateOnly bool
	// TZID is the value of a TZID parameter, if any.
	TZID string
}

// ParseField splits a content line "NAME;PARAM=x:VALUE" on the first colon
// outside a quoted parameter value and classifies NAME. It returns false
// when the line has no separator at all.
func ParseField(line string) (Field, bool) {
	sep := valueSeparator(line)
	if sep < 0 {
		return Field{}, false
	}

	head, value := line[:sep], line[sep+1:]
	parts := splitParams(head)

	f := Field{
		Name:  strings.ToUpper(strings.TrimSpace(parts[0])),
		Value: value,
	}
	f.Kind = fieldKinds[f.Name]

	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"`)
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "VALUE":
			if strings.EqualFold(v, "DATE") {
				f.DateOnly = true
			}
		case "TZID":
			f.TZID = v
		}
	}

	return f, true
}

// valueSeparator returns the index of the first ':' not inside quotes.
func valueSeparator(line string) int {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				return i
			}
		}
	}
	return -1
}

// splitParams splits "NAME;A=1;B="x;y"" on semicolons outside quotes.
func splitParams(head string) []string {
	var out []string
	quoted := false
	start := 0
	for i := 0; i < len(head); i++ {
		switch head[i] {
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				out = append(out, head[start:i])
				start = i + 1
			}
		}
	}
	return append(out, head[start:])
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			// \\ \, \; and anything unknown: keep the escaped byte.
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
