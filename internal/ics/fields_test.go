package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		line     string
		kind     FieldKind
		value    string
		dateOnly bool
		tzid     string
	}{
		{"SUMMARY:Lunch", FieldSummary, "Lunch", false, ""},
		{"summary:lower case key", FieldSummary, "lower case key", false, ""},
		{"SUMMARY:Meeting: planning", FieldSummary, "Meeting: planning", false, ""},
		{"DTSTART:20250315T120000", FieldStart, "20250315T120000", false, ""},
		{"DTSTART;VALUE=DATE:20250315", FieldStart, "20250315", true, ""},
		{"DTEND;value=date:20250316", FieldEnd, "20250316", true, ""},
		{"DTSTART;TZID=Europe/Berlin:20250315T120000", FieldStart, "20250315T120000", false, "Europe/Berlin"},
		{`DTSTART;TZID="America/New_York":20250315T090000`, FieldStart, "20250315T090000", false, "America/New_York"},
		{`DESCRIPTION;ALTREP="cid:part1.0001@example.org":See you at 10:30`, FieldDescription, "See you at 10:30", false, ""},
		{"LOCATION:Room 1", FieldLocation, "Room 1", false, ""},
		{"UID:abc@example.com", FieldUID, "abc@example.com", false, ""},
		{"X-WR-CALNAME:Family", FieldIgnored, "Family", false, ""},
		{"DTSTAMP:20250101T000000Z", FieldIgnored, "20250101T000000Z", false, ""},
		{"SUMMARY:", FieldSummary, "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f, ok := ParseField(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.value, f.Value)
			assert.Equal(t, tt.dateOnly, f.DateOnly)
			assert.Equal(t, tt.tzid, f.TZID)
		})
	}
}

func TestParseFieldWithoutSeparator(t *testing.T) {
	_, ok := ParseField("just some text")
	assert.False(t, ok)

	_, ok = ParseField(`X-FOO;A="a:b"`)
	assert.False(t, ok)
}

func TestFieldKindString(t *testing.T) {
	assert.Equal(t, "start", FieldStart.String())
	assert.Equal(t, "ignored", FieldIgnored.String())
	assert.Equal(t, "ignored", FieldKind(99).String())
}

func TestUnescapeText(t *testing.T) {
	in := `Line one\nLine two\, with comma\; semi \\ backslash`
	assert.Equal(t, "Line one\nLine two, with comma; semi \\ backslash", unescapeText(in))
	assert.Equal(t, "plain", unescapeText("plain"))
	assert.Equal(t, `trailing\`, unescapeText(`trailing\`))
}
