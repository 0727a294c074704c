package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"printcal/internal/model"
)

// DescriptionLimit is the number of characters of a description that are
// printed.
const DescriptionLimit = 200

//go:embed templates/agenda.html.tmpl
var templateFS embed.FS

var agendaTemplate = template.Must(template.ParseFS(templateFS, "templates/agenda.html.tmpl"))

// Document is everything that ends up on the printed page.
type Document struct {
	Title string
	// Day is the agenda date as midnight in Location.
	Day      time.Time
	Location *time.Location
	// Events are today's events, already filtered and ordered.
	Events      []model.CalendarEvent
	GeneratedAt time.Time
}

// Artifact is a finished document.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	// Day is the agenda date the document was rendered for.
	Day time.Time
}

// Renderer turns a Document into an Artifact.
type Renderer interface {
	Render(ctx context.Context, doc Document) (Artifact, error)
}

// HTMLRenderer writes the agenda as a standalone HTML page.
type HTMLRenderer struct{}

// Render implements Renderer.
func (HTMLRenderer) Render(_ context.Context, doc Document) (Artifact, error) {
	data, err := HTML(doc)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Name:        artifactName(doc, "html"),
		ContentType: "text/html; charset=utf-8",
		Data:        data,
		Day:         doc.Day,
	}, nil
}

type eventView struct {
	Time        string
	Title       string
	Location    string
	Description string
}

type pageView struct {
	Title     string
	Date      string
	AllDay    []eventView
	Timed     []eventView
	Empty     bool
	Generated string
}

// HTML executes the agenda template for doc.
func HTML(doc Document) ([]byte, error) {
	loc := doc.Location
	if loc == nil {
		loc = time.UTC
	}

	view := pageView{
		Title: doc.Title,
		Date:  doc.Day.In(loc).Format("Monday, 2 January 2006"),
		Empty: len(doc.Events) == 0,
	}
	if !doc.GeneratedAt.IsZero() {
		view.Generated = doc.GeneratedAt.In(loc).Format("2006-01-02 15:04 MST")
	}

	for _, ev := range doc.Events {
		v := eventView{
			Title:       ev.DisplayTitle(),
			Location:    ev.Location,
			Description: Truncate(ev.Description, DescriptionLimit),
		}
		if ev.AllDay {
			view.AllDay = append(view.AllDay, v)
			continue
		}
		v.Time = timeRange(ev, loc)
		view.Timed = append(view.Timed, v)
	}

	var buf bytes.Buffer
	if err := agendaTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render: execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func timeRange(ev model.CalendarEvent, loc *time.Location) string {
	start := ev.Start.In(loc).Format("15:04")
	if !ev.HasRange() {
		return start
	}
	return start + " – " + ev.End.In(loc).Format("15:04")
}

// Truncate shortens s to at most limit characters, appending an ellipsis
// when something was cut.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

func artifactName(doc Document, ext string) string {
	return "agenda-" + doc.Day.Format("2006-01-02") + "." + ext
}
