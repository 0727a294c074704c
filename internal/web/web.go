package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"printcal/internal/agenda"
	"printcal/internal/config"
	"printcal/internal/job"
	appLog "printcal/internal/log"
	"printcal/internal/render"
)

const agendaCacheTTL = 30 * time.Second

// AgendaSource builds the document for a day. *job.Job satisfies it.
type AgendaSource interface {
	Today() agenda.Date
	Agenda(ctx context.Context, day agenda.Date) (render.Document, job.Summary)
}

// Server serves a preview of the agenda that the next run would print.
type Server struct {
	source    AgendaSource
	basicAuth *config.BasicAuthConfig
	mux       *http.ServeMux
	now       func() time.Time

	// In-memory cache so repeated page loads do not refetch every feed.
	cacheMu sync.Mutex
	cache   map[agenda.Date]agendaCache
}

type agendaCache struct {
	doc       render.Document
	sum       job.Summary
	updatedAt time.Time
}

// NewServer constructs a new Server. basicAuth may be nil.
func NewServer(source AgendaSource, basicAuth *config.BasicAuthConfig) *Server {
	s := &Server{
		source:    source,
		basicAuth: basicAuth,
		mux:       http.NewServeMux(),
		now:       time.Now,
		cache:     map[agenda.Date]agendaCache{},
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	return s.basicAuth != nil && s.basicAuth.Username != "" && s.basicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.basicAuth.Username
	password := s.basicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="printcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgendaJSON)
	s.mux.HandleFunc("GET /agenda", s.handleAgendaHTML)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/agenda", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// agendaFor resolves ?date=YYYY-MM-DD (default today) and returns the
// cached or freshly built document.
func (s *Server) agendaFor(r *http.Request) (render.Document, job.Summary, error) {
	day := s.source.Today()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := agenda.ParseDate(q)
		if err != nil {
			return render.Document{}, job.Summary{}, err
		}
		day = d
	}

	now := s.now()
	s.cacheMu.Lock()
	c, ok := s.cache[day]
	s.cacheMu.Unlock()
	if ok && now.Sub(c.updatedAt) < agendaCacheTTL {
		return c.doc, c.sum, nil
	}

	doc, sum := s.source.Agenda(r.Context(), day)

	s.cacheMu.Lock()
	s.cache[day] = agendaCache{doc: doc, sum: sum, updatedAt: now}
	s.cacheMu.Unlock()
	return doc, sum, nil
}

func (s *Server) handleAgendaHTML(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.agendaFor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	html, err := render.HTML(doc)
	if err != nil {
		appLog.Error("preview render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Title       string     `json:"title"`
	Date        string     `json:"date"`
	Timezone    string     `json:"timezone"`
	FeedsTotal  int        `json:"feeds_total"`
	FeedsFailed int        `json:"feeds_failed"`
	Events      []eventDTO `json:"events"`
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	Source      string     `json:"source"`
	UID         string     `json:"uid,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	AllDay      bool       `json:"all_day"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
}

func (s *Server) handleAgendaJSON(w http.ResponseWriter, r *http.Request) {
	doc, sum, err := s.agendaFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := agendaResponse{
		Title:       doc.Title,
		Date:        agenda.DateOf(doc.Day, doc.Location).String(),
		Timezone:    doc.Location.String(),
		FeedsTotal:  sum.FeedsTotal,
		FeedsFailed: sum.FeedsFailed,
		Events:      make([]eventDTO, 0, len(doc.Events)),
	}
	for _, ev := range doc.Events {
		dto := eventDTO{
			Source:      ev.Source,
			UID:         ev.UID,
			Title:       ev.DisplayTitle(),
			Description: ev.Description,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
			Start:       ev.Start,
		}
		if ev.HasEnd() {
			end := ev.End
			dto.End = &end
		}
		resp.Events = append(resp.Events, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
