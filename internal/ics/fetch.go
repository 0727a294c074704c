package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appLog "printcal/internal/log"
)

const (
	// DefaultFetchTimeout bounds a single feed request.
	DefaultFetchTimeout = 15 * time.Second

	defaultUserAgent = "printcal/1.0"
	maxFeedBytes     = 10 << 20
	displayURLMax    = 40
)

// ErrFeedUnavailable is matched by every FeedUnavailableError.
var ErrFeedUnavailable = errors.New("feed unavailable")

// FeedUnavailableError reports a feed that could not be fetched.
type FeedUnavailableError struct {
	Source Source
	Err    error
}

func (e *FeedUnavailableError) Error() string {
	return fmt.Sprintf("feed %s unavailable: %v", DisplayName(e.Source), e.Err)
}

func (e *FeedUnavailableError) Unwrap() []error {
	return []error{ErrFeedUnavailable, e.Err}
}

// Source represents a single ICS subscription source.
type Source struct {
	// ID is the feed identifier attached to every event (label or URL).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the payload of a single ICS source.
type FetchResult struct {
	Source Source
	Body   []byte
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	// Client overrides the HTTP client (tests). Timeout still applies per
	// request through the context.
	Client *http.Client
}

// Fetcher downloads ICS feeds with a plain unauthenticated GET.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:    client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
}

// FetchOne fetches a single ICS source. Every failure is returned as a
// *FeedUnavailableError.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	unavailable := func(err error) (FetchResult, error) {
		return FetchResult{}, &FeedUnavailableError{Source: src, Err: err}
	}
	if src.URL == "" {
		return unavailable(errors.New("source URL is empty"))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return unavailable(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.1")

	appLog.Debug("ics fetch start", "id", src.ID, "url", DisplayURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unavailable(errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return unavailable(err)
	}
	if len(body) > maxFeedBytes {
		return unavailable(fmt.Errorf("response larger than %d bytes", maxFeedBytes))
	}

	appLog.Info("ics fetch success", "id", src.ID, "url", DisplayURL(src.URL), "status", resp.StatusCode, "bytes", len(body))

	return FetchResult{Source: src, Body: body}, nil
}

// DisplayName is the identifier used in log lines: the label when it is
// not just the URL, otherwise the shortened URL.
func DisplayName(src Source) string {
	if src.ID != "" && src.ID != src.URL {
		return src.ID
	}
	return DisplayURL(src.URL)
}

// DisplayURL drops the query string and fragment (private feed tokens) and
// truncates the rest for display.
func DisplayURL(raw string) string {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		u.RawQuery = ""
		u.Fragment = ""
		u.User = nil
		s = u.String()
	}
	r := []rune(s)
	if len(r) <= displayURLMax {
		return s
	}
	return string(r[:displayURLMax]) + "..."
}
