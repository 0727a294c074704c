package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOneSuccess(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	src := Source{ID: "family", URL: srv.URL + "/cal.ics"}

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, src, res.Source)
	assert.Equal(t, "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", string(res.Body))
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Contains(t, gotAccept, "text/calendar")
}

func TestFetchOneHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := Source{ID: "work", URL: srv.URL}
	_, err := NewFetcher(FetcherOptions{}).FetchOne(context.Background(), src)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeedUnavailable)

	var fe *FeedUnavailableError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, src, fe.Source)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "work")
}

func TestFetchOneTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.FetchOne(context.Background(), Source{URL: srv.URL})

	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchOneCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(FetcherOptions{}).FetchOne(ctx, Source{URL: "http://127.0.0.1:1/cal.ics"})
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchOneEmptyURL(t *testing.T) {
	_, err := NewFetcher(FetcherOptions{}).FetchOne(context.Background(), Source{ID: "blank"})
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchOneTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxFeedBytes+1)))
	}))
	defer srv.Close()

	_, err := NewFetcher(FetcherOptions{}).FetchOne(context.Background(), Source{URL: srv.URL})
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Contains(t, err.Error(), "larger than")
}

func TestDisplayURL(t *testing.T) {
	assert.Equal(t, "https://example.com/cal.ics", DisplayURL("https://example.com/cal.ics?token=secret#x"))
	assert.Equal(t, "https://example.com/cal.ics", DisplayURL("https://user:pw@example.com/cal.ics"))

	long := "https://calendar.example.com/private/abcdefghijklmnop/basic.ics"
	got := DisplayURL(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, displayURLMax+3, len([]rune(got)))
	assert.NotContains(t, DisplayURL("https://example.com/a?token=secret"), "secret")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "family", DisplayName(Source{ID: "family", URL: "https://example.com/a.ics"}))
	assert.Equal(t, "https://example.com/a.ics", DisplayName(Source{ID: "https://example.com/a.ics?k=1", URL: "https://example.com/a.ics?k=1"}))
	assert.Equal(t, "https://example.com/a.ics", DisplayName(Source{URL: "https://example.com/a.ics"}))
}
