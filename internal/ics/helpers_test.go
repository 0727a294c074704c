package ics

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "printcal/internal/log"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

// captureLog redirects the process logger into a buffer for one test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	appLog.SetLevel(appLog.LevelDebug)
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})
	return &buf
}

func assertInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}
