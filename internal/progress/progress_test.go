package progress

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestReporterCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	r := New(testLogger(buf), 100, false)

	r.Advance(25)
	r.Advance(25)
	r.Skip(3)

	records, skipped, elapsed := r.Done()
	assert.Equal(t, int64(50), records)
	assert.Equal(t, int64(3), skipped)
	assert.Greater(t, elapsed.Nanoseconds(), int64(0))

	// Disabled reporter stays silent.
	assert.Empty(t, buf.String())
}

func TestReporterThrottlesUpdates(t *testing.T) {
	buf := &bytes.Buffer{}
	r := New(testLogger(buf), 0, true)

	for i := 0; i < 50; i++ {
		r.Advance(1)
	}

	// The limiter admits the first update; the burst of follow-ups
	// inside the rate window is dropped.
	lines := strings.Count(buf.String(), "msg=progress ")
	assert.Equal(t, 1, lines, "log output:\n%s", buf.String())
}

func TestReporterDoneAlwaysLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	r := New(testLogger(buf), 0, true)

	for i := 0; i < 10; i++ {
		r.Advance(1)
	}
	records, _, _ := r.Done()
	require.Equal(t, int64(10), records)
	assert.Contains(t, buf.String(), "progress complete")
	assert.Contains(t, buf.String(), "records=10")
}
