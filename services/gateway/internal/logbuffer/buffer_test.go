package logbuffer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferedLogger(capacity int) (*zap.Logger, *Buffer) {
	buf := New(capacity, zapcore.InfoLevel)
	return zap.New(buf), buf
}

func TestCapturesThroughZap(t *testing.T) {
	logger, buf := newBufferedLogger(10)
	logger.Info("charge recorded", zap.Int64("orderId", 41))
	logger.Warn("callback slow")
	logger.Debug("ignored by level")

	page := buf.Query(Query{})
	require.Equal(t, 2, page.Total)
	// Newest first.
	assert.Equal(t, "callback slow", page.Entries[0].Message)
	assert.Equal(t, "charge recorded", page.Entries[1].Message)
	assert.Contains(t, page.Entries[1].Fields, "orderId=41")
}

func TestLevelFilter(t *testing.T) {
	logger, buf := newBufferedLogger(10)
	logger.Info("a")
	logger.Error("b")
	logger.Info("c")

	page := buf.Query(Query{Level: "error"})
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "b", page.Entries[0].Message)
}

func TestDateRangeFilter(t *testing.T) {
	buf := New(10, zapcore.InfoLevel)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(zapcore.Entry{
			Time: base.Add(time.Duration(i) * time.Hour), Level: zapcore.InfoLevel,
			Message: "entry",
		}, nil))
	}

	page := buf.Query(Query{From: base.Add(1 * time.Hour), To: base.Add(3 * time.Hour)})
	assert.Equal(t, 3, page.Total)
}

func TestPagination(t *testing.T) {
	logger, buf := newBufferedLogger(100)
	for i := 0; i < 25; i++ {
		logger.Info("entry", zap.Int("n", i))
	}

	first := buf.Query(Query{Page: 1, PerPage: 10})
	assert.Equal(t, 25, first.Total)
	assert.Len(t, first.Entries, 10)

	third := buf.Query(Query{Page: 3, PerPage: 10})
	assert.Len(t, third.Entries, 5)

	beyond := buf.Query(Query{Page: 9, PerPage: 10})
	assert.Empty(t, beyond.Entries)
	assert.Equal(t, 25, beyond.Total)
}

func TestRingOverwritesOldest(t *testing.T) {
	logger, buf := newBufferedLogger(3)
	logger.Info("one")
	logger.Info("two")
	logger.Info("three")
	logger.Info("four")

	page := buf.Query(Query{})
	require.Equal(t, 3, page.Total)
	assert.Equal(t, "four", page.Entries[0].Message)
	assert.Equal(t, "two", page.Entries[2].Message)
}

func TestClear(t *testing.T) {
	logger, buf := newBufferedLogger(10)
	logger.Info("entry")
	buf.Clear()
	assert.Zero(t, buf.Query(Query{}).Total)
}

func TestRenderOldestFirst(t *testing.T) {
	logger, buf := newBufferedLogger(10)
	logger.Info("first")
	logger.Error("second")

	text := buf.Render(Query{})
	firstIdx := strings.Index(text, "first")
	secondIdx := strings.Index(text, "second")
	require.GreaterOrEqual(t, firstIdx, 0)
	require.GreaterOrEqual(t, secondIdx, 0)
	assert.Less(t, firstIdx, secondIdx)
	assert.Contains(t, text, "ERROR")
}

func TestWithFieldsAreCaptured(t *testing.T) {
	logger, buf := newBufferedLogger(10)
	logger.With(zap.String("service", "gateway")).Info("entry")

	page := buf.Query(Query{})
	require.Equal(t, 1, page.Total)
	assert.Contains(t, page.Entries[0].Fields, "service=gateway")
}
