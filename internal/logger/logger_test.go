package logger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/logger"
)

func TestLogLevels(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		level     logger.LogLevel
		logFunc   func(l logger.Logger)
		shouldLog bool
	}{
		{"debug hidden at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("msg") }, false},
		{"info shown at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("msg") }, true},
		{"trace shown at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("msg") }, true},
		{"warn hidden at error", logger.LogLevelError, func(l logger.Logger) { l.Warn("msg") }, false},
		{"error always shown", logger.LogLevelError, func(l logger.Logger) { l.Error("msg") }, true},
		{"explicit level respected", logger.LogLevelWarn, func(l logger.Logger) { l.Log(logger.LogLevelDebug, "msg") }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			tc.logFunc(logger.NewWriterLogger(&buf, tc.level))
			assert.Equal(t, tc.shouldLog, buf.Len() > 0, buf.String())
		})
	}
}

func TestTraceLevelRendering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger.NewWriterLogger(&buf, logger.LogLevelTrace).Trace("select")
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.NotContains(t, buf.String(), "time=")
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWriterLogger(&buf, logger.LogLevelDebug).
		Module("review").
		Module("locks").
		With(logger.String("reviewer", "r1"))

	log.Info("lock acquired",
		logger.Int64("poi_id", 42),
		logger.Bool("own_lock", false),
		logger.Duration("elapsed", 1500*time.Millisecond),
		logger.Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=review.locks")
	assert.Contains(t, out, "reviewer=r1")
	assert.Contains(t, out, "poi_id=42")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.Contains(t, out, "error=boom")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := logger.WithTraceID(context.Background(), "trace-123")
	logger.NewWriterLogger(&buf, logger.LogLevelInfo).WithContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "trace_id=trace-123")

	buf.Reset()
	logger.NewWriterLogger(&buf, logger.LogLevelInfo).WithContext(context.Background()).Info("hello")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestFileOutputIsJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "gaia.log")

	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"fishnet": "warn"},
	})
	require.NoError(t, err)

	cl.Module("review").Info("submitted", logger.Int("annotations", 3))
	cl.Module("fishnet").Info("hidden by module level")
	cl.Module("fishnet").Module("hex").Info("hidden by parent level")
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 1)
	assert.Equal(t, "review", lines[0]["module"])
	assert.Equal(t, "submitted", lines[0]["msg"])
	assert.InDelta(t, 3, lines[0]["annotations"], 0)
	assert.Contains(t, lines[0], "time")
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	assert.True(t, logger.ValidLevel("TRACE"))
	assert.True(t, logger.ValidLevel("warning"))
	assert.False(t, logger.ValidLevel("verbose"))
}
