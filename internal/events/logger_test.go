package events_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/events"
)

func TestTeeMirrorsBelowPrimaryLevel(t *testing.T) {
	var main, trace bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, &main).
		Tee(events.DebugLevel, events.ErrorLevel, &trace)

	logger.Debug("resolving vault folder")
	logger.Info("session ready")

	assert.NotContains(t, main.String(), "resolving vault folder")
	assert.Contains(t, trace.String(), "resolving vault folder")
	assert.Contains(t, trace.String(), "session ready")
}

func TestErrorTeeRecordsOnlyErrors(t *testing.T) {
	var main, errs bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, &main).
		Tee(events.ErrorLevel, events.ErrorLevel, &errs)

	logger.Warn("listing slow")
	logger.Error("replay dropped an item")

	assert.NotContains(t, errs.String(), "listing slow")
	assert.Contains(t, errs.String(), "replay dropped an item")
	assert.Contains(t, main.String(), "listing slow")
}

func TestTeeSurvivesWithFields(t *testing.T) {
	var trace bytes.Buffer
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard).
		Tee(events.DebugLevel, events.ErrorLevel, &trace)

	logger.WithField("path", "note.md").Debug("queued upload")

	assert.Contains(t, trace.String(), "queued upload")
	assert.Contains(t, trace.String(), "path=note.md")
}

func TestNewLoggerOpensSecondaryFiles(t *testing.T) {
	dir := t.TempDir()
	logger := events.NewLogger(&events.LogConfig{
		Level:     "error",
		Format:    "text",
		ErrorFile: filepath.Join(dir, "errors.log"),
		TraceFile: filepath.Join(dir, "trace.log"),
	})

	logger.Debug("trace only line")

	data, err := os.ReadFile(filepath.Join(dir, "trace.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "trace only line")

	info, err := os.Stat(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "nothing below error level lands in the error log")
}
